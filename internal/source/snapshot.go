package source

import (
	"encoding/json"
	"fmt"
	"os"

	"friendwatch/internal/dispatch"
	"friendwatch/internal/presence"
)

// Snapshot is the host's view of the user's contacts at startup.
type Snapshot struct {
	UserID         string                                       `json:"user_id"`
	Roster         []presence.ContactID                         `json:"roster"`
	ClientStatuses map[presence.ContactID]presence.ClientStatus `json:"client_statuses"`
	Activities     map[presence.ContactID][]presence.Activity   `json:"activities"`
	Contacts       []dispatch.Contact                           `json:"contacts"`
}

// LoadSnapshot reads a snapshot file. A missing file is an empty snapshot.
func LoadSnapshot(path string) (*Snapshot, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", path, err)
	}
	return &s, nil
}

// Seed converts the snapshot for presence.Engine.Init. tracked are the
// configured contact ids.
func (s *Snapshot) Seed(tracked []presence.ContactID) presence.Seed {
	return presence.Seed{
		Roster:         s.Roster,
		Tracked:        tracked,
		ClientStatuses: s.ClientStatuses,
		Activities:     s.Activities,
	}
}
