package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"friendwatch/internal/storage"
)

const defaultKeyPrefix = "friend-notifications"

// Keys names the store entries of one user's tracking state.
type Keys struct {
	Tracking   string // JSON array of tracked contact ids
	StatusText string // JSON object: contact id -> custom status
}

// KeysFor derives per-user keys. The user id is supplied by the host.
func KeysFor(prefix, userID string) Keys {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	userID = strings.TrimSpace(userID)
	return Keys{
		Tracking:   prefix + "-tracking-" + userID,
		StatusText: prefix + "-status-text-" + userID,
	}
}

func loadTrackedIDs(ctx context.Context, st storage.Store, key string) ([]ContactID, error) {
	if st == nil {
		return nil, nil
	}
	b, ok, err := st.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	var ids []ContactID
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return ids, nil
}

func loadStatusText(ctx context.Context, st storage.Store, key string) (map[ContactID]CustomStatus, error) {
	if st == nil {
		return nil, nil
	}
	b, ok, err := st.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	var m map[ContactID]CustomStatus
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return m, nil
}

func saveJSON(ctx context.Context, st storage.Store, key string, v any) error {
	if st == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := st.Set(ctx, key, b); err != nil {
		return fmt.Errorf("store set %s: %w", key, err)
	}
	return nil
}

func sortedIDs(ids []ContactID) []ContactID {
	out := append([]ContactID(nil), ids...)
	sort.Strings(out)
	return out
}
