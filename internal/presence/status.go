package presence

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ContactID identifies a contact. It is the only key used for tracking.
type ContactID = string

// Status is a contact's coarse presence.
type Status string

const (
	// StatusUnknown means no observation has been recorded yet. It is never
	// produced by normalization.
	StatusUnknown Status = ""
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusDND     Status = "dnd"
	StatusOffline Status = "offline"
)

// ParseStatus maps a raw status string onto the closed set. Anything
// unrecognised, including "invisible", is offline.
func ParseStatus(raw string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusOnline:
		return StatusOnline
	case StatusIdle:
		return StatusIdle
	case StatusDND:
		return StatusDND
	default:
		return StatusOffline
	}
}

// Active reports whether s is online, idle or dnd.
func (s Status) Active() bool {
	return s == StatusOnline || s == StatusIdle || s == StatusDND
}

func (s Status) String() string {
	if s == StatusUnknown {
		return "unknown"
	}
	return string(s)
}

// UnmarshalJSON normalizes on decode so a Status value is always in the closed set.
func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		*s = StatusOffline
		return nil
	}
	*s = ParseStatus(raw)
	return nil
}

// PlatformStatus is the status a contact reports from one client platform
// (desktop, mobile, web).
type PlatformStatus struct {
	Platform string
	Status   string
}

// ClientStatus is a contact's per-platform session statuses, in the order the
// host reported them.
type ClientStatus []PlatformStatus

// UnmarshalJSON keeps the key order of the JSON object. Any value that is not
// an object decodes to an empty ClientStatus.
func (c *ClientStatus) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		*c = nil
		return nil
	}
	var out ClientStatus
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := kt.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return err
		}
		s, _ := v.(string)
		out = append(out, PlatformStatus{Platform: key, Status: s})
	}
	*c = out
	return nil
}

func (c ClientStatus) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, ps := range c {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(ps.Platform)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(ps.Status)
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// NormalizeClientStatus picks the status of the first reported session.
// An empty or missing set of sessions is offline.
func NormalizeClientStatus(raw ClientStatus) Status {
	if len(raw) == 0 {
		return StatusOffline
	}
	return ParseStatus(raw[0].Status)
}
