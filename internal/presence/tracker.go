package presence

import (
	"sort"
	"sync"
)

// TrackedContact is what the Tracker remembers about one contact.
type TrackedContact struct {
	ID               ContactID     `json:"id"`
	LastStatus       Status        `json:"last_status"`
	LastCustomStatus *CustomStatus `json:"last_custom_status,omitempty"`
}

// Tracker is the in-memory tracking state. A contact is present iff it is
// tracked; a tracked contact whose status is offline is still present.
//
// Methods are safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	contacts map[ContactID]*TrackedContact
}

func NewTracker() *Tracker {
	return &Tracker{contacts: map[ContactID]*TrackedContact{}}
}

// Track starts tracking id with an unknown status. It reports false if id
// was already tracked, in which case nothing changes.
func (t *Tracker) Track(id ContactID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.contacts[id]; ok {
		return false
	}
	t.contacts[id] = &TrackedContact{ID: id}
	return true
}

// Seed sets a contact's observed state, tracking it if needed.
func (t *Tracker) Seed(id ContactID, status Status, custom *CustomStatus) {
	t.mu.Lock()
	t.contacts[id] = &TrackedContact{ID: id, LastStatus: status, LastCustomStatus: cloneCustomStatus(custom)}
	t.mu.Unlock()
}

// Untrack forgets id. It reports whether id was tracked.
func (t *Tracker) Untrack(id ContactID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.contacts[id]; !ok {
		return false
	}
	delete(t.contacts, id)
	return true
}

func (t *Tracker) IsTracked(id ContactID) bool {
	t.mu.RLock()
	_, ok := t.contacts[id]
	t.mu.RUnlock()
	return ok
}

// Get returns a copy of the tracked contact.
func (t *Tracker) Get(id ContactID) (TrackedContact, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.contacts[id]
	if !ok {
		return TrackedContact{}, false
	}
	return TrackedContact{ID: c.ID, LastStatus: c.LastStatus, LastCustomStatus: cloneCustomStatus(c.LastCustomStatus)}, true
}

// SetStatus records the latest coarse status. Untracked ids are ignored.
func (t *Tracker) SetStatus(id ContactID, s Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.contacts[id]
	if ok {
		c.LastStatus = s
	}
	return ok
}

// SetCustomStatus records the latest custom status and reports whether the
// stored value changed. Untracked ids are ignored.
func (t *Tracker) SetCustomStatus(id ContactID, cs *CustomStatus) (changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.contacts[id]
	if !ok {
		return false
	}
	changed = !sameCustomStatus(c.LastCustomStatus, cs)
	c.LastCustomStatus = cloneCustomStatus(cs)
	return changed
}

// IDs returns the tracked ids in sorted order.
func (t *Tracker) IDs() []ContactID {
	t.mu.RLock()
	out := make([]ContactID, 0, len(t.contacts))
	for id := range t.contacts {
		out = append(out, id)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Snapshot returns copies of all tracked contacts, sorted by id.
func (t *Tracker) Snapshot() []TrackedContact {
	t.mu.RLock()
	out := make([]TrackedContact, 0, len(t.contacts))
	for _, c := range t.contacts {
		out = append(out, TrackedContact{ID: c.ID, LastStatus: c.LastStatus, LastCustomStatus: cloneCustomStatus(c.LastCustomStatus)})
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CustomStatuses returns the custom-status history of every tracked contact
// that has one.
func (t *Tracker) CustomStatuses() map[ContactID]CustomStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[ContactID]CustomStatus, len(t.contacts))
	for id, c := range t.contacts {
		if c.LastCustomStatus != nil {
			out[id] = *c.LastCustomStatus
		}
	}
	return out
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.contacts)
}

// Reset drops all tracked contacts. Used on session teardown.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.contacts = map[ContactID]*TrackedContact{}
	t.mu.Unlock()
}
