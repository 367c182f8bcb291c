package dispatch

import (
	"sync"

	"friendwatch/internal/presence"
)

// StaticDirectory is an in-memory Directory. Sources replace its contents
// whenever they read a fresh snapshot.
type StaticDirectory struct {
	mu       sync.RWMutex
	contacts map[presence.ContactID]Contact
}

func NewStaticDirectory(contacts ...Contact) *StaticDirectory {
	d := &StaticDirectory{}
	d.Replace(contacts)
	return d
}

func (d *StaticDirectory) Replace(contacts []Contact) {
	m := make(map[presence.ContactID]Contact, len(contacts))
	for _, c := range contacts {
		if c.ID != "" {
			m[c.ID] = c
		}
	}
	d.mu.Lock()
	d.contacts = m
	d.mu.Unlock()
}

func (d *StaticDirectory) Lookup(id presence.ContactID) (Contact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contacts[id]
	return c, ok
}

// Username lets the directory fill in usernames missing from presence updates.
func (d *StaticDirectory) Username(id presence.ContactID) string {
	c, _ := d.Lookup(id)
	return c.Username
}

func (d *StaticDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.contacts)
}
