package presence

// ActivityCustom is the activity kind that carries a contact's custom status line.
const ActivityCustom = "custom"

// Activity is one entry of a contact's activity list. Only the custom
// activity matters here.
type Activity struct {
	Kind  string  `json:"kind"`
	Name  string  `json:"name,omitempty"`
	State *string `json:"state,omitempty"`
	Emoji string  `json:"emoji,omitempty"`
}

// CustomStatus is the free-text status line a contact set for themselves.
// A nil *CustomStatus means the contact has none.
type CustomStatus struct {
	State string `json:"state,omitempty"`
	Emoji string `json:"emoji,omitempty"`
}

// CustomStatusOf returns the custom status carried by activities, or nil.
func CustomStatusOf(activities []Activity) *CustomStatus {
	for _, a := range activities {
		if a.Kind != ActivityCustom {
			continue
		}
		cs := &CustomStatus{Emoji: a.Emoji}
		if a.State != nil {
			cs.State = *a.State
		}
		return cs
	}
	return nil
}

func sameCustomStatus(a, b *CustomStatus) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneCustomStatus(cs *CustomStatus) *CustomStatus {
	if cs == nil {
		return nil
	}
	cp := *cs
	return &cp
}
