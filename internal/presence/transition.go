package presence

// Transition classifies a change of coarse status.
type Transition int

const (
	NoTransition Transition = iota
	WentOffline
	CameOnline
)

func (t Transition) String() string {
	switch t {
	case WentOffline:
		return "went_offline"
	case CameOnline:
		return "came_online"
	default:
		return "none"
	}
}

// ClassifyTransition applies the offline/active boundary rule. Lateral moves
// between online, idle and dnd are NoTransition, and so is a repeated
// offline observation.
func ClassifyTransition(prev, cur Status) Transition {
	switch {
	case cur == StatusOffline && prev != StatusOffline:
		return WentOffline
	case (prev == StatusUnknown || prev == StatusOffline) && cur.Active():
		return CameOnline
	default:
		return NoTransition
	}
}
