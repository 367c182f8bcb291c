package presence

import "fmt"

// StatusTextMaxLen bounds custom status text in notification bodies.
const StatusTextMaxLen = 15

// CustomStatusKind classifies a change of custom status between two observations.
type CustomStatusKind int

const (
	CustomStatusNoOp CustomStatusKind = iota
	CustomStatusSet
	CustomStatusCleared
	CustomStatusChanged
)

func (k CustomStatusKind) String() string {
	switch k {
	case CustomStatusSet:
		return "set"
	case CustomStatusCleared:
		return "cleared"
	case CustomStatusChanged:
		return "changed"
	default:
		return "noop"
	}
}

// CustomStatusDiff is the differ's verdict plus the notification body.
type CustomStatusDiff struct {
	Kind CustomStatusKind
	Body string
}

// DiffCustomStatus compares the previous and current custom status of one
// contact. Only State is compared; an emoji-only edit is a no-op.
func DiffCustomStatus(prev, cur *CustomStatus) CustomStatusDiff {
	switch {
	case prev == nil && cur == nil:
		return CustomStatusDiff{Kind: CustomStatusNoOp}
	case prev == nil:
		return CustomStatusDiff{Kind: CustomStatusSet, Body: Truncate(cur.State, StatusTextMaxLen)}
	case cur == nil:
		return CustomStatusDiff{Kind: CustomStatusCleared, Body: Truncate(prev.State, StatusTextMaxLen)}
	case prev.State != cur.State:
		return CustomStatusDiff{
			Kind: CustomStatusChanged,
			Body: fmt.Sprintf("from %q to %q", Truncate(prev.State, StatusTextMaxLen), Truncate(cur.State, StatusTextMaxLen)),
		}
	default:
		return CustomStatusDiff{Kind: CustomStatusNoOp}
	}
}
