package undo

// State is the mode a Manager is in while an add arrives.
type State int

const (
	// Normal records ordinary local edits.
	Normal State = iota
	// Undoing routes the inverse produced by an undo onto the redo stack.
	Undoing
	// Redoing routes the inverse produced by a redo onto the undo stack.
	Redoing
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case Undoing:
		return "undoing"
	case Redoing:
		return "redoing"
	default:
		return "unknown"
	}
}
