package session

// State is the session lifecycle state. Only the Manager mutates it.
type State int32

const (
	Disconnected State = iota
	Connecting
	Ready
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Transition is reported to observers after every state change.
type Transition struct {
	From    State
	To      State
	Attempt int
	Reason  string
}
