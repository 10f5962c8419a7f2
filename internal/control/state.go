package control

// State is the lifecycle state of the controller's current (or last) run.
type State int

const (
	Idle State = iota
	Authenticating
	AwaitingCode
	Dispatching
	Stopping
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Authenticating:
		return "authenticating"
	case AwaitingCode:
		return "awaiting_code"
	case Dispatching:
		return "dispatching"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Active reports whether a run occupies the single run slot in this state.
func (s State) Active() bool {
	switch s {
	case Authenticating, AwaitingCode, Dispatching, Stopping:
		return true
	}
	return false
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool { return s == Stopped || s == Failed }
