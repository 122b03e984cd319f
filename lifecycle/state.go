package lifecycle

// State is the position of a Coordinator in its single-use lifecycle.
type State int32

const (
	// Uninitialized is the state of a freshly constructed coordinator.
	Uninitialized State = iota
	// Initializing means Start is running the stages.
	Initializing
	// Running means every stage reported ready.
	Running
	// ShuttingDown means a teardown sequence is in progress, either because
	// shutdown was requested or because a stage failed during startup.
	ShuttingDown
	// Stopped is terminal. All release attempts have been exhausted.
	Stopped
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting_down"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
