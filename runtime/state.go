package runtime

// SessionState is the orchestrator's position in the session lifecycle.
//
//	Idle -> Receiving <-> Accumulate
//	          |   ^
//	          v   |
//	        Generate
//	any -> Closed
type SessionState int32

const (
	// StateIdle is the state before Run starts.
	StateIdle SessionState = iota
	// StateReceiving waits for the next inbound frame.
	StateReceiving
	// StateAccumulate appends a context turn or a pending image.
	StateAccumulate
	// StateGenerate runs one generation cycle.
	StateGenerate
	// StateClosed is terminal.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceiving:
		return "receiving"
	case StateAccumulate:
		return "accumulate"
	case StateGenerate:
		return "generate"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
