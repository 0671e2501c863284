package fsm

// RunRequest is the FSM input
type RunRequest struct {
	RunID string
}

// RunResponse is the FSM output (accumulated across transitions)
type RunResponse struct {
	Completed  []string
	FailedStep string
	ErrorKind  string
	Detail     string
	State      string
}

// State names
const (
	StatePrepare  = "prepare"
	StateGenerate = "generate"
	StatePush     = "push"
	StateComplete = "complete"
	StateFailed   = "failed"
)
