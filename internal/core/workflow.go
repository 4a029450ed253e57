package core

// Workflow is the controller's job-level state, distinct from the device's
// own motion/active state reported in status messages.
type Workflow uint8

const (
	// WorkflowIdle is the initial state: no job is being streamed.
	WorkflowIdle Workflow = iota

	// WorkflowRunning indicates a loaded job is actively being streamed.
	WorkflowRunning

	// WorkflowPaused indicates a running job has been held; no new sender
	// lines are emitted until resume.
	WorkflowPaused
)

// String returns the human-readable name of the workflow state.
func (w Workflow) String() string {
	switch w {
	case WorkflowIdle:
		return "Idle"
	case WorkflowRunning:
		return "Running"
	case WorkflowPaused:
		return "Paused"
	default:
		return "Unknown"
	}
}
