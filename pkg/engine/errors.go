package engine

import "errors"

var (
	// ErrRunTerminal indicates an operation on a completed, failed or
	// cancelled run. Terminal states admit no further transitions.
	ErrRunTerminal = errors.New("run is in a terminal state")

	// ErrRunNotPaused indicates a resume signal for a run that is not
	// waiting on the signaled node. Caller error, no state change.
	ErrRunNotPaused = errors.New("run is not paused at this node")
)

// IsRunTerminal checks if an error indicates a terminal run.
func IsRunTerminal(err error) bool {
	return errors.Is(err, ErrRunTerminal)
}

// IsRunNotPaused checks if an error indicates a misdirected resume signal.
func IsRunNotPaused(err error) bool {
	return errors.Is(err, ErrRunNotPaused)
}
