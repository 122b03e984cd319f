package lifecycle

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by Start once the coordinator has been shut down.
// There is no restart path: build a new coordinator instead.
var ErrStopped = errors.New("lifecycle: coordinator stopped")

type (
	// StartupError reports the stage that aborted startup. Err is the stage
	// error and can be inspected with errors.As / errors.Is.
	StartupError struct {
		Stage string
		Err   error
	}

	// ShutdownStepError records a failed release attempt. Shutdown step
	// errors are logged and never returned to callers.
	ShutdownStepError struct {
		Step   string
		Forced bool
		Err    error
	}
)

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed at stage %q: %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

func (e *ShutdownStepError) Error() string {
	mode := "graceful"
	if e.Forced {
		mode = "forced"
	}
	return fmt.Sprintf("%s shutdown of %q failed: %v", mode, e.Step, e.Err)
}

func (e *ShutdownStepError) Unwrap() error { return e.Err }
