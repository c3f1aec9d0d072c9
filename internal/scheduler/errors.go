package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrScriptNotFound is returned when the script a job should invoke does not exist
	ErrScriptNotFound = errors.New("script not found")

	// ErrInterpreterNotFound is returned when the configured interpreter cannot be located
	ErrInterpreterNotFound = errors.New("interpreter not found")

	// ErrUnsupportedPlatform is returned for operating systems without a native scheduler backend
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrInvalidSchedule is returned when a schedule spec is malformed or already in the past
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrRegistrationFailed is returned when the native install sequence exhausted its fallbacks
	ErrRegistrationFailed = errors.New("registration failed")

	// ErrRemovalFailed is returned when a native job could not be removed
	ErrRemovalFailed = errors.New("removal failed")

	// ErrJobNotFound is returned by backends when no native job has the given name
	ErrJobNotFound = errors.New("job not found")
)

// CommandError describes a failed native scheduler command
type CommandError struct {
	Command  string
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	cmd := strings.TrimSpace(e.Command + " " + strings.Join(e.Args, " "))
	if e.Output != "" {
		return fmt.Sprintf("%s: exit status %d: %s", cmd, e.ExitCode, e.Output)
	}
	return fmt.Sprintf("%s: %v", cmd, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// exitCode returns the exit code carried by err, or -1 when err is not a CommandError
func exitCode(err error) int {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode
	}
	return -1
}
