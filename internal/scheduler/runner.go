package scheduler

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// CommandRunner runs native scheduler tools
type CommandRunner interface {
	// Run executes name with args, feeding stdin when non-nil, and returns the combined output.
	// A non-zero exit is reported as a *CommandError.
	Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands on the host
type ExecRunner struct {
	logger *zap.Logger
}

// NewExecRunner creates a new host command runner
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	return &ExecRunner{
		logger: logger.Named("exec"),
	}
}

// Run implements CommandRunner
func (r *ExecRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	r.logger.Debug("Executing scheduler command",
		zap.String("command", name),
		zap.Strings("args", args))

	output, err := cmd.CombinedOutput()
	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return output, &CommandError{
			Command:  name,
			Args:     args,
			ExitCode: code,
			Output:   strings.TrimSpace(string(output)),
			Err:      err,
		}
	}
	return output, nil
}
