package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/groupsummary/internal/model"
)

// Options configures the native registrar
type Options struct {
	// Interpreter runs the script; empty executes the script directly
	Interpreter       string
	LaunchAgentsDir   string
	LaunchdLogDir     string
	WindowsDateLayout string
	// UID selects the launchd gui domain
	UID int
}

// NativeRegistrar installs jobs through the host's native scheduler
type NativeRegistrar struct {
	backend  Backend
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
	lookPath func(string) (string, error)
}

// New creates a registrar for platform, running native tools through runner
func New(platform Platform, opts Options, runner CommandRunner, logger *zap.Logger) (*NativeRegistrar, error) {
	logger = logger.Named("registrar")

	var backend Backend
	switch platform {
	case PlatformWindows:
		backend = newWindowsBackend(runner, opts.WindowsDateLayout, logger)
	case PlatformCron:
		backend = newCronBackend(runner, logger)
	case PlatformLaunchd:
		backend = newLaunchdBackend(runner, opts.LaunchAgentsDir, opts.LaunchdLogDir, opts.UID, logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
	}

	return &NativeRegistrar{
		backend:  backend,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		lookPath: exec.LookPath,
	}, nil
}

// Platform returns the scheduler family in use
func (r *NativeRegistrar) Platform() Platform {
	return r.backend.Platform()
}

// Describe validates spec against the host and builds its descriptor without installing it
func (r *NativeRegistrar) Describe(spec model.ScheduleSpec) (*Descriptor, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}

	now := r.now()
	if spec.Expired(now) {
		return nil, fmt.Errorf("%w: start date %s is in the past", ErrInvalidSchedule, spec.StartDate.Format(model.DateLayout))
	}

	script, err := filepath.Abs(spec.ScriptPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, spec.ScriptPath)
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, script)
	}

	interpreter, err := r.resolveInterpreter()
	if err != nil {
		return nil, err
	}

	return r.backend.Describe(spec, Invocation{Interpreter: interpreter, Script: script}, now)
}

// Create installs spec, removing any job with the same name first
func (r *NativeRegistrar) Create(ctx context.Context, spec model.ScheduleSpec) error {
	d, err := r.Describe(spec)
	if err != nil {
		return err
	}

	if err := r.backend.Remove(ctx, spec.JobName); err != nil && !errors.Is(err, ErrJobNotFound) {
		r.logger.Warn("Failed to remove previous job",
			zap.String("job_name", spec.JobName),
			zap.Error(err))
	}

	if err := r.backend.Install(ctx, d); err != nil {
		r.logger.Error("Failed to register job",
			zap.String("job_name", spec.JobName),
			zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrRegistrationFailed, spec.JobName, err)
	}

	r.logger.Info("Job registered",
		zap.String("job_name", spec.JobName),
		zap.String("platform", string(d.Platform)),
		zap.String("recurrence", string(spec.Recurrence)),
		zap.String("time_of_day", spec.TimeOfDay.String()),
		zap.Time("next_run", d.NextRun))
	return nil
}

// Delete removes a job; an absent job counts as removed
func (r *NativeRegistrar) Delete(ctx context.Context, jobName string) error {
	err := r.backend.Remove(ctx, jobName)
	switch {
	case err == nil:
		r.logger.Info("Job removed", zap.String("job_name", jobName))
		return nil
	case errors.Is(err, ErrJobNotFound):
		r.logger.Debug("Job already absent", zap.String("job_name", jobName))
		return nil
	default:
		r.logger.Error("Failed to remove job",
			zap.String("job_name", jobName),
			zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrRemovalFailed, jobName, err)
	}
}

// List returns the native scheduler listing verbatim
func (r *NativeRegistrar) List(ctx context.Context) (string, error) {
	out, err := r.backend.Enumerate(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list jobs: %w", err)
	}
	return out, nil
}

// Exists reports whether a native job named jobName is installed
func (r *NativeRegistrar) Exists(ctx context.Context, jobName string) (bool, error) {
	ok, err := r.backend.Exists(ctx, jobName)
	if err != nil {
		return false, fmt.Errorf("failed to query job %s: %w", jobName, err)
	}
	return ok, nil
}

func (r *NativeRegistrar) resolveInterpreter() (string, error) {
	if r.opts.Interpreter == "" {
		return "", nil
	}
	path, err := r.lookPath(r.opts.Interpreter)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInterpreterNotFound, r.opts.Interpreter)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInterpreterNotFound, path)
	}
	return abs, nil
}
