package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/groupsummary/internal/model"
)

// launchdBackend installs per-user launch agents
type launchdBackend struct {
	runner    CommandRunner
	agentsDir string
	logDir    string
	domain    string
	logger    *zap.Logger
}

func newLaunchdBackend(runner CommandRunner, agentsDir, logDir string, uid int, logger *zap.Logger) *launchdBackend {
	if logDir == "" {
		logDir = os.TempDir()
	}
	return &launchdBackend{
		runner:    runner,
		agentsDir: agentsDir,
		logDir:    logDir,
		domain:    fmt.Sprintf("gui/%d", uid),
		logger:    logger.Named("launchd"),
	}
}

func (b *launchdBackend) Platform() Platform {
	return PlatformLaunchd
}

func (b *launchdBackend) Describe(spec model.ScheduleSpec, inv Invocation, now time.Time) (*Descriptor, error) {
	label, plist, runAtLoad, err := LaunchdPlist(spec, inv, now, b.logDir)
	if err != nil {
		return nil, err
	}
	next, err := NextRun(spec, now)
	if err != nil {
		return nil, err
	}
	if runAtLoad && !next.After(now) {
		next = now
	}
	return &Descriptor{
		Platform:  PlatformLaunchd,
		JobName:   spec.JobName,
		Spec:      spec,
		Argv:      inv.Argv(spec.JobName),
		NextRun:   next,
		Label:     label,
		Plist:     plist,
		RunAtLoad: runAtLoad,
	}, nil
}

// Install writes the job file, loads and enables it, then starts it.
// The file is removed again when any step cannot be recovered.
func (b *launchdBackend) Install(ctx context.Context, d *Descriptor) error {
	path := b.plistPath(d.Label)

	if err := os.MkdirAll(b.agentsDir, 0755); err != nil {
		return fmt.Errorf("failed to create launch agents directory: %w", err)
	}
	if err := os.MkdirAll(b.logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := os.WriteFile(path, d.Plist, 0644); err != nil {
		return fmt.Errorf("failed to write job file: %w", err)
	}

	if err := b.activate(ctx, d, path); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			b.logger.Warn("Failed to clean up job file",
				zap.String("path", path),
				zap.Error(rmErr))
		}
		return err
	}
	return nil
}

func (b *launchdBackend) activate(ctx context.Context, d *Descriptor, path string) error {
	label := d.Label
	if _, err := b.launchctl(ctx, "bootstrap", b.domain, path); err != nil {
		b.logger.Info("Bootstrap failed, falling back to load",
			zap.String("label", label),
			zap.Error(err))
		if _, err := b.launchctl(ctx, "load", path); err != nil {
			return fmt.Errorf("failed to load job: %w", err)
		}
	}

	if _, err := b.launchctl(ctx, "enable", b.service(label)); err != nil {
		return fmt.Errorf("failed to enable job: %w", err)
	}

	// a one-time job for a later day waits for its calendar entry
	if d.Spec.Recurrence == model.RecurrenceOnce && !d.RunAtLoad {
		b.logger.Info("Job loaded, waiting for its start date",
			zap.String("label", label),
			zap.Time("next_run", d.NextRun))
		return nil
	}
	return b.start(ctx, label, path)
}

// start kickstarts the service; an already running service is started by
// label, and a service reported as not loaded is reloaded and started once more
func (b *launchdBackend) start(ctx context.Context, label, path string) error {
	_, err := b.launchctl(ctx, "kickstart", "-k", b.service(label))
	if err == nil {
		return nil
	}
	if exitCode(err) != kickstartAlreadyRunning {
		return fmt.Errorf("failed to kickstart job: %w", err)
	}

	b.logger.Info("Kickstart refused, falling back to start", zap.String("label", label))
	_, err = b.launchctl(ctx, "start", label)
	if err == nil {
		return nil
	}
	if exitCode(err) != startNotLoaded {
		return fmt.Errorf("failed to start job: %w", err)
	}

	b.logger.Info("Job not loaded, reloading", zap.String("label", label))
	if _, err := b.launchctl(ctx, "load", path); err != nil {
		return fmt.Errorf("failed to reload job: %w", err)
	}
	if _, err := b.launchctl(ctx, "start", label); err != nil {
		return fmt.Errorf("failed to start job after reload: %w", err)
	}
	return nil
}

// Remove disables and boots out the job before deleting its file
func (b *launchdBackend) Remove(ctx context.Context, jobName string) error {
	label := SanitizeLabel(jobName)
	path := b.plistPath(label)

	exists, err := b.Exists(ctx, jobName)
	if err != nil {
		return err
	}
	if !exists {
		return ErrJobNotFound
	}

	if _, err := b.launchctl(ctx, "disable", b.service(label)); err != nil {
		b.logger.Debug("Disable failed", zap.String("label", label), zap.Error(err))
	}
	if _, err := b.launchctl(ctx, "bootout", b.domain, path); err != nil {
		b.logger.Debug("Bootout failed", zap.String("label", label), zap.Error(err))
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove job file: %w", err)
	}
	return nil
}

func (b *launchdBackend) Enumerate(ctx context.Context) (string, error) {
	out, err := b.launchctl(ctx, "print", b.domain)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Exists checks the job file first and falls back to asking launchd about the label
func (b *launchdBackend) Exists(ctx context.Context, jobName string) (bool, error) {
	label := SanitizeLabel(jobName)
	if _, err := os.Stat(b.plistPath(label)); err == nil {
		return true, nil
	}
	if _, err := b.launchctl(ctx, "print", b.service(label)); err != nil {
		if exitCode(err) < 0 {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (b *launchdBackend) launchctl(ctx context.Context, args ...string) ([]byte, error) {
	return b.runner.Run(ctx, nil, launchctlCommand, args...)
}

func (b *launchdBackend) plistPath(label string) string {
	return filepath.Join(b.agentsDir, label+".plist")
}

func (b *launchdBackend) service(label string) string {
	return b.domain + "/" + label
}
