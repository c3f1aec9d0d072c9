package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/groupsummary/internal/model"
)

// windowsBackend drives the Windows Task Scheduler through schtasks
type windowsBackend struct {
	runner     CommandRunner
	dateLayout string
	logger     *zap.Logger
}

func newWindowsBackend(runner CommandRunner, dateLayout string, logger *zap.Logger) *windowsBackend {
	if dateLayout == "" {
		dateLayout = "02/01/2006"
	}
	return &windowsBackend{
		runner:     runner,
		dateLayout: dateLayout,
		logger:     logger.Named("schtasks"),
	}
}

func (b *windowsBackend) Platform() Platform {
	return PlatformWindows
}

func (b *windowsBackend) Describe(spec model.ScheduleSpec, inv Invocation, now time.Time) (*Descriptor, error) {
	next, err := NextRun(spec, now)
	if err != nil {
		return nil, err
	}
	return &Descriptor{
		Platform:   PlatformWindows,
		JobName:    spec.JobName,
		Spec:       spec,
		Argv:       inv.Argv(spec.JobName),
		NextRun:    next,
		CreateArgs: WindowsCreateArgs(spec, inv, b.dateLayout),
	}, nil
}

func (b *windowsBackend) Install(ctx context.Context, d *Descriptor) error {
	if _, err := b.runner.Run(ctx, nil, schtasksCommand, d.CreateArgs...); err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (b *windowsBackend) Remove(ctx context.Context, jobName string) error {
	exists, err := b.Exists(ctx, jobName)
	if err != nil {
		return err
	}
	if !exists {
		return ErrJobNotFound
	}
	if _, err := b.runner.Run(ctx, nil, schtasksCommand, "/Delete", "/TN", jobName, "/F"); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

func (b *windowsBackend) Enumerate(ctx context.Context) (string, error) {
	out, err := b.runner.Run(ctx, nil, schtasksCommand, "/Query", "/FO", "TABLE")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Exists treats any failing query as an absent task
func (b *windowsBackend) Exists(ctx context.Context, jobName string) (bool, error) {
	if _, err := b.runner.Run(ctx, nil, schtasksCommand, "/Query", "/TN", jobName); err != nil {
		if exitCode(err) < 0 {
			return false, err
		}
		return false, nil
	}
	return true, nil
}
