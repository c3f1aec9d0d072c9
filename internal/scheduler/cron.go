package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/groupsummary/internal/model"
)

// cronBackend keeps one line per job in the user's crontab
type cronBackend struct {
	runner CommandRunner
	logger *zap.Logger
}

func newCronBackend(runner CommandRunner, logger *zap.Logger) *cronBackend {
	return &cronBackend{
		runner: runner,
		logger: logger.Named("crontab"),
	}
}

func (b *cronBackend) Platform() Platform {
	return PlatformCron
}

func (b *cronBackend) Describe(spec model.ScheduleSpec, inv Invocation, now time.Time) (*Descriptor, error) {
	line, err := CrontabLine(spec, inv)
	if err != nil {
		return nil, err
	}
	next, err := NextRun(spec, now)
	if err != nil {
		return nil, err
	}
	return &Descriptor{
		Platform:    PlatformCron,
		JobName:     spec.JobName,
		Spec:        spec,
		Argv:        inv.Argv(spec.JobName),
		NextRun:     next,
		CrontabLine: line,
	}, nil
}

func (b *cronBackend) Install(ctx context.Context, d *Descriptor) error {
	lines, err := b.read(ctx)
	if err != nil {
		return err
	}
	kept, _ := withoutJob(lines, d.JobName)
	return b.write(ctx, append(kept, d.CrontabLine))
}

func (b *cronBackend) Remove(ctx context.Context, jobName string) error {
	lines, err := b.read(ctx)
	if err != nil {
		return err
	}
	kept, removed := withoutJob(lines, jobName)
	if removed == 0 {
		return ErrJobNotFound
	}
	return b.write(ctx, kept)
}

func (b *cronBackend) Enumerate(ctx context.Context) (string, error) {
	lines, err := b.read(ctx)
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", nil
	}
	return strings.Join(lines, "\n") + "\n", nil
}

func (b *cronBackend) Exists(ctx context.Context, jobName string) (bool, error) {
	lines, err := b.read(ctx)
	if err != nil {
		return false, err
	}
	_, n := withoutJob(lines, jobName)
	return n > 0, nil
}

// read returns the current crontab lines; a user without a crontab has none
func (b *cronBackend) read(ctx context.Context) ([]string, error) {
	out, err := b.runner.Run(ctx, nil, crontabCommand, "-l")
	if err != nil {
		if strings.Contains(strings.ToLower(string(out)), "no crontab") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read crontab: %w", err)
	}

	var lines []string
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (b *cronBackend) write(ctx context.Context, lines []string) error {
	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	if _, err := b.runner.Run(ctx, []byte(content), crontabCommand, "-"); err != nil {
		return fmt.Errorf("failed to install crontab: %w", err)
	}
	b.logger.Debug("Crontab written", zap.Int("lines", len(lines)))
	return nil
}

// withoutJob drops lines whose task argument names jobName exactly
func withoutJob(lines []string, jobName string) ([]string, int) {
	marker := shellQuote(TaskNameArg(jobName))
	kept := make([]string, 0, len(lines))
	removed := 0
	for _, line := range lines {
		if matchesJob(line, marker) {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	return kept, removed
}

func matchesJob(line, marker string) bool {
	if strings.HasPrefix(strings.TrimSpace(line), "#") {
		return false
	}
	for _, field := range strings.Fields(line) {
		if field == marker {
			return true
		}
	}
	return false
}
