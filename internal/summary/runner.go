package summary

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/groupsummary/internal/events"
	"github.com/t77yq/groupsummary/internal/model"
	"github.com/t77yq/groupsummary/internal/storage"
)

const (
	logTimeLayout = "2006-01-02 15:04:05.000000"

	// fireTolerance absorbs scheduler jitter around a one-time fire instant
	fireTolerance = time.Minute
)

// MessageSource reads a group's messages and posts back to it
type MessageSource interface {
	FindMessages(ctx context.Context, groupID string, start, end time.Time) ([]model.Message, error)
	SendText(ctx context.Context, number, text string) error
}

// GroupLookup resolves a group id to its directory entry
type GroupLookup interface {
	FindGroup(ctx context.Context, id string) (*model.GroupView, error)
}

// Result describes what a run did
type Result struct {
	GroupID   string
	GroupName string
	// Skipped is set when the group is disabled or had nothing to summarise
	Skipped bool
	// Early is set when a one-time job was started before its fire time
	Early      bool
	Reason     string
	Messages   int
	Summary    string
	Recurrence model.Recurrence
}

// Runner executes one scheduled summary job
type Runner struct {
	store      storage.GroupConfigStore
	groups     GroupLookup
	source     MessageSource
	summarizer Summarizer
	publisher  events.Publisher
	logPath    string
	scriptPath string
	retry      *RetryPolicy
	logger     *zap.Logger
	now        func() time.Time
}

// RunnerOptions configures a Runner
type RunnerOptions struct {
	// LogPath receives one line per summary sent
	LogPath string
	// ScriptPath is stored on rows created for unknown groups
	ScriptPath string
	Publisher  events.Publisher
	// Retry applies to the summarizer call; nil calls it once
	Retry *RetryPolicy
}

// NewRunner creates a new runner
func NewRunner(store storage.GroupConfigStore, groups GroupLookup, source MessageSource, summarizer Summarizer, opts RunnerOptions, logger *zap.Logger) *Runner {
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Runner{
		store:      store,
		groups:     groups,
		source:     source,
		summarizer: summarizer,
		publisher:  publisher,
		logPath:    opts.LogPath,
		scriptPath: opts.ScriptPath,
		retry:      opts.Retry,
		logger:     logger.Named("runner"),
		now:        time.Now,
	}
}

// Run summarises the group named by taskName and sends the summary to it.
// A group without a configuration row gets a default enabled row first.
func (r *Runner) Run(ctx context.Context, taskName string) (*Result, error) {
	groupID, err := model.GroupIDFromJobName(taskName)
	if err != nil {
		return nil, err
	}
	logger := r.logger.With(zap.String("group_id", groupID))

	row, err := r.store.Get(groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group config: %w", err)
	}
	if row == nil {
		cfg := model.DefaultGroupSummaryConfig(groupID)
		cfg.Enabled = true
		cfg.Script = r.scriptPath
		if err := r.store.Upsert(cfg); err != nil {
			return nil, err
		}
		logger.Info("Created default configuration for group")
		row = &cfg
	}

	res := &Result{
		GroupID:    groupID,
		GroupName:  groupID,
		Recurrence: row.Recurrence(),
	}
	if g, err := r.groups.FindGroup(ctx, groupID); err != nil {
		logger.Warn("Failed to look up group name", zap.Error(err))
	} else if g != nil && g.Subject != "" {
		res.GroupName = g.Subject
	}

	if !row.Enabled {
		res.Skipped = true
		res.Reason = "summary is not enabled for this group"
		return res, nil
	}

	now := r.now()
	if res.Recurrence == model.RecurrenceOnce {
		fire := row.TimeOfDay.On(*row.StartDate)
		if now.Add(fireTolerance).Before(fire) {
			logger.Info("One-time summary is not due yet", zap.Time("fire_at", fire))
			res.Skipped = true
			res.Early = true
			res.Reason = "not due until " + fire.Format("2006-01-02 15:04")
			return res, nil
		}
	}
	start, end := row.Window(now)
	msgs, err := r.source.FindMessages(ctx, groupID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	res.Messages = len(msgs)
	logger.Info("Messages fetched",
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("count", len(msgs)))

	if len(msgs) == 0 {
		res.Skipped = true
		res.Reason = "no messages in the window"
		return res, nil
	}

	prompt := BuildPrompt(msgs, start, end, PromptOptions{
		IncludeLinks: row.IncludeLinks,
		IncludeNames: row.IncludeNames,
	})
	var text string
	err = r.retry.Do(ctx, logger, func(ctx context.Context) error {
		var err error
		text, err = r.summarizer.Summarize(ctx, prompt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to summarise: %w", err)
	}
	res.Summary = text

	if err := r.source.SendText(ctx, groupID, text); err != nil {
		return nil, fmt.Errorf("failed to send summary: %w", err)
	}

	if err := r.appendLog(now, res); err != nil {
		logger.Error("Failed to write summary log", zap.Error(err))
	}

	if err := r.publisher.Publish(ctx, &events.Event{
		Type:       events.SummarySent,
		JobName:    taskName,
		GroupID:    groupID,
		Recurrence: string(res.Recurrence),
	}); err != nil {
		logger.Warn("Failed to publish summary event", zap.Error(err))
	}

	logger.Info("Summary sent", zap.String("group", res.GroupName))
	return res, nil
}

func (r *Runner) appendLog(now time.Time, res *Result) error {
	if r.logPath == "" {
		return nil
	}
	f, err := os.OpenFile(r.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "[%s] [INFO] [GRUPO: %s] [GROUP_ID: %s] - Mensagem: Resumo gerado e enviado com sucesso!\n",
		now.Format(logTimeLayout), res.GroupName, res.GroupID)
	return err
}
