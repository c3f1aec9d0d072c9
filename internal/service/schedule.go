package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/groupsummary/internal/events"
	"github.com/t77yq/groupsummary/internal/model"
	"github.com/t77yq/groupsummary/internal/scheduler"
	"github.com/t77yq/groupsummary/internal/storage"
)

var (
	// ErrGroupNotFound is returned when a group has no configuration row
	ErrGroupNotFound = errors.New("group not found")

	// ErrScheduleDiverged is returned when the row was saved but the native job could not follow it
	ErrScheduleDiverged = errors.New("configuration saved but scheduled job was not updated")

	// ErrInvalidConfig is returned for rows that cannot be scheduled
	ErrInvalidConfig = errors.New("invalid group configuration")
)

// ScheduleService keeps configuration rows and native jobs in step
type ScheduleService struct {
	store      storage.GroupConfigStore
	registrar  scheduler.Registrar
	history    storage.RegistrationHistory
	publisher  events.Publisher
	jobPrefix  string
	scriptPath string
	logger     *zap.Logger
	now        func() time.Time
}

// Options configures a ScheduleService
type Options struct {
	JobPrefix string
	// ScriptPath is used for rows that do not name a script
	ScriptPath string
	// History is optional
	History   storage.RegistrationHistory
	Publisher events.Publisher
}

// NewScheduleService creates a new schedule service
func NewScheduleService(store storage.GroupConfigStore, registrar scheduler.Registrar, opts Options, logger *zap.Logger) *ScheduleService {
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &ScheduleService{
		store:      store,
		registrar:  registrar,
		history:    opts.History,
		publisher:  publisher,
		jobPrefix:  opts.JobPrefix,
		scriptPath: opts.ScriptPath,
		logger:     logger.Named("schedule"),
		now:        time.Now,
	}
}

// JobName returns the native job name for a group
func (s *ScheduleService) JobName(groupID string) string {
	return model.JobName(s.jobPrefix, groupID)
}

// Save persists cfg and then installs or removes the group's job to match it.
// The row is written first; when the job cannot follow, the error wraps
// ErrScheduleDiverged and the row stays as saved.
func (s *ScheduleService) Save(ctx context.Context, cfg model.GroupSummaryConfig) error {
	cfg.GroupID = strings.TrimSpace(cfg.GroupID)
	if cfg.GroupID == "" {
		return fmt.Errorf("%w: group id is required", ErrInvalidConfig)
	}
	if cfg.Script == "" {
		cfg.Script = s.scriptPath
	}
	spec := cfg.ScheduleSpec(s.jobPrefix)
	if cfg.Enabled {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if spec.Expired(s.now()) {
			return fmt.Errorf("%w: start date %s is in the past", ErrInvalidConfig, spec.StartDate.Format(model.DateLayout))
		}
		if err := cfg.ValidateWindow(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	if err := s.store.Upsert(cfg); err != nil {
		return err
	}

	var err error
	if cfg.Enabled {
		err = s.install(ctx, cfg.GroupID, spec)
	} else {
		err = s.uninstall(ctx, cfg.GroupID, spec.JobName)
	}
	if err != nil {
		s.logger.Error("Configuration and scheduled job diverged",
			zap.String("group_id", cfg.GroupID),
			zap.Bool("enabled", cfg.Enabled),
			zap.Error(err))
		return fmt.Errorf("%w: %w", ErrScheduleDiverged, err)
	}
	return nil
}

// Remove deletes the group's job and then its configuration row.
// The row is kept when the job cannot be removed.
func (s *ScheduleService) Remove(ctx context.Context, groupID string) error {
	row, err := s.store.Get(groupID)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}

	if err := s.uninstall(ctx, groupID, s.JobName(groupID)); err != nil {
		return err
	}
	if _, err := s.store.Delete(groupID); err != nil {
		return err
	}

	s.logger.Info("Group schedule removed", zap.String("group_id", groupID))
	return nil
}

// Complete retires a one-time schedule after it has run: the row is disabled
// and its job removed. Daily rows are left untouched.
func (s *ScheduleService) Complete(ctx context.Context, groupID string) error {
	row, err := s.store.Get(groupID)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}
	if row.Recurrence() != model.RecurrenceOnce || !row.Enabled {
		return nil
	}

	row.Enabled = false
	return s.Save(ctx, *row)
}

// Get returns the configuration row for a group, or ErrGroupNotFound
func (s *ScheduleService) Get(groupID string) (*model.GroupSummaryConfig, error) {
	row, err := s.store.Get(groupID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}
	return row, nil
}

// Scheduled returns the rows with summaries enabled, in file order
func (s *ScheduleService) Scheduled() ([]model.GroupSummaryConfig, error) {
	rows, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	var out []model.GroupSummaryConfig
	for _, row := range rows {
		if row.Enabled {
			out = append(out, row)
		}
	}
	return out, nil
}

// List returns the native scheduler listing
func (s *ScheduleService) List(ctx context.Context) (string, error) {
	return s.registrar.List(ctx)
}

// Drift is a row whose native job does not match it
type Drift struct {
	GroupID   string `json:"group_id"`
	JobName   string `json:"job_name"`
	Enabled   bool   `json:"enabled"`
	Installed bool   `json:"installed"`
	Repaired  bool   `json:"repaired"`
	Error     string `json:"error,omitempty"`
}

// Reconcile compares every row with the native scheduler. One-time rows
// whose firing instant has passed are expected to have no job. With apply
// set, each drift is repaired by installing or removing the job.
func (s *ScheduleService) Reconcile(ctx context.Context, apply bool) ([]Drift, error) {
	rows, err := s.store.Load()
	if err != nil {
		return nil, err
	}

	now := s.now()
	var drifts []Drift
	for _, row := range rows {
		spec := row.ScheduleSpec(s.jobPrefix)
		if row.Script == "" {
			spec.ScriptPath = s.scriptPath
		}
		want := row.Enabled && !(spec.Recurrence == model.RecurrenceOnce && spec.FireAt().Before(now))

		installed, err := s.registrar.Exists(ctx, spec.JobName)
		if err != nil {
			return drifts, err
		}
		if installed == want {
			continue
		}

		d := Drift{
			GroupID:   row.GroupID,
			JobName:   spec.JobName,
			Enabled:   row.Enabled,
			Installed: installed,
		}
		if apply {
			var err error
			if want {
				err = s.install(ctx, row.GroupID, spec)
			} else {
				err = s.uninstall(ctx, row.GroupID, spec.JobName)
			}
			if err != nil {
				d.Error = err.Error()
			} else {
				d.Repaired = true
			}
		}
		drifts = append(drifts, d)
	}

	s.logger.Info("Reconciled schedules",
		zap.Int("rows", len(rows)),
		zap.Int("drifts", len(drifts)),
		zap.Bool("apply", apply))
	return drifts, nil
}

func (s *ScheduleService) install(ctx context.Context, groupID string, spec model.ScheduleSpec) error {
	err := s.registrar.Create(ctx, spec)

	rec := &storage.RegistrationRecord{
		JobName:    spec.JobName,
		GroupID:    groupID,
		Action:     storage.ActionCreate,
		Platform:   string(s.registrar.Platform()),
		Recurrence: string(spec.Recurrence),
		TimeOfDay:  spec.TimeOfDay.String(),
	}
	if next, nerr := scheduler.NextRun(spec, s.now()); nerr == nil {
		rec.NextRun = &next
	}
	s.record(ctx, rec, err)

	ev := &events.Event{
		Type:       events.ScheduleCreated,
		JobName:    spec.JobName,
		GroupID:    groupID,
		Platform:   rec.Platform,
		Recurrence: rec.Recurrence,
		TimeOfDay:  rec.TimeOfDay,
		NextRun:    rec.NextRun,
	}
	if err != nil {
		ev.Type = events.ScheduleFailed
		ev.Error = err.Error()
	}
	s.publish(ctx, ev)
	return err
}

func (s *ScheduleService) uninstall(ctx context.Context, groupID, jobName string) error {
	err := s.registrar.Delete(ctx, jobName)

	rec := &storage.RegistrationRecord{
		JobName:  jobName,
		GroupID:  groupID,
		Action:   storage.ActionDelete,
		Platform: string(s.registrar.Platform()),
	}
	s.record(ctx, rec, err)

	ev := &events.Event{
		Type:     events.ScheduleRemoved,
		JobName:  jobName,
		GroupID:  groupID,
		Platform: rec.Platform,
	}
	if err != nil {
		ev.Type = events.ScheduleFailed
		ev.Error = err.Error()
	}
	s.publish(ctx, ev)
	return err
}

// RecordRun stores the outcome of a summary run in the history
func (s *ScheduleService) RecordRun(ctx context.Context, groupID string, runErr error) {
	s.record(ctx, &storage.RegistrationRecord{
		JobName:  s.JobName(groupID),
		GroupID:  groupID,
		Action:   storage.ActionRun,
		Platform: string(s.registrar.Platform()),
	}, runErr)
}

func (s *ScheduleService) record(ctx context.Context, rec *storage.RegistrationRecord, cause error) {
	if s.history == nil {
		return
	}
	rec.Outcome = storage.OutcomeSucceeded
	if cause != nil {
		rec.Outcome = storage.OutcomeFailed
		rec.Error = cause.Error()
	}
	if err := s.history.Record(ctx, rec); err != nil {
		s.logger.Warn("Failed to record registration history",
			zap.String("job_name", rec.JobName),
			zap.Error(err))
	}
}

func (s *ScheduleService) publish(ctx context.Context, ev *events.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("Failed to publish schedule event",
			zap.String("type", string(ev.Type)),
			zap.String("job_name", ev.JobName),
			zap.Error(err))
	}
}
