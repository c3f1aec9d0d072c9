package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// RegistrationAction is what was attempted against the native scheduler
type RegistrationAction string

const (
	ActionCreate RegistrationAction = "create"
	ActionDelete RegistrationAction = "delete"
	ActionRun    RegistrationAction = "run"
)

// RegistrationOutcome is the result of an attempt
type RegistrationOutcome string

const (
	OutcomeSucceeded RegistrationOutcome = "succeeded"
	OutcomeFailed    RegistrationOutcome = "failed"
)

// RegistrationRecord is one attempt to change or run a native job
type RegistrationRecord struct {
	ID         string              `json:"id"`
	JobName    string              `json:"job_name"`
	GroupID    string              `json:"group_id"`
	Action     RegistrationAction  `json:"action"`
	Outcome    RegistrationOutcome `json:"outcome"`
	Platform   string              `json:"platform,omitempty"`
	Recurrence string              `json:"recurrence,omitempty"`
	TimeOfDay  string              `json:"time_of_day,omitempty"`
	NextRun    *time.Time          `json:"next_run,omitempty"`
	Error      string              `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// HistoryFilter narrows a history listing; empty fields match everything
type HistoryFilter struct {
	JobName string
	GroupID string
	Action  RegistrationAction
}

// RegistrationHistory defines the interface for registration history storage
type RegistrationHistory interface {
	// Record stores an attempt, assigning ID and CreatedAt when empty
	Record(ctx context.Context, rec *RegistrationRecord) error

	// List returns records newest first
	List(ctx context.Context, filter HistoryFilter, offset, limit int) ([]*RegistrationRecord, error)

	// Count returns the number of records matching the filter
	Count(ctx context.Context, filter HistoryFilter) (int, error)

	// DeleteBefore deletes records older than before and returns how many were removed
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

// SQLiteRegistrationHistory implements RegistrationHistory using SQLite
type SQLiteRegistrationHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteRegistrationHistory opens (or creates) the history database at dbPath
func NewSQLiteRegistrationHistory(logger *zap.Logger, dbPath string) (*SQLiteRegistrationHistory, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := newRegistrationHistory(db, logger)
	if err := storage.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

func newRegistrationHistory(db *sql.DB, logger *zap.Logger) *SQLiteRegistrationHistory {
	return &SQLiteRegistrationHistory{
		logger: logger.Named("history"),
		db:     db,
	}
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteRegistrationHistory) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS registration_history (
			id TEXT PRIMARY KEY,
			job_name TEXT NOT NULL,
			group_id TEXT NOT NULL,
			action TEXT NOT NULL,
			outcome TEXT NOT NULL,
			platform TEXT,
			recurrence TEXT,
			time_of_day TEXT,
			next_run DATETIME,
			error TEXT,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_registration_history_job_name ON registration_history(job_name);
		CREATE INDEX IF NOT EXISTS idx_registration_history_group_id ON registration_history(group_id);
		CREATE INDEX IF NOT EXISTS idx_registration_history_created_at ON registration_history(created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Record implements RegistrationHistory.Record
func (s *SQLiteRegistrationHistory) Record(ctx context.Context, rec *RegistrationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	var nextRun sql.NullTime
	if rec.NextRun != nil {
		nextRun = sql.NullTime{Time: *rec.NextRun, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO registration_history (
			id, job_name, group_id, action, outcome, platform, recurrence, time_of_day, next_run, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.JobName,
		rec.GroupID,
		string(rec.Action),
		string(rec.Outcome),
		nullString(rec.Platform),
		nullString(rec.Recurrence),
		nullString(rec.TimeOfDay),
		nextRun,
		nullString(rec.Error),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store registration history: %w", err)
	}
	return nil
}

// List implements RegistrationHistory.List
func (s *SQLiteRegistrationHistory) List(ctx context.Context, filter HistoryFilter, offset, limit int) ([]*RegistrationRecord, error) {
	where, args := filter.clause()
	query := `SELECT id, job_name, group_id, action, outcome, platform, recurrence, time_of_day, next_run, error, created_at
		FROM registration_history` + where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list registration history: %w", err)
	}
	defer rows.Close()

	var records []*RegistrationRecord
	for rows.Next() {
		rec := &RegistrationRecord{}
		var action, outcome string
		var platform, recurrence, timeOfDay, errorStr sql.NullString
		var nextRun sql.NullTime

		if err := rows.Scan(
			&rec.ID,
			&rec.JobName,
			&rec.GroupID,
			&action,
			&outcome,
			&platform,
			&recurrence,
			&timeOfDay,
			&nextRun,
			&errorStr,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan registration history: %w", err)
		}

		rec.Action = RegistrationAction(action)
		rec.Outcome = RegistrationOutcome(outcome)
		rec.Platform = platform.String
		rec.Recurrence = recurrence.String
		rec.TimeOfDay = timeOfDay.String
		rec.Error = errorStr.String
		if nextRun.Valid {
			rec.NextRun = &nextRun.Time
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return records, nil
}

// Count implements RegistrationHistory.Count
func (s *SQLiteRegistrationHistory) Count(ctx context.Context, filter HistoryFilter) (int, error) {
	where, args := filter.clause()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM registration_history"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count registration history: %w", err)
	}
	return count, nil
}

// DeleteBefore implements RegistrationHistory.DeleteBefore
func (s *SQLiteRegistrationHistory) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM registration_history WHERE created_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete registration history: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old registration history records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}

// Close closes the database connection
func (s *SQLiteRegistrationHistory) Close() error {
	return s.db.Close()
}

func (f HistoryFilter) clause() (string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.JobName != "" {
		conds = append(conds, "job_name = ?")
		args = append(args, f.JobName)
	}
	if f.GroupID != "" {
		conds = append(conds, "group_id = ?")
		args = append(args, f.GroupID)
	}
	if f.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, string(f.Action))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
