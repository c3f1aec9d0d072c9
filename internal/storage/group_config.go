package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/groupsummary/internal/model"
)

// csvHeader is the column order of the group configuration file
var csvHeader = []string{
	"group_id", "horario", "enabled", "is_links", "is_names", "script",
	"start_date", "start_time", "end_date", "end_time",
}

// GroupConfigStore persists one summary configuration row per group
type GroupConfigStore interface {
	// Load returns all rows in file order
	Load() ([]model.GroupSummaryConfig, error)

	// Get returns the row for groupID, or nil when there is none
	Get(groupID string) (*model.GroupSummaryConfig, error)

	// Upsert replaces the row for the group, appending it at the end
	Upsert(cfg model.GroupSummaryConfig) error

	// Delete removes the row for groupID and reports whether it existed
	Delete(groupID string) (bool, error)
}

// CSVGroupConfigStore keeps group rows in a CSV file
type CSVGroupConfigStore struct {
	path   string
	logger *zap.Logger
}

// NewCSVGroupConfigStore creates a store backed by the file at path
func NewCSVGroupConfigStore(path string, logger *zap.Logger) *CSVGroupConfigStore {
	return &CSVGroupConfigStore{
		path:   path,
		logger: logger.Named("group_config"),
	}
}

// Path returns the backing file
func (s *CSVGroupConfigStore) Path() string {
	return s.path
}

// Load implements GroupConfigStore.Load; a missing file has no rows
func (s *CSVGroupConfigStore) Load() ([]model.GroupSummaryConfig, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	if _, ok := columns["group_id"]; !ok {
		return nil, fmt.Errorf("%w: header has no group_id column", ErrInvalidRow)
	}

	var rows []model.GroupSummaryConfig
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read config row %d: %w", line, err)
		}
		field := func(name string) string {
			i, ok := columns[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}
		row, err := parseRow(field)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidRow, line, err)
		}
		if row.GroupID == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Get implements GroupConfigStore.Get
func (s *CSVGroupConfigStore) Get(groupID string) (*model.GroupSummaryConfig, error) {
	rows, err := s.Load()
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].GroupID == groupID {
			return &rows[i], nil
		}
	}
	return nil, nil
}

// Upsert implements GroupConfigStore.Upsert
func (s *CSVGroupConfigStore) Upsert(cfg model.GroupSummaryConfig) error {
	rows, err := s.Load()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigWriteFailed, err)
	}
	rows, _ = withoutGroup(rows, cfg.GroupID)
	rows = append(rows, cfg)

	if err := s.write(rows); err != nil {
		return err
	}
	s.logger.Debug("Group config saved",
		zap.String("group_id", cfg.GroupID),
		zap.Bool("enabled", cfg.Enabled),
		zap.String("horario", cfg.TimeOfDay.String()))
	return nil
}

// Delete implements GroupConfigStore.Delete
func (s *CSVGroupConfigStore) Delete(groupID string) (bool, error) {
	rows, err := s.Load()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrConfigWriteFailed, err)
	}
	rows, removed := withoutGroup(rows, groupID)
	if !removed {
		return false, nil
	}
	if err := s.write(rows); err != nil {
		return false, err
	}
	return true, nil
}

// write replaces the file through a temporary file in the same directory
func (s *CSVGroupConfigStore) write(rows []model.GroupSummaryConfig) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigWriteFailed, err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	records := make([][]string, 0, len(rows)+1)
	records = append(records, csvHeader)
	for _, row := range rows {
		records = append(records, formatRow(row))
	}
	if err := w.WriteAll(records); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w", ErrConfigWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigWriteFailed, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigWriteFailed, err)
	}
	return nil
}

func withoutGroup(rows []model.GroupSummaryConfig, groupID string) ([]model.GroupSummaryConfig, bool) {
	kept := rows[:0]
	removed := false
	for _, row := range rows {
		if row.GroupID == groupID {
			removed = true
			continue
		}
		kept = append(kept, row)
	}
	return kept, removed
}

func parseRow(field func(string) string) (model.GroupSummaryConfig, error) {
	cfg := model.DefaultGroupSummaryConfig(field("group_id"))

	var err error
	if v := field("horario"); v != "" {
		if cfg.TimeOfDay, err = model.ParseClockTime(v); err != nil {
			return cfg, err
		}
	}
	if cfg.Enabled, err = parseFlag(field("enabled")); err != nil {
		return cfg, fmt.Errorf("enabled: %w", err)
	}
	if cfg.IncludeLinks, err = parseFlag(field("is_links")); err != nil {
		return cfg, fmt.Errorf("is_links: %w", err)
	}
	if cfg.IncludeNames, err = parseFlag(field("is_names")); err != nil {
		return cfg, fmt.Errorf("is_names: %w", err)
	}
	cfg.Script = field("script")

	if cfg.StartDate, err = parseOptionalDate(field("start_date")); err != nil {
		return cfg, err
	}
	if cfg.StartTime, err = parseOptionalClock(field("start_time")); err != nil {
		return cfg, err
	}
	if cfg.EndDate, err = parseOptionalDate(field("end_date")); err != nil {
		return cfg, err
	}
	if cfg.EndTime, err = parseOptionalClock(field("end_time")); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func formatRow(cfg model.GroupSummaryConfig) []string {
	return []string{
		cfg.GroupID,
		cfg.TimeOfDay.String(),
		formatFlag(cfg.Enabled),
		formatFlag(cfg.IncludeLinks),
		formatFlag(cfg.IncludeNames),
		cfg.Script,
		formatOptionalDate(cfg.StartDate),
		formatOptionalClock(cfg.StartTime),
		formatOptionalDate(cfg.EndDate),
		formatOptionalClock(cfg.EndTime),
	}
}

// parseFlag accepts True/False as well as the other spellings strconv knows; empty is false
func parseFlag(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}

// formatFlag writes booleans the way the summary script reads them
func formatFlag(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func parseOptionalDate(s string) (*time.Time, error) {
	if s == "" || strings.EqualFold(s, "nan") {
		return nil, nil
	}
	t, err := model.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseOptionalClock(s string) (*model.ClockTime, error) {
	if s == "" || strings.EqualFold(s, "nan") {
		return nil, nil
	}
	c, err := model.ParseClockTime(s)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func formatOptionalDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(model.DateLayout)
}

func formatOptionalClock(c *model.ClockTime) string {
	if c == nil {
		return ""
	}
	return c.String()
}
