package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/t77yq/groupsummary/internal/model"
	"github.com/t77yq/groupsummary/internal/service"
	"github.com/t77yq/groupsummary/internal/storage"
)

// GroupSource lists groups merged with their configuration
type GroupSource interface {
	Fetch(ctx context.Context, forceRefresh bool) ([]model.GroupView, error)
}

// ScheduleManager is the part of the schedule service the API drives
type ScheduleManager interface {
	Save(ctx context.Context, cfg model.GroupSummaryConfig) error
	Remove(ctx context.Context, groupID string) error
	Get(groupID string) (*model.GroupSummaryConfig, error)
	Scheduled() ([]model.GroupSummaryConfig, error)
	List(ctx context.Context) (string, error)
	Reconcile(ctx context.Context, apply bool) ([]service.Drift, error)
}

// API serves the JSON endpoints used by the configuration form
type API struct {
	groups    GroupSource
	schedules ScheduleManager
	history   storage.RegistrationHistory
	platform  string
	logger    *zap.Logger
}

// NewAPI creates the API; history may be nil
func NewAPI(groups GroupSource, schedules ScheduleManager, history storage.RegistrationHistory, platform string, logger *zap.Logger) *API {
	return &API{
		groups:    groups,
		schedules: schedules,
		history:   history,
		platform:  platform,
		logger:    logger.Named("api"),
	}
}

// Routes returns the router for all endpoints
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(a.requestLog)
	r.Use(chimw.Recoverer)

	r.Get("/health", a.health)
	r.Get("/groups", a.listGroups)
	r.Route("/schedules", func(r chi.Router) {
		r.Get("/", a.listSchedules)
		r.Get("/{groupID}", a.getSchedule)
		r.Put("/{groupID}", a.saveSchedule)
		r.Delete("/{groupID}", a.deleteSchedule)
	})
	r.Get("/tasks", a.listTasks)
	r.Get("/history", a.listHistory)
	r.Post("/reconcile", a.reconcile)
	return r
}

func (a *API) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.Info("request",
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.Int("size", ww.BytesWritten()))
	})
}

func (a *API) fail(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("Request failed", zap.Error(err))
	}
	JSONError(w, msg, status)
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"platform": a.platform,
	})
}

func (a *API) listGroups(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	groups, err := a.groups.Fetch(r.Context(), refresh)
	if err != nil {
		a.fail(w, err)
		return
	}
	if groups == nil {
		groups = []model.GroupView{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (a *API) listSchedules(w http.ResponseWriter, r *http.Request) {
	rows, err := a.schedules.Scheduled()
	if err != nil {
		a.fail(w, err)
		return
	}
	if rows == nil {
		rows = []model.GroupSummaryConfig{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *API) getSchedule(w http.ResponseWriter, r *http.Request) {
	row, err := a.schedules.Get(chi.URLParam(r, "groupID"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// scheduleInput is the form payload; times are "HH:MM", dates "YYYY-MM-DD"
type scheduleInput struct {
	TimeOfDay    string `json:"horario"`
	Enabled      bool   `json:"enabled"`
	IncludeLinks bool   `json:"is_links"`
	IncludeNames bool   `json:"is_names"`
	StartDate    string `json:"start_date"`
	StartTime    string `json:"start_time"`
	EndDate      string `json:"end_date"`
	EndTime      string `json:"end_time"`
}

func (in scheduleInput) toConfig(groupID string) (model.GroupSummaryConfig, map[string]string) {
	fields := make(map[string]string)
	cfg := model.GroupSummaryConfig{
		GroupID:      groupID,
		TimeOfDay:    model.DefaultTimeOfDay,
		Enabled:      in.Enabled,
		IncludeLinks: in.IncludeLinks,
		IncludeNames: in.IncludeNames,
	}

	if in.TimeOfDay != "" {
		t, err := model.ParseClockTime(in.TimeOfDay)
		if err != nil {
			fields["horario"] = "must be HH:MM"
		} else {
			cfg.TimeOfDay = t
		}
	}

	date := func(name, value string) *time.Time {
		if value == "" {
			return nil
		}
		d, err := model.ParseDate(value)
		if err != nil {
			fields[name] = "must be YYYY-MM-DD"
			return nil
		}
		return &d
	}
	clock := func(name, value string) *model.ClockTime {
		if value == "" {
			return nil
		}
		c, err := model.ParseClockTime(value)
		if err != nil {
			fields[name] = "must be HH:MM"
			return nil
		}
		return &c
	}
	cfg.StartDate = date("start_date", in.StartDate)
	cfg.StartTime = clock("start_time", in.StartTime)
	cfg.EndDate = date("end_date", in.EndDate)
	cfg.EndTime = clock("end_time", in.EndTime)

	if cfg.StartDate == nil && (cfg.StartTime != nil || cfg.EndDate != nil || cfg.EndTime != nil) {
		if _, ok := fields["start_date"]; !ok {
			fields["start_date"] = "required for a one-time summary"
		}
	}
	if cfg.StartDate != nil && cfg.EndDate != nil && cfg.EndDate.Before(*cfg.StartDate) {
		fields["end_date"] = "must not be before start_date"
	}
	if len(fields) == 0 {
		if err := cfg.ValidateWindow(); err != nil {
			fields["end_time"] = err.Error()
		}
	}
	return cfg, fields
}

func (a *API) saveSchedule(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	var input scheduleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		JSONError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	cfg, fields := input.toConfig(groupID)
	if len(fields) > 0 {
		JSONValidationError(w, "validation failed", fields, http.StatusBadRequest)
		return
	}

	if existing, err := a.schedules.Get(groupID); err == nil {
		cfg.Script = existing.Script
	}

	if err := a.schedules.Save(r.Context(), cfg); err != nil {
		a.fail(w, err)
		return
	}

	row, err := a.schedules.Get(groupID)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (a *API) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := a.schedules.Remove(r.Context(), chi.URLParam(r, "groupID")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listTasks(w http.ResponseWriter, r *http.Request) {
	out, err := a.schedules.List(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(out))
}

func (a *API) listHistory(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		JSONError(w, "history is not enabled", http.StatusNotFound)
		return
	}

	limit := 50
	offset := 0
	q := r.URL.Query()
	if l := q.Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = val
		}
	}
	if o := q.Get("offset"); o != "" {
		if val, err := strconv.Atoi(o); err == nil && val >= 0 {
			offset = val
		}
	}
	filter := storage.HistoryFilter{
		JobName: q.Get("job_name"),
		GroupID: q.Get("group_id"),
		Action:  storage.RegistrationAction(q.Get("action")),
	}

	records, err := a.history.List(r.Context(), filter, offset, limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	total, err := a.history.Count(r.Context(), filter)
	if err != nil {
		a.fail(w, err)
		return
	}
	if records == nil {
		records = []*storage.RegistrationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":  records,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) reconcile(w http.ResponseWriter, r *http.Request) {
	apply, _ := strconv.ParseBool(r.URL.Query().Get("apply"))
	drifts, err := a.schedules.Reconcile(r.Context(), apply)
	if err != nil {
		a.fail(w, err)
		return
	}
	if drifts == nil {
		drifts = []service.Drift{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"applied": apply,
		"drifts":  drifts,
	})
}
