package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/groupsummary/internal/evolution"
	"github.com/t77yq/groupsummary/internal/model"
	"github.com/t77yq/groupsummary/internal/service"
	"github.com/t77yq/groupsummary/internal/storage"
)

type fakeGroups struct {
	views   []model.GroupView
	err     error
	refresh bool
}

func (f *fakeGroups) Fetch(_ context.Context, forceRefresh bool) ([]model.GroupView, error) {
	f.refresh = forceRefresh
	return f.views, f.err
}

type fakeSchedules struct {
	rows    map[string]model.GroupSummaryConfig
	saveErr error
	listing string
	drifts  []service.Drift
	applied bool
}

func newFakeSchedules() *fakeSchedules {
	return &fakeSchedules{rows: make(map[string]model.GroupSummaryConfig)}
}

func (f *fakeSchedules) Save(_ context.Context, cfg model.GroupSummaryConfig) error {
	f.rows[cfg.GroupID] = cfg
	return f.saveErr
}

func (f *fakeSchedules) Remove(_ context.Context, groupID string) error {
	if _, ok := f.rows[groupID]; !ok {
		return fmt.Errorf("%w: %s", service.ErrGroupNotFound, groupID)
	}
	delete(f.rows, groupID)
	return nil
}

func (f *fakeSchedules) Get(groupID string) (*model.GroupSummaryConfig, error) {
	row, ok := f.rows[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", service.ErrGroupNotFound, groupID)
	}
	return &row, nil
}

func (f *fakeSchedules) Scheduled() ([]model.GroupSummaryConfig, error) {
	var out []model.GroupSummaryConfig
	for _, row := range f.rows {
		if row.Enabled {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeSchedules) List(context.Context) (string, error) {
	return f.listing, nil
}

func (f *fakeSchedules) Reconcile(_ context.Context, apply bool) ([]service.Drift, error) {
	f.applied = apply
	return f.drifts, nil
}

type fakeHistory struct {
	records []*storage.RegistrationRecord
	filter  storage.HistoryFilter
}

func (h *fakeHistory) Record(context.Context, *storage.RegistrationRecord) error { return nil }

func (h *fakeHistory) List(_ context.Context, filter storage.HistoryFilter, _, _ int) ([]*storage.RegistrationRecord, error) {
	h.filter = filter
	return h.records, nil
}

func (h *fakeHistory) Count(context.Context, storage.HistoryFilter) (int, error) {
	return len(h.records), nil
}

func (h *fakeHistory) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (h *fakeHistory) Close() error { return nil }

func newTestServer(t *testing.T, groups *fakeGroups, schedules *fakeSchedules, history storage.RegistrationHistory) *httptest.Server {
	t.Helper()
	api := NewAPI(groups, schedules, history, "cron", zaptest.NewLogger(t))
	srv := httptest.NewServer(api.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestAPIGroups(t *testing.T) {
	groups := &fakeGroups{views: []model.GroupView{{
		Group:  model.Group{ID: "123@g.us", Subject: "Go Devs"},
		Config: model.DefaultGroupSummaryConfig("123@g.us"),
	}}}
	srv := newTestServer(t, groups, newFakeSchedules(), nil)

	t.Run("Health", func(t *testing.T) {
		resp, body := do(t, http.MethodGet, srv.URL+"/health", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"status":"ok","platform":"cron"}`, string(body))
	})

	t.Run("List", func(t *testing.T) {
		resp, body := do(t, http.MethodGet, srv.URL+"/groups?refresh=1", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, groups.refresh)

		var got []map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &got))
		require.Len(t, got, 1)
		assert.Equal(t, "Go Devs", got[0]["subject"])
		assert.Equal(t, "22:00", got[0]["config"].(map[string]interface{})["horario"])
	})

	t.Run("Rate limited", func(t *testing.T) {
		groups.err = &evolution.APIError{StatusCode: http.StatusTooManyRequests}
		defer func() { groups.err = nil }()

		resp, _ := do(t, http.MethodGet, srv.URL+"/groups", "")
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.False(t, groups.refresh)
	})
}

func TestAPISchedules(t *testing.T) {
	schedules := newFakeSchedules()
	srv := newTestServer(t, &fakeGroups{}, schedules, nil)

	t.Run("Save daily", func(t *testing.T) {
		resp, body := do(t, http.MethodPut, srv.URL+"/schedules/123@g.us",
			`{"horario":"21:30","enabled":true,"is_links":true}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		row := schedules.rows["123@g.us"]
		assert.Equal(t, "21:30", row.TimeOfDay.String())
		assert.True(t, row.Enabled)
		assert.True(t, row.IncludeLinks)
		assert.Nil(t, row.StartDate)

		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "21:30", got["horario"])
	})

	t.Run("Save keeps the script", func(t *testing.T) {
		schedules.rows["456@g.us"] = model.GroupSummaryConfig{GroupID: "456@g.us", Script: "/usr/local/bin/groupsummary"}
		resp, _ := do(t, http.MethodPut, srv.URL+"/schedules/456@g.us", `{"enabled":true}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "/usr/local/bin/groupsummary", schedules.rows["456@g.us"].Script)
		assert.Equal(t, model.DefaultTimeOfDay, schedules.rows["456@g.us"].TimeOfDay)
	})

	t.Run("Save one-time", func(t *testing.T) {
		resp, _ := do(t, http.MethodPut, srv.URL+"/schedules/789@g.us",
			`{"enabled":true,"start_date":"2026-03-13","start_time":"09:30","end_date":"2026-03-13","end_time":"18:00"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		row := schedules.rows["789@g.us"]
		require.NotNil(t, row.StartDate)
		assert.Equal(t, "2026-03-13", row.StartDate.Format(model.DateLayout))
		assert.Equal(t, model.RecurrenceOnce, row.Recurrence())
	})

	t.Run("Validation", func(t *testing.T) {
		resp, body := do(t, http.MethodPut, srv.URL+"/schedules/1@g.us",
			`{"horario":"25:00","start_time":"09:30","end_date":"2026-13-01"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var got struct {
			Error  string            `json:"error"`
			Fields map[string]string `json:"fields"`
		}
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "validation failed", got.Error)
		assert.Contains(t, got.Fields, "horario")
		assert.Contains(t, got.Fields, "start_date")
		assert.Contains(t, got.Fields, "end_date")

		resp, _ = do(t, http.MethodPut, srv.URL+"/schedules/1@g.us", `{`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Window ending after the run is rejected", func(t *testing.T) {
		resp, body := do(t, http.MethodPut, srv.URL+"/schedules/3@g.us",
			`{"horario":"09:00","enabled":true,"start_date":"2026-03-13","end_date":"2026-03-13","end_time":"18:00"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, string(body), "end_time")
		assert.NotContains(t, schedules.rows, "3@g.us")
	})

	t.Run("Divergence is reported", func(t *testing.T) {
		schedules.saveErr = fmt.Errorf("%w: registration failed", service.ErrScheduleDiverged)
		defer func() { schedules.saveErr = nil }()

		resp, body := do(t, http.MethodPut, srv.URL+"/schedules/2@g.us", `{"enabled":true}`)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.Contains(t, string(body), "registration failed")
	})

	t.Run("List enabled", func(t *testing.T) {
		resp, body := do(t, http.MethodGet, srv.URL+"/schedules", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var got []model.GroupSummaryConfig
		require.NoError(t, json.Unmarshal(body, &got))
		assert.NotEmpty(t, got)
		for _, row := range got {
			assert.True(t, row.Enabled)
		}
	})

	t.Run("Get and delete", func(t *testing.T) {
		resp, _ := do(t, http.MethodGet, srv.URL+"/schedules/123@g.us", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp, _ = do(t, http.MethodDelete, srv.URL+"/schedules/123@g.us", "")
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp, _ = do(t, http.MethodDelete, srv.URL+"/schedules/123@g.us", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp, _ = do(t, http.MethodGet, srv.URL+"/schedules/123@g.us", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestAPITasksAndReconcile(t *testing.T) {
	schedules := newFakeSchedules()
	schedules.listing = "0 22 * * * /usr/local/bin/groupsummary run --task_name=ResumoGrupo_123@g.us\n"
	schedules.drifts = []service.Drift{{GroupID: "123@g.us", JobName: "ResumoGrupo_123@g.us", Enabled: true, Repaired: true}}
	history := &fakeHistory{records: []*storage.RegistrationRecord{{
		ID: "r1", JobName: "ResumoGrupo_123@g.us", GroupID: "123@g.us",
		Action: storage.ActionCreate, Outcome: storage.OutcomeSucceeded,
	}}}
	srv := newTestServer(t, &fakeGroups{}, schedules, history)

	t.Run("Tasks listing is returned verbatim", func(t *testing.T) {
		resp, body := do(t, http.MethodGet, srv.URL+"/tasks", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
		assert.Equal(t, schedules.listing, string(body))
	})

	t.Run("Reconcile", func(t *testing.T) {
		resp, body := do(t, http.MethodPost, srv.URL+"/reconcile?apply=1", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, schedules.applied)

		var got struct {
			Applied bool            `json:"applied"`
			Drifts  []service.Drift `json:"drifts"`
		}
		require.NoError(t, json.Unmarshal(body, &got))
		assert.True(t, got.Applied)
		require.Len(t, got.Drifts, 1)
		assert.True(t, got.Drifts[0].Repaired)
	})

	t.Run("History", func(t *testing.T) {
		resp, body := do(t, http.MethodGet, srv.URL+"/history?group_id=123@g.us&action=create&limit=5", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "123@g.us", history.filter.GroupID)
		assert.Equal(t, storage.ActionCreate, history.filter.Action)

		var got struct {
			Items []storage.RegistrationRecord `json:"items"`
			Total int                          `json:"total"`
			Limit int                          `json:"limit"`
		}
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, 1, got.Total)
		assert.Equal(t, 5, got.Limit)
		require.Len(t, got.Items, 1)
		assert.Equal(t, "r1", got.Items[0].ID)
	})

	t.Run("History disabled", func(t *testing.T) {
		srv := newTestServer(t, &fakeGroups{}, schedules, nil)
		resp, _ := do(t, http.MethodGet, srv.URL+"/history", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
