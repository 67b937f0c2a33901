package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-mail-ingest-go/internal/config"
	metricsPkg "crm-mail-ingest-go/internal/metrics"
	"crm-mail-ingest-go/internal/model"
	"crm-mail-ingest-go/internal/service/dedup"
	"crm-mail-ingest-go/internal/service/ingest"
	"crm-mail-ingest-go/internal/service/mailbox"
	"crm-mail-ingest-go/internal/service/resolver"
	"crm-mail-ingest-go/internal/service/scheduler"
	"crm-mail-ingest-go/internal/testutil"
)

const tenant = "acme"

type env struct {
	router *gin.Engine
	box    *testutil.FakeMailbox
	store  *testutil.MemoryStore
	sched  *scheduler.Scheduler
}

func newEnv(t *testing.T, checks map[string]HealthCheck) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	m := metricsPkg.NewMetrics(reg)
	store := testutil.NewMemoryStore()
	box := testutil.NewFakeMailbox()
	poller := ingest.New(
		ingest.Config{FormSubject: "New inquiry from website"},
		map[string]mailbox.Config{tenant: {Host: "imap.example.com", Port: 993}},
		box, store,
		dedup.New(store, dedup.DefaultConfig(), nil, m),
		resolver.New(store, nil, m),
		m,
	)
	sched := scheduler.New(&config.SchedulerConfig{IntervalMinutes: 60}, poller)
	t.Cleanup(func() { sched.Stop() })

	h := NewHandlers(store, poller, sched, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), 7*24*time.Hour, checks)
	r := gin.New()
	h.SetupRoutes(r)
	return &env{router: r, box: box, store: store, sched: sched}
}

func (e *env) do(method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	e.router.ServeHTTP(w, req)
	return w
}

func raw(id, subject string) string {
	return "From: Client <client@example.com>\r\n" +
		"To: sales@acme.example\r\n" +
		"Subject: " + subject + "\r\n" +
		"Message-ID: <" + id + ">\r\n" +
		"Date: " + time.Now().Format(time.RFC1123Z) + "\r\n" +
		"Content-Type: text/plain\r\n\r\nHello"
}

func TestPollEndpoint(t *testing.T) {
	e := newEnv(t, nil)
	uid := e.box.Deliver(raw("p1@x", "Pricing"), time.Now())

	w := e.do(http.MethodPost, "/api/v1/tenants/acme/poll")
	require.Equal(t, http.StatusOK, w.Code)

	var resp CycleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, tenant, resp.TenantID)
	assert.Equal(t, "live", resp.Mode)
	assert.Equal(t, 1, resp.Result.Processed)
	assert.Empty(t, resp.Result.Errors)
	assert.True(t, e.box.IsSeen(uid))
}

func TestPollEndpointReportsCycleErrors(t *testing.T) {
	e := newEnv(t, nil)
	e.box.FailOpen = errors.New("connection refused")

	w := e.do(http.MethodPost, "/api/v1/tenants/acme/poll")
	require.Equal(t, http.StatusOK, w.Code)

	var resp CycleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Result.Processed)
	require.Len(t, resp.Result.Errors, 1)
	assert.Contains(t, resp.Result.Errors[0], "connection refused")
}

func TestUnknownTenant(t *testing.T) {
	e := newEnv(t, nil)
	w := e.do(http.MethodPost, "/api/v1/tenants/nobody/poll")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 0, e.box.Opens)
}

func TestReplayEndpoint(t *testing.T) {
	e := newEnv(t, nil)
	uid := e.box.Deliver(raw("r1@x", "Old"), time.Now().Add(-48*time.Hour))
	e.box.SetSeen(uid, true)

	w := e.do(http.MethodPost, "/api/v1/tenants/acme/replay?since=24h")
	require.Equal(t, http.StatusOK, w.Code)
	var resp CycleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "historical", resp.Mode)
	assert.Equal(t, 0, resp.Result.Processed)

	w = e.do(http.MethodPost, "/api/v1/tenants/acme/replay?since=72h")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Result.Processed)

	w = e.do(http.MethodPost, "/api/v1/tenants/acme/replay?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("", time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour), got)

	got, err = parseSince("2024-03-01T00:00:00Z", time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got)

	_, err = parseSince("-5m", time.Hour, now)
	assert.Error(t, err)
	_, err = parseSince("2030-01-01T00:00:00Z", time.Hour, now)
	assert.Error(t, err)
}

func TestGetLogs(t *testing.T) {
	e := newEnv(t, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, e.store.LogIngest(context.Background(), &model.IngestLog{TenantID: tenant, UID: uint32(i + 1), Status: model.IngestStatusProcessed}))
	}
	require.NoError(t, e.store.LogIngest(context.Background(), &model.IngestLog{TenantID: "other", Status: model.IngestStatusProcessed}))

	w := e.do(http.MethodGet, "/api/v1/tenants/acme/logs?page=1&limit=2")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Logs       []model.IngestLog `json:"logs"`
		Pagination struct {
			Page  int   `json:"page"`
			Limit int   `json:"limit"`
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Logs, 2)
	assert.Equal(t, int64(3), body.Pagination.Total)
	assert.Equal(t, uint32(3), body.Logs[0].UID)
}

func TestSchedulerEndpoints(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(http.MethodPost, "/api/v1/scheduler/start")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, e.sched.IsRunning())

	w = e.do(http.MethodPost, "/api/v1/scheduler/start")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(http.MethodGet, "/api/v1/scheduler/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"running"`)
	assert.Contains(t, w.Body.String(), `"tenant_id":"acme"`)

	w = e.do(http.MethodPost, "/api/v1/scheduler/stop")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, e.sched.IsRunning())
}

func TestHealthCheck(t *testing.T) {
	e := newEnv(t, map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
	})
	w := e.do(http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"ok"`)

	e = newEnv(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("dial tcp: refused") },
	})
	w = e.do(http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"error"`)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t, nil)
	e.do(http.MethodPost, "/api/v1/tenants/acme/poll")

	w := e.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "crm_mail_ingest_poll_cycles_total"))
}
