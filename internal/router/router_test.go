package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*gin.Engine, *test.Hook) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	r := gin.New()
	r.Use(RequestLogger(logger))
	r.Use(gin.CustomRecovery(recoverWith(logger)))
	r.POST("/api/v1/tenants/:tenant/poll", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/tenants/:tenant/logs", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { panic("boom") })
	return r, hook
}

func serve(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestRequestLoggerFields(t *testing.T) {
	r, hook := newTestEngine(t)

	w := serve(r, http.MethodPost, "/api/v1/tenants/acme/poll")
	require.Equal(t, http.StatusOK, w.Code)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "POST", entry.Data["method"])
	assert.Equal(t, "/api/v1/tenants/:tenant/poll", entry.Data["path"])
	assert.Equal(t, http.StatusOK, entry.Data["status"])
	assert.Equal(t, "acme", entry.Data["tenant"])
	assert.Contains(t, entry.Data, "latency")
	assert.Contains(t, entry.Data, "client_ip")
}

func TestRequestLoggerLevels(t *testing.T) {
	r, hook := newTestEngine(t)

	serve(r, http.MethodGet, "/api/v1/tenants/acme/logs")
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	serve(r, http.MethodGet, "/healthz")
	assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
	assert.NotContains(t, hook.LastEntry().Data, "tenant")

	serve(r, http.MethodGet, "/nowhere")
	assert.Equal(t, "/nowhere", hook.LastEntry().Data["path"])
	assert.Equal(t, http.StatusNotFound, hook.LastEntry().Data["status"])
}

func TestRecoveryLogsAndReturns500(t *testing.T) {
	r, hook := newTestEngine(t)

	w := serve(r, http.MethodGet, "/boom")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var recovered, logged bool
	for _, e := range hook.AllEntries() {
		if e.Message == "Recovered from panic: boom" {
			recovered = true
		}
		if e.Data["status"] == http.StatusInternalServerError {
			logged = true
		}
	}
	assert.True(t, recovered)
	assert.True(t, logged)
}
