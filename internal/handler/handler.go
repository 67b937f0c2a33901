package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"crm-mail-ingest-go/internal/repository"
	"crm-mail-ingest-go/internal/service/ingest"
	schedulerSvc "crm-mail-ingest-go/internal/service/scheduler"
)

// Scheduler is the scheduler surface exposed over HTTP
type Scheduler interface {
	Start() error
	Stop() error
	IsRunning() bool
	GetNextRun() time.Time
	GetLastRun() time.Time
	Status() []schedulerSvc.TenantStatus
	RunOnce(ctx context.Context, tenantID string) ingest.Result
}

// Pipeline runs replays and knows which tenants have a mailbox
type Pipeline interface {
	Replay(ctx context.Context, tenantID string, since time.Time) ingest.Result
	HasTenant(tenantID string) bool
}

// HealthCheck pings one dependency
type HealthCheck func(ctx context.Context) error

// Handlers contains all HTTP handlers
type Handlers struct {
	store         repository.Store
	pipeline      Pipeline
	scheduler     Scheduler
	metrics       http.Handler
	checks        map[string]HealthCheck
	defaultReplay time.Duration
}

// NewHandlers creates new HTTP handlers. checks are reported by name on /healthz.
func NewHandlers(store repository.Store, pipeline Pipeline, scheduler Scheduler, metrics http.Handler,
	defaultReplay time.Duration, checks map[string]HealthCheck) *Handlers {
	return &Handlers{
		store:         store,
		pipeline:      pipeline,
		scheduler:     scheduler,
		metrics:       metrics,
		checks:        checks,
		defaultReplay: defaultReplay,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := router.Group("/api/v1")
	{
		tenants := api.Group("/tenants/:tenant", h.requireTenant)
		tenants.POST("/poll", h.Poll)
		tenants.POST("/replay", h.Replay)
		tenants.GET("/logs", h.GetLogs)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

func (h *Handlers) requireTenant(c *gin.Context) {
	if !h.pipeline.HasTenant(c.Param("tenant")) {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{
			Error:   "unknown_tenant",
			Message: "No mailbox configured for tenant",
			Code:    http.StatusNotFound,
		})
		return
	}
	c.Next()
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
		Scheduler: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			response.Status = "error"
			response.Checks[name] = "error"
			logrus.Errorf("%s health check failed: %v", name, err)
			continue
		}
		response.Checks[name] = "ok"
	}

	if h.scheduler.IsRunning() {
		response.Scheduler["state"] = "running"
		response.Scheduler["next_run"] = h.scheduler.GetNextRun().Format(time.RFC3339)
	} else {
		response.Scheduler["state"] = "stopped"
	}
	if last := h.scheduler.GetLastRun(); !last.IsZero() {
		response.Scheduler["last_run"] = last.Format(time.RFC3339)
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}
