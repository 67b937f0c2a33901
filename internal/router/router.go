package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"crm-mail-ingest-go/internal/handler"
)

// quietPaths are scraped constantly and only logged at debug level
var quietPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// SetupRouter configures the Gin router with routes and middleware
func SetupRouter(h *handler.Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(RequestLogger(logrus.StandardLogger()))
	r.Use(gin.CustomRecovery(recoverWith(logrus.StandardLogger())))
	h.SetupRoutes(r)
	return r
}

// RequestLogger writes one structured entry per request. Routes under
// /tenants/:tenant carry the tenant as its own field.
func RequestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		fields := logrus.Fields{
			"method":    c.Request.Method,
			"path":      path,
			"status":    status,
			"latency":   time.Since(start).String(),
			"client_ip": c.ClientIP(),
		}
		if tenant := c.Param("tenant"); tenant != "" {
			fields["tenant"] = tenant
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		entry := log.WithFields(fields)
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("Request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("Request rejected")
		case quietPaths[path]:
			entry.Debug("Request served")
		default:
			entry.Info("Request served")
		}
	}
}

func recoverWith(log logrus.FieldLogger) gin.RecoveryFunc {
	return func(c *gin.Context, err interface{}) {
		log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).Errorf("Recovered from panic: %v", err)
		c.AbortWithStatus(http.StatusInternalServerError)
	}
}
