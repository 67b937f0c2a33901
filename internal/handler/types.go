package handler

import (
	"time"

	"crm-mail-ingest-go/internal/service/ingest"
)

// CycleResponse wraps a poll or replay outcome
type CycleResponse struct {
	TenantID string        `json:"tenant_id"`
	Mode     string        `json:"mode"`
	Since    *time.Time    `json:"since,omitempty"`
	Result   ingest.Result `json:"result"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Scheduler map[string]string `json:"scheduler"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
