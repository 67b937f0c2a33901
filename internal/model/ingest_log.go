package model

import "time"

// Ingest outcomes recorded per mailbox message
const (
	IngestStatusProcessed = "processed"
	IngestStatusDuplicate = "duplicate"
	IngestStatusError     = "error"
)

// IngestLog represents a log entry for one attempt at ingesting a message
type IngestLog struct {
	ID              uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID        string    `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	UID             uint32    `json:"uid"`
	MessageID       string    `json:"message_id" gorm:"type:varchar(512);index"`
	MessageRecordID *uint     `json:"message_record_id"`
	Status          string    `json:"status" gorm:"type:varchar(50);not null"`
	ErrorMsg        string    `json:"error_msg" gorm:"type:text"`
	CreatedAt       time.Time `json:"created_at"`
}

// TableName specifies the table name for IngestLog
func (IngestLog) TableName() string {
	return "ingest_logs"
}
