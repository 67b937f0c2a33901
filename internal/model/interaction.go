package model

import "time"

const (
	// InteractionKindEmail is the timeline kind for mail messages
	InteractionKindEmail = "email"

	// InitialRequestSubject is the timeline subject for form-originated contacts
	InitialRequestSubject = "Initial request"
)

// Interaction is a timeline event linking a contact to a message record
type Interaction struct {
	ID              uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID        string    `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	ContactID       uint      `json:"contact_id" gorm:"not null;index:idx_interactions_contact_message"`
	MessageRecordID uint      `json:"message_record_id" gorm:"not null;index:idx_interactions_contact_message"`
	Kind            string    `json:"kind" gorm:"type:varchar(32);not null"`
	Direction       string    `json:"direction" gorm:"type:varchar(16)"`
	Subject         string    `json:"subject" gorm:"type:varchar(512)"`
	Notes           string    `json:"notes" gorm:"type:text"`
	OccurredAt      time.Time `json:"occurred_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// TableName specifies the table name for Interaction
func (Interaction) TableName() string {
	return "interactions"
}
