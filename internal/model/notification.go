package model

import "time"

// Notification is a user-facing notice created for new inquiries
type Notification struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID    string    `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	Type        string    `json:"type" gorm:"type:varchar(50);not null"`
	Title       string    `json:"title" gorm:"type:varchar(255)"`
	Message     string    `json:"message" gorm:"type:text"`
	RelatedID   uint      `json:"related_id"`
	RelatedType string    `json:"related_type" gorm:"type:varchar(50)"`
	Read        bool      `json:"read" gorm:"default:false"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for Notification
func (Notification) TableName() string {
	return "notifications"
}
