package model

import (
	"time"

	"gorm.io/gorm"
)

const (
	// ContactSourceContactForm tags contacts created from a web lead form
	ContactSourceContactForm = "contact_form"

	// ContactStatusNeedsFollowUp is the initial status of a form-created contact
	ContactStatusNeedsFollowUp = "needs_follow_up"
)

// Contact represents a tenant-scoped CRM contact
type Contact struct {
	ID        uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID  string         `json:"tenant_id" gorm:"type:varchar(64);not null;index:idx_contacts_tenant_email"`
	Name      string         `json:"name" gorm:"type:varchar(255)"`
	FirstName string         `json:"first_name" gorm:"type:varchar(255)"`
	LastName  string         `json:"last_name" gorm:"type:varchar(255)"`
	Email     string         `json:"email" gorm:"type:varchar(255);index:idx_contacts_tenant_email"`
	Phone     string         `json:"phone" gorm:"type:varchar(64)"`
	Source    string         `json:"source" gorm:"type:varchar(50)"`
	Status    string         `json:"status" gorm:"type:varchar(50)"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for Contact
func (Contact) TableName() string {
	return "contacts"
}
