package model

import "time"

// DirectionInbound marks messages received from the shared mailbox
const DirectionInbound = "inbound"

// MessageRecord represents one ingested mail message
type MessageRecord struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID   string    `json:"tenant_id" gorm:"type:varchar(64);not null;index:idx_messages_tenant_msgid;index:idx_messages_tenant_sender"`
	ContactID  *uint     `json:"contact_id" gorm:"index"`
	MessageID  *string   `json:"message_id" gorm:"type:varchar(512);index:idx_messages_tenant_msgid"`
	FromEmail  string    `json:"from_email" gorm:"type:varchar(255);index:idx_messages_tenant_sender"`
	FromName   string    `json:"from_name" gorm:"type:varchar(255)"`
	ToEmail    string    `json:"to_email" gorm:"type:varchar(255)"`
	ToName     string    `json:"to_name" gorm:"type:varchar(255)"`
	Cc         string    `json:"cc" gorm:"type:text"`
	Subject    string    `json:"subject" gorm:"type:varchar(512)"`
	HTMLBody   string    `json:"html_body" gorm:"type:longtext"`
	TextBody   string    `json:"text_body" gorm:"type:longtext"`
	Direction  string    `json:"direction" gorm:"type:varchar(16);not null"`
	ReceivedAt time.Time `json:"received_at" gorm:"index"`
	CreatedAt  time.Time `json:"created_at"`

	Contact *Contact `json:"contact,omitempty" gorm:"foreignKey:ContactID"`
}

// TableName specifies the table name for MessageRecord
func (MessageRecord) TableName() string {
	return "messages"
}
