package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"crm-mail-ingest-go/internal/model"
)

// Store is the tenant-scoped persistence surface used by the ingestion pipeline.
// Lookups return (nil, nil) when nothing matches.
type Store interface {
	FindContactByEmail(ctx context.Context, tenantID, email string) (*model.Contact, error)
	FindDeletedContactByEmail(ctx context.Context, tenantID, email string) (*model.Contact, error)
	CreateContact(ctx context.Context, contact *model.Contact) error
	UpdateContact(ctx context.Context, tenantID string, id uint, patch map[string]interface{}) error

	FindMessageByMessageID(ctx context.Context, tenantID, messageID string) (*model.MessageRecord, error)
	FindInboundMessages(ctx context.Context, tenantID, fromEmail, subject string, since, until *time.Time) ([]model.MessageRecord, error)
	CreateMessage(ctx context.Context, msg *model.MessageRecord) error

	FindInteraction(ctx context.Context, tenantID string, contactID, messageRecordID uint, subject string) (*model.Interaction, error)
	CreateInteraction(ctx context.Context, interaction *model.Interaction) error

	CreateNotification(ctx context.Context, n *model.Notification) error

	LogIngest(ctx context.Context, entry *model.IngestLog) error
	ListIngestLogs(ctx context.Context, tenantID string, page, limit int) ([]model.IngestLog, int64, error)
}

// Repository implements Store on top of gorm
type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// NormalizeEmail lower-cases and trims an address so lookups are case-insensitive
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *Repository) FindContactByEmail(ctx context.Context, tenantID, email string) (*model.Contact, error) {
	var contact model.Contact
	result := r.db.WithContext(ctx).
		Where("tenant_id = ? AND email = ?", tenantID, NormalizeEmail(email)).
		Order("id ASC").
		First(&contact)
	if result.Error == nil {
		return &contact, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("database error finding contact: %w", result.Error)
}

// FindDeletedContactByEmail returns a tombstoned contact for the address, if any
func (r *Repository) FindDeletedContactByEmail(ctx context.Context, tenantID, email string) (*model.Contact, error) {
	var contact model.Contact
	result := r.db.WithContext(ctx).Unscoped().
		Where("tenant_id = ? AND email = ? AND deleted_at IS NOT NULL", tenantID, NormalizeEmail(email)).
		Order("deleted_at DESC").
		First(&contact)
	if result.Error == nil {
		return &contact, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("database error finding deleted contact: %w", result.Error)
}

func (r *Repository) CreateContact(ctx context.Context, contact *model.Contact) error {
	contact.Email = NormalizeEmail(contact.Email)
	if err := r.db.WithContext(ctx).Create(contact).Error; err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

func (r *Repository) UpdateContact(ctx context.Context, tenantID string, id uint, patch map[string]interface{}) error {
	if len(patch) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&model.Contact{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(patch)
	if result.Error != nil {
		return fmt.Errorf("failed to update contact %d: %w", id, result.Error)
	}
	return nil
}

func (r *Repository) FindMessageByMessageID(ctx context.Context, tenantID, messageID string) (*model.MessageRecord, error) {
	var msg model.MessageRecord
	result := r.db.WithContext(ctx).
		Where("tenant_id = ? AND message_id = ?", tenantID, messageID).
		First(&msg)
	if result.Error == nil {
		return &msg, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("database error finding message: %w", result.Error)
}

// FindInboundMessages lists inbound messages from a sender with a subject.
// Nil bounds leave that side of the time range open.
func (r *Repository) FindInboundMessages(ctx context.Context, tenantID, fromEmail, subject string, since, until *time.Time) ([]model.MessageRecord, error) {
	query := r.db.WithContext(ctx).
		Where("tenant_id = ? AND from_email = ? AND subject = ? AND direction = ?",
			tenantID, NormalizeEmail(fromEmail), subject, model.DirectionInbound)
	if since != nil {
		query = query.Where("received_at >= ?", *since)
	}
	if until != nil {
		query = query.Where("received_at <= ?", *until)
	}

	var messages []model.MessageRecord
	if err := query.Order("received_at DESC").Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("database error listing messages: %w", err)
	}
	return messages, nil
}

func (r *Repository) CreateMessage(ctx context.Context, msg *model.MessageRecord) error {
	msg.FromEmail = NormalizeEmail(msg.FromEmail)
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to create message record: %w", err)
	}
	return nil
}

func (r *Repository) FindInteraction(ctx context.Context, tenantID string, contactID, messageRecordID uint, subject string) (*model.Interaction, error) {
	var interaction model.Interaction
	result := r.db.WithContext(ctx).
		Where("tenant_id = ? AND contact_id = ? AND message_record_id = ? AND subject = ?",
			tenantID, contactID, messageRecordID, subject).
		First(&interaction)
	if result.Error == nil {
		return &interaction, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("database error finding interaction: %w", result.Error)
}

func (r *Repository) CreateInteraction(ctx context.Context, interaction *model.Interaction) error {
	if err := r.db.WithContext(ctx).Create(interaction).Error; err != nil {
		return fmt.Errorf("failed to create interaction: %w", err)
	}
	return nil
}

func (r *Repository) CreateNotification(ctx context.Context, n *model.Notification) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *Repository) LogIngest(ctx context.Context, entry *model.IngestLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to log ingest attempt: %w", err)
	}
	return nil
}

func (r *Repository) ListIngestLogs(ctx context.Context, tenantID string, page, limit int) ([]model.IngestLog, int64, error) {
	var total int64
	base := r.db.WithContext(ctx).Model(&model.IngestLog{}).Where("tenant_id = ?", tenantID)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count ingest logs: %w", err)
	}

	var logs []model.IngestLog
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch ingest logs: %w", err)
	}
	return logs, total, nil
}
