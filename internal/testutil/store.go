// Package testutil provides in-memory fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"crm-mail-ingest-go/internal/model"
	"crm-mail-ingest-go/internal/repository"
)

// MemoryStore is an in-memory repository.Store. Fail* hooks inject errors.
type MemoryStore struct {
	mu sync.Mutex

	Contacts      []*model.Contact
	Messages      []*model.MessageRecord
	Interactions  []*model.Interaction
	Notifications []*model.Notification
	Logs          []*model.IngestLog

	FailCreateContact     error
	FailCreateMessage     error
	FailCreateInteraction error
	FailFindMessage       error

	nextID uint
}

var _ repository.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) id() uint {
	s.nextID++
	return s.nextID
}

// DeleteContact tombstones a contact the way the CRM UI would
func (s *MemoryStore) DeleteContact(id uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.Contacts {
		if c.ID == id {
			c.DeletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
		}
	}
}

// LiveContacts returns contacts that are not tombstoned
func (s *MemoryStore) LiveContacts() []*model.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Contact
	for _, c := range s.Contacts {
		if !c.DeletedAt.Valid {
			out = append(out, c)
		}
	}
	return out
}

func (s *MemoryStore) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Messages)
}

func (s *MemoryStore) InteractionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Interactions)
}

func (s *MemoryStore) FindContactByEmail(_ context.Context, tenantID, email string) (*model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = repository.NormalizeEmail(email)
	for _, c := range s.Contacts {
		if c.TenantID == tenantID && c.Email == email && !c.DeletedAt.Valid {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) FindDeletedContactByEmail(_ context.Context, tenantID, email string) (*model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = repository.NormalizeEmail(email)
	for _, c := range s.Contacts {
		if c.TenantID == tenantID && c.Email == email && c.DeletedAt.Valid {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) CreateContact(_ context.Context, contact *model.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreateContact != nil {
		return s.FailCreateContact
	}
	contact.ID = s.id()
	contact.Email = repository.NormalizeEmail(contact.Email)
	contact.CreatedAt = time.Now()
	copied := *contact
	s.Contacts = append(s.Contacts, &copied)
	return nil
}

func (s *MemoryStore) UpdateContact(_ context.Context, tenantID string, id uint, patch map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.Contacts {
		if c.TenantID != tenantID || c.ID != id {
			continue
		}
		for k, v := range patch {
			switch k {
			case "name":
				c.Name = v.(string)
			case "first_name":
				c.FirstName = v.(string)
			case "last_name":
				c.LastName = v.(string)
			case "phone":
				c.Phone = v.(string)
			}
		}
		return nil
	}
	return errors.New("contact not found")
}

func (s *MemoryStore) FindMessageByMessageID(_ context.Context, tenantID, messageID string) (*model.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailFindMessage != nil {
		return nil, s.FailFindMessage
	}
	for _, m := range s.Messages {
		if m.TenantID == tenantID && m.MessageID != nil && *m.MessageID == messageID {
			copied := *m
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) FindInboundMessages(_ context.Context, tenantID, fromEmail, subject string, since, until *time.Time) ([]model.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailFindMessage != nil {
		return nil, s.FailFindMessage
	}
	fromEmail = repository.NormalizeEmail(fromEmail)
	var out []model.MessageRecord
	for _, m := range s.Messages {
		if m.TenantID != tenantID || m.FromEmail != fromEmail || m.Subject != subject || m.Direction != model.DirectionInbound {
			continue
		}
		if since != nil && m.ReceivedAt.Before(*since) {
			continue
		}
		if until != nil && m.ReceivedAt.After(*until) {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	return out, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg *model.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreateMessage != nil {
		return s.FailCreateMessage
	}
	msg.ID = s.id()
	msg.FromEmail = repository.NormalizeEmail(msg.FromEmail)
	msg.CreatedAt = time.Now()
	copied := *msg
	s.Messages = append(s.Messages, &copied)
	return nil
}

func (s *MemoryStore) FindInteraction(_ context.Context, tenantID string, contactID, messageRecordID uint, subject string) (*model.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, i := range s.Interactions {
		if i.TenantID == tenantID && i.ContactID == contactID && i.MessageRecordID == messageRecordID && i.Subject == subject {
			copied := *i
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) CreateInteraction(_ context.Context, interaction *model.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreateInteraction != nil {
		return s.FailCreateInteraction
	}
	interaction.ID = s.id()
	copied := *interaction
	s.Interactions = append(s.Interactions, &copied)
	return nil
}

func (s *MemoryStore) CreateNotification(_ context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = s.id()
	copied := *n
	s.Notifications = append(s.Notifications, &copied)
	return nil
}

func (s *MemoryStore) LogIngest(_ context.Context, entry *model.IngestLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = s.id()
	copied := *entry
	s.Logs = append(s.Logs, &copied)
	return nil
}

func (s *MemoryStore) ListIngestLogs(_ context.Context, tenantID string, page, limit int) ([]model.IngestLog, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []model.IngestLog
	for i := len(s.Logs) - 1; i >= 0; i-- {
		if s.Logs[i].TenantID == tenantID {
			all = append(all, *s.Logs[i])
		}
	}
	start := (page - 1) * limit
	if start >= len(all) {
		return nil, int64(len(all)), nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}
