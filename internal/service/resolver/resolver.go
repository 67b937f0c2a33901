// Package resolver turns a non-duplicate inbound message into CRM records:
// the contact, the message record and its timeline interaction.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	metricsPkg "crm-mail-ingest-go/internal/metrics"
	"crm-mail-ingest-go/internal/model"
	"crm-mail-ingest-go/internal/repository"
	"crm-mail-ingest-go/internal/service/leadform"
	"crm-mail-ingest-go/internal/service/mailparser"
	"crm-mail-ingest-go/internal/service/notify"
)

const (
	NotificationNewInquiry   = "new_inquiry"
	NotificationInboundEmail = "inbound_email"
)

// Notifier accepts fire-and-forget notifications
type Notifier interface {
	Dispatch(ev notify.Event)
}

// Result describes what Resolve wrote
type Result struct {
	ContactID       *uint `json:"contact_id"`
	MessageRecordID uint  `json:"message_record_id"`
	Created         bool  `json:"created"`
}

// Resolver performs entity resolution and upsert for one tenant at a time
type Resolver struct {
	store    repository.Store
	notifier Notifier
	metrics  *metricsPkg.Metrics
}

func New(store repository.Store, notifier Notifier, metrics *metricsPkg.Metrics) *Resolver {
	return &Resolver{
		store:    store,
		notifier: notifier,
		metrics:  metrics,
	}
}

// Resolve links parsed to a contact and persists it. form is nil on the
// generic path, where contacts are looked up but never created. Contact
// and message errors abort; the interaction and notification are best effort.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, parsed *mailparser.ParsedMessage, form *leadform.FormData) (*Result, error) {
	log := logrus.WithFields(logrus.Fields{
		"tenant":     tenantID,
		"message_id": parsed.MessageIDString(),
	})

	var (
		contact *model.Contact
		created bool
		err     error
	)
	if form != nil {
		contact, created, err = r.upsertFormContact(ctx, tenantID, form, log)
	} else {
		contact, err = r.lookupSender(ctx, tenantID, parsed.FromEmail)
	}
	if err != nil {
		return nil, err
	}

	record := newMessageRecord(tenantID, parsed, form)
	if contact != nil {
		id := contact.ID
		record.ContactID = &id
	}
	if err := r.store.CreateMessage(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	result := &Result{
		ContactID:       record.ContactID,
		MessageRecordID: record.ID,
		Created:         created,
	}

	if contact != nil {
		r.ensureInteraction(ctx, tenantID, contact.ID, record, parsed, form, log)
	}
	r.notify(tenantID, contact, record, form)

	log.WithFields(logrus.Fields{
		"linked":            contact != nil,
		"message_record_id": record.ID,
		"contact_created":   created,
	}).Info("Message ingested")
	return result, nil
}

func (r *Resolver) lookupSender(ctx context.Context, tenantID, email string) (*model.Contact, error) {
	if repository.NormalizeEmail(email) == "" {
		return nil, nil
	}
	contact, err := r.store.FindContactByEmail(ctx, tenantID, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up sender contact: %w", err)
	}
	return contact, nil
}

// upsertFormContact reuses and patches a live contact, or creates one
// unless the address belongs to a deleted contact
func (r *Resolver) upsertFormContact(ctx context.Context, tenantID string, form *leadform.FormData, log *logrus.Entry) (*model.Contact, bool, error) {
	contact, err := r.store.FindContactByEmail(ctx, tenantID, form.Email)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up form contact: %w", err)
	}

	if contact != nil {
		patch := contactPatch(contact, form)
		if len(patch) > 0 {
			if err := r.store.UpdateContact(ctx, tenantID, contact.ID, patch); err != nil {
				return nil, false, fmt.Errorf("failed to update contact %d: %w", contact.ID, err)
			}
			log.WithField("contact_id", contact.ID).Debugf("Patched contact fields %v", patchKeys(patch))
		}
		return contact, false, nil
	}

	deleted, err := r.store.FindDeletedContactByEmail(ctx, tenantID, form.Email)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up deleted contact: %w", err)
	}
	if deleted != nil {
		log.WithField("contact_id", deleted.ID).Info("Contact was deleted, storing message without a contact")
		return nil, false, nil
	}

	contact = &model.Contact{
		TenantID:  tenantID,
		Name:      form.Name,
		FirstName: form.FirstName,
		LastName:  form.SecondName,
		Email:     repository.NormalizeEmail(form.Email),
		Phone:     form.Phone,
		Source:    model.ContactSourceContactForm,
		Status:    model.ContactStatusNeedsFollowUp,
	}
	if err := r.store.CreateContact(ctx, contact); err != nil {
		return nil, false, fmt.Errorf("failed to create contact: %w", err)
	}
	if r.metrics != nil {
		r.metrics.ContactsCreated.Inc()
	}
	return contact, true, nil
}

// contactPatch fills name and phone where the submission differs from the
// stored value. Empty submitted values never clear a stored one.
func contactPatch(c *model.Contact, form *leadform.FormData) map[string]interface{} {
	patch := map[string]interface{}{}
	if form.Name != "" && form.Name != c.Name {
		patch["name"] = form.Name
		patch["first_name"] = form.FirstName
		patch["last_name"] = form.SecondName
	}
	if form.Phone != "" && form.Phone != c.Phone {
		patch["phone"] = form.Phone
	}
	return patch
}

func patchKeys(patch map[string]interface{}) []string {
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	return keys
}

func newMessageRecord(tenantID string, parsed *mailparser.ParsedMessage, form *leadform.FormData) *model.MessageRecord {
	record := &model.MessageRecord{
		TenantID:   tenantID,
		MessageID:  parsed.MessageID,
		FromEmail:  repository.NormalizeEmail(parsed.FromEmail),
		FromName:   parsed.FromName,
		Cc:         joinAddresses(parsed.Cc),
		Subject:    parsed.Subject,
		HTMLBody:   parsed.HTMLBody,
		TextBody:   parsed.TextBody,
		Direction:  model.DirectionInbound,
		ReceivedAt: parsed.ReceivedAt,
	}
	// form mail is sent by the website, the visitor is the real sender
	if form != nil {
		record.FromEmail = repository.NormalizeEmail(form.Email)
		record.FromName = form.Name
	}
	if len(parsed.To) > 0 {
		record.ToEmail = parsed.To[0].Address
		record.ToName = parsed.To[0].Name
	}
	return record
}

func joinAddresses(list []mailparser.Address) string {
	addrs := make([]string, 0, len(list))
	for _, a := range list {
		addrs = append(addrs, a.Address)
	}
	return strings.Join(addrs, ", ")
}

func (r *Resolver) ensureInteraction(ctx context.Context, tenantID string, contactID uint, record *model.MessageRecord, parsed *mailparser.ParsedMessage, form *leadform.FormData, log *logrus.Entry) {
	subject := parsed.Subject
	notes := leadform.Normalize(parsed.Body())
	if form != nil {
		subject = model.InitialRequestSubject
		notes = form.Message
	}

	existing, err := r.store.FindInteraction(ctx, tenantID, contactID, record.ID, subject)
	if err != nil {
		log.Warnf("Failed to check existing interaction: %v", err)
		return
	}
	if existing != nil {
		return
	}

	interaction := &model.Interaction{
		TenantID:        tenantID,
		ContactID:       contactID,
		MessageRecordID: record.ID,
		Kind:            model.InteractionKindEmail,
		Direction:       model.DirectionInbound,
		Subject:         subject,
		Notes:           notes,
		OccurredAt:      record.ReceivedAt,
	}
	if err := r.store.CreateInteraction(ctx, interaction); err != nil {
		log.Warnf("Failed to create interaction for message record %d: %v", record.ID, err)
	}
}

func (r *Resolver) notify(tenantID string, contact *model.Contact, record *model.MessageRecord, form *leadform.FormData) {
	if r.notifier == nil {
		return
	}

	ev := notify.Event{
		TenantID:    tenantID,
		Type:        NotificationInboundEmail,
		Title:       "New email from " + senderLabel(record.FromName, record.FromEmail),
		Message:     record.Subject,
		RelatedID:   record.ID,
		RelatedType: "message",
	}
	if form != nil {
		ev.Type = NotificationNewInquiry
		ev.Title = "New inquiry from " + senderLabel(form.Name, form.Email)
		if form.Subject != "" {
			ev.Message = form.Subject
		}
	}
	if contact != nil {
		ev.RelatedID = contact.ID
		ev.RelatedType = "contact"
	}
	r.notifier.Dispatch(ev)
}

func senderLabel(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}
