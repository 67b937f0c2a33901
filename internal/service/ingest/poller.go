// Package ingest runs mailbox poll cycles: fetch, parse, classify,
// deduplicate, resolve, and only then flag the message as seen.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	metricsPkg "crm-mail-ingest-go/internal/metrics"
	"crm-mail-ingest-go/internal/model"
	"crm-mail-ingest-go/internal/repository"
	"crm-mail-ingest-go/internal/service/dedup"
	"crm-mail-ingest-go/internal/service/leadform"
	"crm-mail-ingest-go/internal/service/mailbox"
	"crm-mail-ingest-go/internal/service/mailparser"
	"crm-mail-ingest-go/internal/service/resolver"
)

// DefaultRecentWindow is how far back the fallback search looks when no
// unseen messages exist
const DefaultRecentWindow = 10 * time.Minute

// ErrCycleInProgress is reported when a tenant's mailbox is already being polled
var ErrCycleInProgress = errors.New("poll cycle already in progress")

// Config is the immutable poller configuration
type Config struct {
	FormSubject    string
	RecentWindow   time.Duration
	TrackingParams []string
}

// Result is the outcome of one cycle. Callers surface it as-is.
type Result struct {
	Processed int      `json:"processed"`
	Errors    []string `json:"errors"`
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeProcessed
	outcomeDuplicate
)

// Poller runs poll cycles for the configured tenants
type Poller struct {
	config     Config
	mailboxes  map[string]mailbox.Config
	dialer     mailbox.Dialer
	store      repository.Store
	parser     *mailparser.Parser
	classifier *leadform.Classifier
	extractor  *leadform.Extractor
	dedup      *dedup.Resolver
	resolver   *resolver.Resolver
	metrics    *metricsPkg.Metrics
	now        func() time.Time

	locks sync.Map
}

func New(cfg Config, mailboxes map[string]mailbox.Config, dialer mailbox.Dialer, store repository.Store,
	dedupResolver *dedup.Resolver, entityResolver *resolver.Resolver, metrics *metricsPkg.Metrics) *Poller {
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = DefaultRecentWindow
	}
	return &Poller{
		config:     cfg,
		mailboxes:  mailboxes,
		dialer:     dialer,
		store:      store,
		parser:     mailparser.New(),
		classifier: leadform.NewClassifier(cfg.FormSubject),
		extractor:  leadform.NewExtractor(cfg.TrackingParams),
		dedup:      dedupResolver,
		resolver:   entityResolver,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Tenants returns the tenants that have a mailbox, sorted
func (p *Poller) Tenants() []string {
	tenants := make([]string, 0, len(p.mailboxes))
	for t := range p.mailboxes {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)
	return tenants
}

// HasTenant reports whether tenantID has a configured mailbox
func (p *Poller) HasTenant(tenantID string) bool {
	_, ok := p.mailboxes[tenantID]
	return ok
}

// PollOnce runs one live cycle: unseen messages, or the recent window when
// nothing is unseen
func (p *Poller) PollOnce(ctx context.Context, tenantID string) Result {
	return p.cycle(ctx, tenantID, "poll", dedup.Live, func(ctx context.Context, s mailbox.Session) ([]uint32, error) {
		uids, err := s.SearchUnseen(ctx)
		if err != nil || len(uids) > 0 {
			return uids, err
		}
		return s.SearchSince(ctx, p.now().Add(-p.config.RecentWindow))
	})
}

// Replay walks every message received since the given time, seen or not,
// deduplicating against the historical window
func (p *Poller) Replay(ctx context.Context, tenantID string, since time.Time) Result {
	return p.cycle(ctx, tenantID, "replay", dedup.Historical, func(ctx context.Context, s mailbox.Session) ([]uint32, error) {
		return s.SearchSince(ctx, since)
	})
}

type searchFunc func(ctx context.Context, s mailbox.Session) ([]uint32, error)

func (p *Poller) cycle(ctx context.Context, tenantID, kind string, mode dedup.Mode, search searchFunc) Result {
	log := logrus.WithFields(logrus.Fields{"tenant": tenantID, "cycle": kind, "cycle_id": uuid.NewString()})

	cfg, ok := p.mailboxes[tenantID]
	if !ok {
		return Result{Errors: []string{fmt.Sprintf("no mailbox configured for tenant %q", tenantID)}}
	}

	unlock, ok := p.tryLock(tenantID)
	if !ok {
		log.Warn("Skipping cycle, another one holds the mailbox")
		return Result{Errors: []string{ErrCycleInProgress.Error()}}
	}
	defer unlock()

	start := p.now()
	p.metrics.PollCycles.Inc()
	defer func() { p.metrics.ProcessingTime.Observe(time.Since(start).Seconds()) }()

	session, err := p.dialer.Open(ctx, cfg)
	if err != nil {
		return p.abort(log, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warnf("Failed to close mailbox session: %v", err)
		}
	}()

	uids, err := search(ctx, session)
	if err != nil {
		return p.abort(log, err)
	}
	log.Infof("Found %d candidate messages", len(uids))

	var result Result
	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("cycle interrupted: %v", err))
			break
		}

		out, err := p.processMessage(ctx, tenantID, session, uid, mode)
		if err != nil {
			if mailbox.IsConnectionError(err) {
				return p.abort(log, err)
			}
			result.Errors = append(result.Errors, fmt.Sprintf("uid %d: %v", uid, err))
			continue
		}
		if out == outcomeProcessed {
			result.Processed++
		}
	}

	log.WithFields(logrus.Fields{
		"processed": result.Processed,
		"errors":    len(result.Errors),
	}).Infof("Cycle completed in %v", time.Since(start))
	return result
}

// abort reports a transport failure as the single cycle error
func (p *Poller) abort(log *logrus.Entry, err error) Result {
	p.metrics.PollFailures.Inc()
	log.Errorf("Cycle aborted: %v", err)
	return Result{Errors: []string{err.Error()}}
}

func (p *Poller) tryLock(tenantID string) (func(), bool) {
	v, _ := p.locks.LoadOrStore(tenantID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, false
	}
	return mu.Unlock, true
}

// processMessage handles one UID. The message is flagged seen only after a
// definitive outcome; any error leaves it for the next cycle.
func (p *Poller) processMessage(ctx context.Context, tenantID string, session mailbox.Session, uid uint32, mode dedup.Mode) (outcome, error) {
	log := logrus.WithFields(logrus.Fields{"tenant": tenantID, "uid": uid})

	msg, err := session.Fetch(ctx, uid)
	if err != nil {
		if !mailbox.IsConnectionError(err) {
			p.fail(ctx, tenantID, uid, "", "fetch", err)
		}
		return outcomeFailed, err
	}
	p.metrics.MessagesFetched.Inc()

	parsed, err := p.parser.Parse(msg.Raw)
	if err != nil {
		p.fail(ctx, tenantID, uid, "", "parse", err)
		return outcomeFailed, err
	}
	log = log.WithField("message_id", parsed.MessageIDString())

	var form *leadform.FormData
	if p.classifier.IsLeadForm(parsed.Subject) {
		form = p.extractor.Extract(parsed.Body())
		if form != nil {
			p.metrics.FormsExtracted.Inc()
		} else {
			log.Info("Lead form without name or email, using generic path")
		}
	}
	formEmail := ""
	if form != nil {
		formEmail = form.Email
	}

	dup, err := p.dedup.IsDuplicate(ctx, tenantID, parsed, formEmail, mode)
	if err != nil {
		p.fail(ctx, tenantID, uid, parsed.MessageIDString(), "dedup", err)
		return outcomeFailed, err
	}
	if dup {
		if err := session.MarkSeen(ctx, uid); err != nil {
			return outcomeFailed, err
		}
		p.dedup.Remember(ctx, tenantID, parsed)
		p.metrics.MessagesDuplicate.Inc()
		p.logIngest(ctx, &model.IngestLog{TenantID: tenantID, UID: uid, MessageID: parsed.MessageIDString(), Status: model.IngestStatusDuplicate})
		log.Info("Duplicate message flagged")
		return outcomeDuplicate, nil
	}

	res, err := p.resolver.Resolve(ctx, tenantID, parsed, form)
	if err != nil {
		p.fail(ctx, tenantID, uid, parsed.MessageIDString(), "resolve", err)
		return outcomeFailed, err
	}

	// the records exist now; a failed flag only means the next cycle sees a duplicate
	if err := session.MarkSeen(ctx, uid); err != nil {
		return outcomeFailed, err
	}
	p.dedup.Remember(ctx, tenantID, parsed)
	p.metrics.MessagesProcessed.Inc()

	recordID := res.MessageRecordID
	p.logIngest(ctx, &model.IngestLog{
		TenantID:        tenantID,
		UID:             uid,
		MessageID:       parsed.MessageIDString(),
		MessageRecordID: &recordID,
		Status:          model.IngestStatusProcessed,
	})
	return outcomeProcessed, nil
}

func (p *Poller) fail(ctx context.Context, tenantID string, uid uint32, messageID, stage string, err error) {
	p.metrics.MessageErrors.WithLabelValues(stage).Inc()
	logrus.WithFields(logrus.Fields{
		"tenant":     tenantID,
		"uid":        uid,
		"message_id": messageID,
		"stage":      stage,
	}).Errorf("Message left for retry: %v", err)
	p.logIngest(ctx, &model.IngestLog{
		TenantID:  tenantID,
		UID:       uid,
		MessageID: messageID,
		Status:    model.IngestStatusError,
		ErrorMsg:  fmt.Sprintf("%s: %v", stage, err),
	})
}

func (p *Poller) logIngest(ctx context.Context, entry *model.IngestLog) {
	if err := p.store.LogIngest(ctx, entry); err != nil {
		logrus.WithField("tenant", entry.TenantID).Warnf("Failed to write ingest log: %v", err)
	}
}
