// Package dedup decides whether an inbound message was already ingested.
//
// Checks run from most to least reliable and stop at the first hit:
// the optional seen-cache, the transport message id, sender and subject
// inside a time window, and finally sender and subject with no bound,
// accepted only when the closest stored timestamp is within the
// historical window.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	metricsPkg "crm-mail-ingest-go/internal/metrics"
	"crm-mail-ingest-go/internal/repository"
	"crm-mail-ingest-go/internal/service/mailparser"
)

// Mode selects the tier-2 window width
type Mode int

const (
	// Live is used by regular poll cycles
	Live Mode = iota
	// Historical is used when re-validating replayed or retried mail
	Historical
)

func (m Mode) String() string {
	if m == Historical {
		return "historical"
	}
	return "live"
}

const (
	DefaultLiveWindow       = 10 * time.Minute
	DefaultHistoricalWindow = 7 * 24 * time.Hour
)

// Config holds the dedup windows
type Config struct {
	LiveWindow       time.Duration
	HistoricalWindow time.Duration
	// SubjectFallback enables the unbounded sender+subject tier
	SubjectFallback bool
}

func DefaultConfig() Config {
	return Config{
		LiveWindow:       DefaultLiveWindow,
		HistoricalWindow: DefaultHistoricalWindow,
		SubjectFallback:  true,
	}
}

func (c Config) window(mode Mode) time.Duration {
	if mode == Historical {
		return c.HistoricalWindow
	}
	return c.LiveWindow
}

// SeenCache is a fast pre-check keyed by transport message id
type SeenCache interface {
	Seen(ctx context.Context, tenantID, messageID string) (bool, error)
	Remember(ctx context.Context, tenantID, messageID string) error
}

// Resolver runs the tiered duplicate checks against the store
type Resolver struct {
	store   repository.Store
	cache   SeenCache
	config  Config
	metrics *metricsPkg.Metrics
}

// New creates a resolver. cache may be nil.
func New(store repository.Store, cfg Config, cache SeenCache, metrics *metricsPkg.Metrics) *Resolver {
	if cfg.LiveWindow <= 0 {
		cfg.LiveWindow = DefaultLiveWindow
	}
	if cfg.HistoricalWindow <= 0 {
		cfg.HistoricalWindow = DefaultHistoricalWindow
	}
	return &Resolver{
		store:   store,
		cache:   cache,
		config:  cfg,
		metrics: metrics,
	}
}

// IsDuplicate reports whether parsed was already ingested for the tenant.
// formEmail, when non-empty, replaces the transport sender for the
// sender-based tiers since form mail arrives from the site's own address.
func (r *Resolver) IsDuplicate(ctx context.Context, tenantID string, parsed *mailparser.ParsedMessage, formEmail string, mode Mode) (bool, error) {
	log := logrus.WithFields(logrus.Fields{
		"tenant":     tenantID,
		"message_id": parsed.MessageIDString(),
		"mode":       mode.String(),
	})

	if id := parsed.MessageIDString(); id != "" {
		if r.cache != nil {
			seen, err := r.cache.Seen(ctx, tenantID, id)
			if err != nil {
				log.Warnf("Seen-cache lookup failed, falling back to store: %v", err)
			} else if seen {
				r.hit("cache")
				return true, nil
			}
		}

		existing, err := r.store.FindMessageByMessageID(ctx, tenantID, id)
		if err != nil {
			return false, fmt.Errorf("failed to look up message id: %w", err)
		}
		if existing != nil {
			r.hit("message_id")
			log.Debugf("Duplicate by message id, record %d", existing.ID)
			return true, nil
		}
	}

	sender := repository.NormalizeEmail(formEmail)
	if sender == "" {
		sender = repository.NormalizeEmail(parsed.FromEmail)
	}
	if sender == "" {
		return false, nil
	}

	window := r.config.window(mode)
	since := parsed.ReceivedAt.Add(-window)
	until := parsed.ReceivedAt.Add(window)
	matches, err := r.store.FindInboundMessages(ctx, tenantID, sender, parsed.Subject, &since, &until)
	if err != nil {
		return false, fmt.Errorf("failed to look up messages in window: %w", err)
	}
	if len(matches) > 0 {
		r.hit("window")
		log.Debugf("Duplicate by sender and subject within %v", window)
		return true, nil
	}

	// an unbounded search is the historical window again in that mode
	if !r.config.SubjectFallback || mode == Historical {
		return false, nil
	}

	all, err := r.store.FindInboundMessages(ctx, tenantID, sender, parsed.Subject, nil, nil)
	if err != nil {
		return false, fmt.Errorf("failed to look up messages by subject: %w", err)
	}
	if len(all) == 0 {
		return false, nil
	}

	closest := absDuration(all[0].ReceivedAt.Sub(parsed.ReceivedAt))
	for _, m := range all[1:] {
		if d := absDuration(m.ReceivedAt.Sub(parsed.ReceivedAt)); d < closest {
			closest = d
		}
	}
	if closest <= r.config.HistoricalWindow {
		r.hit("subject")
		log.Debugf("Duplicate by sender and subject, closest match %v away", closest)
		return true, nil
	}
	return false, nil
}

// Remember records a definitive outcome in the seen-cache. Failures are
// logged only; the store tiers still catch the message next time.
func (r *Resolver) Remember(ctx context.Context, tenantID string, parsed *mailparser.ParsedMessage) {
	id := parsed.MessageIDString()
	if r.cache == nil || id == "" {
		return
	}
	if err := r.cache.Remember(ctx, tenantID, id); err != nil {
		logrus.WithFields(logrus.Fields{"tenant": tenantID, "message_id": id}).
			Warnf("Failed to update seen-cache: %v", err)
	}
}

func (r *Resolver) hit(tier string) {
	if r.metrics != nil {
		r.metrics.DedupHits.WithLabelValues(tier).Inc()
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
