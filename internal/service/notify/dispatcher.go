// Package notify delivers best-effort notifications off the ingestion path.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	metricsPkg "crm-mail-ingest-go/internal/metrics"
)

// Event describes something a CRM user should be told about
type Event struct {
	TenantID    string `json:"tenant_id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	RelatedID   uint   `json:"related_id"`
	RelatedType string `json:"related_type"`
}

// Sink delivers one event
type Sink interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// Config controls queueing and the per-sink circuit breakers
type Config struct {
	QueueSize       int
	SendTimeout     time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueSize:       256,
		SendTimeout:     5 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

type guardedSink struct {
	sink Sink
	cb   *gobreaker.CircuitBreaker
}

// Dispatcher queues events and fans them out to sinks from a single worker.
// Dispatch never blocks: when the queue is full the event is dropped.
type Dispatcher struct {
	queue   chan Event
	sinks   []guardedSink
	timeout time.Duration
	metrics *metricsPkg.Metrics

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

func NewDispatcher(cfg Config, metrics *metricsPkg.Metrics, sinks ...Sink) *Dispatcher {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}

	d := &Dispatcher{
		queue:   make(chan Event, cfg.QueueSize),
		timeout: cfg.SendTimeout,
		metrics: metrics,
	}
	for _, s := range sinks {
		threshold := cfg.BreakerFailures
		d.sinks = append(d.sinks, guardedSink{
			sink: s,
			cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        "notify-" + s.Name(),
				MaxRequests: 1,
				Interval:    time.Minute,
				Timeout:     cfg.BreakerTimeout,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= threshold
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					logrus.Warnf("Circuit breaker %s changed from %s to %s", name, from.String(), to.String())
				},
			}),
		})
	}
	return d
}

// Start launches the delivery worker
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	d.wg.Add(1)
	go d.run()
}

// Dispatch enqueues ev without waiting for delivery
func (d *Dispatcher) Dispatch(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		logrus.WithField("tenant", ev.TenantID).Warn("Notification dispatcher closed, dropping event")
		return
	}

	select {
	case d.queue <- ev:
	default:
		if d.metrics != nil {
			d.metrics.NotificationsDrop.Inc()
		}
		logrus.WithFields(logrus.Fields{
			"tenant": ev.TenantID,
			"type":   ev.Type,
		}).Warn("Notification queue full, dropping event")
	}
}

// Close stops accepting events and waits for queued ones to be delivered
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		// deliver whatever was queued before Start was ever called
		d.wg.Add(1)
		go d.run()
	}
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	for _, g := range d.sinks {
		_, err := g.cb.Execute(func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			return nil, g.sink.Send(ctx, ev)
		})
		if err != nil {
			if d.metrics != nil {
				d.metrics.NotificationsFailed.Inc()
			}
			logrus.WithFields(logrus.Fields{
				"tenant":       ev.TenantID,
				"sink":         g.sink.Name(),
				"related_id":   ev.RelatedID,
				"related_type": ev.RelatedType,
			}).Errorf("Failed to deliver notification: %v", err)
		}
	}
}
