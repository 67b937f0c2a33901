package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	metricsPkg "crm-mail-ingest-go/internal/metrics"
	storetest "crm-mail-ingest-go/internal/testutil"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	calls  int
	err    error
	block  chan struct{}
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, ev Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) snapshot() ([]Event, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...), s.calls
}

func TestDispatchDeliversToEverySink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	d := NewDispatcher(DefaultConfig(), nil, a, b)
	d.Start()

	d.Dispatch(Event{TenantID: "acme", Type: "new_inquiry", RelatedID: 7})
	d.Close()

	for _, s := range []*recordingSink{a, b} {
		events, _ := s.snapshot()
		require.Len(t, events, 1)
		assert.Equal(t, uint(7), events[0].RelatedID)
	}
}

func TestCloseDrainsEventsQueuedBeforeStart(t *testing.T) {
	s := &recordingSink{}
	d := NewDispatcher(DefaultConfig(), nil, s)

	d.Dispatch(Event{TenantID: "acme"})
	d.Dispatch(Event{TenantID: "acme"})
	d.Close()

	events, _ := s.snapshot()
	assert.Len(t, events, 2)

	// dispatch after close is a logged no-op
	d.Dispatch(Event{TenantID: "acme"})
	d.Close()
}

func TestFullQueueDropsEvent(t *testing.T) {
	m := metricsPkg.NewMetrics(prometheus.NewRegistry())
	s := &recordingSink{}
	d := NewDispatcher(Config{QueueSize: 1}, m, s)

	d.Dispatch(Event{TenantID: "acme", RelatedID: 1})
	d.Dispatch(Event{TenantID: "acme", RelatedID: 2})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.NotificationsDrop))
	d.Close()

	events, _ := s.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, uint(1), events[0].RelatedID)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	m := metricsPkg.NewMetrics(prometheus.NewRegistry())
	s := &recordingSink{err: errors.New("unavailable")}
	d := NewDispatcher(Config{BreakerFailures: 2, BreakerTimeout: time.Hour}, m, s)
	d.Start()

	for i := 0; i < 5; i++ {
		d.Dispatch(Event{TenantID: "acme"})
	}
	d.Close()

	_, calls := s.snapshot()
	assert.Equal(t, 2, calls)
	assert.Equal(t, float64(5), testutil.ToFloat64(m.NotificationsFailed))
}

func TestDispatchDoesNotWaitForSlowSink(t *testing.T) {
	s := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(DefaultConfig(), nil, s)
	d.Start()

	done := make(chan struct{})
	go func() {
		d.Dispatch(Event{TenantID: "acme"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a slow sink")
	}

	close(s.block)
	d.Close()
}

func TestStoreSink(t *testing.T) {
	store := storetest.NewMemoryStore()
	sink := NewStoreSink(store)

	err := sink.Send(context.Background(), Event{
		TenantID:    "acme",
		Type:        "new_inquiry",
		Title:       "New inquiry",
		Message:     "Ivan Ivanov sent a request",
		RelatedID:   3,
		RelatedType: "contact",
	})
	require.NoError(t, err)
	require.Len(t, store.Notifications, 1)
	assert.Equal(t, "acme", store.Notifications[0].TenantID)
	assert.Equal(t, "contact", store.Notifications[0].RelatedType)
}
