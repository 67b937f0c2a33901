package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	metricsPkg "crm-mail-ingest-go/internal/metrics"
	"crm-mail-ingest-go/internal/model"
	"crm-mail-ingest-go/internal/service/mailparser"
	"crm-mail-ingest-go/internal/testutil"
)

const tenant = "acme"

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func seed(t *testing.T, store *testutil.MemoryStore, tenantID string, id *string, from, subject string, at time.Time) {
	t.Helper()
	require.NoError(t, store.CreateMessage(context.Background(), &model.MessageRecord{
		TenantID:   tenantID,
		MessageID:  id,
		FromEmail:  from,
		Subject:    subject,
		Direction:  model.DirectionInbound,
		ReceivedAt: at,
	}))
}

func newResolver(store *testutil.MemoryStore, cache SeenCache) *Resolver {
	return New(store, DefaultConfig(), cache, metricsPkg.NewMetrics(prometheus.NewRegistry()))
}

type fakeCache struct {
	seen    map[string]bool
	failGet error
}

func (f *fakeCache) Seen(_ context.Context, tenantID, messageID string) (bool, error) {
	if f.failGet != nil {
		return false, f.failGet
	}
	return f.seen[tenantID+"/"+messageID], nil
}

func (f *fakeCache) Remember(_ context.Context, tenantID, messageID string) error {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	f.seen[tenantID+"/"+messageID] = true
	return nil
}

func TestSameMessageIDIsDuplicateRegardlessOfTime(t *testing.T) {
	store := testutil.NewMemoryStore()
	seed(t, store, tenant, strPtr("m1@x"), "a@example.com", "Hello", base)

	r := newResolver(store, nil)
	parsed := &mailparser.ParsedMessage{
		MessageID:  strPtr("m1@x"),
		FromEmail:  "other@example.com",
		Subject:    "Different",
		ReceivedAt: base.Add(30 * 24 * time.Hour),
	}

	dup, err := r.IsDuplicate(context.Background(), tenant, parsed, "", Live)
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestWindowTiers(t *testing.T) {
	store := testutil.NewMemoryStore()
	seed(t, store, tenant, nil, "a@example.com", "Inquiry", base)
	r := newResolver(store, nil)

	nineMinutes := &mailparser.ParsedMessage{FromEmail: "A@Example.com", Subject: "Inquiry", ReceivedAt: base.Add(9 * time.Minute)}
	dup, err := r.IsDuplicate(context.Background(), tenant, nineMinutes, "", Live)
	require.NoError(t, err)
	assert.True(t, dup)

	eightDays := &mailparser.ParsedMessage{FromEmail: "a@example.com", Subject: "Inquiry", ReceivedAt: base.Add(8 * 24 * time.Hour)}
	dup, err = r.IsDuplicate(context.Background(), tenant, eightDays, "", Live)
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = r.IsDuplicate(context.Background(), tenant, eightDays, "", Historical)
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestSubjectFallbackWithinHistoricalWindow(t *testing.T) {
	store := testutil.NewMemoryStore()
	seed(t, store, tenant, nil, "a@example.com", "Inquiry", base)
	later := &mailparser.ParsedMessage{FromEmail: "a@example.com", Subject: "Inquiry", ReceivedAt: base.Add(3 * 24 * time.Hour)}

	dup, err := newResolver(store, nil).IsDuplicate(context.Background(), tenant, later, "", Live)
	require.NoError(t, err)
	assert.True(t, dup)

	cfg := DefaultConfig()
	cfg.SubjectFallback = false
	strict := New(store, cfg, nil, nil)
	dup, err = strict.IsDuplicate(context.Background(), tenant, later, "", Live)
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = strict.IsDuplicate(context.Background(), tenant, later, "", Historical)
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestFormEmailReplacesSender(t *testing.T) {
	store := testutil.NewMemoryStore()
	seed(t, store, tenant, nil, "visitor@example.com", "New inquiry", base)
	r := newResolver(store, nil)

	parsed := &mailparser.ParsedMessage{FromEmail: "noreply@site.example", Subject: "New inquiry", ReceivedAt: base.Add(time.Minute)}

	dup, err := r.IsDuplicate(context.Background(), tenant, parsed, "", Live)
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = r.IsDuplicate(context.Background(), tenant, parsed, "Visitor@Example.com", Live)
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestTenantsAreIsolated(t *testing.T) {
	store := testutil.NewMemoryStore()
	seed(t, store, "other", strPtr("m1@x"), "a@example.com", "Inquiry", base)

	parsed := &mailparser.ParsedMessage{MessageID: strPtr("m1@x"), FromEmail: "a@example.com", Subject: "Inquiry", ReceivedAt: base}
	dup, err := newResolver(store, nil).IsDuplicate(context.Background(), tenant, parsed, "", Live)
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestSeenCache(t *testing.T) {
	store := testutil.NewMemoryStore()
	cache := &fakeCache{}
	r := newResolver(store, cache)
	parsed := &mailparser.ParsedMessage{MessageID: strPtr("m9@x"), FromEmail: "a@example.com", Subject: "Hi", ReceivedAt: base}

	dup, err := r.IsDuplicate(context.Background(), tenant, parsed, "", Live)
	require.NoError(t, err)
	assert.False(t, dup)

	r.Remember(context.Background(), tenant, parsed)
	dup, err = r.IsDuplicate(context.Background(), tenant, parsed, "", Live)
	require.NoError(t, err)
	assert.True(t, dup)

	// a broken cache degrades to the store tiers
	cache.failGet = errors.New("connection refused")
	dup, err = r.IsDuplicate(context.Background(), tenant, parsed, "", Live)
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestStoreErrorPropagates(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.FailFindMessage = errors.New("db down")

	parsed := &mailparser.ParsedMessage{MessageID: strPtr("m1@x"), FromEmail: "a@example.com", Subject: "Hi", ReceivedAt: base}
	_, err := newResolver(store, nil).IsDuplicate(context.Background(), tenant, parsed, "", Live)
	assert.Error(t, err)
}
