package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	PollCycles          prometheus.Counter
	PollFailures        prometheus.Counter
	MessagesFetched     prometheus.Counter
	MessagesProcessed   prometheus.Counter
	MessagesDuplicate   prometheus.Counter
	MessageErrors       *prometheus.CounterVec
	DedupHits           *prometheus.CounterVec
	ContactsCreated     prometheus.Counter
	FormsExtracted      prometheus.Counter
	NotificationsFailed prometheus.Counter
	NotificationsDrop   prometheus.Counter
	ProcessingTime      prometheus.Histogram
}

// NewMetrics registers the ingestion metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PollCycles: f.NewCounter(prometheus.CounterOpts{
			Name: "crm_mail_ingest_poll_cycles_total",
			Help: "Total number of mailbox poll cycles",
		}),
		PollFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "crm_mail_ingest_poll_failures_total",
			Help: "Poll cycles aborted by a mailbox transport error",
		}),
		MessagesFetched: f.NewCounter(prometheus.CounterOpts{
			Name: "crm_mail_ingest_messages_fetched_total",
			Help: "Messages fetched from mailboxes",
		}),
		MessagesProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "crm_mail_ingest_messages_processed_total",
			Help: "Messages newly ingested into the CRM",
		}),
		MessagesDuplicate: f.NewCounter(prometheus.CounterOpts{
			Name: "crm_mail_ingest_messages_duplicate_total",
			Help: "Messages recognised as already ingested",
		}),
		MessageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_mail_ingest_message_errors_total",
			Help: "Per-message failures left unflagged for retry",
		}, []string{"stage"}),
		DedupHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_mail_ingest_dedup_hits_total",
			Help: "Duplicate decisions by matching tier",
		}, []string{"tier"}),
		ContactsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "crm_mail_ingest_contacts_created_total",
			Help: "Contacts created from lead-form submissions",
		}),
		FormsExtracted: f.NewCounter(prometheus.CounterOpts{
			Name: "crm_mail_ingest_forms_extracted_total",
			Help: "Lead-form submissions with a successful extraction",
		}),
		NotificationsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "crm_mail_ingest_notifications_failed_total",
			Help: "Notifications that a sink failed to deliver",
		}),
		NotificationsDrop: f.NewCounter(prometheus.CounterOpts{
			Name: "crm_mail_ingest_notifications_dropped_total",
			Help: "Notifications dropped because the dispatch queue was full",
		}),
		ProcessingTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "crm_mail_ingest_poll_duration_seconds",
			Help:    "Time spent in one poll cycle",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
