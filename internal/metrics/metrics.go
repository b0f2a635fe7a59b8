package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InvoicesScanned tracks invoices pulled from the billing source per merchant
	InvoicesScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_invoices_scanned_total",
			Help: "Total number of invoices scanned",
		},
		[]string{"merchant"},
	)

	// GhostsDiscovered tracks ghost targets created or refreshed per merchant
	GhostsDiscovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_ghosts_discovered_total",
			Help: "Total number of ghost targets discovered",
		},
		[]string{"merchant"},
	)

	// ScanRecordErrors tracks per-record scan failures by kind
	ScanRecordErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_scan_record_errors_total",
			Help: "Total number of per-record scan errors",
		},
		[]string{"merchant", "kind"},
	)

	// BillingCallsTotal tracks billing source page fetches
	BillingCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_billing_calls_total",
			Help: "Total number of billing source calls",
		},
		[]string{"outcome"},
	)

	// BillingLatency tracks billing source call latency
	BillingLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_billing_latency_seconds",
			Help:    "Billing source call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RecoveryEmailsSent tracks outreach emails requested per strategy
	RecoveryEmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_recovery_emails_sent_total",
			Help: "Total number of recovery emails dispatched",
		},
		[]string{"strategy"},
	)

	// GhostsExhausted tracks ghosts that hit the attempt cap unresolved
	GhostsExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_ghosts_exhausted_total",
			Help: "Total number of ghosts exhausted without recovery",
		},
	)

	// GhostsRecovered tracks recoveries by attribution type
	GhostsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_ghosts_recovered_total",
			Help: "Total number of recovered ghosts",
		},
		[]string{"type"},
	)

	// LockAcquisitions tracks scheduler lock attempts per job
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_lock_acquisitions_total",
			Help: "Total number of job lock attempts",
		},
		[]string{"job", "outcome"},
	)

	// ScanProgress is the last reported progress of the active scan per merchant
	ScanProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_scan_progress",
			Help: "Progress (0-100) of the active audit scan",
		},
		[]string{"merchant"},
	)

	// ScanHeartbeatProcessed is the processed-record count at the last heartbeat
	ScanHeartbeatProcessed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_scan_heartbeat_processed",
			Help: "Records processed at the last scan heartbeat",
		},
		[]string{"merchant"},
	)

	// EncryptLatency tracks vault encrypt latency observed during scans
	EncryptLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_encrypt_latency_seconds",
			Help:    "Vault encrypt latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
	)

	// UpsertLatency tracks ghost upsert latency observed during scans
	UpsertLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_upsert_latency_seconds",
			Help:    "Ghost upsert latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// DBConnectionPoolUsage is the connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
