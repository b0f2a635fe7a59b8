// Package audit implements the ghost hunter: the engine that walks a
// merchant's invoice history on the billing source, classifies failed
// payments and upserts recoverable ghost targets.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/vietddude/sentinel/internal/core/domain"
	"github.com/vietddude/sentinel/internal/infra/billing"
	"github.com/vietddude/sentinel/internal/infra/storage"
	"github.com/vietddude/sentinel/internal/metrics"
	"github.com/vietddude/sentinel/internal/vault"
)

// JobName is the scheduler lock name for the scheduled deep harvest.
const JobName = "ghost_hunter"

// HunterConfig tunes scan pacing and retention.
type HunterConfig struct {
	BatchSize          int           `yaml:"batch_size"`           // records per throttle batch
	BatchPause         time.Duration `yaml:"batch_pause"`          // pause after each batch
	RateLimitRetryWait time.Duration `yaml:"rate_limit_wait"`      // sleep before the bounded rate-limit retry
	RateLimitRetries   uint64        `yaml:"rate_limit_retries"`   // bounded retries on a rate-limited page fetch
	HeartbeatEvery     int           `yaml:"heartbeat_every"`      // records between telemetry heartbeats
	PurgeAfter         time.Duration `yaml:"purge_after"`          // retention horizon stamped on new ghosts
	ImpendingWindow    time.Duration `yaml:"impending_window"`     // card-expiry lookahead for proactive ghosts
}

// DefaultHunterConfig returns the production pacing defaults. Batches
// of 50 with a short pause balance rate-limit safety against total
// scan duration.
func DefaultHunterConfig() HunterConfig {
	return HunterConfig{
		BatchSize:          50,
		BatchPause:         500 * time.Millisecond,
		RateLimitRetryWait: 2 * time.Second,
		RateLimitRetries:   1,
		HeartbeatEvery:     200,
		PurgeAfter:         90 * 24 * time.Hour,
		ImpendingWindow:    60 * 24 * time.Hour,
	}
}

// Hunter scans invoice histories and maintains ghost targets.
type Hunter struct {
	cfg     HunterConfig
	source  billing.Source
	vlt     *vault.Vault
	ghosts  storage.GhostRepository
	jobs    storage.ScanJobRepository
	creds   storage.CredentialRepository
	syslog  storage.SystemLogRepository
	tracker *Tracker
	log     *slog.Logger
}

// NewHunter creates a ghost hunter.
func NewHunter(
	cfg HunterConfig,
	source billing.Source,
	vlt *vault.Vault,
	ghosts storage.GhostRepository,
	jobs storage.ScanJobRepository,
	creds storage.CredentialRepository,
	syslog storage.SystemLogRepository,
	tracker *Tracker,
) *Hunter {
	if cfg.BatchSize <= 0 {
		cfg = DefaultHunterConfig()
	}
	return &Hunter{
		cfg:     cfg,
		source:  source,
		vlt:     vlt,
		ghosts:  ghosts,
		jobs:    jobs,
		creds:   creds,
		syslog:  syslog,
		tracker: tracker,
		log:     slog.Default(),
	}
}

// RunJob claims and executes one scan job end to end. A job already
// claimed by another worker is a silent no-op. Partial discovery is
// preserved on failure; the lock-free claim makes duplicate workers
// safe.
func (h *Hunter) RunJob(ctx context.Context, jobID string) error {
	// Broken crypto must abort before any external call.
	if err := h.vlt.SelfTest(); err != nil {
		_ = h.jobs.Fail(ctx, jobID, "vault self-test failed")
		return err
	}

	claimed, err := h.jobs.Claim(ctx, jobID)
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	if !claimed {
		return nil
	}

	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("scan job %s vanished after claim", jobID)
	}

	tel := newTelemetry(job.MerchantID)
	h.log.Info("scan started", "merchant", job.MerchantID, "job", job.ID)

	if err := h.scan(ctx, job, tel); err != nil {
		_ = h.jobs.Fail(ctx, job.ID, err.Error())
		h.appendLog(ctx, domain.JobOutcomeError, tel.Summary(), err)
		h.log.Error("scan failed", "merchant", job.MerchantID, "job", job.ID, "error", err)
		return err
	}

	if err := h.jobs.Complete(ctx, job.ID); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	metrics.ScanProgress.WithLabelValues(job.MerchantID).Set(100)
	h.appendLog(ctx, domain.JobOutcomeSuccess, tel.Summary(), nil)
	h.log.Info("scan completed", "merchant", job.MerchantID, "job", job.ID, "summary", tel.Summary())
	return nil
}

// HarvestAll runs a deep harvest over every merchant with a stored
// credential. It is the body of the scheduled ghost_hunter job.
func (h *Hunter) HarvestAll(ctx context.Context) (string, error) {
	merchants, err := h.creds.ListMerchants(ctx)
	if err != nil {
		return "", fmt.Errorf("list merchants: %w", err)
	}

	var audited, inflight, failed int
	for _, merchantID := range merchants {
		job, err := h.tracker.StartAudit(ctx, merchantID)
		if errors.Is(err, ErrAuditInFlight) {
			inflight++
			continue
		}
		if err != nil {
			failed++
			h.log.Error("harvest: start audit failed", "merchant", merchantID, "error", err)
			continue
		}
		if err := h.RunJob(ctx, job.ID); err != nil {
			failed++
			continue
		}
		audited++
	}

	summary := fmt.Sprintf("merchants=%d audited=%d in_flight=%d failed=%d",
		len(merchants), audited, inflight, failed)
	if failed > 0 && audited == 0 && len(merchants) > 0 {
		return summary, errors.New("all merchant scans failed")
	}
	return summary, nil
}

func (h *Hunter) scan(ctx context.Context, job *domain.ScanJob, tel *Telemetry) error {
	cred, err := h.creds.Get(ctx, job.MerchantID)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return fmt.Errorf("no billing credential for merchant %s", job.MerchantID)
	}

	key, err := h.vlt.Decrypt(vault.Sealed{
		Ciphertext: cred.KeyCipher,
		IV:         cred.KeyIV,
		Tag:        cred.KeyTag,
	})
	if err != nil {
		return fmt.Errorf("decrypt credential: %w", err)
	}
	credential := string(key)

	cursor := ""
	pages := 0
	for {
		page, err := h.fetchPage(ctx, credential, cursor)
		if err != nil {
			if billing.IsRateLimit(err) {
				// Still throttled after the bounded retry. The source is
				// reachable, just saturated: end pagination here and let
				// the scan complete with what it found.
				tel.Skipped++
				metrics.ScanRecordErrors.WithLabelValues(job.MerchantID, "rate_limit").Inc()
				h.log.Warn("scan truncated by rate limiting",
					"merchant", job.MerchantID, "job", job.ID, "pages", pages)
				break
			}
			// Total inability to reach the source aborts the scan;
			// everything discovered so far stays.
			return fmt.Errorf("billing source unreachable: %w", err)
		}

		for i := range page.Invoices {
			h.processRecord(ctx, job.MerchantID, &page.Invoices[i], tel)
			tel.Processed++
			metrics.InvoicesScanned.WithLabelValues(job.MerchantID).Inc()

			if h.cfg.HeartbeatEvery > 0 && tel.Processed%h.cfg.HeartbeatEvery == 0 {
				tel.heartbeat(h.log)
			}
			// Global pacing: a pause after every full batch, whatever
			// the page boundaries were.
			if tel.Processed%h.cfg.BatchSize == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(h.cfg.BatchPause):
				}
			}
		}

		pages++
		progress := 5 * pages // coarse; the ledger reports no total
		if progress > 95 {
			progress = 95
		}
		_ = h.jobs.UpdateProgress(ctx, job.ID, progress)
		metrics.ScanProgress.WithLabelValues(job.MerchantID).Set(float64(progress))

		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	tel.sampleMemory()
	return nil
}

// fetchPage pulls one page, absorbing rate limiting with a bounded
// sleep-and-retry. Any other source error propagates untouched.
func (h *Hunter) fetchPage(ctx context.Context, credential, cursor string) (*billing.Page, error) {
	var page *billing.Page
	backoff := retry.WithMaxRetries(h.cfg.RateLimitRetries, retry.NewConstant(h.cfg.RateLimitRetryWait))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		p, err := h.source.ListInvoices(ctx, credential, cursor)
		if err != nil {
			if billing.IsRateLimit(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// processRecord handles one ledger entry. Failures here are per-record
// recoverable: counted, logged, never fatal to the scan.
func (h *Hunter) processRecord(ctx context.Context, merchantID string, rec *billing.InvoiceRecord, tel *Telemetry) {
	if err := rec.Validate(); err != nil {
		h.skip(merchantID, "invalid", rec.InvoiceID, err, tel)
		return
	}

	now := time.Now()
	var status domain.GhostStatus
	switch {
	case rec.Status == billing.InvoiceStatusFailed && rec.SubscriptionActive:
		status = domain.GhostStatusPending
	case rec.Status == billing.InvoiceStatusPaid && rec.SubscriptionActive &&
		rec.CardExpiringWithin(h.cfg.ImpendingWindow, now):
		// Proactive: healthy subscription on a dying card.
		status = domain.GhostStatusImpending
	default:
		return
	}

	encStart := time.Now()
	emailSealed, err := h.vlt.Encrypt([]byte(rec.CustomerEmail))
	if err != nil {
		h.skip(merchantID, "encrypt", rec.InvoiceID, err, tel)
		return
	}
	nameSealed, err := h.vlt.Encrypt([]byte(rec.CustomerName))
	if err != nil {
		h.skip(merchantID, "encrypt", rec.InvoiceID, err, tel)
		return
	}
	tel.recordEncrypt(time.Since(encStart))

	declineType := ClassifyDecline(rec.DeclineCode)
	ghost := &domain.GhostTarget{
		ID:             uuid.NewString(),
		MerchantID:     merchantID,
		AmountMinor:    rec.AmountMinor,
		InvoiceID:      rec.InvoiceID,
		SubscriptionID: rec.SubscriptionID,
		Status:         status,
		FoundAt:        now,
		PurgeAt:        now.Add(h.cfg.PurgeAfter),
		DeclineCode:    rec.DeclineCode,
		DeclineType:    declineType,
		Strategy:       ResolveStrategy(rec.Requires3DS, rec.AmountMinor, declineType),
		Risk: domain.RiskMeta{
			CardBrand:   rec.CardBrand,
			CardFunding: rec.CardFunding,
			Country:     rec.Country,
			Requires3DS: rec.Requires3DS,
			RawCode:     rec.DeclineCode,
		},
		EmailCipher: emailSealed.Ciphertext,
		EmailIV:     emailSealed.IV,
		EmailTag:    emailSealed.Tag,
		NameCipher:  nameSealed.Ciphertext,
		NameIV:      nameSealed.IV,
		NameTag:     nameSealed.Tag,
	}

	upsertStart := time.Now()
	if err := h.ghosts.Upsert(ctx, ghost); err != nil {
		h.skip(merchantID, "storage", rec.InvoiceID, err, tel)
		return
	}
	tel.recordUpsert(time.Since(upsertStart))

	if status == domain.GhostStatusPending && rec.SubscriptionID != "" {
		// A real failure landed for this subscription: any proactive
		// impending ghosts for it graduate to actionable.
		promoted, err := h.ghosts.PromoteImpending(ctx, merchantID, rec.SubscriptionID)
		if err != nil {
			h.log.Warn("promote impending failed",
				"merchant", merchantID, "subscription", rec.SubscriptionID, "error", err)
		} else if promoted > 0 {
			h.log.Info("impending ghosts promoted",
				"merchant", merchantID, "subscription", rec.SubscriptionID, "count", promoted)
		}
	}

	tel.Ghosts++
	metrics.GhostsDiscovered.WithLabelValues(merchantID).Inc()
}

func (h *Hunter) skip(merchantID, kind, invoiceID string, err error, tel *Telemetry) {
	tel.Skipped++
	metrics.ScanRecordErrors.WithLabelValues(merchantID, kind).Inc()
	h.log.Warn("record skipped", "merchant", merchantID, "invoice", invoiceID, "kind", kind, "error", err)
}

func (h *Hunter) appendLog(ctx context.Context, outcome domain.JobOutcome, summary string, runErr error) {
	entry := &domain.SystemLogEntry{
		ID:        uuid.NewString(),
		JobName:   JobName,
		Outcome:   outcome,
		Summary:   summary,
		CreatedAt: time.Now(),
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}
	if err := h.syslog.Append(ctx, entry); err != nil {
		h.log.Warn("failed to append system log", "error", err)
	}
}
