// Package dispatch runs the pulse engine: the periodic outreach pass
// that emails pending ghosts on a fixed cadence until they recover or
// exhaust their attempts.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/sentinel/internal/core/domain"
	"github.com/vietddude/sentinel/internal/infra/storage"
	"github.com/vietddude/sentinel/internal/metrics"
	"github.com/vietddude/sentinel/internal/vault"
)

// JobName is the scheduler lock name for the pulse engine.
const JobName = "pulse_engine"

// PulseConfig tunes outreach pacing.
type PulseConfig struct {
	Grace       time.Duration `yaml:"grace"`        // quiet period after discovery before the first email
	MaxAttempts int           `yaml:"max_attempts"` // hard cap on emails per ghost
}

// DefaultPulseConfig returns the production cadence: a 4 hour grace
// period so a self-recovering payment never triggers outreach, and the
// global attempt cap.
func DefaultPulseConfig() PulseConfig {
	return PulseConfig{
		Grace:       4 * time.Hour,
		MaxAttempts: domain.MaxEmailAttempts,
	}
}

// Pulse selects due ghosts and dispatches one recovery email to each.
type Pulse struct {
	cfg    PulseConfig
	ghosts storage.GhostRepository
	vlt    *vault.Vault
	mailer Mailer
	log    *slog.Logger
	now    func() time.Time
}

// NewPulse creates a pulse engine.
func NewPulse(cfg PulseConfig, ghosts storage.GhostRepository, vlt *vault.Vault, mailer Mailer) *Pulse {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultPulseConfig()
	}
	return &Pulse{
		cfg:    cfg,
		ghosts: ghosts,
		vlt:    vlt,
		mailer: mailer,
		log:    slog.Default(),
		now:    time.Now,
	}
}

// Name implements the scheduled job contract.
func (p *Pulse) Name() string { return JobName }

// Run executes one outreach pass over every due ghost: pending status,
// past the grace period, under the attempt cap. Per-ghost failures are
// counted and skipped; a failed send consumes no attempt.
func (p *Pulse) Run(ctx context.Context) (string, error) {
	now := p.now()
	candidates, err := p.ghosts.ListDispatchCandidates(ctx, now.Add(-p.cfg.Grace), p.cfg.MaxAttempts)
	if err != nil {
		return "", fmt.Errorf("list dispatch candidates: %w", err)
	}

	var sent, exhausted, failed int
	for _, g := range candidates {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		if err := p.dispatch(ctx, g, now, &exhausted); err != nil {
			failed++
			p.log.Warn("pulse dispatch failed", "ghost", g.ID, "invoice", g.InvoiceID, "error", err)
			continue
		}
		sent++
	}

	summary := fmt.Sprintf("candidates=%d sent=%d exhausted=%d failed=%d",
		len(candidates), sent, exhausted, failed)
	return summary, nil
}

func (p *Pulse) dispatch(ctx context.Context, g *domain.GhostTarget, now time.Time, exhausted *int) error {
	email, err := p.vlt.Decrypt(vault.Sealed{Ciphertext: g.EmailCipher, IV: g.EmailIV, Tag: g.EmailTag})
	if err != nil {
		return fmt.Errorf("decrypt email: %w", err)
	}
	name, err := p.vlt.Decrypt(vault.Sealed{Ciphertext: g.NameCipher, IV: g.NameIV, Tag: g.NameTag})
	if err != nil {
		return fmt.Errorf("decrypt name: %w", err)
	}

	msg := Message{
		GhostID:     g.ID,
		MerchantID:  g.MerchantID,
		InvoiceID:   g.InvoiceID,
		To:          string(email),
		Name:        string(name),
		AmountMinor: g.AmountMinor,
		Strategy:    g.Strategy,
		DeclineType: g.DeclineType,
		Attempt:     g.EmailCount + 1,
	}
	if err := p.mailer.SendRecoveryEmail(ctx, msg); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	// Only a delivered send consumes an attempt.
	count, err := p.ghosts.RecordEmail(ctx, g.ID, now)
	if err != nil {
		return fmt.Errorf("record email: %w", err)
	}
	metrics.RecoveryEmailsSent.WithLabelValues(string(g.Strategy)).Inc()

	if count >= p.cfg.MaxAttempts {
		if err := p.ghosts.SetStatus(ctx, g.ID, domain.GhostStatusExhausted); err != nil {
			return fmt.Errorf("mark exhausted: %w", err)
		}
		*exhausted++
		metrics.GhostsExhausted.Inc()
		p.log.Info("ghost exhausted", "ghost", g.ID, "invoice", g.InvoiceID, "attempts", count)
	}
	return nil
}
