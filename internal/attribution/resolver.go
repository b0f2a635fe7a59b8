// Package attribution resolves how a recovered payment came back:
// through the recovery email (direct) or on its own (organic).
package attribution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/sentinel/internal/core/domain"
	"github.com/vietddude/sentinel/internal/infra/storage"
	"github.com/vietddude/sentinel/internal/metrics"
)

// Resolver applies the click-window attribution rule.
type Resolver struct {
	ghosts storage.GhostRepository
	window time.Duration
	log    *slog.Logger
	now    func() time.Time
}

// NewResolver creates an attribution resolver with the standard
// 24 hour click window.
func NewResolver(ghosts storage.GhostRepository) *Resolver {
	return &Resolver{
		ghosts: ghosts,
		window: domain.AttributionWindow,
		log:    slog.Default(),
		now:    time.Now,
	}
}

// OnLinkClicked records a recovery-link click, opening the attribution
// window. Clicks on unknown ghosts are dropped silently: stale links
// outlive their ghosts and must never error a webhook.
func (r *Resolver) OnLinkClicked(ctx context.Context, ghostID string) error {
	now := r.now()
	found, err := r.ghosts.RecordClick(ctx, ghostID, now.Add(r.window), now)
	if err != nil {
		return fmt.Errorf("record click: %w", err)
	}
	if !found {
		r.log.Debug("click on unknown ghost ignored", "ghost", ghostID)
		return nil
	}
	r.log.Info("recovery link clicked", "ghost", ghostID)
	return nil
}

// OnPaymentConfirmed resolves a successful payment against the ghost
// book. A payment inside an open click window is credited to the
// outreach (direct); anything else that still matches a ghost is
// organic. Unknown invoices and already-recovered ghosts are no-ops.
func (r *Resolver) OnPaymentConfirmed(ctx context.Context, invoiceID string) error {
	g, err := r.ghosts.GetByInvoiceID(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("look up ghost: %w", err)
	}
	if g == nil {
		return nil
	}

	now := r.now()
	rtype := domain.RecoveryOrganic
	if g.AttribExpiry != nil && now.Before(*g.AttribExpiry) {
		rtype = domain.RecoveryDirect
	}

	marked, err := r.ghosts.MarkRecovered(ctx, g.ID, rtype, now)
	if err != nil {
		return fmt.Errorf("mark recovered: %w", err)
	}
	if !marked {
		return nil
	}

	metrics.GhostsRecovered.WithLabelValues(string(rtype)).Inc()
	r.log.Info("ghost recovered",
		"ghost", g.ID,
		"invoice", invoiceID,
		"type", rtype,
		"amount_minor", g.AmountMinor,
	)
	return nil
}
