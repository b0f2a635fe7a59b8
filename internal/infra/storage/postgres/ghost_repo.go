package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/sentinel/internal/core/domain"
	"github.com/vietddude/sentinel/internal/infra/storage"
)

// GhostRepo implements storage.GhostRepository using PostgreSQL.
type GhostRepo struct {
	db *DB
}

// NewGhostRepo creates a new PostgreSQL ghost repository.
func NewGhostRepo(db *DB) *GhostRepo {
	return &GhostRepo{db: db}
}

type ghostRow struct {
	ID             string       `db:"id"`
	MerchantID     string       `db:"merchant_id"`
	AmountMinor    int64        `db:"amount_minor"`
	InvoiceID      string       `db:"invoice_id"`
	SubscriptionID string       `db:"subscription_id"`
	Status         string       `db:"status"`
	FoundAt        time.Time    `db:"found_at"`
	PurgeAt        time.Time    `db:"purge_at"`
	LastEmailAt    sql.NullTime `db:"last_email_at"`
	EmailCount     int          `db:"email_count"`
	RecoveredAt    sql.NullTime `db:"recovered_at"`
	AttribExpiry   sql.NullTime `db:"attrib_expiry"`
	RecoveryType   string       `db:"recovery_type"`
	DeclineCode    string       `db:"decline_code"`
	DeclineType    string       `db:"decline_type"`
	Strategy       string       `db:"strategy"`
	ClickCount     int          `db:"click_count"`
	LastClickAt    sql.NullTime `db:"last_click_at"`
	CardBrand      string       `db:"card_brand"`
	CardFunding    string       `db:"card_funding"`
	Country        string       `db:"country"`
	Requires3DS    bool         `db:"requires_3ds"`
	RawCode        string       `db:"raw_code"`
	EmailCipher    []byte       `db:"email_cipher"`
	EmailIV        []byte       `db:"email_iv"`
	EmailTag       []byte       `db:"email_tag"`
	NameCipher     []byte       `db:"name_cipher"`
	NameIV         []byte       `db:"name_iv"`
	NameTag        []byte       `db:"name_tag"`
}

func (r ghostRow) toDomain() *domain.GhostTarget {
	g := &domain.GhostTarget{
		ID:             r.ID,
		MerchantID:     r.MerchantID,
		AmountMinor:    r.AmountMinor,
		InvoiceID:      r.InvoiceID,
		SubscriptionID: r.SubscriptionID,
		Status:         domain.GhostStatus(r.Status),
		FoundAt:        r.FoundAt,
		PurgeAt:        r.PurgeAt,
		EmailCount:     r.EmailCount,
		RecoveryType:   domain.RecoveryType(r.RecoveryType),
		DeclineCode:    r.DeclineCode,
		DeclineType:    domain.DeclineType(r.DeclineType),
		Strategy:       domain.RecoveryStrategy(r.Strategy),
		ClickCount:     r.ClickCount,
		Risk: domain.RiskMeta{
			CardBrand:   r.CardBrand,
			CardFunding: r.CardFunding,
			Country:     r.Country,
			Requires3DS: r.Requires3DS,
			RawCode:     r.RawCode,
		},
		EmailCipher: r.EmailCipher,
		EmailIV:     r.EmailIV,
		EmailTag:    r.EmailTag,
		NameCipher:  r.NameCipher,
		NameIV:      r.NameIV,
		NameTag:     r.NameTag,
	}
	if r.LastEmailAt.Valid {
		t := r.LastEmailAt.Time
		g.LastEmailAt = &t
	}
	if r.RecoveredAt.Valid {
		t := r.RecoveredAt.Time
		g.RecoveredAt = &t
	}
	if r.AttribExpiry.Valid {
		t := r.AttribExpiry.Time
		g.AttribExpiry = &t
	}
	if r.LastClickAt.Valid {
		t := r.LastClickAt.Time
		g.LastClickAt = &t
	}
	return g
}

// Upsert inserts a ghost or refreshes classification and PII ciphertext
// on re-scan, keyed by the unique source invoice id. Dispatch and
// attribution bookkeeping is never touched here; the amount is
// immutable after creation. An impending ghost flips to the incoming
// status once a real failure lands for its invoice.
func (r *GhostRepo) Upsert(ctx context.Context, g *domain.GhostTarget) error {
	const q = `
		INSERT INTO ghost_targets (
			id, merchant_id, amount_minor, invoice_id, subscription_id, status, found_at, purge_at,
			email_count, recovery_type, decline_code, decline_type, strategy, click_count,
			card_brand, card_funding, country, requires_3ds, raw_code,
			email_cipher, email_iv, email_tag, name_cipher, name_iv, name_tag
		) VALUES (
			:id, :merchant_id, :amount_minor, :invoice_id, :subscription_id, :status, :found_at, :purge_at,
			0, '', :decline_code, :decline_type, :strategy, 0,
			:card_brand, :card_funding, :country, :requires_3ds, :raw_code,
			:email_cipher, :email_iv, :email_tag, :name_cipher, :name_iv, :name_tag
		)
		ON CONFLICT (invoice_id) DO UPDATE SET
			subscription_id = EXCLUDED.subscription_id,
			decline_code    = EXCLUDED.decline_code,
			decline_type    = EXCLUDED.decline_type,
			strategy        = EXCLUDED.strategy,
			card_brand      = EXCLUDED.card_brand,
			card_funding    = EXCLUDED.card_funding,
			country         = EXCLUDED.country,
			requires_3ds    = EXCLUDED.requires_3ds,
			raw_code        = EXCLUDED.raw_code,
			email_cipher    = EXCLUDED.email_cipher,
			email_iv        = EXCLUDED.email_iv,
			email_tag       = EXCLUDED.email_tag,
			name_cipher     = EXCLUDED.name_cipher,
			name_iv         = EXCLUDED.name_iv,
			name_tag        = EXCLUDED.name_tag,
			status          = CASE WHEN ghost_targets.status = 'impending'
			                       THEN EXCLUDED.status
			                       ELSE ghost_targets.status END`

	_, err := r.db.NamedExecContext(ctx, q, map[string]any{
		"id":              g.ID,
		"merchant_id":     g.MerchantID,
		"amount_minor":    g.AmountMinor,
		"invoice_id":      g.InvoiceID,
		"subscription_id": g.SubscriptionID,
		"status":          string(g.Status),
		"found_at":        g.FoundAt,
		"purge_at":        g.PurgeAt,
		"decline_code":    g.DeclineCode,
		"decline_type":    string(g.DeclineType),
		"strategy":        string(g.Strategy),
		"card_brand":      g.Risk.CardBrand,
		"card_funding":    g.Risk.CardFunding,
		"country":         g.Risk.Country,
		"requires_3ds":    g.Risk.Requires3DS,
		"raw_code":        g.Risk.RawCode,
		"email_cipher":    g.EmailCipher,
		"email_iv":        g.EmailIV,
		"email_tag":       g.EmailTag,
		"name_cipher":     g.NameCipher,
		"name_iv":         g.NameIV,
		"name_tag":        g.NameTag,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert ghost: %w", err)
	}
	return nil
}

// GetByID retrieves a ghost by id.
func (r *GhostRepo) GetByID(ctx context.Context, id string) (*domain.GhostTarget, error) {
	return r.getOne(ctx, `SELECT * FROM ghost_targets WHERE id = $1`, id)
}

// GetByInvoiceID retrieves a ghost by source invoice id.
func (r *GhostRepo) GetByInvoiceID(ctx context.Context, invoiceID string) (*domain.GhostTarget, error) {
	return r.getOne(ctx, `SELECT * FROM ghost_targets WHERE invoice_id = $1`, invoiceID)
}

func (r *GhostRepo) getOne(ctx context.Context, query, arg string) (*domain.GhostTarget, error) {
	var row ghostRow
	err := r.db.GetContext(ctx, &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ghost: %w", err)
	}
	return row.toDomain(), nil
}

// GetByMerchant retrieves all ghosts for a merchant.
func (r *GhostRepo) GetByMerchant(ctx context.Context, merchantID string) ([]*domain.GhostTarget, error) {
	var rows []ghostRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM ghost_targets WHERE merchant_id = $1 ORDER BY found_at DESC`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ghosts: %w", err)
	}
	ghosts := make([]*domain.GhostTarget, 0, len(rows))
	for _, row := range rows {
		ghosts = append(ghosts, row.toDomain())
	}
	return ghosts, nil
}

// ListDispatchCandidates returns pending ghosts past the grace period
// with remaining email attempts.
func (r *GhostRepo) ListDispatchCandidates(
	ctx context.Context,
	foundBefore time.Time,
	maxEmails int,
) ([]*domain.GhostTarget, error) {
	var rows []ghostRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM ghost_targets
		WHERE status = 'pending' AND found_at <= $1 AND email_count < $2
		ORDER BY found_at`, foundBefore, maxEmails)
	if err != nil {
		return nil, fmt.Errorf("failed to list dispatch candidates: %w", err)
	}
	ghosts := make([]*domain.GhostTarget, 0, len(rows))
	for _, row := range rows {
		ghosts = append(ghosts, row.toDomain())
	}
	return ghosts, nil
}

// RecordEmail increments the attempt counter atomically and returns
// the new count.
func (r *GhostRepo) RecordEmail(ctx context.Context, id string, at time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		UPDATE ghost_targets
		SET email_count = email_count + 1, last_email_at = $2
		WHERE id = $1
		RETURNING email_count`, id, at)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("ghost %s not found", id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record email: %w", err)
	}
	return count, nil
}

// SetStatus updates only the status field.
func (r *GhostRepo) SetStatus(ctx context.Context, id string, status domain.GhostStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE ghost_targets SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	return nil
}

// PromoteImpending flips a subscription's impending ghosts to pending.
// Called when a failed invoice arrives for a subscription that was
// only being watched for card expiry.
func (r *GhostRepo) PromoteImpending(ctx context.Context, merchantID, subscriptionID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE ghost_targets
		SET status = 'pending'
		WHERE merchant_id = $1 AND subscription_id = $2 AND status = 'impending'`,
		merchantID, subscriptionID)
	if err != nil {
		return 0, fmt.Errorf("failed to promote impending ghosts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to promote impending ghosts: %w", err)
	}
	return int(n), nil
}

// RecordClick extends the attribution window and click bookkeeping.
func (r *GhostRepo) RecordClick(ctx context.Context, id string, expiry, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE ghost_targets
		SET attrib_expiry = $2, click_count = click_count + 1, last_click_at = $3
		WHERE id = $1`, id, expiry, at)
	if err != nil {
		return false, fmt.Errorf("failed to record click: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record click: %w", err)
	}
	return n > 0, nil
}

// MarkRecovered sets recovery fields and terminal status. Already
// recovered rows are left untouched.
func (r *GhostRepo) MarkRecovered(
	ctx context.Context,
	id string,
	rtype domain.RecoveryType,
	at time.Time,
) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE ghost_targets
		SET status = 'recovered', recovery_type = $2, recovered_at = $3
		WHERE id = $1 AND status <> 'recovered'`, id, string(rtype), at)
	if err != nil {
		return false, fmt.Errorf("failed to mark recovered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark recovered: %w", err)
	}
	return n > 0, nil
}

// RecoveryStats aggregates leaked vs recovered amounts grouped on
// discovery time. Aged-out (purge-eligible) rows are included so
// historical buckets stay stable.
func (r *GhostRepo) RecoveryStats(
	ctx context.Context,
	merchantID string,
	bucket storage.StatsBucket,
) ([]storage.RecoveryStat, error) {
	var stats []storage.RecoveryStat
	err := r.db.SelectContext(ctx, &stats, `
		SELECT date_trunc($2, found_at) AS bucket,
		       COALESCE(SUM(amount_minor), 0) AS leaked_minor,
		       COALESCE(SUM(amount_minor) FILTER (WHERE status = 'recovered'), 0) AS recovered_minor,
		       COUNT(*) AS ghosts,
		       COUNT(*) FILTER (WHERE status = 'recovered') AS recovered
		FROM ghost_targets
		WHERE merchant_id = $1
		GROUP BY 1
		ORDER BY 1`, merchantID, string(bucket))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate recovery stats: %w", err)
	}
	return stats, nil
}
