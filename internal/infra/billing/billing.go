// Package billing provides read access to the external invoice ledger.
//
// Payloads cross this boundary as typed DTOs with required-field
// validation; rate limiting surfaces as a distinguished error value so
// callers branch explicitly instead of string-matching.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RateLimitError signals the source throttled us. Retryable after a
// bounded pause.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("billing source rate limited, retry after %v", e.RetryAfter)
}

// IsRateLimit reports whether err is (or wraps) a RateLimitError.
func IsRateLimit(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// AdapterError is any other classified failure from the source.
type AdapterError struct {
	Op         string
	StatusCode int
	Msg        string
}

func (e *AdapterError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("billing %s: http %d: %s", e.Op, e.StatusCode, e.Msg)
	}
	return fmt.Sprintf("billing %s: %s", e.Op, e.Msg)
}

// InvoiceStatus is the ledger's view of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusPaid   InvoiceStatus = "paid"
	InvoiceStatusFailed InvoiceStatus = "failed"
	InvoiceStatusOpen   InvoiceStatus = "open"
	InvoiceStatusVoid   InvoiceStatus = "void"
)

// InvoiceRecord is one ledger entry, decoded and typed at the boundary.
type InvoiceRecord struct {
	InvoiceID          string        `json:"invoice_id"`
	SubscriptionID     string        `json:"subscription_id"`
	SubscriptionActive bool          `json:"subscription_active"`
	Status             InvoiceStatus `json:"status"`
	AmountMinor        int64         `json:"amount_minor"`
	Currency           string        `json:"currency"`
	CustomerEmail      string        `json:"customer_email"`
	CustomerName       string        `json:"customer_name"`
	CardBrand          string        `json:"card_brand"`
	CardFunding        string        `json:"card_funding"`
	Country            string        `json:"country"`
	Requires3DS        bool          `json:"requires_3ds"`
	DeclineCode        string        `json:"decline_code"`
	CardExpMonth       int           `json:"card_exp_month"`
	CardExpYear        int           `json:"card_exp_year"`
	CreatedAt          time.Time     `json:"created_at"`
}

// Validate rejects records missing required fields before they reach
// the engine.
func (r *InvoiceRecord) Validate() error {
	if r.InvoiceID == "" {
		return errors.New("invoice record missing invoice_id")
	}
	if r.Status == "" {
		return fmt.Errorf("invoice %s missing status", r.InvoiceID)
	}
	if r.AmountMinor < 0 {
		return fmt.Errorf("invoice %s has negative amount", r.InvoiceID)
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("invoice %s missing created_at", r.InvoiceID)
	}
	return nil
}

// CardExpiringWithin reports whether the card on file expires within d
// of now. Unknown expiry is never expiring.
func (r *InvoiceRecord) CardExpiringWithin(d time.Duration, now time.Time) bool {
	if r.CardExpYear == 0 || r.CardExpMonth < 1 || r.CardExpMonth > 12 {
		return false
	}
	// Cards are valid through the last instant of their expiry month.
	expiry := time.Date(r.CardExpYear, time.Month(r.CardExpMonth), 1, 0, 0, 0, 0, time.UTC).
		AddDate(0, 1, 0)
	return expiry.Before(now.Add(d))
}

// Page is one slice of the paginated invoice history.
type Page struct {
	Invoices   []InvoiceRecord `json:"invoices"`
	NextCursor string          `json:"next_cursor"`
	HasMore    bool            `json:"has_more"`
}

// Source reads a merchant's invoice history.
type Source interface {
	// ListInvoices fetches one page; an empty cursor starts from the
	// beginning. May return *RateLimitError.
	ListInvoices(ctx context.Context, credential, cursor string) (*Page, error)
}
