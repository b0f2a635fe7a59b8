package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"github.com/vietddude/sentinel/internal/core/domain"
)

// Message is one recovery email, fully resolved: PII decrypted just
// before the send, never stored.
type Message struct {
	GhostID     string
	MerchantID  string
	InvoiceID   string
	To          string
	Name        string
	AmountMinor int64
	Strategy    domain.RecoveryStrategy
	DeclineType domain.DeclineType
	Attempt     int // 1-based
}

// Mailer delivers recovery emails. A failed send consumes no attempt.
type Mailer interface {
	SendRecoveryEmail(ctx context.Context, msg Message) error
}

// LogMailer is the default sink when no delivery provider is
// configured: it logs the send instead of delivering it, with the
// address masked.
type LogMailer struct {
	log *slog.Logger
}

func NewLogMailer() *LogMailer {
	return &LogMailer{log: slog.Default()}
}

func (m *LogMailer) SendRecoveryEmail(ctx context.Context, msg Message) error {
	m.log.Info("recovery email (log only)",
		"ghost", msg.GhostID,
		"merchant", msg.MerchantID,
		"invoice", msg.InvoiceID,
		"to", maskEmail(msg.To),
		"amount_minor", msg.AmountMinor,
		"strategy", msg.Strategy,
		"decline_type", msg.DeclineType,
		"attempt", msg.Attempt,
	)
	return nil
}

// maskEmail keeps the first character and the domain.
func maskEmail(addr string) string {
	at := strings.IndexByte(addr, '@')
	if at <= 0 {
		return "***"
	}
	return addr[:1] + "***" + addr[at:]
}
