package dispatch

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/sentinel/internal/core/domain"
	"github.com/vietddude/sentinel/internal/infra/storage/memory"
	"github.com/vietddude/sentinel/internal/vault"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (m *fakeMailer) SendRecoveryEmail(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type pulseEnv struct {
	ghosts *memory.GhostRepo
	vault  *vault.Vault
	mailer *fakeMailer
	pulse  *Pulse
	now    time.Time
}

func newPulseEnv(t *testing.T) *pulseEnv {
	t.Helper()
	v, err := vault.New(bytes.Repeat([]byte{0x24}, vault.KeySize))
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	env := &pulseEnv{
		ghosts: memory.NewGhostRepo(memory.NewMemoryStorage()),
		vault:  v,
		mailer: &fakeMailer{},
		now:    time.Date(2026, time.August, 20, 12, 0, 0, 0, time.UTC),
	}
	env.pulse = NewPulse(DefaultPulseConfig(), env.ghosts, v, env.mailer)
	env.pulse.now = func() time.Time { return env.now }
	return env
}

func (e *pulseEnv) addGhost(t *testing.T, foundAgo time.Duration, status domain.GhostStatus) *domain.GhostTarget {
	t.Helper()
	email, err := e.vault.Encrypt([]byte("customer@example.com"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	name, err := e.vault.Encrypt([]byte("Sam Customer"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	g := &domain.GhostTarget{
		ID:          uuid.NewString(),
		MerchantID:  "m1",
		AmountMinor: 2500,
		InvoiceID:   "in_" + uuid.NewString(),
		Status:      status,
		FoundAt:     e.now.Add(-foundAgo),
		PurgeAt:     e.now.Add(90 * 24 * time.Hour),
		DeclineType: domain.DeclineSoft,
		Strategy:    domain.StrategySmartRetry,
		EmailCipher: email.Ciphertext, EmailIV: email.IV, EmailTag: email.Tag,
		NameCipher: name.Ciphertext, NameIV: name.IV, NameTag: name.Tag,
	}
	if err := e.ghosts.Upsert(context.Background(), g); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return g
}

func TestPulse_GracePeriod(t *testing.T) {
	env := newPulseEnv(t)
	env.addGhost(t, 1*time.Hour, domain.GhostStatusPending)  // too fresh
	due := env.addGhost(t, 5*time.Hour, domain.GhostStatusPending)

	summary, err := env.pulse.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if env.mailer.count() != 1 {
		t.Fatalf("expected 1 send, got %d", env.mailer.count())
	}

	msg := env.mailer.sent[0]
	if msg.GhostID != due.ID || msg.To != "customer@example.com" || msg.Attempt != 1 {
		t.Errorf("unexpected message: %+v", msg)
	}
	if !strings.Contains(summary, "sent=1") {
		t.Errorf("unexpected summary: %q", summary)
	}

	// The fresh ghost becomes due once the grace period elapses.
	env.now = env.now.Add(4 * time.Hour)
	if _, err := env.pulse.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if env.mailer.count() != 3 { // both ghosts due now
		t.Errorf("expected 3 total sends, got %d", env.mailer.count())
	}
}

func TestPulse_OnlyPendingDispatched(t *testing.T) {
	env := newPulseEnv(t)
	env.addGhost(t, 10*time.Hour, domain.GhostStatusImpending)
	env.addGhost(t, 10*time.Hour, domain.GhostStatusRecovered)
	env.addGhost(t, 10*time.Hour, domain.GhostStatusExhausted)

	if _, err := env.pulse.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if env.mailer.count() != 0 {
		t.Errorf("non-pending ghosts must never be emailed, got %d sends", env.mailer.count())
	}
}

func TestPulse_AttemptCapAndExhaustion(t *testing.T) {
	ctx := context.Background()
	env := newPulseEnv(t)
	g := env.addGhost(t, 10*time.Hour, domain.GhostStatusPending)

	for i := 1; i <= domain.MaxEmailAttempts; i++ {
		if _, err := env.pulse.Run(ctx); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if env.mailer.count() != domain.MaxEmailAttempts {
		t.Fatalf("expected %d sends, got %d", domain.MaxEmailAttempts, env.mailer.count())
	}

	got, _ := env.ghosts.GetByID(ctx, g.ID)
	if got.Status != domain.GhostStatusExhausted {
		t.Errorf("ghost should be exhausted after final attempt, got %s", got.Status)
	}
	if got.EmailCount != domain.MaxEmailAttempts {
		t.Errorf("email count = %d, want %d", got.EmailCount, domain.MaxEmailAttempts)
	}

	// Exhausted is terminal: further ticks are no-ops.
	if _, err := env.pulse.Run(ctx); err != nil {
		t.Fatalf("post-exhaustion run: %v", err)
	}
	if env.mailer.count() != domain.MaxEmailAttempts {
		t.Errorf("exhausted ghost was emailed again")
	}
}

func TestPulse_FailedSendConsumesNoAttempt(t *testing.T) {
	ctx := context.Background()
	env := newPulseEnv(t)
	g := env.addGhost(t, 10*time.Hour, domain.GhostStatusPending)

	env.mailer.err = errors.New("smtp down")
	summary, err := env.pulse.Run(ctx)
	if err != nil {
		t.Fatalf("tick must survive send failures: %v", err)
	}
	if !strings.Contains(summary, "failed=1") {
		t.Errorf("unexpected summary: %q", summary)
	}

	got, _ := env.ghosts.GetByID(ctx, g.ID)
	if got.EmailCount != 0 || got.LastEmailAt != nil {
		t.Errorf("failed send must not consume an attempt: %+v", got)
	}

	// Recovery of the mailer retries the same ghost.
	env.mailer.err = nil
	if _, err := env.pulse.Run(ctx); err != nil {
		t.Fatalf("run after mailer recovery: %v", err)
	}
	got, _ = env.ghosts.GetByID(ctx, g.ID)
	if got.EmailCount != 1 {
		t.Errorf("expected 1 attempt after retry, got %d", got.EmailCount)
	}
}

func TestPulse_AttemptNumbersIncrease(t *testing.T) {
	ctx := context.Background()
	env := newPulseEnv(t)
	env.addGhost(t, 10*time.Hour, domain.GhostStatusPending)

	for i := 0; i < domain.MaxEmailAttempts; i++ {
		if _, err := env.pulse.Run(ctx); err != nil {
			t.Fatalf("run: %v", err)
		}
	}
	for i, msg := range env.mailer.sent {
		if msg.Attempt != i+1 {
			t.Errorf("send %d carried attempt %d", i, msg.Attempt)
		}
	}
}

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"sam@example.com": "s***@example.com",
		"a@b.co":          "a***@b.co",
		"not-an-email":    "***",
		"":                "***",
	}
	for in, want := range cases {
		if got := maskEmail(in); got != want {
			t.Errorf("maskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
