package attribution

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/sentinel/internal/core/domain"
	"github.com/vietddude/sentinel/internal/infra/storage/memory"
)

type resolverEnv struct {
	ghosts   *memory.GhostRepo
	resolver *Resolver
	now      time.Time
}

func newResolverEnv(t *testing.T) *resolverEnv {
	t.Helper()
	env := &resolverEnv{
		ghosts: memory.NewGhostRepo(memory.NewMemoryStorage()),
		now:    time.Date(2026, time.August, 20, 12, 0, 0, 0, time.UTC),
	}
	env.resolver = NewResolver(env.ghosts)
	env.resolver.now = func() time.Time { return env.now }
	return env
}

func (e *resolverEnv) addGhost(t *testing.T, invoiceID string) *domain.GhostTarget {
	t.Helper()
	g := &domain.GhostTarget{
		ID:          uuid.NewString(),
		MerchantID:  "m1",
		AmountMinor: 2500,
		InvoiceID:   invoiceID,
		Status:      domain.GhostStatusPending,
		FoundAt:     e.now.Add(-24 * time.Hour),
	}
	if err := e.ghosts.Upsert(context.Background(), g); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return g
}

func TestResolver_DirectInsideWindow(t *testing.T) {
	ctx := context.Background()
	env := newResolverEnv(t)
	g := env.addGhost(t, "in_1")

	if err := env.resolver.OnLinkClicked(ctx, g.ID); err != nil {
		t.Fatalf("OnLinkClicked: %v", err)
	}

	env.now = env.now.Add(23 * time.Hour)
	if err := env.resolver.OnPaymentConfirmed(ctx, "in_1"); err != nil {
		t.Fatalf("OnPaymentConfirmed: %v", err)
	}

	got, _ := env.ghosts.GetByID(ctx, g.ID)
	if got.Status != domain.GhostStatusRecovered {
		t.Fatalf("ghost not recovered: %s", got.Status)
	}
	if got.RecoveryType != domain.RecoveryDirect {
		t.Errorf("payment inside the click window must be direct, got %s", got.RecoveryType)
	}
	if got.RecoveredAt == nil || !got.RecoveredAt.Equal(env.now) {
		t.Errorf("recovered_at not stamped: %v", got.RecoveredAt)
	}
	if got.ClickCount != 1 || got.LastClickAt == nil {
		t.Errorf("click not recorded: %+v", got)
	}
}

func TestResolver_OrganicAfterWindow(t *testing.T) {
	ctx := context.Background()
	env := newResolverEnv(t)
	g := env.addGhost(t, "in_1")

	if err := env.resolver.OnLinkClicked(ctx, g.ID); err != nil {
		t.Fatalf("OnLinkClicked: %v", err)
	}

	env.now = env.now.Add(25 * time.Hour)
	if err := env.resolver.OnPaymentConfirmed(ctx, "in_1"); err != nil {
		t.Fatalf("OnPaymentConfirmed: %v", err)
	}

	got, _ := env.ghosts.GetByID(ctx, g.ID)
	if got.RecoveryType != domain.RecoveryOrganic {
		t.Errorf("payment after the window must be organic, got %s", got.RecoveryType)
	}
}

func TestResolver_OrganicWithoutClick(t *testing.T) {
	ctx := context.Background()
	env := newResolverEnv(t)
	g := env.addGhost(t, "in_1")

	if err := env.resolver.OnPaymentConfirmed(ctx, "in_1"); err != nil {
		t.Fatalf("OnPaymentConfirmed: %v", err)
	}
	got, _ := env.ghosts.GetByID(ctx, g.ID)
	if got.Status != domain.GhostStatusRecovered || got.RecoveryType != domain.RecoveryOrganic {
		t.Errorf("never-clicked recovery must be organic: %+v", got)
	}
}

func TestResolver_LaterClickExtendsWindow(t *testing.T) {
	ctx := context.Background()
	env := newResolverEnv(t)
	g := env.addGhost(t, "in_1")

	if err := env.resolver.OnLinkClicked(ctx, g.ID); err != nil {
		t.Fatalf("first click: %v", err)
	}
	env.now = env.now.Add(30 * time.Hour) // first window expired
	if err := env.resolver.OnLinkClicked(ctx, g.ID); err != nil {
		t.Fatalf("second click: %v", err)
	}

	env.now = env.now.Add(2 * time.Hour)
	if err := env.resolver.OnPaymentConfirmed(ctx, "in_1"); err != nil {
		t.Fatalf("OnPaymentConfirmed: %v", err)
	}

	got, _ := env.ghosts.GetByID(ctx, g.ID)
	if got.RecoveryType != domain.RecoveryDirect {
		t.Errorf("latest click opens a fresh window, got %s", got.RecoveryType)
	}
	if got.ClickCount != 2 {
		t.Errorf("expected 2 clicks, got %d", got.ClickCount)
	}
}

func TestResolver_UnknownsAreNoOps(t *testing.T) {
	ctx := context.Background()
	env := newResolverEnv(t)

	if err := env.resolver.OnLinkClicked(ctx, "ghost-missing"); err != nil {
		t.Errorf("unknown ghost click must be a silent no-op: %v", err)
	}
	if err := env.resolver.OnPaymentConfirmed(ctx, "in_missing"); err != nil {
		t.Errorf("unknown invoice payment must be a silent no-op: %v", err)
	}
}

func TestResolver_RecoveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newResolverEnv(t)
	g := env.addGhost(t, "in_1")

	if err := env.resolver.OnLinkClicked(ctx, g.ID); err != nil {
		t.Fatalf("click: %v", err)
	}
	if err := env.resolver.OnPaymentConfirmed(ctx, "in_1"); err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	first, _ := env.ghosts.GetByID(ctx, g.ID)

	// A replayed webhook must not flip the attribution.
	env.now = env.now.Add(48 * time.Hour)
	if err := env.resolver.OnPaymentConfirmed(ctx, "in_1"); err != nil {
		t.Fatalf("replayed confirm: %v", err)
	}
	second, _ := env.ghosts.GetByID(ctx, g.ID)
	if second.RecoveryType != first.RecoveryType || !second.RecoveredAt.Equal(*first.RecoveredAt) {
		t.Errorf("replay changed the recovery record: %+v vs %+v", first, second)
	}
}
