package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
)

// guardTTL bounds how long an audit-acceptance critical section can
// hold a merchant lease. The section is a single existence check plus
// an insert; 30 seconds is generous.
const guardTTL = 30 * time.Second

// MerchantGuard serializes audit acceptance per merchant across
// replicas with a short Redis lease.
type MerchantGuard struct {
	locker *redislock.Client
}

// NewMerchantGuard creates a guard over an established connection.
func NewMerchantGuard(client *Client) *MerchantGuard {
	return &MerchantGuard{locker: redislock.New(client.rdb)}
}

func guardKey(merchantID string) string {
	return fmt.Sprintf("audit_guard:%s", merchantID)
}

// Lock obtains the merchant lease. The returned release must always be
// called; a lease that could not be obtained reports an error and the
// caller falls back to its database check.
func (g *MerchantGuard) Lock(ctx context.Context, merchantID string) (func(), error) {
	l, err := g.locker.Obtain(ctx, guardKey(merchantID), guardTTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("merchant %s guard held elsewhere", merchantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain merchant guard: %w", err)
	}
	return func() {
		_ = l.Release(context.Background())
	}, nil
}
