package audit

import (
	"strings"

	"github.com/vietddude/sentinel/internal/core/domain"
)

// HighValueThresholdMinor is the amount (minor units) at or above
// which an invoice is escalated to manual handling.
const HighValueThresholdMinor = 50000

// hardDeclineCodes are permanent failures: the card on file will never
// work again and must be replaced.
var hardDeclineCodes = map[string]bool{
	"stolen_card":                      true,
	"lost_card":                        true,
	"pickup_card":                      true,
	"expired_card":                     true,
	"incorrect_number":                 true,
	"invalid_account":                  true,
	"card_not_supported":               true,
	"restricted_card":                  true,
	"fraudulent":                       true,
	"security_violation":               true,
	"revocation_of_all_authorizations": true,
}

// ClassifyDecline buckets a raw decline code into soft (retriable) or
// hard (requires a card update). Unknown codes default to soft: a
// retry is cheap, a wrongly demanded card update is not.
func ClassifyDecline(code string) domain.DeclineType {
	if hardDeclineCodes[strings.ToLower(strings.TrimSpace(code))] {
		return domain.DeclineHard
	}
	return domain.DeclineSoft
}

// ResolveStrategy applies the fixed-priority decision table, first
// match wins:
//
//  1. strong authentication required  → technical_bridge
//  2. amount ≥ 50000 minor units      → high_value_manual
//  3. hard decline                    → card_refresh
//  4. otherwise                       → smart_retry
//
// An authentication failure is only recoverable through a dedicated
// flow regardless of value, so it preempts everything; high-value
// invoices below that bar go to a human before any automated path.
func ResolveStrategy(requires3DS bool, amountMinor int64, decline domain.DeclineType) domain.RecoveryStrategy {
	switch {
	case requires3DS:
		return domain.StrategyTechnicalBridge
	case amountMinor >= HighValueThresholdMinor:
		return domain.StrategyHighValueManual
	case decline == domain.DeclineHard:
		return domain.StrategyCardRefresh
	default:
		return domain.StrategySmartRetry
	}
}
