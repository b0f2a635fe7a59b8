package domain

import "time"

// GhostTarget is one recoverable customer, tied to a single failed
// invoice. PII (email, name) is never held here in plaintext, only
// as vault ciphertext.
type GhostTarget struct {
	ID             string           `json:"id"`
	MerchantID     string           `json:"merchant_id"`
	AmountMinor    int64            `json:"amount_minor"`    // immutable after creation
	InvoiceID      string           `json:"invoice_id"`      // unique source invoice id, upsert key
	SubscriptionID string           `json:"subscription_id"` // links impending ghosts to later failures
	Status         GhostStatus      `json:"status"`
	FoundAt        time.Time        `json:"found_at"`
	PurgeAt        time.Time        `json:"purge_at"`
	LastEmailAt    *time.Time       `json:"last_email_at"`
	EmailCount     int              `json:"email_count"` // 0..MaxEmailAttempts
	RecoveredAt    *time.Time       `json:"recovered_at"`
	AttribExpiry   *time.Time       `json:"attrib_expiry"`
	RecoveryType   RecoveryType     `json:"recovery_type,omitempty"`
	DeclineCode    string           `json:"decline_code"`
	DeclineType    DeclineType      `json:"decline_type"`
	Strategy       RecoveryStrategy `json:"strategy"`
	ClickCount     int              `json:"click_count"`
	LastClickAt    *time.Time       `json:"last_click_at"`
	Risk           RiskMeta         `json:"risk"`

	// Vault-encrypted PII.
	EmailCipher []byte `json:"-"`
	EmailIV     []byte `json:"-"`
	EmailTag    []byte `json:"-"`
	NameCipher  []byte `json:"-"`
	NameIV      []byte `json:"-"`
	NameTag     []byte `json:"-"`
}

// RiskMeta holds non-PII payment risk attributes extracted at scan time.
type RiskMeta struct {
	CardBrand   string `json:"card_brand"`
	CardFunding string `json:"card_funding"`
	Country     string `json:"country"`
	Requires3DS bool   `json:"requires_3ds"`
	RawCode     string `json:"raw_code"`
}

type GhostStatus string

const (
	GhostStatusPending   GhostStatus = "pending"
	GhostStatusImpending GhostStatus = "impending" // card expiring soon, not yet failed
	GhostStatusRecovered GhostStatus = "recovered"
	GhostStatusExhausted GhostStatus = "exhausted"
)

// Terminal reports whether automated handling is finished for the status.
func (s GhostStatus) Terminal() bool {
	return s == GhostStatusRecovered || s == GhostStatusExhausted
}

type DeclineType string

const (
	DeclineSoft DeclineType = "soft"
	DeclineHard DeclineType = "hard"
)

type RecoveryType string

const (
	RecoveryDirect  RecoveryType = "direct"
	RecoveryOrganic RecoveryType = "organic"
)

type RecoveryStrategy string

const (
	StrategyTechnicalBridge RecoveryStrategy = "technical_bridge"
	StrategyHighValueManual RecoveryStrategy = "high_value_manual"
	StrategyCardRefresh     RecoveryStrategy = "card_refresh"
	StrategySmartRetry      RecoveryStrategy = "smart_retry"
)

// MaxEmailAttempts is the hard cap on automated recovery emails per ghost.
const MaxEmailAttempts = 3

// AttributionWindow is how long after a recovery-link click a payment
// is still credited to the outreach.
const AttributionWindow = 24 * time.Hour
