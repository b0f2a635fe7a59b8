package domain

import "time"

// MerchantCredential is a billing-source access credential at rest.
// The secret only exists as vault ciphertext.
type MerchantCredential struct {
	MerchantID string    `json:"merchant_id"`
	KeyCipher  []byte    `json:"-"`
	KeyIV      []byte    `json:"-"`
	KeyTag     []byte    `json:"-"`
	UpdatedAt  time.Time `json:"updated_at"`
}
