package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/sentinel/internal/core/domain"
)

// CredentialRepo implements storage.CredentialRepository using PostgreSQL.
type CredentialRepo struct {
	db *DB
}

// NewCredentialRepo creates a new PostgreSQL credential repository.
func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

type credentialRow struct {
	MerchantID string    `db:"merchant_id"`
	KeyCipher  []byte    `db:"key_cipher"`
	KeyIV      []byte    `db:"key_iv"`
	KeyTag     []byte    `db:"key_tag"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// Get retrieves a merchant credential.
func (r *CredentialRepo) Get(ctx context.Context, merchantID string) (*domain.MerchantCredential, error) {
	var row credentialRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM merchant_credentials WHERE merchant_id = $1`, merchantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &domain.MerchantCredential{
		MerchantID: row.MerchantID,
		KeyCipher:  row.KeyCipher,
		KeyIV:      row.KeyIV,
		KeyTag:     row.KeyTag,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}

// Save inserts or replaces a merchant credential.
func (r *CredentialRepo) Save(ctx context.Context, cred *domain.MerchantCredential) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO merchant_credentials (merchant_id, key_cipher, key_iv, key_tag, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (merchant_id) DO UPDATE SET
			key_cipher = EXCLUDED.key_cipher,
			key_iv     = EXCLUDED.key_iv,
			key_tag    = EXCLUDED.key_tag,
			updated_at = EXCLUDED.updated_at`,
		cred.MerchantID, cred.KeyCipher, cred.KeyIV, cred.KeyTag, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// ListMerchants returns all merchant ids with stored credentials.
func (r *CredentialRepo) ListMerchants(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids,
		`SELECT merchant_id FROM merchant_credentials ORDER BY merchant_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list merchants: %w", err)
	}
	return ids, nil
}
