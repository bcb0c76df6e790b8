package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"vinreports-api/internal/model"
)

// MySQLUserAccountRepository implements UserAccountRepository using MySQL.
// User accounts live in the existing accounts database; this service only
// reads them to resolve API keys during token generation.
type MySQLUserAccountRepository struct {
	db *sql.DB
}

// NewMySQLUserAccountRepository creates a new MySQL user account repository.
func NewMySQLUserAccountRepository(db *sql.DB) *MySQLUserAccountRepository {
	return &MySQLUserAccountRepository{db: db}
}

// ValidateAPIKey resolves an API key to an active user account.
func (r *MySQLUserAccountRepository) ValidateAPIKey(ctx context.Context, apiKey string) (*model.UserAccount, error) {
	log.Printf("[UserAccountRepository] Validating API key")

	query := `
		SELECT
			ua.user_id,
			ua.email,
			ua.status
		FROM user_accounts ua
		JOIN api_keys ak ON ak.user_id = ua.user_id
		WHERE ak.api_key = ?
		  AND ak.is_active = 1
		  AND LOWER(ua.status) = 'active'
		LIMIT 1`

	var account model.UserAccount
	err := r.db.QueryRowContext(ctx, query, apiKey).Scan(
		&account.UserID,
		&account.Email,
		&account.Status,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("invalid API key or account not found")
		}
		return nil, fmt.Errorf("failed to validate API key: %w", err)
	}

	return &account, nil
}

// Ensure MySQLUserAccountRepository implements UserAccountRepository
var _ UserAccountRepository = (*MySQLUserAccountRepository)(nil)
