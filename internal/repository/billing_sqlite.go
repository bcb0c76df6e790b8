package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"vinreports-api/internal/model"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// SQLiteBillingRepository implements BillingRepository using SQLite.
// Balance mutations and their ledger entries are written in one
// transaction, so the SUM(delta) == balance invariant holds at all times.
type SQLiteBillingRepository struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteBillingRepository creates a new SQLite billing repository.
func NewSQLiteBillingRepository(dbPath string) (*SQLiteBillingRepository, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports 1 writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := createBillingTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("[SQLiteBillingRepository] Initialized with database: %s", dbPath)
	return &SQLiteBillingRepository{db: db}, nil
}

// createBillingTables creates the balance, ledger, intent and
// reconciliation tables.
func createBillingTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS credit_balances (
		user_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0)
	);
	CREATE TABLE IF NOT EXISTS credit_ledger (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		delta INTEGER NOT NULL,
		reason TEXT NOT NULL,
		ref TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_credit_ledger_user ON credit_ledger(user_id);
	CREATE TABLE IF NOT EXISTS purchase_intents (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		vin TEXT NOT NULL DEFAULT '',
		report_type TEXT NOT NULL DEFAULT '',
		price_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS processed_sessions (
		session_id TEXT PRIMARY KEY,
		processed_at DATETIME NOT NULL
	);
	`
	_, err := db.Exec(query)
	return err
}

// GetBalance returns the current credit balance for a user. Unknown users
// have a zero balance.
func (r *SQLiteBillingRepository) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx,
		`SELECT balance FROM credit_balances WHERE user_id = ?`, userID).Scan(&balance)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// Adjust applies a signed delta to a user's balance and appends the
// matching ledger entry in one transaction. A spend that would go negative
// returns ErrInsufficientCredits without touching either table.
func (r *SQLiteBillingRepository) Adjust(ctx context.Context, userID string, delta int64, reason model.LedgerReason, ref string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Ensure a balance row exists so the conditional update below has a
	// target even for first-time users.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credit_balances (user_id, balance) VALUES (?, 0)
		 ON CONFLICT(user_id) DO NOTHING`, userID); err != nil {
		return 0, fmt.Errorf("failed to ensure balance row: %w", err)
	}

	// The balance guard lives in the WHERE clause: a debit that would go
	// negative matches zero rows and nothing is written.
	result, err := tx.ExecContext(ctx,
		`UPDATE credit_balances SET balance = balance + ?
		 WHERE user_id = ? AND balance + ? >= 0`, delta, userID, delta)
	if err != nil {
		return 0, fmt.Errorf("failed to adjust balance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, ErrInsufficientCredits
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credit_ledger (user_id, delta, reason, ref, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		userID, delta, string(reason), ref, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	var balance int64
	if err := tx.QueryRowContext(ctx,
		`SELECT balance FROM credit_balances WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("failed to read new balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return balance, nil
}

// LedgerEntries returns the most recent ledger entries for a user.
func (r *SQLiteBillingRepository) LedgerEntries(ctx context.Context, userID string, limit int) ([]model.CreditLedgerEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, delta, reason, ref, created_at
		 FROM credit_ledger WHERE user_id = ?
		 ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []model.CreditLedgerEntry
	for rows.Next() {
		var e model.CreditLedgerEntry
		var reason string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &reason, &e.Ref, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Reason = model.LedgerReason(reason)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CreateIntent records what a checkout session was opened for.
func (r *SQLiteBillingRepository) CreateIntent(ctx context.Context, intent *model.PurchaseIntent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO purchase_intents (session_id, user_id, vin, report_type, price_id, kind, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		intent.SessionID, intent.UserID, intent.VIN, intent.ReportType,
		intent.PriceID, string(intent.Kind), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create purchase intent: %w", err)
	}
	return nil
}

// GetIntent retrieves a purchase intent by session id. A miss is (nil, nil).
func (r *SQLiteBillingRepository) GetIntent(ctx context.Context, sessionID string) (*model.PurchaseIntent, error) {
	var intent model.PurchaseIntent
	var kind string
	err := r.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, vin, report_type, price_id, kind, created_at
		 FROM purchase_intents WHERE session_id = ?`, sessionID).Scan(
		&intent.SessionID, &intent.UserID, &intent.VIN, &intent.ReportType,
		&intent.PriceID, &kind, &intent.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get purchase intent: %w", err)
	}
	intent.Kind = model.IntentKind(kind)
	return &intent, nil
}

// MarkSessionProcessed atomically records a session id as reconciled.
// INSERT OR IGNORE makes the check-and-set a single step: exactly one
// caller per session observes true, so the webhook and the synchronous
// finalize path cannot both apply a credit grant.
func (r *SQLiteBillingRepository) MarkSessionProcessed(ctx context.Context, sessionID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_sessions (session_id, processed_at) VALUES (?, ?)`,
		sessionID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to mark session processed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ClearSessionProcessed removes the reconciled marker for a session so a
// failed credit grant can be retried on redelivery.
func (r *SQLiteBillingRepository) ClearSessionProcessed(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM processed_sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to clear processed marker: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *SQLiteBillingRepository) Close() error {
	return r.db.Close()
}

// Ensure SQLiteBillingRepository implements BillingRepository
var _ BillingRepository = (*SQLiteBillingRepository)(nil)
