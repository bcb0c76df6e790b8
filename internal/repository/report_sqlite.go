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

// SQLiteReportCacheRepository implements ReportCacheRepository using SQLite.
// Thread-safe with WAL mode for high-concurrency reads.
type SQLiteReportCacheRepository struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteReportCacheRepository creates a new SQLite report cache repository.
// dbPath is the path to the SQLite database file (e.g., "./data/reports.db")
func NewSQLiteReportCacheRepository(dbPath string) (*SQLiteReportCacheRepository, error) {
	// Open with WAL mode and other optimizations
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports 1 writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Keep connection alive

	if err := createReportCacheTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("[SQLiteReportCacheRepository] Initialized with database: %s", dbPath)
	return &SQLiteReportCacheRepository{db: db}, nil
}

// createReportCacheTables creates the report cache table.
func createReportCacheTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS report_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vin TEXT NOT NULL,
		report_type TEXT NOT NULL,
		payload BLOB NOT NULL,
		stored_at DATETIME NOT NULL,
		UNIQUE(vin, report_type)
	);
	CREATE INDEX IF NOT EXISTS idx_report_cache_vin ON report_cache(vin);
	CREATE INDEX IF NOT EXISTS idx_report_cache_stored_at ON report_cache(stored_at);
	`
	_, err := db.Exec(query)
	return err
}

// Get retrieves a cached report by (vin, reportType). A miss is (nil, nil).
func (r *SQLiteReportCacheRepository) Get(ctx context.Context, vinRaw, reportType string) (*model.CachedReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vin, reportType := normalizeCacheKey(vinRaw, reportType)
	query := `SELECT id, vin, report_type, payload, stored_at FROM report_cache WHERE vin = ? AND report_type = ?`

	var entry model.CachedReport
	err := r.db.QueryRowContext(ctx, query, vin, reportType).Scan(
		&entry.ID, &entry.VIN, &entry.ReportType, &entry.Payload, &entry.StoredAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached report: %w", err)
	}

	return &entry, nil
}

// Put inserts or overwrites the cached report for (vin, reportType).
// Overwrite is last-write-wins; report content for a VIN is idempotent.
func (r *SQLiteReportCacheRepository) Put(ctx context.Context, vinRaw, reportType string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	vin, reportType := normalizeCacheKey(vinRaw, reportType)
	query := `
		INSERT INTO report_cache (vin, report_type, payload, stored_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(vin, report_type) DO UPDATE SET
			payload = excluded.payload,
			stored_at = excluded.stored_at`

	_, err := r.db.ExecContext(ctx, query, vin, reportType, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to put cached report: %w", err)
	}
	return nil
}

// Exists reports whether a cache entry is present.
func (r *SQLiteReportCacheRepository) Exists(ctx context.Context, vinRaw, reportType string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vin, reportType := normalizeCacheKey(vinRaw, reportType)
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM report_cache WHERE vin = ? AND report_type = ?`,
		vin, reportType).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check cached report: %w", err)
	}
	return count > 0, nil
}

// Stats returns statistics about the report cache database.
func (r *SQLiteReportCacheRepository) Stats(ctx context.Context) (map[string]interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]interface{})

	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM report_cache").Scan(&count); err != nil {
		return nil, err
	}
	stats["cached_reports"] = count

	var lastStored sql.NullTime
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(stored_at) FROM report_cache").Scan(&lastStored); err == nil && lastStored.Valid {
		stats["last_stored"] = lastStored.Time
	}

	// Database file size (approximate from page count)
	var pageCount, pageSize int64
	r.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	r.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
	stats["db_size_bytes"] = pageCount * pageSize

	return stats, nil
}

// Close closes the database connection.
func (r *SQLiteReportCacheRepository) Close() error {
	return r.db.Close()
}

// Ensure SQLiteReportCacheRepository implements ReportCacheRepository
var _ ReportCacheRepository = (*SQLiteReportCacheRepository)(nil)
