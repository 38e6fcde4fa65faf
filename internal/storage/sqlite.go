// Package storage provides data persistence functionality for the crawler.
// It implements SQLite-based storage for the crawl queue, the visited set,
// page and discovery results, errors and run metadata.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/masahif/linkmapper/internal/crawler"
	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool - single connection prevents lock conflicts
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	storage := &SQLiteStorage{db: db}

	// Initialize schema
	if err := storage.InitSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// InitSchema creates the database schema
func (s *SQLiteStorage) InitSchema() error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 30000",  // 30 second timeout for locks
		"PRAGMA locking_mode = NORMAL", // Allow external monitoring processes
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// AddToQueue adds entries to the queue (pages table with status='queued').
// INSERT OR IGNORE on url_normalized makes the table the visited set; the
// returned count excludes entries already known.
func (s *SQLiteStorage) AddToQueue(entries []crawler.QueueEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO pages (url, url_normalized, depth, status, added_at)
		VALUES (?, ?, ?, 'queued', ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	added := 0
	now := time.Now()
	for _, e := range entries {
		result, err := stmt.Exec(e.URL, e.URLNormalized, e.Depth, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert URL %s: %w", e.URL, err)
		}
		if n, err := result.RowsAffected(); err == nil {
			added += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit queue entries: %w", err)
	}
	return added, nil
}

// GetNextFromQueue atomically gets and marks the next URL for processing.
// Items are served in insertion order.
func (s *SQLiteStorage) GetNextFromQueue() (*crawler.URLItem, error) {
	var item crawler.URLItem

	err := s.db.QueryRow(`
		UPDATE pages
		SET status = 'processing', processing_started_at = ?
		WHERE id = (
			SELECT id FROM pages
			WHERE status = 'queued'
			ORDER BY id ASC
			LIMIT 1
		) AND status = 'queued'
		RETURNING id, url, depth
	`, time.Now()).Scan(&item.ID, &item.URL, &item.Depth)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // No items in queue
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get next from queue: %w", err)
	}

	return &item, nil
}

// ResetProcessing requeues items an interrupted run left processing
func (s *SQLiteStorage) ResetProcessing() (int, error) {
	result, err := s.db.Exec(`
		UPDATE pages
		SET status = 'queued', processing_started_at = NULL
		WHERE status = 'processing'
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset processing items: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reset items: %w", err)
	}
	return int(n), nil
}

// SavePageResult saves the fetch results for a page
func (s *SQLiteStorage) SavePageResult(id int, page *crawler.PageData) error {
	query := `
		UPDATE pages SET
			status = 'completed',
			final_url = ?,
			status_code = ?,
			content_type = ?,
			content_length = ?,
			content_encoding = ?,
			last_modified = ?,
			ttfb_ms = ?,
			download_time_ms = ?,
			response_size_bytes = ?,
			crawled_at = ?
		WHERE id = ?
	`

	_, err := s.db.Exec(query,
		page.FinalURL,
		page.StatusCode,
		page.ContentType,
		page.ContentLength,
		page.ContentEncoding,
		page.LastModified,
		page.TTFB.Milliseconds(),
		page.DownloadTime.Milliseconds(),
		page.ResponseSize,
		page.CrawledAt,
		id,
	)

	if err != nil {
		return fmt.Errorf("failed to save page result: %w", err)
	}
	return nil
}

// SaveDiscovery saves the discovery results of a page, replacing its
// alternatives
func (s *SQLiteStorage) SaveDiscovery(id int, discovery *crawler.DiscoveryData) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		UPDATE pages SET
			lang = ?,
			canonical = ?,
			links_found = ?,
			in_sitemap = ?,
			discovery_error = ?,
			discovered_at = ?
		WHERE id = ?
	`,
		nullString(discovery.Lang),
		nullString(discovery.Canonical),
		discovery.LinksFound,
		discovery.InSitemap,
		nullString(discovery.Error),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to save discovery: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM alternatives WHERE page_id = ?", id); err != nil {
		return fmt.Errorf("failed to clear alternatives: %w", err)
	}

	if len(discovery.Alternatives) > 0 {
		stmt, err := tx.Prepare(`
			INSERT OR IGNORE INTO alternatives (page_id, url, url_normalized, lang)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, alt := range discovery.Alternatives {
			if _, err := stmt.Exec(id, alt.URL, alt.URLNormalized, alt.Lang); err != nil {
				return fmt.Errorf("failed to insert alternative %s: %w", alt.URL, err)
			}
		}
	}

	return tx.Commit()
}

// SavePageError marks a page as errored and records the error details
func (s *SQLiteStorage) SavePageError(id int, errorType, errorMessage string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var url string
	err = tx.QueryRow(`
		UPDATE pages SET
			status = 'error',
			last_error_type = ?,
			last_error_message = ?,
			retry_count = retry_count + 1
		WHERE id = ?
		RETURNING url
	`, errorType, errorMessage, id).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Warn("Error recorded for unknown page", "id", id, "error_type", errorType)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to save page error: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO crawl_errors (url, error_type, error_message, occurred_at)
		VALUES (?, ?, ?, ?)
	`, url, errorType, errorMessage, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save error: %w", err)
	}

	return tx.Commit()
}

// IsKnown reports whether a URL with this normalized form was ever queued
func (s *SQLiteStorage) IsKnown(urlNormalized string) (bool, error) {
	var exists int
	err := s.db.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM pages WHERE url_normalized = ?)", urlNormalized,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check URL: %w", err)
	}
	return exists == 1, nil
}

// GetQueueStatus returns counts by status
func (s *SQLiteStorage) GetQueueStatus() (queued int, processing int, completed int, errors int, err error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'queued' THEN 1 ELSE 0 END), 0) as queued,
			COALESCE(SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END), 0) as processing,
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0) as completed,
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0) as errors
		FROM pages
	`

	err = s.db.QueryRow(query).Scan(&queued, &processing, &completed, &errors)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("failed to get queue status: %w", err)
	}

	return queued, processing, completed, errors, nil
}

// HasQueuedItems checks if there are any items available for processing (queued or processing status)
func (s *SQLiteStorage) HasQueuedItems() (bool, error) {
	var exists int
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM pages WHERE status IN ('queued', 'processing'))
	`).Scan(&exists)

	if err != nil {
		return false, fmt.Errorf("failed to check queued items: %w", err)
	}

	return exists == 1, nil
}

// GetMeta retrieves a metadata value
func (s *SQLiteStorage) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM crawl_meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get meta: %w", err)
	}
	return value, nil
}

// SetMeta stores a metadata value
func (s *SQLiteStorage) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO crawl_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set meta: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ crawler.Storage = (*SQLiteStorage)(nil)
