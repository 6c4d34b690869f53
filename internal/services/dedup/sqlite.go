package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"mail-notifier/internal/models"
)

// processedRow mirrors processed_messages; times are unix seconds.
type processedRow struct {
	AccountID   string `db:"account_id"`
	MessageID   string `db:"message_id"`
	ProcessedAt int64  `db:"processed_at"`
}

// SQLiteStore implements Store using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs any
// pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// A single writer keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// LoadSince returns the records processed at or after since.
func (s *SQLiteStore) LoadSince(ctx context.Context, since time.Time) ([]models.ProcessedRecord, error) {
	var rows []processedRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT account_id, message_id, processed_at
		   FROM processed_messages
		  WHERE processed_at >= ?
		  ORDER BY processed_at, rowid`,
		since.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("loading processed messages: %w", err)
	}

	records := make([]models.ProcessedRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, models.ProcessedRecord{
			AccountID:   r.AccountID,
			MessageID:   r.MessageID,
			ProcessedAt: time.Unix(r.ProcessedAt, 0).UTC(),
		})
	}
	return records, nil
}

// Save upserts a batch of records in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, records []models.ProcessedRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx,
		`INSERT OR REPLACE INTO processed_messages (account_id, message_id, processed_at)
		 VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.AccountID, r.MessageID, r.ProcessedAt.Unix()); err != nil {
			return fmt.Errorf("saving %s/%s: %w", r.AccountID, r.MessageID, err)
		}
	}

	return tx.Commit()
}

// Prune deletes records older than before.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM processed_messages WHERE processed_at < ?", before.Unix())
	if err != nil {
		return 0, fmt.Errorf("pruning processed messages: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
