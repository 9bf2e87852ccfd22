package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/crypto_quote_cache/internal/domain"
)

// SQLiteStore persists compacted book records.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS books (
			instrument TEXT NOT NULL,
			id INTEGER NOT NULL,
			parent_id INTEGER NOT NULL DEFAULT 0,
			time DATETIME NOT NULL,
			time_received DATETIME NOT NULL,
			bid_insertions BLOB,
			bid_removals BLOB,
			ask_insertions BLOB,
			ask_removals BLOB,
			PRIMARY KEY (instrument, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_books_roots ON books(instrument, parent_id, id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveBook inserts a record, replacing one with the same instrument and id.
func (s *SQLiteStore) SaveBook(ctx context.Context, rec domain.BookRecord) error {
	query := `INSERT INTO books (instrument, id, parent_id, time, time_received, bid_insertions, bid_removals, ask_insertions, ask_removals)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(instrument, id) DO UPDATE SET
			  parent_id=excluded.parent_id,
			  time=excluded.time,
			  time_received=excluded.time_received,
			  bid_insertions=excluded.bid_insertions,
			  bid_removals=excluded.bid_removals,
			  ask_insertions=excluded.ask_insertions,
			  ask_removals=excluded.ask_removals`
	_, err := s.db.ExecContext(ctx, query,
		rec.Instrument, int64(rec.ID), int64(rec.ParentID), rec.Time.UTC(), rec.TimeReceived.UTC(),
		rec.BidInsertions, rec.BidRemovals, rec.AskInsertions, rec.AskRemovals)
	if err != nil {
		return fmt.Errorf("save book %s/%d: %w", rec.Instrument, rec.ID, err)
	}
	return nil
}

// LoadChain returns the newest limit records of instrument, oldest first, extended back to
// the root their chain starts from. A limit of zero or less loads everything.
func (s *SQLiteStore) LoadChain(ctx context.Context, instrument string, limit int) ([]domain.BookRecord, error) {
	var newest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM books WHERE instrument = ?`, instrument).Scan(&newest); err != nil {
		return nil, err
	}
	if !newest.Valid {
		return nil, nil
	}

	from := int64(0)
	if limit > 0 {
		start := newest.Int64 - int64(limit) + 1
		var root sql.NullInt64
		err := s.db.QueryRowContext(ctx,
			`SELECT MAX(id) FROM books WHERE instrument = ? AND parent_id = 0 AND id <= ?`,
			instrument, start).Scan(&root)
		if err != nil {
			return nil, err
		}
		if root.Valid {
			from = root.Int64
		}
	}

	query := `SELECT instrument, id, parent_id, time, time_received, bid_insertions, bid_removals, ask_insertions, ask_removals
			  FROM books WHERE instrument = ? AND id >= ? ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query, instrument, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.BookRecord
	for rows.Next() {
		var (
			r            domain.BookRecord
			id, parentID int64
		)
		if err := rows.Scan(&r.Instrument, &id, &parentID, &r.Time, &r.TimeReceived,
			&r.BidInsertions, &r.BidRemovals, &r.AskInsertions, &r.AskRemovals); err != nil {
			return nil, err
		}
		if id <= 0 || parentID < 0 {
			return nil, fmt.Errorf("%w: %s row id %d parent %d", domain.ErrBrokenChain, instrument, id, parentID)
		}
		r.ID, r.ParentID = uint64(id), uint64(parentID)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) ListInstruments(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT instrument FROM books ORDER BY instrument`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, err
		}
		out = append(out, symbol)
	}
	return out, rows.Err()
}

// CountBooks returns the number of stored records of an instrument.
func (s *SQLiteStore) CountBooks(ctx context.Context, instrument string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books WHERE instrument = ?`, instrument).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}
