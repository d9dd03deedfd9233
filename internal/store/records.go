// ABOUTME: Record storage operations: chunked upserts, point and range reads, full scans.
// ABOUTME: Every write call is a single transaction so a failed chunk leaves nothing behind.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/2389/megatable/internal/record"
)

const recordColumns = "id, name, phone, email, score, last_message_at, added_by, avatar"

const upsertSQL = `INSERT INTO records (` + recordColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		phone = excluded.phone,
		email = excluded.email,
		score = excluded.score,
		last_message_at = excluded.last_message_at,
		added_by = excluded.added_by,
		avatar = excluded.avatar`

// Write upserts records by id inside one transaction. Callers feeding large
// batches should split them into bounded chunks (see package ingest).
func (s *Store) Write(ctx context.Context, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrStoreWriteFailed, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return fmt.Errorf("%w: prepare: %w", ErrStoreWriteFailed, err)
	}
	defer stmt.Close()

	for _, r := range records {
		if r.ID < 1 {
			return fmt.Errorf("%w: id %d must be positive", ErrInvalidRecord, r.ID)
		}
		_, err := stmt.ExecContext(ctx,
			r.ID, r.Name, r.Phone, r.Email, r.Score,
			r.LastMessageAt.UnixMilli(), r.AddedBy, r.Avatar,
		)
		if err != nil {
			return fmt.Errorf("%w: id %d: %w", ErrStoreWriteFailed, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrStoreWriteFailed, err)
	}
	return nil
}

// Put upserts a single record.
func (s *Store) Put(ctx context.Context, r record.Record) error {
	return s.Write(ctx, []record.Record{r})
}

// Count returns the number of persisted records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %w", ErrStoreReadFailed, err)
	}
	return n, nil
}

// Get returns the persisted record for id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (record.Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM records WHERE id = ?", id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: get %d: %w", ErrStoreReadFailed, id, err)
	}
	return r, nil
}

// GetRange returns the persisted records with lo <= id <= hi keyed by id.
// Ids in the range that were never written are simply missing from the map.
func (s *Store) GetRange(ctx context.Context, lo, hi int64) (map[int64]record.Record, error) {
	out := make(map[int64]record.Record)
	if hi < lo {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM records WHERE id BETWEEN ? AND ? ORDER BY id", lo, hi)
	if err != nil {
		return nil, fmt.Errorf("%w: range %d-%d: %w", ErrStoreReadFailed, lo, hi, err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: range %d-%d: %w", ErrStoreReadFailed, lo, hi, err)
		}
		out[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: range %d-%d: %w", ErrStoreReadFailed, lo, hi, err)
	}
	return out, nil
}

// ScanAll yields every persisted record in ascending id order. Each call
// starts a fresh scan. On failure the sequence yields a single error and stops.
func (s *Store) ScanAll(ctx context.Context) iter.Seq2[record.Record, error] {
	return s.iterate(ctx, "SELECT "+recordColumns+" FROM records ORDER BY id")
}

// SearchCandidates yields, in id order, the records with id <= maxID whose
// name, email or phone contains term according to SQLite LIKE. For ASCII
// terms that is a superset of the exact case-folded matches; any other term
// degrades to every record up to maxID so callers always filter precisely.
func (s *Store) SearchCandidates(ctx context.Context, term string, maxID int64) iter.Seq2[record.Record, error] {
	if term == "" || !isASCII(term) {
		return s.iterate(ctx, "SELECT "+recordColumns+" FROM records WHERE id <= ? ORDER BY id", maxID)
	}
	like := "%" + escapeSQLLike(term) + "%"
	return s.iterate(ctx, `SELECT `+recordColumns+` FROM records
		WHERE id <= ?
		AND (name LIKE ? ESCAPE '\' OR email LIKE ? ESCAPE '\' OR phone LIKE ? ESCAPE '\')
		ORDER BY id`, maxID, like, like, like)
}

func (s *Store) iterate(ctx context.Context, query string, args ...any) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(record.Record{}, fmt.Errorf("%w: scan: %w", ErrStoreReadFailed, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			r, err := scanRecord(rows)
			if err != nil {
				yield(record.Record{}, fmt.Errorf("%w: scan: %w", ErrStoreReadFailed, err))
				return
			}
			if !yield(r, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(record.Record{}, fmt.Errorf("%w: scan: %w", ErrStoreReadFailed, err))
		}
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (record.Record, error) {
	var r record.Record
	var lastMessageMs int64
	err := sc.Scan(&r.ID, &r.Name, &r.Phone, &r.Email, &r.Score, &lastMessageMs, &r.AddedBy, &r.Avatar)
	if err != nil {
		return record.Record{}, err
	}
	r.LastMessageAt = time.UnixMilli(lastMessageMs).UTC()
	return r, nil
}
