package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	parking "parking-district/internal/parking/domain"
)

// JournalRepository is a Postgres event journal backed by parking_journal.
type JournalRepository struct {
	db *sql.DB
}

// NewJournalRepository constructs a repository.
func NewJournalRepository(db *sql.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

// Append inserts a record. Re-appending the same id is a no-op.
func (r *JournalRepository) Append(ctx context.Context, record parking.JournalRecord) error {
	if r == nil || r.db == nil {
		return errors.New("journal repo: nil db")
	}
	if record.ID == "" {
		return errors.New("journal repo: empty id")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO parking_journal (
	id, seq, kind, lot_index, lot_name, minute, vehicle_id, fee, actor, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
)
ON CONFLICT (id) DO NOTHING`, record.ID, record.Seq, record.Kind, record.LotIndex, record.LotName,
		record.Minute, record.VehicleID, record.Fee, record.Actor, record.CreatedAt.UTC())
	return err
}

// List returns up to limit records ordered by seq, newest first.
func (r *JournalRepository) List(ctx context.Context, limit int) ([]parking.JournalRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("journal repo: nil db")
	}
	if limit <= 0 {
		return nil, errors.New("journal repo: invalid limit")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, seq, kind, lot_index, lot_name, minute, vehicle_id, fee, actor, created_at
FROM parking_journal
ORDER BY seq DESC, created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []parking.JournalRecord
	for rows.Next() {
		var record parking.JournalRecord
		if err := rows.Scan(
			&record.ID,
			&record.Seq,
			&record.Kind,
			&record.LotIndex,
			&record.LotName,
			&record.Minute,
			&record.VehicleID,
			&record.Fee,
			&record.Actor,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		record.CreatedAt = record.CreatedAt.UTC()
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LastSeq returns the highest journaled seq, or 0 for an empty journal.
func (r *JournalRepository) LastSeq(ctx context.Context) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("journal repo: nil db")
	}
	var last int64
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM parking_journal`).Scan(&last); err != nil {
		return 0, err
	}
	return last, nil
}
