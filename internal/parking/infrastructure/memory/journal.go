package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	parking "parking-district/internal/parking/domain"
)

// ErrEmptyRecordID is returned when a record without id is appended.
var ErrEmptyRecordID = errors.New("journal: empty record id")

// Journal is an in-memory event journal used when no database is configured.
type Journal struct {
	mu      sync.RWMutex
	records []parking.JournalRecord
}

// NewJournal constructs an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Append stores a record.
func (j *Journal) Append(ctx context.Context, record parking.JournalRecord) error {
	_ = ctx
	if record.ID == "" {
		return ErrEmptyRecordID
	}
	j.mu.Lock()
	j.records = append(j.records, record)
	j.mu.Unlock()
	return nil
}

// List returns up to limit records ordered by seq, newest first.
func (j *Journal) List(ctx context.Context, limit int) ([]parking.JournalRecord, error) {
	_ = ctx
	j.mu.RLock()
	out := append([]parking.JournalRecord(nil), j.records...)
	j.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool { return out[a].Seq > out[b].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LastSeq returns the highest stored seq, or 0 when empty.
func (j *Journal) LastSeq(ctx context.Context) (int64, error) {
	_ = ctx
	j.mu.RLock()
	defer j.mu.RUnlock()
	var last int64
	for _, record := range j.records {
		if record.Seq > last {
			last = record.Seq
		}
	}
	return last, nil
}

// Len returns the number of stored records.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.records)
}
