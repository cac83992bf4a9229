package parking

import (
	"context"
	"time"

	"gopkg.in/guregu/null.v4"
)

// Journal record kinds.
const (
	RecordLotAdded = "lot_added"
	RecordEntry    = "entry"
	RecordExit     = "exit"
)

// JournalRecord is one accepted district event, kept for audit only.
type JournalRecord struct {
	ID        string     `json:"id"`
	Seq       int64      `json:"seq"`
	Kind      string     `json:"kind"`
	LotIndex  int        `json:"lot_index"`
	LotName   string     `json:"lot_name"`
	Minute    int        `json:"minute"`
	VehicleID null.Int   `json:"vehicle_id"`
	Fee       null.Float `json:"fee"`
	Actor     string     `json:"actor,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Journal appends accepted events. It is never read back to rebuild district
// state; LastSeq only lets a restarted process continue the sequence.
type Journal interface {
	Append(ctx context.Context, record JournalRecord) error
	List(ctx context.Context, limit int) ([]JournalRecord, error)
	LastSeq(ctx context.Context) (int64, error)
}
