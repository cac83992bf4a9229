package events

import "time"

// LotAdded is emitted when a lot joins the district.
type LotAdded struct {
	LotIndex   int       `json:"lot_index"`
	LotName    string    `json:"lot_name"`
	Capacity   int       `json:"capacity"`
	Rate       float64   `json:"fee_rate"`
	Free       bool      `json:"free"`
	OccurredAt time.Time `json:"occurred_at"`
}

// VehicleEntered is emitted for every accepted entry.
type VehicleEntered struct {
	LotIndex   int       `json:"lot_index"`
	LotName    string    `json:"lot_name"`
	VehicleID  int       `json:"vehicle_id"`
	Minute     int       `json:"minute"`
	Occupancy  int       `json:"occupancy"`
	OccurredAt time.Time `json:"occurred_at"`
}

// VehicleExited is emitted for every accepted exit.
type VehicleExited struct {
	LotIndex    int       `json:"lot_index"`
	LotName     string    `json:"lot_name"`
	VehicleID   int       `json:"vehicle_id"`
	Minute      int       `json:"minute"`
	StayMinutes int       `json:"stay_minutes"`
	Fee         float64   `json:"fee"`
	Occupancy   int       `json:"occupancy"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Rejection reasons carried by EventRejected.
const (
	ReasonStale           = "stale"
	ReasonFull            = "full"
	ReasonEmpty           = "empty"
	ReasonUnknownVehicle  = "unknown_vehicle"
	ReasonInvalidLotIndex = "invalid_lot_index"
	ReasonOther           = "other"
)

// EventRejected is emitted when an entry or exit leaves the district unchanged.
type EventRejected struct {
	Kind       string    `json:"kind"`
	LotIndex   int       `json:"lot_index"`
	Minute     int       `json:"minute"`
	VehicleID  *int      `json:"vehicle_id,omitempty"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// LotClosureChanged is emitted when a lot crosses the closed threshold.
type LotClosureChanged struct {
	LotIndex      int       `json:"lot_index"`
	LotName       string    `json:"lot_name"`
	Closed        bool      `json:"closed"`
	Minute        int       `json:"minute"`
	ClosedMinutes int       `json:"closed_minutes"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// DistrictClosureChanged is emitted when every lot becomes closed or one reopens.
type DistrictClosureChanged struct {
	Closed        bool      `json:"closed"`
	Minute        int       `json:"minute"`
	ClosedMinutes int       `json:"closed_minutes"`
	OccurredAt    time.Time `json:"occurred_at"`
}
