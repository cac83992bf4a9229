package parking

import "math"

// GracePeriodMinutes is the length of a stay that is never charged.
const GracePeriodMinutes = 15

// VehicleID identifies a vehicle within one lot. IDs are issued from 0 and never reused.
type VehicleID int

// Entry is the result of an accepted vehicle entry.
type Entry struct {
	VehicleID  VehicleID  `json:"vehicle_id"`
	Minute     int        `json:"minute"`
	Transition Transition `json:"-"`
}

// Exit is the result of an accepted vehicle exit.
type Exit struct {
	VehicleID   VehicleID  `json:"vehicle_id"`
	Minute      int        `json:"minute"`
	StayMinutes int        `json:"stay_minutes"`
	Fee         float64    `json:"fee"`
	Transition  Transition `json:"-"`
}

type slot struct {
	entered int
	vacated bool
}

// Lot tracks occupancy, billing and closed time for one parking facility.
// A Lot is not safe for concurrent use.
type Lot struct {
	name     string
	capacity int
	rate     float64
	free     bool

	occupancy int
	slots     []slot
	oldest    int
	lastEvent int
	closure   closureClock
	revenue   float64

	attached bool
}

// NewLot constructs a metered lot charging rate per hour after the grace period.
func NewLot(name string, capacity int, rate float64) (*Lot, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate < 0 {
		return nil, ErrNegativeRate
	}
	return &Lot{name: name, capacity: capacity, rate: rate}, nil
}

// NewFreeLot constructs a lot that never charges and releases vehicles in arrival order.
func NewFreeLot(name string, capacity int) (*Lot, error) {
	lot, err := NewLot(name, capacity, 0)
	if err != nil {
		return nil, err
	}
	lot.free = true
	return lot, nil
}

// Fee returns the charge for a stay of elapsed minutes at rate per hour.
func Fee(rate float64, elapsed int) float64 {
	if elapsed <= GracePeriodMinutes {
		return 0
	}
	return rate * float64(elapsed) / 60
}

// MarkEntry admits a vehicle at minute and returns its id.
func (l *Lot) MarkEntry(minute int) (Entry, error) {
	if minute < l.lastEvent {
		return Entry{}, ErrStaleEvent
	}
	if l.occupancy >= l.capacity {
		return Entry{}, ErrLotFull
	}

	l.closure.accrue(minute)

	id := VehicleID(len(l.slots))
	l.slots = append(l.slots, slot{entered: minute})
	l.occupancy++
	l.lastEvent = minute

	return Entry{
		VehicleID:  id,
		Minute:     minute,
		Transition: l.closure.settle(l.IsClosed(), minute),
	}, nil
}

// MarkExit releases vehicle id at minute and charges its stay.
// Free lots ignore id and release the longest-parked vehicle.
func (l *Lot) MarkExit(minute int, id VehicleID) (Exit, error) {
	if minute < l.lastEvent {
		return Exit{}, ErrStaleEvent
	}
	if l.free {
		next, ok := l.oldestOccupied()
		if !ok {
			return Exit{}, ErrLotEmpty
		}
		id = next
	} else if !l.occupied(id) {
		return Exit{}, ErrUnknownVehicle
	}

	l.closure.accrue(minute)

	stay := minute - l.slots[id].entered
	var fee float64
	if !l.free {
		fee = Fee(l.rate, stay)
		l.revenue += fee
	}

	l.slots[id].vacated = true
	l.occupancy--
	l.lastEvent = minute

	return Exit{
		VehicleID:   id,
		Minute:      minute,
		StayMinutes: stay,
		Fee:         fee,
		Transition:  l.closure.settle(l.IsClosed(), minute),
	}, nil
}

func (l *Lot) occupied(id VehicleID) bool {
	return id >= 0 && int(id) < len(l.slots) && !l.slots[id].vacated
}

func (l *Lot) oldestOccupied() (VehicleID, bool) {
	if l.occupancy == 0 {
		return 0, false
	}
	for l.oldest < len(l.slots) && l.slots[l.oldest].vacated {
		l.oldest++
	}
	return VehicleID(l.oldest), true
}

// IsClosed reports whether occupancy is at or above ClosedThreshold of capacity.
func (l *Lot) IsClosed() bool {
	return float64(l.occupancy)/float64(l.capacity) >= ClosedThreshold
}

// Name returns the lot label.
func (l *Lot) Name() string { return l.name }

// Capacity returns the maximum number of simultaneous vehicles.
func (l *Lot) Capacity() int { return l.capacity }

// Rate returns the hourly fee rate.
func (l *Lot) Rate() float64 { return l.rate }

// Free reports whether the lot never charges.
func (l *Lot) Free() bool { return l.free }

// Occupancy returns the number of vehicles currently parked.
func (l *Lot) Occupancy() int { return l.occupancy }

// Revenue returns the fees collected so far.
func (l *Lot) Revenue() float64 { return l.revenue }

// LastEventMinute returns the minute of the last accepted event.
func (l *Lot) LastEventMinute() int { return l.lastEvent }

// IssuedVehicles returns how many vehicle ids have been issued.
func (l *Lot) IssuedVehicles() int { return len(l.slots) }

// ClosedMinutes returns closed time accrued up to the last accepted event.
func (l *Lot) ClosedMinutes() int { return l.closure.closed }

// ClosedMinutesAt returns closed time including the ongoing interval up to minute.
func (l *Lot) ClosedMinutesAt(minute int) int { return l.closure.totalAt(minute) }

// EntryMinute returns the entry minute of a parked vehicle.
func (l *Lot) EntryMinute(id VehicleID) (int, bool) {
	if !l.occupied(id) {
		return 0, false
	}
	return l.slots[id].entered, true
}

// OccupancyPercent returns occupancy as a percentage of capacity.
func (l *Lot) OccupancyPercent() float64 {
	return float64(l.occupancy) / float64(l.capacity) * 100
}

// LotSnapshot is a read-only view of a lot.
type LotSnapshot struct {
	Index            int     `json:"index"`
	Name             string  `json:"name"`
	Capacity         int     `json:"capacity"`
	Rate             float64 `json:"fee_rate"`
	Free             bool    `json:"free"`
	Occupancy        int     `json:"occupancy"`
	OccupancyPercent float64 `json:"occupancy_percent"`
	Closed           bool    `json:"closed"`
	ClosedMinutes    int     `json:"closed_minutes"`
	Revenue          float64 `json:"revenue"`
	LastEventMinute  int     `json:"last_event_minute"`
}

// Snapshot returns the current lot state. Index is left to the owning district.
func (l *Lot) Snapshot() LotSnapshot {
	return LotSnapshot{
		Name:             l.name,
		Capacity:         l.capacity,
		Rate:             l.rate,
		Free:             l.free,
		Occupancy:        l.occupancy,
		OccupancyPercent: l.OccupancyPercent(),
		Closed:           l.IsClosed(),
		ClosedMinutes:    l.closure.closed,
		Revenue:          l.revenue,
		LastEventMinute:  l.lastEvent,
	}
}
