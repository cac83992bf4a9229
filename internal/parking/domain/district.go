package parking

// District routes vehicle events to its lots and keeps district-wide aggregates.
// Lots are appended and never removed. A District is not safe for concurrent use,
// and member lots must only be mutated through it.
type District struct {
	lots      []*Lot
	occupancy int
	lastEvent int
	closure   closureClock
}

// DistrictEntry is the result of an accepted entry routed through a district.
type DistrictEntry struct {
	Entry
	LotIndex           int        `json:"lot_index"`
	DistrictTransition Transition `json:"-"`
}

// DistrictExit is the result of an accepted exit routed through a district.
type DistrictExit struct {
	Exit
	LotIndex           int        `json:"lot_index"`
	DistrictTransition Transition `json:"-"`
}

// NewDistrict constructs an empty district.
func NewDistrict() *District {
	return &District{}
}

// AddLot appends lot and returns its index. A lot joins at most one district, once.
func (d *District) AddLot(lot *Lot) (int, error) {
	if lot == nil {
		return 0, ErrNilLot
	}
	if lot.attached {
		return 0, ErrLotAttached
	}
	d.closure.accrue(d.lastEvent)
	lot.attached = true
	d.lots = append(d.lots, lot)
	d.occupancy += lot.Occupancy()
	d.closure.settle(d.IsClosed(), d.lastEvent)
	return len(d.lots) - 1, nil
}

// Lot returns the lot at index.
func (d *District) Lot(index int) (*Lot, error) {
	if index < 0 || index >= len(d.lots) {
		return nil, ErrInvalidLotIndex
	}
	return d.lots[index], nil
}

// Len returns the number of lots.
func (d *District) Len() int { return len(d.lots) }

// MarkEntry admits a vehicle into the lot at index.
func (d *District) MarkEntry(index, minute int) (DistrictEntry, error) {
	lot, err := d.Lot(index)
	if err != nil {
		return DistrictEntry{}, err
	}
	if minute < d.lastEvent {
		return DistrictEntry{}, ErrStaleEvent
	}

	entry, err := lot.MarkEntry(minute)
	if err != nil {
		return DistrictEntry{}, err
	}

	d.closure.accrue(minute)
	d.occupancy++
	d.lastEvent = minute

	return DistrictEntry{
		Entry:              entry,
		LotIndex:           index,
		DistrictTransition: d.closure.settle(d.IsClosed(), minute),
	}, nil
}

// MarkExit releases vehicle id from the lot at index.
func (d *District) MarkExit(index, minute int, id VehicleID) (DistrictExit, error) {
	lot, err := d.Lot(index)
	if err != nil {
		return DistrictExit{}, err
	}
	if minute < d.lastEvent {
		return DistrictExit{}, ErrStaleEvent
	}

	exit, err := lot.MarkExit(minute, id)
	if err != nil {
		return DistrictExit{}, err
	}

	d.closure.accrue(minute)
	d.occupancy--
	d.lastEvent = minute

	return DistrictExit{
		Exit:               exit,
		LotIndex:           index,
		DistrictTransition: d.closure.settle(d.IsClosed(), minute),
	}, nil
}

// IsClosed reports whether every lot is closed. An empty district is open.
func (d *District) IsClosed() bool {
	if len(d.lots) == 0 {
		return false
	}
	for _, lot := range d.lots {
		if !lot.IsClosed() {
			return false
		}
	}
	return true
}

// Occupancy returns the number of vehicles parked across all lots.
func (d *District) Occupancy() int { return d.occupancy }

// Capacity returns the summed capacity of all lots.
func (d *District) Capacity() int {
	total := 0
	for _, lot := range d.lots {
		total += lot.Capacity()
	}
	return total
}

// Revenue sums the fees collected by every lot.
func (d *District) Revenue() float64 {
	var total float64
	for _, lot := range d.lots {
		total += lot.Revenue()
	}
	return total
}

// LastEventMinute returns the minute of the last accepted district event.
func (d *District) LastEventMinute() int { return d.lastEvent }

// ClosedMinutes returns district closed time accrued up to the last accepted event.
func (d *District) ClosedMinutes() int { return d.closure.closed }

// ClosedMinutesAt returns district closed time including the ongoing interval up to minute.
func (d *District) ClosedMinutesAt(minute int) int { return d.closure.totalAt(minute) }

// DistrictSnapshot is a read-only view of a district and its lots.
type DistrictSnapshot struct {
	Lots            []LotSnapshot `json:"lots"`
	Occupancy       int           `json:"occupancy"`
	Capacity        int           `json:"capacity"`
	Closed          bool          `json:"closed"`
	ClosedMinutes   int           `json:"closed_minutes"`
	Revenue         float64       `json:"revenue"`
	LastEventMinute int           `json:"last_event_minute"`
}

// Snapshot returns the current district state.
func (d *District) Snapshot() DistrictSnapshot {
	lots := make([]LotSnapshot, 0, len(d.lots))
	for i, lot := range d.lots {
		snap := lot.Snapshot()
		snap.Index = i
		lots = append(lots, snap)
	}
	return DistrictSnapshot{
		Lots:            lots,
		Occupancy:       d.occupancy,
		Capacity:        d.Capacity(),
		Closed:          d.IsClosed(),
		ClosedMinutes:   d.closure.closed,
		Revenue:         d.Revenue(),
		LastEventMinute: d.lastEvent,
	}
}
