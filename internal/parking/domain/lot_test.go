package parking

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func mustLot(t *testing.T, capacity int, rate float64) *Lot {
	t.Helper()
	lot, err := NewLot("test", capacity, rate)
	if err != nil {
		t.Fatalf("new lot: %v", err)
	}
	return lot
}

func mustEnter(t *testing.T, lot *Lot, minute int) VehicleID {
	t.Helper()
	entry, err := lot.MarkEntry(minute)
	if err != nil {
		t.Fatalf("entry at %d: %v", minute, err)
	}
	return entry.VehicleID
}

func mustLeave(t *testing.T, lot *Lot, minute int, id VehicleID) Exit {
	t.Helper()
	exit, err := lot.MarkExit(minute, id)
	if err != nil {
		t.Fatalf("exit of %d at %d: %v", id, minute, err)
	}
	return exit
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNewLotValidation(t *testing.T) {
	cases := []struct {
		name     string
		lotName  string
		capacity int
		rate     float64
		want     error
	}{
		{name: "empty name", lotName: "", capacity: 10, rate: 1, want: ErrEmptyName},
		{name: "zero capacity", lotName: "north", capacity: 0, rate: 1, want: ErrInvalidCapacity},
		{name: "negative capacity", lotName: "north", capacity: -3, rate: 1, want: ErrInvalidCapacity},
		{name: "negative rate", lotName: "north", capacity: 10, rate: -0.5, want: ErrNegativeRate},
		{name: "nan rate", lotName: "north", capacity: 10, rate: math.NaN(), want: ErrNegativeRate},
		{name: "infinite rate", lotName: "north", capacity: 10, rate: math.Inf(1), want: ErrNegativeRate},
		{name: "zero rate", lotName: "north", capacity: 10, rate: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lot, err := NewLot(tc.lotName, tc.capacity, tc.rate)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if tc.want == nil && lot == nil {
				t.Fatalf("expected lot")
			}
		})
	}
}

func TestLotEntryAssignsSequentialIDs(t *testing.T) {
	lot := mustLot(t, 10, 1)
	for want := 0; want < 5; want++ {
		if got := mustEnter(t, lot, want*3); got != VehicleID(want) {
			t.Fatalf("expected id %d, got %d", want, got)
		}
	}
	if lot.Occupancy() != 5 {
		t.Fatalf("expected occupancy 5, got %d", lot.Occupancy())
	}
	if lot.LastEventMinute() != 12 {
		t.Fatalf("expected last event 12, got %d", lot.LastEventMinute())
	}
}

func TestLotEntryRejectsWhenFull(t *testing.T) {
	lot := mustLot(t, 2, 1)
	mustEnter(t, lot, 0)
	mustEnter(t, lot, 1)

	if _, err := lot.MarkEntry(2); !errors.Is(err, ErrLotFull) {
		t.Fatalf("expected ErrLotFull, got %v", err)
	}
	if lot.Occupancy() != 2 {
		t.Fatalf("expected occupancy 2, got %d", lot.Occupancy())
	}
	if lot.LastEventMinute() != 1 {
		t.Fatalf("rejected entry moved clock to %d", lot.LastEventMinute())
	}

	mustLeave(t, lot, 3, 0)
	if id := mustEnter(t, lot, 4); id != 2 {
		t.Fatalf("expected rejected entry not to consume an id, got %d", id)
	}
}

func TestLotRejectsStaleEvents(t *testing.T) {
	lot := mustLot(t, 10, 1)
	id := mustEnter(t, lot, 10)

	if _, err := lot.MarkEntry(9); !errors.Is(err, ErrStaleEvent) {
		t.Fatalf("expected stale entry, got %v", err)
	}
	if _, err := lot.MarkExit(5, id); !errors.Is(err, ErrStaleEvent) {
		t.Fatalf("expected stale exit, got %v", err)
	}
	if _, err := lot.MarkExit(5, -1); !errors.Is(err, ErrStaleEvent) {
		t.Fatalf("expected stale check before id check, got %v", err)
	}
	if lot.Occupancy() != 1 || lot.Revenue() != 0 || lot.IssuedVehicles() != 1 {
		t.Fatalf("stale events changed state: occupancy=%d revenue=%f issued=%d", lot.Occupancy(), lot.Revenue(), lot.IssuedVehicles())
	}

	// Equal minutes are not stale.
	mustEnter(t, lot, 10)
	mustLeave(t, lot, 10, id)
}

func TestLotExitRejectsUnknownVehicles(t *testing.T) {
	lot := mustLot(t, 10, 1)
	id := mustEnter(t, lot, 0)
	mustLeave(t, lot, 60, id)
	revenue := lot.Revenue()

	for _, bad := range []VehicleID{-1, 1, 42, id} {
		if _, err := lot.MarkExit(120, bad); !errors.Is(err, ErrUnknownVehicle) {
			t.Fatalf("id %d: expected ErrUnknownVehicle, got %v", bad, err)
		}
	}
	if lot.Occupancy() != 0 {
		t.Fatalf("expected occupancy 0, got %d", lot.Occupancy())
	}
	if lot.Revenue() != revenue {
		t.Fatalf("revenue changed from %f to %f", revenue, lot.Revenue())
	}
	if lot.LastEventMinute() != 60 {
		t.Fatalf("rejected exit moved clock to %d", lot.LastEventMinute())
	}
}

func TestLotFees(t *testing.T) {
	cases := []struct {
		name    string
		rate    float64
		elapsed int
		want    float64
	}{
		{name: "instant", rate: 1, elapsed: 0, want: 0},
		{name: "grace boundary", rate: 5, elapsed: 15, want: 0},
		{name: "just past grace", rate: 1, elapsed: 16, want: 16.0 / 60},
		{name: "hour and quarter", rate: 1, elapsed: 75, want: 1.25},
		{name: "ninety minutes at two", rate: 2, elapsed: 90, want: 3},
		{name: "free rate", rate: 0, elapsed: 600, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lot := mustLot(t, 10, tc.rate)
			id := mustEnter(t, lot, 100)
			exit := mustLeave(t, lot, 100+tc.elapsed, id)
			if exit.StayMinutes != tc.elapsed {
				t.Fatalf("expected stay %d, got %d", tc.elapsed, exit.StayMinutes)
			}
			if !almostEqual(exit.Fee, tc.want) {
				t.Fatalf("expected fee %f, got %f", tc.want, exit.Fee)
			}
			if !almostEqual(lot.Revenue(), tc.want) {
				t.Fatalf("expected revenue %f, got %f", tc.want, lot.Revenue())
			}
		})
	}
}

func TestLotRevenueAccumulates(t *testing.T) {
	lot := mustLot(t, 10, 1)
	a := mustEnter(t, lot, 0)
	b := mustEnter(t, lot, 0)
	c := mustEnter(t, lot, 5)
	mustLeave(t, lot, 10, c)
	mustLeave(t, lot, 60, a)
	mustLeave(t, lot, 75, b)
	if !almostEqual(lot.Revenue(), 2.25) {
		t.Fatalf("expected revenue 2.25, got %f", lot.Revenue())
	}
}

func TestLotClosesAtThreshold(t *testing.T) {
	lot := mustLot(t, 10, 1)
	ids := make([]VehicleID, 0, 8)
	for i := 0; i < 7; i++ {
		ids = append(ids, mustEnter(t, lot, i))
		if lot.IsClosed() {
			t.Fatalf("closed at %d occupants", lot.Occupancy())
		}
	}

	entry, err := lot.MarkEntry(10)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if entry.Transition != TransitionClosed {
		t.Fatalf("expected closed transition, got %s", entry.Transition)
	}
	if !lot.IsClosed() {
		t.Fatalf("expected closed at 8 of 10")
	}

	exit := mustLeave(t, lot, 40, ids[0])
	if exit.Transition != TransitionReopened {
		t.Fatalf("expected reopened transition, got %s", exit.Transition)
	}
	if lot.ClosedMinutes() != 30 {
		t.Fatalf("expected 30 closed minutes, got %d", lot.ClosedMinutes())
	}
}

func TestLotClosedMinutesRollAcrossEvents(t *testing.T) {
	lot := mustLot(t, 10, 1)
	ids := make([]VehicleID, 0, 9)
	for i := 0; i < 8; i++ {
		ids = append(ids, mustEnter(t, lot, 10))
	}
	// Closed since 10.
	ids = append(ids, mustEnter(t, lot, 20))
	if lot.ClosedMinutes() != 10 {
		t.Fatalf("expected 10 accrued at minute 20, got %d", lot.ClosedMinutes())
	}
	if got := lot.ClosedMinutesAt(35); got != 25 {
		t.Fatalf("expected 25 including ongoing interval, got %d", got)
	}

	exit := mustLeave(t, lot, 40, ids[0])
	if exit.Transition != TransitionNone {
		t.Fatalf("8 of 10 is still closed, got %s", exit.Transition)
	}
	if lot.ClosedMinutes() != 30 {
		t.Fatalf("expected 30 accrued at minute 40, got %d", lot.ClosedMinutes())
	}

	mustLeave(t, lot, 50, ids[1])
	if lot.ClosedMinutes() != 40 {
		t.Fatalf("expected 40 accrued at reopening, got %d", lot.ClosedMinutes())
	}
	if lot.IsClosed() {
		t.Fatalf("expected open at 7 of 10")
	}

	// Open time is not accrued.
	mustLeave(t, lot, 500, ids[2])
	if lot.ClosedMinutes() != 40 || lot.ClosedMinutesAt(900) != 40 {
		t.Fatalf("open interval accrued: %d / %d", lot.ClosedMinutes(), lot.ClosedMinutesAt(900))
	}
}

func TestLotFullRejectionKeepsClosedClock(t *testing.T) {
	lot := mustLot(t, 5, 1)
	for i := 0; i < 5; i++ {
		mustEnter(t, lot, 0)
	}
	// Closed since 0 (4 of 5).
	if _, err := lot.MarkEntry(30); !errors.Is(err, ErrLotFull) {
		t.Fatalf("expected ErrLotFull, got %v", err)
	}
	if lot.ClosedMinutes() != 0 {
		t.Fatalf("rejection accrued closed time: %d", lot.ClosedMinutes())
	}
	mustLeave(t, lot, 45, 0)
	if lot.ClosedMinutes() != 45 {
		t.Fatalf("expected 45 closed minutes, got %d", lot.ClosedMinutes())
	}
}

func TestFreeLotNeverCharges(t *testing.T) {
	lot, err := NewFreeLot("library", 4)
	if err != nil {
		t.Fatalf("new free lot: %v", err)
	}
	if !lot.Free() || lot.Rate() != 0 {
		t.Fatalf("expected free lot")
	}
	mustEnter(t, lot, 0)
	mustEnter(t, lot, 5)
	mustEnter(t, lot, 10)

	exit := mustLeave(t, lot, 600, 2)
	if exit.VehicleID != 0 {
		t.Fatalf("expected oldest vehicle 0 released, got %d", exit.VehicleID)
	}
	if exit.StayMinutes != 600 || exit.Fee != 0 {
		t.Fatalf("unexpected exit %+v", exit)
	}

	exit = mustLeave(t, lot, 700, -9)
	if exit.VehicleID != 1 {
		t.Fatalf("expected vehicle 1 released, got %d", exit.VehicleID)
	}
	mustLeave(t, lot, 800, 99)
	if _, err := lot.MarkExit(900, 0); !errors.Is(err, ErrLotEmpty) {
		t.Fatalf("expected ErrLotEmpty, got %v", err)
	}
	if _, err := lot.MarkExit(10, 0); !errors.Is(err, ErrStaleEvent) {
		t.Fatalf("expected ErrStaleEvent, got %v", err)
	}
	if lot.Revenue() != 0 {
		t.Fatalf("free lot collected %f", lot.Revenue())
	}
	if lot.Occupancy() != 0 {
		t.Fatalf("expected empty lot, got %d", lot.Occupancy())
	}
}

func TestLotRandomSequenceInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, free := range []bool{false, true} {
		var lot *Lot
		var err error
		if free {
			lot, err = NewFreeLot("random", 6)
		} else {
			lot, err = NewLot("random", 6, 2)
		}
		if err != nil {
			t.Fatalf("new lot: %v", err)
		}

		minute := 0
		prevRevenue := 0.0
		for step := 0; step < 2000; step++ {
			minute += rng.Intn(20) - 3
			if rng.Intn(2) == 0 {
				_, _ = lot.MarkEntry(minute)
			} else {
				_, _ = lot.MarkExit(minute, VehicleID(rng.Intn(lot.IssuedVehicles()+2)-1))
			}

			if lot.Occupancy() < 0 || lot.Occupancy() > lot.Capacity() {
				t.Fatalf("occupancy %d out of range", lot.Occupancy())
			}
			parked := 0
			for id := 0; id < lot.IssuedVehicles(); id++ {
				if _, ok := lot.EntryMinute(VehicleID(id)); ok {
					parked++
				}
			}
			if parked != lot.Occupancy() {
				t.Fatalf("occupancy %d does not match %d parked slots", lot.Occupancy(), parked)
			}
			if lot.Revenue() < prevRevenue {
				t.Fatalf("revenue decreased from %f to %f", prevRevenue, lot.Revenue())
			}
			if free && lot.Revenue() != 0 {
				t.Fatalf("free lot collected %f", lot.Revenue())
			}
			prevRevenue = lot.Revenue()
		}
	}
}
