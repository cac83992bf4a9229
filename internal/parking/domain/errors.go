package parking

import "errors"

var (
	// ErrStaleEvent is returned when an event minute precedes the last accepted event.
	ErrStaleEvent = errors.New("parking: stale event")
	// ErrLotFull is returned when an entry arrives at a lot holding capacity vehicles.
	ErrLotFull = errors.New("parking: lot full")
	// ErrLotEmpty is returned when a free lot is asked to release a vehicle it does not hold.
	ErrLotEmpty = errors.New("parking: lot empty")
	// ErrUnknownVehicle is returned for negative, unissued or already vacated vehicle ids.
	ErrUnknownVehicle = errors.New("parking: unknown vehicle")
	// ErrInvalidLotIndex is returned when a lot index does not address a lot.
	ErrInvalidLotIndex = errors.New("parking: invalid lot index")
	// ErrNilLot is returned when adding a nil lot to a district.
	ErrNilLot = errors.New("parking: nil lot")
	// ErrEmptyName is returned when a lot is constructed without a name.
	ErrEmptyName = errors.New("parking: empty lot name")
	// ErrInvalidCapacity is returned when capacity is not positive.
	ErrInvalidCapacity = errors.New("parking: invalid capacity")
	// ErrNegativeRate is returned when the hourly fee rate is negative or not a finite number.
	ErrNegativeRate = errors.New("parking: fee rate must be a non-negative number")
	// ErrLotAttached is returned when a lot already belongs to a district.
	ErrLotAttached = errors.New("parking: lot already belongs to a district")
)
