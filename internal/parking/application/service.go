package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/guregu/null.v4"

	"parking-district/internal/eventing"
	"parking-district/internal/observability/metrics"
	"parking-district/internal/parking/application/events"
	parking "parking-district/internal/parking/domain"
)

const (
	kindEntry = "entry"
	kindExit  = "exit"

	scopeLot      = "lot"
	scopeDistrict = "district"

	defaultJournalLimit = 100
)

// ErrNilDistrict is returned when the service is built without a district.
var ErrNilDistrict = errors.New("parking: nil district")

// Clock provides wall time for event metadata. District state never reads it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Service is the only caller of the district. It serializes requests and
// fans accepted changes out to the event bus, the journal and metrics.
//
// emitMu is taken before mu is released, so outcomes are emitted in the
// order the district accepted them.
type Service struct {
	mu       sync.Mutex
	emitMu   sync.Mutex
	district *parking.District
	seq      int64
	resumed  bool

	journal parking.Journal
	bus     eventing.EventBus
	clock   Clock
	logger  *log.Logger
}

// ServiceOption customizes the district service.
type ServiceOption func(*Service)

// WithJournal assigns the event journal.
func WithJournal(journal parking.Journal) ServiceOption {
	return func(s *Service) {
		s.journal = journal
	}
}

// WithEventBus assigns the event bus.
func WithEventBus(bus eventing.EventBus) ServiceOption {
	return func(s *Service) {
		s.bus = bus
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService constructs a district service.
func NewService(district *parking.District, opts ...ServiceOption) (*Service, error) {
	if district == nil {
		return nil, ErrNilDistrict
	}
	service := &Service{
		district: district,
		clock:    systemClock{},
		logger:   log.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	if service.clock == nil {
		service.clock = systemClock{}
	}
	if service.logger == nil {
		service.logger = log.Default()
	}
	return service, nil
}

// outcome collects what an accepted call produced while the lock was held.
type outcome struct {
	events   []any
	record   parking.JournalRecord
	lot      parking.LotSnapshot
	district parking.DistrictSnapshot
	edges    []edge
}

type edge struct {
	scope      string
	transition parking.Transition
}

// AddLot builds a lot from spec and appends it to the district.
func (s *Service) AddLot(ctx context.Context, spec LotSpec) (parking.LotSnapshot, error) {
	lot, err := spec.Build()
	if err != nil {
		return parking.LotSnapshot{}, err
	}

	now := s.clock.Now()
	s.mu.Lock()
	wasClosed := s.district.IsClosed()
	index, err := s.district.AddLot(lot)
	if err != nil {
		s.mu.Unlock()
		return parking.LotSnapshot{}, err
	}
	out := outcome{
		lot:      s.lotSnapshot(index),
		district: s.district.Snapshot(),
	}
	out.events = append(out.events, events.LotAdded{
		LotIndex:   index,
		LotName:    lot.Name(),
		Capacity:   lot.Capacity(),
		Rate:       lot.Rate(),
		Free:       lot.Free(),
		OccurredAt: now,
	})
	if closed := s.district.IsClosed(); closed != wasClosed {
		transition := parking.TransitionReopened
		if closed {
			transition = parking.TransitionClosed
		}
		out.edges = append(out.edges, edge{scope: scopeDistrict, transition: transition})
		out.events = append(out.events, s.districtClosureEvent(closed, now))
	}
	out.record = s.newRecord(ctx, parking.RecordLotAdded, index, lot.Name(), s.district.LastEventMinute(), now)
	s.logger.Printf("parking: lot added index=%d name=%s capacity=%d free=%t", index, lot.Name(), lot.Capacity(), lot.Free())
	s.release(ctx, out)
	return out.lot, nil
}

// MarkEntry admits a vehicle into the lot at index.
func (s *Service) MarkEntry(ctx context.Context, index, minute int) (parking.DistrictEntry, error) {
	now := s.clock.Now()
	s.mu.Lock()
	entry, err := s.district.MarkEntry(index, minute)
	if err != nil {
		s.mu.Unlock()
		s.reject(ctx, kindEntry, index, minute, nil, err, now)
		return parking.DistrictEntry{}, err
	}

	lot, _ := s.district.Lot(index)
	out := outcome{
		lot:      s.lotSnapshot(index),
		district: s.district.Snapshot(),
	}
	out.events = append(out.events, events.VehicleEntered{
		LotIndex:   index,
		LotName:    lot.Name(),
		VehicleID:  int(entry.VehicleID),
		Minute:     minute,
		Occupancy:  lot.Occupancy(),
		OccurredAt: now,
	})
	s.collectEdges(&out, index, lot, entry.Transition, entry.DistrictTransition, minute, now)

	out.record = s.newRecord(ctx, parking.RecordEntry, index, lot.Name(), minute, now)
	out.record.VehicleID = null.IntFrom(int64(entry.VehicleID))
	metrics.IncVehicleEvent(kindEntry)
	s.release(ctx, out)
	return entry, nil
}

// MarkExit releases a vehicle from the lot at index.
func (s *Service) MarkExit(ctx context.Context, index, minute int, id parking.VehicleID) (parking.DistrictExit, error) {
	now := s.clock.Now()
	s.mu.Lock()
	exit, err := s.district.MarkExit(index, minute, id)
	if err != nil {
		s.mu.Unlock()
		vehicle := int(id)
		s.reject(ctx, kindExit, index, minute, &vehicle, err, now)
		return parking.DistrictExit{}, err
	}

	lot, _ := s.district.Lot(index)
	out := outcome{
		lot:      s.lotSnapshot(index),
		district: s.district.Snapshot(),
	}
	out.events = append(out.events, events.VehicleExited{
		LotIndex:    index,
		LotName:     lot.Name(),
		VehicleID:   int(exit.VehicleID),
		Minute:      minute,
		StayMinutes: exit.StayMinutes,
		Fee:         exit.Fee,
		Occupancy:   lot.Occupancy(),
		OccurredAt:  now,
	})
	s.collectEdges(&out, index, lot, exit.Transition, exit.DistrictTransition, minute, now)

	out.record = s.newRecord(ctx, parking.RecordExit, index, lot.Name(), minute, now)
	out.record.VehicleID = null.IntFrom(int64(exit.VehicleID))
	out.record.Fee = null.FloatFrom(exit.Fee)
	metrics.IncVehicleEvent(kindExit)
	metrics.ObserveExit(lot.Name(), exit.Fee, exit.StayMinutes)
	s.release(ctx, out)
	return exit, nil
}

// Resume continues journal sequence numbers after the last journaled record.
// Accepted events call it lazily; calling it at startup surfaces errors early.
func (s *Service) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeLocked(ctx)
}

func (s *Service) resumeLocked(ctx context.Context) error {
	if s.resumed || s.journal == nil {
		return nil
	}
	last, err := s.journal.LastSeq(ctx)
	if err != nil {
		return err
	}
	if last > s.seq {
		s.seq = last
	}
	s.resumed = true
	return nil
}

// Snapshot returns the current district state.
func (s *Service) Snapshot(ctx context.Context) parking.DistrictSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.district.Snapshot()
}

// LotSnapshot returns the state of the lot at index.
func (s *Service) LotSnapshot(ctx context.Context, index int) (parking.LotSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.district.Lot(index); err != nil {
		return parking.LotSnapshot{}, err
	}
	return s.lotSnapshot(index), nil
}

// Journal returns the most recent journal records, newest first.
func (s *Service) Journal(ctx context.Context, limit int) ([]parking.JournalRecord, error) {
	if s.journal == nil {
		return []parking.JournalRecord{}, nil
	}
	if limit <= 0 {
		limit = defaultJournalLimit
	}
	return s.journal.List(ctx, limit)
}

// RejectionReason maps a domain error to an EventRejected reason code.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, parking.ErrStaleEvent):
		return events.ReasonStale
	case errors.Is(err, parking.ErrLotFull):
		return events.ReasonFull
	case errors.Is(err, parking.ErrLotEmpty):
		return events.ReasonEmpty
	case errors.Is(err, parking.ErrUnknownVehicle):
		return events.ReasonUnknownVehicle
	case errors.Is(err, parking.ErrInvalidLotIndex):
		return events.ReasonInvalidLotIndex
	default:
		return events.ReasonOther
	}
}

func (s *Service) lotSnapshot(index int) parking.LotSnapshot {
	lot, err := s.district.Lot(index)
	if err != nil {
		return parking.LotSnapshot{}
	}
	snap := lot.Snapshot()
	snap.Index = index
	return snap
}

func (s *Service) collectEdges(out *outcome, index int, lot *parking.Lot, lotEdge, districtEdge parking.Transition, minute int, now time.Time) {
	if lotEdge != parking.TransitionNone {
		out.edges = append(out.edges, edge{scope: scopeLot, transition: lotEdge})
		out.events = append(out.events, events.LotClosureChanged{
			LotIndex:      index,
			LotName:       lot.Name(),
			Closed:        lotEdge == parking.TransitionClosed,
			Minute:        minute,
			ClosedMinutes: lot.ClosedMinutes(),
			OccurredAt:    now,
		})
	}
	if districtEdge != parking.TransitionNone {
		out.edges = append(out.edges, edge{scope: scopeDistrict, transition: districtEdge})
		out.events = append(out.events, s.districtClosureEvent(districtEdge == parking.TransitionClosed, now))
	}
}

func (s *Service) districtClosureEvent(closed bool, now time.Time) events.DistrictClosureChanged {
	return events.DistrictClosureChanged{
		Closed:        closed,
		Minute:        s.district.LastEventMinute(),
		ClosedMinutes: s.district.ClosedMinutes(),
		OccurredAt:    now,
	}
}

// newRecord must be called with the lock held so Seq follows district order.
func (s *Service) newRecord(ctx context.Context, kind string, index int, name string, minute int, now time.Time) parking.JournalRecord {
	if err := s.resumeLocked(ctx); err != nil {
		s.logger.Printf("parking: journal seq resume failed, retrying on next event: %v", err)
	}
	s.seq++
	return parking.JournalRecord{
		ID:        uuid.NewString(),
		Seq:       s.seq,
		Kind:      kind,
		LotIndex:  index,
		LotName:   name,
		Minute:    minute,
		Actor:     eventing.ActorFromContext(ctx),
		CreatedAt: now,
	}
}

func (s *Service) reject(ctx context.Context, kind string, index, minute int, vehicle *int, cause error, now time.Time) {
	reason := RejectionReason(cause)
	metrics.IncRejection(kind, reason)
	s.logger.Printf("parking: %s rejected lot=%d minute=%d reason=%s: %v", kind, index, minute, reason, cause)
	s.publish(ctx, events.EventRejected{
		Kind:       kind,
		LotIndex:   index,
		Minute:     minute,
		VehicleID:  vehicle,
		Reason:     reason,
		OccurredAt: now,
	})
}

// release must be called with mu held; it returns with mu released.
func (s *Service) release(ctx context.Context, out outcome) {
	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()
	s.emit(ctx, out)
}

func (s *Service) emit(ctx context.Context, out outcome) {
	metrics.SetLotState(out.lot.Index, out.lot.Name, out.lot.Occupancy, out.lot.Closed, out.lot.ClosedMinutes, out.lot.Revenue)
	metrics.SetDistrictState(out.district.Occupancy, out.district.Capacity, out.district.Closed, out.district.ClosedMinutes, out.district.Revenue)
	for _, e := range out.edges {
		metrics.IncClosureTransition(e.scope, e.transition.String())
	}

	if s.journal != nil {
		start := time.Now()
		err := s.journal.Append(ctx, out.record)
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultError
			s.logger.Printf("parking: journal append failed kind=%s seq=%d: %v", out.record.Kind, out.record.Seq, err)
		}
		metrics.ObserveJournalAppend(result, time.Since(start))
	}

	for _, event := range out.events {
		s.publish(ctx, event)
	}
}

func (s *Service) publish(ctx context.Context, event any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Printf("parking: publish %s failed: %v", eventing.EventType(event), err)
	}
}
