package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"parking-district/internal/auth"
	"parking-district/internal/eventing"
	"parking-district/internal/observability/metrics"
	"parking-district/internal/parking/application"
	parking "parking-district/internal/parking/domain"
)

const (
	lotsPrefix = "/api/v1/lots"

	defaultJournalLimit = 100
	maxBodyBytes        = 1 << 16
)

// Handler provides district HTTP endpoints.
type Handler struct {
	service      *application.Service
	journalLimit int
	now          func() time.Time
}

// HandlerOption customizes the handler.
type HandlerOption func(*Handler)

// WithJournalLimit caps how many journal records one request can return.
func WithJournalLimit(limit int) HandlerOption {
	return func(h *Handler) {
		if limit > 0 {
			h.journalLimit = limit
		}
	}
}

// NewHandler constructs a handler.
func NewHandler(service *application.Service, opts ...HandlerOption) (*Handler, error) {
	if service == nil {
		return nil, errors.New("parking handler: nil service")
	}
	h := &Handler{
		service:      service,
		journalLimit: defaultJournalLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register mounts the district routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/district", h.handleDistrict)
	mux.HandleFunc(lotsPrefix, h.handleLots)
	mux.HandleFunc(lotsPrefix+"/", h.handleLot)
	mux.HandleFunc("/api/v1/journal", h.handleJournal)
	mux.HandleFunc("/api/v1/exports/district.xlsx", h.handleExportXLSX)
	mux.HandleFunc("/api/v1/exports/district.pdf", h.handleExportPDF)
}

type lotEventRequest struct {
	Minute    *int `json:"minute"`
	VehicleID *int `json:"vehicle_id"`
}

type entryResponse struct {
	LotIndex           int    `json:"lot_index"`
	VehicleID          int    `json:"vehicle_id"`
	Minute             int    `json:"minute"`
	LotTransition      string `json:"lot_transition"`
	DistrictTransition string `json:"district_transition"`
}

type exitResponse struct {
	LotIndex           int     `json:"lot_index"`
	VehicleID          int     `json:"vehicle_id"`
	Minute             int     `json:"minute"`
	StayMinutes        int     `json:"stay_minutes"`
	Fee                float64 `json:"fee"`
	LotTransition      string  `json:"lot_transition"`
	DistrictTransition string  `json:"district_transition"`
}

func (h *Handler) handleDistrict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Snapshot(r.Context()))
}

func (h *Handler) handleLots(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.service.Snapshot(r.Context()).Lots)
	case http.MethodPost:
		var spec application.LotSpec
		if err := decodeBody(w, r, &spec); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		lot, err := h.service.AddLot(withActor(r), spec)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, lot)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleLot serves /api/v1/lots/{index}[/entries|/exits].
func (h *Handler) handleLot(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, lotsPrefix+"/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || len(parts) > 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	index, err := strconv.Atoi(parts[0])
	if err != nil {
		http.Error(w, "lot index must be an integer", http.StatusBadRequest)
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		lot, err := h.service.LotSnapshot(r.Context(), index)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lot)
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch parts[1] {
	case "entries":
		h.handleEntry(w, r, index)
	case "exits":
		h.handleExit(w, r, index)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleEntry(w http.ResponseWriter, r *http.Request, index int) {
	minute, _, err := decodeLotEvent(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entry, err := h.service.MarkEntry(withActor(r), index, minute)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entryResponse{
		LotIndex:           entry.LotIndex,
		VehicleID:          int(entry.VehicleID),
		Minute:             entry.Minute,
		LotTransition:      entry.Transition.String(),
		DistrictTransition: entry.DistrictTransition.String(),
	})
}

// handleExit releases a vehicle. A missing vehicle_id is only valid for free lots.
func (h *Handler) handleExit(w http.ResponseWriter, r *http.Request, index int) {
	minute, vehicleID, err := decodeLotEvent(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := parking.VehicleID(-1)
	if vehicleID != nil {
		id = parking.VehicleID(*vehicleID)
	}
	exit, err := h.service.MarkExit(withActor(r), index, minute, id)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exitResponse{
		LotIndex:           exit.LotIndex,
		VehicleID:          int(exit.VehicleID),
		Minute:             exit.Minute,
		StayMinutes:        exit.StayMinutes,
		Fee:                exit.Fee,
		LotTransition:      exit.Transition.String(),
		DistrictTransition: exit.DistrictTransition.String(),
	})
}

func (h *Handler) handleJournal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit, err := h.parseLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	records, err := h.service.Journal(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []parking.JournalRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	snap := h.service.Snapshot(r.Context())
	records, err := h.service.Journal(r.Context(), h.journalLimit)
	if err != nil {
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data, err := BuildDistrictXLSX(snap, records, h.now())
	if err != nil {
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport("xlsx", metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="district.xlsx"`)
	_, _ = w.Write(data)
}

func (h *Handler) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	data, err := BuildDistrictPDF(h.service.Snapshot(r.Context()), h.now())
	if err != nil {
		metrics.ObserveExport("pdf", metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport("pdf", metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="district.pdf"`)
	_, _ = w.Write(data)
}

func (h *Handler) parseLimit(r *http.Request) (int, error) {
	value := r.URL.Query().Get("limit")
	if value == "" {
		return h.journalLimit, nil
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > h.journalLimit {
		limit = h.journalLimit
	}
	return limit, nil
}

func decodeLotEvent(w http.ResponseWriter, r *http.Request) (int, *int, error) {
	var req lotEventRequest
	if err := decodeBody(w, r, &req); err != nil {
		return 0, nil, err
	}
	if req.Minute == nil {
		return 0, nil, errors.New("minute is required")
	}
	if *req.Minute < 0 {
		return 0, nil, errors.New("minute must be non-negative")
	}
	return *req.Minute, req.VehicleID, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return errors.New("invalid json body")
	}
	return nil
}

// withActor carries the authenticated subject and request id into published events.
func withActor(r *http.Request) context.Context {
	ctx := r.Context()
	if subject := auth.SubjectFromContext(ctx); subject != "" {
		ctx = eventing.WithActor(ctx, subject)
	}
	if requestID := r.Header.Get("X-Request-ID"); requestID != "" {
		ctx = eventing.WithCorrelationID(ctx, requestID)
	}
	return ctx
}

func respondError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, parking.ErrStaleEvent),
		errors.Is(err, parking.ErrLotAttached),
		errors.Is(err, parking.ErrLotFull),
		errors.Is(err, parking.ErrLotEmpty):
		return http.StatusConflict
	case errors.Is(err, parking.ErrUnknownVehicle),
		errors.Is(err, parking.ErrInvalidLotIndex):
		return http.StatusNotFound
	case errors.Is(err, parking.ErrEmptyName),
		errors.Is(err, parking.ErrInvalidCapacity),
		errors.Is(err, parking.ErrNegativeRate),
		errors.Is(err, parking.ErrNilLot),
		errors.Is(err, application.ErrFreeLotRate):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
