package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"parking-district/internal/auth"
	"parking-district/internal/eventing"
	"parking-district/internal/parking/application"
	parking "parking-district/internal/parking/domain"
	"parking-district/internal/parking/infrastructure/memory"
)

func newTestMux(t *testing.T) (*http.ServeMux, *application.Service, *eventing.InMemoryBus) {
	t.Helper()
	bus := eventing.NewInMemoryBus("parking-test")
	service, err := application.NewService(parking.NewDistrict(),
		application.WithEventBus(bus),
		application.WithJournal(memory.NewJournal()),
		application.WithLogger(log.New(io.Discard, "", 0)),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	handler, err := NewHandler(service, WithJournalLimit(50))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	mux := http.NewServeMux()
	handler.Register(mux)
	return mux, service, bus
}

func doJSON(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	resp := httptest.NewRecorder()
	mux.ServeHTTP(resp, req)
	return resp
}

func TestHandlerVehicleFlow(t *testing.T) {
	mux, _, _ := newTestMux(t)

	resp := doJSON(t, mux, http.MethodPost, "/api/v1/lots", `{"name":"north","capacity":5,"fee_rate":2}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("add lot: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = doJSON(t, mux, http.MethodPost, "/api/v1/lots/0/entries", `{"minute":10}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("entry: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var entry entryResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry.VehicleID != 0 || entry.Minute != 10 || entry.LotTransition != "none" {
		t.Fatalf("unexpected entry %+v", entry)
	}

	resp = doJSON(t, mux, http.MethodPost, "/api/v1/lots/0/exits", `{"minute":100,"vehicle_id":0}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("exit: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var exit exitResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &exit); err != nil {
		t.Fatalf("decode exit: %v", err)
	}
	if exit.Fee != 3 || exit.StayMinutes != 90 {
		t.Fatalf("unexpected exit %+v", exit)
	}

	resp = doJSON(t, mux, http.MethodGet, "/api/v1/district", "")
	var snap parking.DistrictSnapshot
	if err := json.Unmarshal(resp.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode district: %v", err)
	}
	if snap.Revenue != 3 || snap.Occupancy != 0 || snap.LastEventMinute != 100 || len(snap.Lots) != 1 {
		t.Fatalf("unexpected district %+v", snap)
	}

	resp = doJSON(t, mux, http.MethodGet, "/api/v1/journal?limit=2", "")
	var records []parking.JournalRecord
	if err := json.Unmarshal(resp.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode journal: %v", err)
	}
	if len(records) != 2 || records[0].Kind != parking.RecordExit || records[1].Kind != parking.RecordEntry {
		t.Fatalf("unexpected journal %+v", records)
	}
}

func TestHandlerStatusMapping(t *testing.T) {
	mux, _, _ := newTestMux(t)
	if resp := doJSON(t, mux, http.MethodPost, "/api/v1/lots", `{"name":"tiny","capacity":1,"fee_rate":1}`); resp.Code != http.StatusCreated {
		t.Fatalf("add lot: %d", resp.Code)
	}
	if resp := doJSON(t, mux, http.MethodPost, "/api/v1/lots/0/entries", `{"minute":20}`); resp.Code != http.StatusCreated {
		t.Fatalf("entry: %d", resp.Code)
	}

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"full", http.MethodPost, "/api/v1/lots/0/entries", `{"minute":25}`, http.StatusConflict},
		{"stale", http.MethodPost, "/api/v1/lots/0/entries", `{"minute":5}`, http.StatusConflict},
		{"unknown vehicle", http.MethodPost, "/api/v1/lots/0/exits", `{"minute":30,"vehicle_id":7}`, http.StatusNotFound},
		{"missing vehicle", http.MethodPost, "/api/v1/lots/0/exits", `{"minute":30}`, http.StatusNotFound},
		{"invalid index", http.MethodPost, "/api/v1/lots/3/entries", `{"minute":30}`, http.StatusNotFound},
		{"missing lot", http.MethodGet, "/api/v1/lots/3", "", http.StatusNotFound},
		{"bad index", http.MethodGet, "/api/v1/lots/abc", "", http.StatusBadRequest},
		{"missing minute", http.MethodPost, "/api/v1/lots/0/entries", `{}`, http.StatusBadRequest},
		{"negative minute", http.MethodPost, "/api/v1/lots/0/entries", `{"minute":-1}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/api/v1/lots/0/entries", `{"minute":`, http.StatusBadRequest},
		{"invalid lot", http.MethodPost, "/api/v1/lots", `{"name":"x","capacity":0}`, http.StatusBadRequest},
		{"free with rate", http.MethodPost, "/api/v1/lots", `{"name":"x","capacity":3,"fee_rate":1,"free":true}`, http.StatusBadRequest},
		{"unknown action", http.MethodPost, "/api/v1/lots/0/refunds", `{"minute":30}`, http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/api/v1/district", "", http.StatusMethodNotAllowed},
		{"bad limit", http.MethodGet, "/api/v1/journal?limit=zero", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp := doJSON(t, mux, tc.method, tc.path, tc.body)
		if resp.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d: %s", tc.name, tc.want, resp.Code, resp.Body.String())
		}
	}
}

func TestHandlerFreeLotExitWithoutVehicleID(t *testing.T) {
	mux, _, _ := newTestMux(t)
	if resp := doJSON(t, mux, http.MethodPost, "/api/v1/lots", `{"name":"park-and-ride","capacity":3,"free":true}`); resp.Code != http.StatusCreated {
		t.Fatalf("add lot: %d", resp.Code)
	}
	if resp := doJSON(t, mux, http.MethodPost, "/api/v1/lots/0/exits", `{"minute":0}`); resp.Code != http.StatusConflict {
		t.Fatalf("empty free lot: expected 409, got %d", resp.Code)
	}
	if resp := doJSON(t, mux, http.MethodPost, "/api/v1/lots/0/entries", `{"minute":0}`); resp.Code != http.StatusCreated {
		t.Fatalf("entry: %d", resp.Code)
	}
	resp := doJSON(t, mux, http.MethodPost, "/api/v1/lots/0/exits", `{"minute":300}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("free exit: expected 200, got %d", resp.Code)
	}
	var exit exitResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &exit); err != nil {
		t.Fatalf("decode exit: %v", err)
	}
	if exit.Fee != 0 || exit.VehicleID != 0 {
		t.Fatalf("unexpected free exit %+v", exit)
	}
}

func TestHandlerCarriesSubjectAsActor(t *testing.T) {
	mux, service, _ := newTestMux(t)
	if _, err := service.AddLot(context.Background(), application.LotSpec{Name: "north", Capacity: 2, Rate: 1}); err != nil {
		t.Fatalf("add lot: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/lots/0/entries", strings.NewReader(`{"minute":1}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.RoleOperator, "gate-7"))
	resp := httptest.NewRecorder()
	mux.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("entry: %d", resp.Code)
	}
	records, err := service.Journal(context.Background(), 1)
	if err != nil || len(records) != 1 {
		t.Fatalf("journal: %v %d", err, len(records))
	}
	if records[0].Actor != "gate-7" {
		t.Fatalf("expected actor gate-7, got %q", records[0].Actor)
	}
}

func TestHandlerExports(t *testing.T) {
	mux, service, _ := newTestMux(t)
	ctx := context.Background()
	if _, err := service.AddLot(ctx, application.LotSpec{Name: "north", Capacity: 4, Rate: 2}); err != nil {
		t.Fatalf("add lot: %v", err)
	}
	if _, err := service.AddLot(ctx, application.LotSpec{Name: "overflow", Capacity: 4, Free: true}); err != nil {
		t.Fatalf("add lot: %v", err)
	}
	if _, err := service.MarkEntry(ctx, 0, 0); err != nil {
		t.Fatalf("entry: %v", err)
	}

	resp := doJSON(t, mux, http.MethodGet, "/api/v1/exports/district.xlsx", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("xlsx: expected 200, got %d", resp.Code)
	}
	f, err := excelize.OpenReader(bytes.NewReader(resp.Body.Bytes()))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()
	name, err := f.GetCellValue("lots", "B3")
	if err != nil || name != "overflow" {
		t.Fatalf("expected overflow in lots!B3, got %q (%v)", name, err)
	}
	occupancy, err := f.GetCellValue("summary", "B5")
	if err != nil || occupancy != "1" {
		t.Fatalf("expected summary occupancy 1, got %q (%v)", occupancy, err)
	}
	kind, err := f.GetCellValue("journal", "B2")
	if err != nil || kind != parking.RecordEntry {
		t.Fatalf("expected newest journal kind entry, got %q (%v)", kind, err)
	}

	resp = doJSON(t, mux, http.MethodGet, "/api/v1/exports/district.pdf", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("pdf: expected 200, got %d", resp.Code)
	}
	if !bytes.HasPrefix(resp.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("expected pdf document")
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestSSEBrokerFansOutEnvelopes(t *testing.T) {
	_, service, bus := newTestMux(t)
	broker := NewSSEBroker()
	broker.Attach(bus)

	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)
	if broker.Clients() != 1 {
		t.Fatalf("expected 1 client, got %d", broker.Clients())
	}

	ctx := eventing.WithActor(context.Background(), "admin-1")
	if _, err := service.AddLot(ctx, application.LotSpec{Name: "north", Capacity: 1, Rate: 1}); err != nil {
		t.Fatalf("add lot: %v", err)
	}

	select {
	case msg := <-ch:
		if msg.name != "lot_added" {
			t.Fatalf("expected lot_added, got %s", msg.name)
		}
		var env eventing.Envelope
		if err := json.Unmarshal(msg.payload, &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		if env.Actor != "admin-1" || env.Source != "parking-test" || env.EventID == "" {
			t.Fatalf("unexpected envelope %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
}

func TestSSEBrokerUnsubscribeDuringBroadcast(t *testing.T) {
	broker := NewSSEBroker()
	clients := make([]chan streamMessage, 64)
	for i := range clients {
		clients[i] = broker.Subscribe()
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				broker.broadcast(streamMessage{name: "vehicle_entered", payload: []byte(`{}`)})
			}
		}
	}()
	go func() {
		defer wg.Done()
		defer close(done)
		for i := len(clients) - 1; i >= 0; i-- {
			broker.Unsubscribe(clients[i])
			// A second call for the same client is a no-op.
			broker.Unsubscribe(clients[i])
		}
	}()
	wg.Wait()

	if broker.Clients() != 0 {
		t.Fatalf("expected no clients, got %d", broker.Clients())
	}
	for i, ch := range clients {
		for range ch {
		}
		if _, ok := <-ch; ok {
			t.Fatalf("client %d channel not closed", i)
		}
	}
}

func TestStreamHandlerWritesEvents(t *testing.T) {
	_, service, bus := newTestMux(t)
	broker := NewSSEBroker()
	broker.Attach(bus)
	stream := NewStreamHandler(broker)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/stream", nil).WithContext(ctx)
	resp := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		stream.ServeHTTP(resp, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for broker.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := service.AddLot(context.Background(), application.LotSpec{Name: "north", Capacity: 1, Rate: 1}); err != nil {
		t.Fatalf("add lot: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := resp.Body.String()
	if !strings.Contains(body, "event: ready") || !strings.Contains(body, "event: lot_added") {
		t.Fatalf("unexpected stream body %q", body)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
}
