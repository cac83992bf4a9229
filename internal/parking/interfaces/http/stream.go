package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"parking-district/internal/eventing"
	"parking-district/internal/observability/metrics"
	"parking-district/internal/parking/application/events"
)

type streamMessage struct {
	name    string
	payload []byte
}

// SSEBroker fans out district events to connected clients.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan streamMessage]struct{}
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[chan streamMessage]struct{})}
}

// Attach subscribes the broker to every district event published on bus.
func (b *SSEBroker) Attach(bus eventing.EventBus) {
	if b == nil || bus == nil {
		return
	}
	for _, eventType := range []string{
		eventing.EventTypeOf[events.LotAdded](),
		eventing.EventTypeOf[events.VehicleEntered](),
		eventing.EventTypeOf[events.VehicleExited](),
		eventing.EventTypeOf[events.EventRejected](),
		eventing.EventTypeOf[events.LotClosureChanged](),
		eventing.EventTypeOf[events.DistrictClosureChanged](),
	} {
		bus.Subscribe(eventType, b.Notify)
	}
}

// Notify implements eventing.EventHandler. Slow clients drop messages.
func (b *SSEBroker) Notify(ctx context.Context, event any) error {
	if b == nil {
		return nil
	}
	env, ok := eventing.EnvelopeFromContext(ctx)
	if !ok {
		built, err := eventing.BuildEnvelope(event, eventing.MetaFromContext(ctx, "parking"))
		if err != nil {
			return err
		}
		env = built
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	b.broadcast(streamMessage{name: eventName(event), payload: payload})
	return nil
}

// Subscribe registers a new client channel.
func (b *SSEBroker) Subscribe() chan streamMessage {
	if b == nil {
		return nil
	}
	ch := make(chan streamMessage, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	count := len(b.clients)
	b.mu.Unlock()
	metrics.SetStreamClients(count)
	return ch
}

// Unsubscribe removes a client channel.
func (b *SSEBroker) Unsubscribe(ch chan streamMessage) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	if _, ok := b.clients[ch]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.clients, ch)
	close(ch)
	count := len(b.clients)
	b.mu.Unlock()
	metrics.SetStreamClients(count)
}

// Clients returns the number of connected clients.
func (b *SSEBroker) Clients() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// broadcast holds b.mu while sending so Unsubscribe cannot close a channel mid-send.
func (b *SSEBroker) broadcast(msg streamMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func eventName(event any) string {
	switch event.(type) {
	case events.LotAdded:
		return "lot_added"
	case events.VehicleEntered:
		return "vehicle_entered"
	case events.VehicleExited:
		return "vehicle_exited"
	case events.EventRejected:
		return "event_rejected"
	case events.LotClosureChanged:
		return "lot_closure"
	case events.DistrictClosureChanged:
		return "district_closure"
	default:
		return "message"
	}
}

// StreamHandler serves the SSE district event stream.
type StreamHandler struct {
	broker *SSEBroker
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *SSEBroker) *StreamHandler {
	return &StreamHandler{broker: broker}
}

// ServeHTTP handles GET /api/v1/events/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.broker.Subscribe()
	if ch == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	defer h.broker.Unsubscribe(ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	notify := r.Context().Done()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: " + msg.name + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(msg.payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-notify:
			return
		}
	}
}
