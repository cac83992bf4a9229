package eventing

import (
	"context"
	"errors"
	"reflect"
	"sync"
)

// EventHandler handles a published event.
type EventHandler func(ctx context.Context, event any) error

// EventBus delivers events to subscribed handlers.
type EventBus interface {
	Publish(ctx context.Context, event any) error
	Subscribe(eventType string, handler EventHandler)
}

// ErrNilEvent is returned when a nil event is published.
var ErrNilEvent = errors.New("eventing: nil event")

// ErrInvalidEventType is returned when the event type cannot be determined.
var ErrInvalidEventType = errors.New("eventing: invalid event type")

// InMemoryBus is a synchronous in-process event bus.
// Every published event is wrapped in an Envelope available to handlers via EnvelopeFromContext.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	source   string
}

// NewInMemoryBus constructs a bus stamping envelopes with source.
func NewInMemoryBus(source string) *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[string][]EventHandler),
		source:   source,
	}
}

// Publish dispatches an event to all handlers of its type.
// Every handler runs; the first handler error is returned.
func (b *InMemoryBus) Publish(ctx context.Context, event any) error {
	if event == nil {
		return ErrNilEvent
	}

	eventType := EventType(event)
	if eventType == "" {
		return ErrInvalidEventType
	}

	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.handlers[eventType]...)
	b.mu.RUnlock()
	if len(handlers) == 0 {
		return nil
	}

	if _, ok := EnvelopeFromContext(ctx); !ok {
		env, err := BuildEnvelope(event, MetaFromContext(ctx, b.source))
		if err != nil {
			return err
		}
		ctx = WithEnvelope(ctx, env)
	}

	var firstErr error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Subscribe registers a handler for an event type.
func (b *InMemoryBus) Subscribe(eventType string, handler EventHandler) {
	if eventType == "" || handler == nil {
		return
	}

	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.mu.Unlock()
}

// Subscribe registers a typed handler for events of type T.
func Subscribe[T any](bus EventBus, handler func(ctx context.Context, event T) error) {
	if bus == nil || handler == nil {
		return
	}
	bus.Subscribe(EventTypeOf[T](), func(ctx context.Context, event any) error {
		evt, ok := event.(T)
		if !ok {
			return ErrInvalidEventType
		}
		return handler(ctx, evt)
	})
}

// EventType returns the fully-qualified type name for an event instance.
func EventType(event any) string {
	if event == nil {
		return ""
	}
	t := reflect.TypeOf(event)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.String()
}

// EventTypeOf returns the fully-qualified type name for a type parameter.
func EventTypeOf[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
