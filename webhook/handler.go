package webhook

import (
	"context"
	"sort"
	"sync"
)

// Handler applies the side effect of one event. Delivery is at-least-once,
// so handlers must be idempotent. A returned error schedules a retry.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Mux routes events to handlers by event type. Events with no matching
// handler go to the fallback, or are acknowledged as no-ops when there is
// none.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

// NewMux creates an empty mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]Handler)}
}

// Register routes eventType to h, replacing any previous handler.
func (m *Mux) Register(eventType string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[eventType] = h
}

// RegisterFunc routes eventType to fn.
func (m *Mux) RegisterFunc(eventType string, fn func(ctx context.Context, ev Event) error) {
	m.Register(eventType, HandlerFunc(fn))
}

// Fallback sets the handler for unrouted event types.
func (m *Mux) Fallback(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = h
}

// EventTypes returns the registered event types, sorted.
func (m *Mux) EventTypes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	types := make([]string, 0, len(m.handlers))
	for t := range m.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Handle routes ev to its handler.
func (m *Mux) Handle(ctx context.Context, ev Event) error {
	m.mu.RLock()
	h, ok := m.handlers[ev.EventType]
	if !ok {
		h = m.fallback
	}
	m.mu.RUnlock()

	if h == nil {
		return nil
	}
	return h.Handle(ctx, ev)
}

var _ Handler = (*Mux)(nil)
