// Package hooks dispatches NOUS lifecycle events (VFS access, sign-in,
// chat traffic, gateway start/stop) to registered handlers.
package hooks

import (
	"context"
	"sort"
	"sync"

	"github.com/nousos/nous/internal/logging"
)

// Event names for the hook system.
const (
	EventGatewayStart = "gateway_start"
	EventGatewayStop  = "gateway_stop"
	EventVFSAccess    = "vfs_access"
	EventUserSignup   = "user_signup"
	EventUserLogin    = "user_login"
	EventUserLogout   = "user_logout"
	EventChatMessage  = "chat_message"
	EventChatCleared  = "chat_cleared"
)

// AnyEvent registers a handler that receives every event.
const AnyEvent = "*"

// AllEvents lists all known hook event names.
var AllEvents = []string{
	EventGatewayStart,
	EventGatewayStop,
	EventVFSAccess,
	EventUserSignup,
	EventUserLogin,
	EventUserLogout,
	EventChatMessage,
	EventChatCleared,
}

// Payload carries event data to hook handlers.
type Payload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Str returns a string field of the payload data, or "".
func (p Payload) Str(key string) string {
	s, _ := p.Data[key].(string)
	return s
}

// Handler is a function that handles a hook event.
// Returning an error logs the failure but does not stop processing.
type Handler func(ctx context.Context, p Payload) error

// Manager manages hook registrations and dispatches events.
// A nil *Manager is valid and drops every event.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers a handler for the given event, or for AnyEvent.
// The name identifies the handler for logging and Off.
func (m *Manager) On(event, name string, handler Handler) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Off removes all handlers with the given name from the event.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handlers := m.handlers[event]
	filtered := make([]namedHandler, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	if len(filtered) == 0 {
		delete(m.handlers, event)
		return
	}
	m.handlers[event] = filtered
}

// snapshot returns the handlers for event followed by the AnyEvent handlers.
func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]namedHandler, 0, len(m.handlers[event])+len(m.handlers[AnyEvent]))
	out = append(out, m.handlers[event]...)
	if event != AnyEvent {
		out = append(out, m.handlers[AnyEvent]...)
	}
	return out
}

// Emit dispatches an event to all registered handlers synchronously.
// Handlers are called in registration order, event-specific handlers
// before AnyEvent handlers.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}

	payload := Payload{Event: event, Data: data}
	for _, h := range handlers {
		m.call(ctx, h, payload, "hook handler error")
	}
}

// EmitAsync dispatches an event to all registered handlers concurrently
// and returns a channel closed once every handler has finished.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) <-chan struct{} {
	done := make(chan struct{})
	if m == nil {
		close(done)
		return done
	}
	handlers := m.snapshot(event)
	payload := Payload{Event: event, Data: data}

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h namedHandler) {
			defer wg.Done()
			m.call(ctx, h, payload, "async hook handler error")
		}(h)
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

func (m *Manager) call(ctx context.Context, h namedHandler, p Payload, msg string) {
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().
			Err(err).
			Str("event", p.Event).
			Str("handler", h.name).
			Msg(msg)
	}
}

// Count returns the number of handlers registered for an event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events returns the sorted list of events that have at least one handler.
func (m *Manager) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]string, 0, len(m.handlers))
	for event, handlers := range m.handlers {
		if len(handlers) > 0 {
			events = append(events, event)
		}
	}
	sort.Strings(events)
	return events
}
