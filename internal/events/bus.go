// Package events fans out display and action events to subscribers.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/shehryarbajwa/inapp-messaging/pkg/models"
)

type Kind string

const (
	KindMessageDisplayed Kind = "message_displayed"
	KindActionClicked    Kind = "action_clicked"
)

// Event is published after a committed display or a recorded action
type Event struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	SessionID string          `json:"sessionId"`
	Subject   string          `json:"subjectId"`
	Timestamp time.Time       `json:"timestamp"`
	Message   *models.Message `json:"message,omitempty"`
	Action    *models.Action  `json:"action,omitempty"`
}

// NewEvent stamps an event with a fresh id
func NewEvent(kind Kind, sessionID, subject string, at time.Time) Event {
	return Event{
		ID:        ulid.Make().String(),
		Kind:      kind,
		SessionID: sessionID,
		Subject:   subject,
		Timestamp: at,
	}
}

type Handler func(Event)

// Bus delivers each published event at most once to every handler subscribed
// at publish time. Handlers are called in no particular order.
type Bus struct {
	handlers map[uint64]Handler
	nextID   uint64
	mu       sync.RWMutex
	logger   *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[uint64]Handler),
		logger:   logger,
	}
}

// Subscription is returned by Subscribe; Unsubscribe is idempotent
type Subscription struct {
	bus  *Bus
	id   uint64
	once sync.Once
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.handlers, s.id)
		s.bus.mu.Unlock()
	})
}

func (b *Bus) Subscribe(h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[b.nextID] = h
	return &Subscription{bus: b, id: b.nextID}
}

// Publish calls every handler synchronously. A panicking handler is logged and skipped.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, e)
	}
}

func (b *Bus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "error", r, "kind", e.Kind, "session_id", e.SessionID)
		}
	}()
	h(e)
}

// Len returns the number of active subscriptions
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
