package session_test

import (
	"context"
	"errors"
	"sync"

	"github.com/shehryarbajwa/inapp-messaging/internal/analytics"
	"github.com/shehryarbajwa/inapp-messaging/internal/counter"
	"github.com/shehryarbajwa/inapp-messaging/pkg/models"
)

type mockTracker struct {
	mu        sync.Mutex
	displayed []analytics.MessageDisplayed
	actions   []models.Action
}

func (m *mockTracker) TrackMessageDisplayed(_ context.Context, event analytics.MessageDisplayed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.displayed = append(m.displayed, event)
}

func (m *mockTracker) TrackActionClicked(_ context.Context, action models.Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, action)
}

func (m *mockTracker) displayedEvents() []analytics.MessageDisplayed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]analytics.MessageDisplayed(nil), m.displayed...)
}

func (m *mockTracker) actionEvents() []models.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Action(nil), m.actions...)
}

var errStoreDown = errors.New("store unavailable")

// failingStore simulates disabled or full durable storage
type failingStore struct{}

func (failingStore) Load(context.Context, string) (models.DayCounter, error) {
	return models.DayCounter{}, errStoreDown
}

func (failingStore) Reset(context.Context, string, string) (models.DayCounter, error) {
	return models.DayCounter{}, errStoreDown
}

func (failingStore) Increment(context.Context, string, string, int) (models.DayCounter, error) {
	return models.DayCounter{}, errStoreDown
}

func (failingStore) Close() error {
	return nil
}

// staleLoadStore answers Load with a fixed counter while writes go to the
// wrapped store, as if another session wrote right after the read.
type staleLoadStore struct {
	*counter.MemoryStore
	loaded models.DayCounter
}

func (s staleLoadStore) Load(context.Context, string) (models.DayCounter, error) {
	return s.loaded, nil
}
