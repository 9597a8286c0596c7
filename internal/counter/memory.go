package counter

import (
	"context"
	"sync"

	"github.com/shehryarbajwa/inapp-messaging/pkg/models"
)

// MemoryStore keeps counters in process memory. Counters are shared by the
// sessions of one process and lost on restart.
type MemoryStore struct {
	counters map[string]models.DayCounter
	mu       sync.Mutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]models.DayCounter),
	}
}

func (s *MemoryStore) Load(ctx context.Context, subject string) (models.DayCounter, error) {
	if err := validateSubject(subject); err != nil {
		return models.DayCounter{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[subject]
	if !ok {
		return models.DayCounter{Subject: subject}, nil
	}
	return c, nil
}

func (s *MemoryStore) Reset(ctx context.Context, subject, date string) (models.DayCounter, error) {
	if err := validateSubject(subject); err != nil {
		return models.DayCounter{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := models.DayCounter{Subject: subject, LastResetDate: date}
	s.counters[subject] = c
	return c, nil
}

func (s *MemoryStore) Increment(ctx context.Context, subject, date string, limit int) (models.DayCounter, error) {
	if err := validateSubject(subject); err != nil {
		return models.DayCounter{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.counters[subject]
	if c.LastResetDate != date {
		c = models.DayCounter{Subject: subject, LastResetDate: date}
	}
	if c.MessagesDisplayedToday >= limit {
		return c, ErrLimitReached
	}
	c.MessagesDisplayedToday++
	s.counters[subject] = c
	return c, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
