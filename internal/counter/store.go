// Package counter persists the per-subject daily display counter.
//
// Every session of a subject reads and increments the same counter, so the
// store is the authority for the daily cap and the in-session count is only a
// cache of it. Increment must be atomic: it rolls the counter over when the
// stored date differs from the date passed in, and refuses to count past the
// limit it is given.
package counter

import (
	"context"
	"errors"
	"strings"

	"github.com/shehryarbajwa/inapp-messaging/pkg/models"
)

var (
	// ErrSubjectRequired is returned when a store call has an empty subject
	ErrSubjectRequired = errors.New("subject is required")
	// ErrLimitReached is returned by Increment when today's count is already at the limit
	ErrLimitReached = errors.New("daily limit reached")
)

// Store is a durable day counter keyed by subject
type Store interface {
	// Load returns the stored counter. A subject with no record yields a zero counter.
	Load(ctx context.Context, subject string) (models.DayCounter, error)
	// Reset sets the counter to zero for date.
	Reset(ctx context.Context, subject, date string) (models.DayCounter, error)
	// Increment adds one display for date, starting from zero if the stored date
	// differs. When the count for date is already at limit nothing changes and
	// the current counter is returned with ErrLimitReached.
	Increment(ctx context.Context, subject, date string, limit int) (models.DayCounter, error)
	Close() error
}

func validateSubject(subject string) error {
	if strings.TrimSpace(subject) == "" {
		return ErrSubjectRequired
	}
	return nil
}
