package counter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shehryarbajwa/inapp-messaging/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS day_counters (
	subject TEXT PRIMARY KEY,
	last_reset_date TEXT NOT NULL,
	messages_displayed_today INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore persists counters in a local SQLite database
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (and creates if needed) a counter database at path
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows a single writer at a time.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, subject string) (models.DayCounter, error) {
	if err := validateSubject(subject); err != nil {
		return models.DayCounter{}, err
	}

	c := models.DayCounter{Subject: subject}
	err := s.db.QueryRowContext(ctx,
		`SELECT last_reset_date, messages_displayed_today FROM day_counters WHERE subject = ?`,
		subject,
	).Scan(&c.LastResetDate, &c.MessagesDisplayedToday)
	if errors.Is(err, sql.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return models.DayCounter{}, fmt.Errorf("load counter: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) Reset(ctx context.Context, subject, date string) (models.DayCounter, error) {
	if err := validateSubject(subject); err != nil {
		return models.DayCounter{}, err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO day_counters (subject, last_reset_date, messages_displayed_today, updated_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(subject) DO UPDATE SET
			last_reset_date = excluded.last_reset_date,
			messages_displayed_today = 0,
			updated_at = excluded.updated_at`,
		subject, date, s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return models.DayCounter{}, fmt.Errorf("reset counter: %w", err)
	}
	return models.DayCounter{Subject: subject, LastResetDate: date}, nil
}

// Increment relies on SQLite evaluating every SET expression against the old
// row, so the CASE sees the previous last_reset_date. The upsert WHERE skips
// the update, and RETURNING yields no row, when today's count is at the limit.
func (s *SQLiteStore) Increment(ctx context.Context, subject, date string, limit int) (models.DayCounter, error) {
	if err := validateSubject(subject); err != nil {
		return models.DayCounter{}, err
	}
	if limit <= 0 {
		return s.refused(ctx, subject, date)
	}

	c := models.DayCounter{Subject: subject}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO day_counters (subject, last_reset_date, messages_displayed_today, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(subject) DO UPDATE SET
			messages_displayed_today = CASE
				WHEN day_counters.last_reset_date = excluded.last_reset_date
				THEN day_counters.messages_displayed_today + 1
				ELSE 1
			END,
			last_reset_date = excluded.last_reset_date,
			updated_at = excluded.updated_at
		WHERE day_counters.last_reset_date <> excluded.last_reset_date
			OR day_counters.messages_displayed_today < ?
		RETURNING last_reset_date, messages_displayed_today`,
		subject, date, s.now().UTC().UnixMilli(), limit,
	).Scan(&c.LastResetDate, &c.MessagesDisplayedToday)
	if errors.Is(err, sql.ErrNoRows) {
		return s.refused(ctx, subject, date)
	}
	if err != nil {
		return models.DayCounter{}, fmt.Errorf("increment counter: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) refused(ctx context.Context, subject, date string) (models.DayCounter, error) {
	c, err := s.Load(ctx, subject)
	if err != nil {
		return models.DayCounter{}, err
	}
	if c.LastResetDate != date {
		c = models.DayCounter{Subject: subject, LastResetDate: date}
	}
	return c, ErrLimitReached
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
