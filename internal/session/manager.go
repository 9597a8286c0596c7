package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/shehryarbajwa/inapp-messaging/internal/analytics"
	"github.com/shehryarbajwa/inapp-messaging/internal/catalog"
	"github.com/shehryarbajwa/inapp-messaging/internal/counter"
	"github.com/shehryarbajwa/inapp-messaging/internal/events"
	"github.com/shehryarbajwa/inapp-messaging/internal/logger"
	"github.com/shehryarbajwa/inapp-messaging/internal/policy"
	"github.com/shehryarbajwa/inapp-messaging/internal/remoteconfig"
	"github.com/shehryarbajwa/inapp-messaging/pkg/models"
)

const (
	minTimeout = 60
	maxTimeout = 86400
)

// ReasonNoCandidates is returned by NextMessage when the catalog is empty
const ReasonNoCandidates = "no_candidates"

var (
	ErrNotFound       = errors.New("session not found")
	ErrInvalidRequest = errors.New("invalid request")
	// ErrDailyCapReached is returned by CommitDisplay when the subject's daily
	// cap was reached, possibly by another session, after the display was evaluated.
	ErrDailyCapReached = errors.New(models.ReasonDailyCapReached)
)

// Options wires a Manager to its collaborators. Counters, Config and Catalog are required.
type Options struct {
	Counters counter.Store
	Config   *remoteconfig.Provider
	Catalog  *catalog.Catalog
	Tracker  analytics.Tracker
	Bus      *events.Bus
	Timeout  time.Duration
	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger
}

// Manager owns every live session and applies the display policy to them.
// It is constructed once by the host and shared by the HTTP handlers.
type Manager struct {
	sessions sync.Map // map[sessionID]*session
	counters counter.Store
	config   *remoteconfig.Provider
	catalog  *catalog.Catalog
	tracker  analytics.Tracker
	bus      *events.Bus
	timeout  time.Duration
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger
	tracer   trace.Tracer
}

type session struct {
	id        string
	subject   string
	expiresAt time.Time
	state     models.SessionState
	displayed []string // displayed ids in display order
	timer     *time.Timer
	mu        sync.Mutex
}

// NewManager creates a new session manager
func NewManager(opts Options) *Manager {
	m := &Manager{
		counters: opts.Counters,
		config:   opts.Config,
		catalog:  opts.Catalog,
		tracker:  opts.Tracker,
		bus:      opts.Bus,
		timeout:  opts.Timeout,
		loc:      opts.Location,
		now:      opts.Now,
		logger:   opts.Logger,
		tracer:   otel.Tracer("github.com/shehryarbajwa/inapp-messaging/internal/session"),
	}
	if m.timeout <= 0 {
		m.timeout = time.Hour
	}
	if m.loc == nil {
		m.loc = time.Local
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.bus == nil {
		m.bus = events.NewBus(m.logger)
	}
	return m
}

// Initialize loads the remote policy configuration. It fails open and always reports ready.
func (m *Manager) Initialize(ctx context.Context) bool {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "inapp.session.manager"})
	return m.config.Load(ctx)
}

// Config returns the policy configuration in effect
func (m *Manager) Config() models.Config {
	return m.config.Current()
}

// Bus returns the bus display and action events are published on
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

func (m *Manager) today() string {
	return m.now().In(m.loc).Format(models.DateLayout)
}

// CreateSession starts a session for a subject and loads the subject's day counter
func (m *Manager) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	if req.Subject == "" {
		return nil, fmt.Errorf("%w: subjectId is required", ErrInvalidRequest)
	}

	timeout := m.timeout
	if req.Timeout != 0 {
		if req.Timeout < minTimeout || req.Timeout > maxTimeout {
			return nil, fmt.Errorf("%w: timeout must be between %d and %d seconds", ErrInvalidRequest, minTimeout, maxTimeout)
		}
		timeout = time.Duration(req.Timeout) * time.Second
	}

	now := m.now()
	s := &session{
		id:        uuid.New().String(),
		subject:   req.Subject,
		expiresAt: now.Add(timeout),
		state:     models.NewSessionState(now),
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SessionID: s.id,
		Subject:   s.subject,
		Component: "inapp.session.manager",
	})
	ctx, span := m.tracer.Start(ctx, "session.create", trace.WithAttributes(attribute.String("session.id", s.id)))
	defer span.End()

	m.loadCounter(ctx, s)

	s.timer = time.AfterFunc(timeout, func() { m.expire(s.id) })
	m.sessions.Store(s.id, s)

	m.logger.InfoContext(ctx, "session created",
		"messages_displayed_today", s.state.MessagesDisplayedToday,
		"expires_at", s.expiresAt)

	return m.snapshot(s), nil
}

// loadCounter brings the subject's persisted counter into a new session. A
// counter from an earlier day counts as zero; the store rolls it over on the
// next Increment. Store failures leave the session counting in memory only.
func (m *Manager) loadCounter(ctx context.Context, s *session) {
	today := m.today()
	s.state.LastResetDate = today

	c, err := m.counters.Load(ctx, s.subject)
	if err != nil {
		m.logger.WarnContext(ctx, "day counter unavailable, counting in memory", "error", err)
		return
	}

	if c.LastResetDate != today {
		m.logger.DebugContext(ctx, "day counter rolled over", "last_reset_date", c.LastResetDate, "today", today)
		return
	}

	s.state.MessagesDisplayedToday = c.MessagesDisplayedToday
}

// refresh re-reads the shared counter so displays committed by other sessions
// of the subject count against this one. The cached count only ever grows
// within a day, so displays whose persistence failed still count. Must hold s.mu.
func (m *Manager) refresh(ctx context.Context, s *session) {
	today := m.today()
	policy.RollOver(&s.state, today)

	c, err := m.counters.Load(ctx, s.subject)
	if err != nil {
		m.logger.DebugContext(ctx, "day counter refresh failed, using cached count", "error", err)
		return
	}
	if c.LastResetDate == today && c.MessagesDisplayedToday > s.state.MessagesDisplayedToday {
		s.state.MessagesDisplayedToday = c.MessagesDisplayedToday
	}
}

func (m *Manager) lookup(id string) (*session, error) {
	value, ok := m.sessions.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	return value.(*session), nil
}

func (m *Manager) sessionContext(ctx context.Context, s *session, messageID string) context.Context {
	return logger.WithLogFields(ctx, logger.LogFields{
		SessionID: s.id,
		Subject:   s.subject,
		MessageID: messageID,
		Component: "inapp.session.manager",
	})
}

// Evaluate decides whether msg may be displayed in the session now.
// The only error is ErrNotFound; every policy outcome is a Decision.
func (m *Manager) Evaluate(ctx context.Context, sessionID string, msg models.Message, authenticated bool) (models.Decision, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return models.Decision{}, err
	}

	msg = policy.Normalize(msg)
	ctx = m.sessionContext(ctx, s, msg.MessageID)
	ctx, span := m.tracer.Start(ctx, "session.evaluate")
	defer span.End()

	cfg := m.config.Current()

	s.mu.Lock()
	m.refresh(ctx, s)
	decision := policy.Evaluate(msg, s.state, cfg, authenticated, m.now())
	s.mu.Unlock()

	span.SetAttributes(attribute.Bool("decision.allow", decision.Allow), attribute.String("decision.reason", decision.Reason))
	if cfg.DebugMode {
		m.logger.DebugContext(ctx, "message evaluated", "allow", decision.Allow, "reason", decision.Reason)
	}
	return decision, nil
}

// NextMessage returns the first catalog message the session may display, in
// priority order, without committing it. When nothing is eligible the message
// is nil and the decision is the rejection of the first candidate.
func (m *Manager) NextMessage(ctx context.Context, sessionID string, authenticated bool) (*models.Message, models.Decision, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, models.Decision{}, err
	}

	ctx = m.sessionContext(ctx, s, "")
	candidates := m.catalog.Ordered()
	if len(candidates) == 0 {
		return nil, models.Rejected(ReasonNoCandidates), nil
	}

	cfg := m.config.Current()
	now := m.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	m.refresh(ctx, s)

	var first models.Decision
	for i, msg := range candidates {
		decision := policy.Evaluate(msg, s.state, cfg, authenticated, now)
		if decision.Allow {
			return &msg, decision, nil
		}
		if i == 0 {
			first = decision
		}
	}
	return nil, first, nil
}

// CommitDisplay records that msg was shown. It persists the day counter
// immediately and emits message_displayed without waiting for delivery.
//
// The counter store only counts the display while the subject is under its
// daily cap; otherwise nothing is recorded and ErrDailyCapReached is returned.
// A message without an id gets a fresh one here, so callers should commit the
// id returned by evaluation rather than an id-less payload.
func (m *Manager) CommitDisplay(ctx context.Context, sessionID string, msg models.Message) (*models.Session, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	msg = policy.Normalize(msg)
	ctx = m.sessionContext(ctx, s, msg.MessageID)
	ctx, span := m.tracer.Start(ctx, "session.commit_display")
	defer span.End()

	now := m.now()
	today := m.today()
	limit := m.config.Current().MaxMessagesPerSession

	s.mu.Lock()
	policy.RollOver(&s.state, today)
	if s.state.MessagesDisplayedToday >= limit {
		s.mu.Unlock()
		m.logger.InfoContext(ctx, "display refused, daily cap reached")
		return nil, ErrDailyCapReached
	}

	c, err := m.counters.Increment(ctx, s.subject, today, limit)
	switch {
	case errors.Is(err, counter.ErrLimitReached):
		s.state.MessagesDisplayedToday = max(s.state.MessagesDisplayedToday, c.MessagesDisplayedToday)
		s.mu.Unlock()
		m.logger.InfoContext(ctx, "display refused, daily cap reached by another session",
			"messages_displayed_today", c.MessagesDisplayedToday)
		return nil, ErrDailyCapReached
	case err != nil:
		m.logger.WarnContext(ctx, "day counter not persisted, counting in memory", "error", err)
		s.state.MessagesDisplayedToday++
	default:
		s.state.MessagesDisplayedToday = max(s.state.MessagesDisplayedToday+1, c.MessagesDisplayedToday)
	}

	if !s.state.HasDisplayed(msg.MessageID) {
		s.state.DisplayedMessageIDs[msg.MessageID] = struct{}{}
		s.displayed = append(s.displayed, msg.MessageID)
	}
	collect := s.state.DataCollection
	snap := m.snapshotLocked(s)
	s.mu.Unlock()

	if collect && m.tracker != nil {
		m.tracker.TrackMessageDisplayed(ctx, analytics.MessageDisplayed{
			MessageID:    msg.MessageID,
			CampaignName: msg.CampaignName,
			Timestamp:    now,
		})
	}

	e := events.NewEvent(events.KindMessageDisplayed, s.id, s.subject, now)
	e.Message = &msg
	m.bus.Publish(e)

	m.logger.InfoContext(ctx, "message displayed",
		"campaign", msg.CampaignName,
		"messages_displayed_today", snap.MessagesDisplayedToday)

	return snap, nil
}

// RecordAction emits action_clicked. It does not check that the message was
// displayed in this session and does not change eligibility state.
func (m *Manager) RecordAction(ctx context.Context, sessionID string, action models.Action) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	ctx = m.sessionContext(ctx, s, action.MessageID)
	if action.Timestamp.IsZero() {
		action.Timestamp = m.now()
	}

	s.mu.Lock()
	collect := s.state.DataCollection
	s.mu.Unlock()

	if collect && m.tracker != nil {
		m.tracker.TrackActionClicked(ctx, action)
	}

	e := events.NewEvent(events.KindActionClicked, s.id, s.subject, action.Timestamp)
	e.Action = &action
	m.bus.Publish(e)

	m.logger.DebugContext(ctx, "action recorded", "label", action.ActionLabel)
	return nil
}

// Suppress turns display off (or back on) for the session
func (m *Manager) Suppress(sessionID string, suppressed bool) error {
	return m.update(sessionID, func(s *session) { s.state.Suppressed = suppressed })
}

// SetDataCollection turns analytics delivery on or off for the session
func (m *Manager) SetDataCollection(sessionID string, enabled bool) error {
	return m.update(sessionID, func(s *session) { s.state.DataCollection = enabled })
}

func (m *Manager) update(sessionID string, fn func(s *session)) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	fn(s)
	s.mu.Unlock()
	return nil
}

// ResetSession clears displayed messages, zeroes the day counter and restarts
// the session clock. Meant for test harnesses.
func (m *Manager) ResetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	ctx = m.sessionContext(ctx, s, "")
	today := m.today()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.DisplayedMessageIDs = make(map[string]struct{})
	s.displayed = nil
	s.state.MessagesDisplayedToday = 0
	s.state.LastResetDate = today
	s.state.SessionStartTime = m.now()

	if _, err := m.counters.Reset(ctx, s.subject, today); err != nil {
		m.logger.WarnContext(ctx, "day counter reset not persisted", "error", err)
	}

	m.logger.InfoContext(ctx, "session reset")
	return m.snapshotLocked(s), nil
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(id string) (*models.Session, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return m.snapshot(s), nil
}

// ListSessions returns live sessions, optionally only those of one subject
func (m *Manager) ListSessions(subject string) []*models.Session {
	var sessions []*models.Session

	m.sessions.Range(func(key, value interface{}) bool {
		s := value.(*session)
		if subject != "" && s.subject != subject {
			return true
		}
		sessions = append(sessions, m.snapshot(s))
		return true
	})

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartedAt.Before(sessions[j].StartedAt) })
	return sessions
}

// DeleteSession ends a session before its timeout
func (m *Manager) DeleteSession(id string) error {
	value, ok := m.sessions.LoadAndDelete(id)
	if !ok {
		return ErrNotFound
	}
	s := value.(*session)
	if s.timer != nil {
		s.timer.Stop()
	}
	m.logger.Info("session ended", "session_id", id, "subject", s.subject)
	return nil
}

// expire drops a session whose timeout elapsed
func (m *Manager) expire(id string) {
	if _, ok := m.sessions.LoadAndDelete(id); ok {
		m.logger.Info("session timed out", "session_id", id)
	}
}

// Close stops every session timer
func (m *Manager) Close() {
	m.sessions.Range(func(key, value interface{}) bool {
		s := value.(*session)
		if s.timer != nil {
			s.timer.Stop()
		}
		m.sessions.Delete(key)
		return true
	})
}

func (m *Manager) snapshot(s *session) *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.snapshotLocked(s)
}

func (m *Manager) snapshotLocked(s *session) *models.Session {
	displayed := make([]string, len(s.displayed))
	copy(displayed, s.displayed)

	return &models.Session{
		ID:                     s.id,
		Subject:                s.subject,
		StartedAt:              s.state.SessionStartTime,
		ExpiresAt:              s.expiresAt,
		DisplayedMessageIDs:    displayed,
		MessagesDisplayedToday: s.state.MessagesDisplayedToday,
		LastResetDate:          s.state.LastResetDate,
		Suppressed:             s.state.Suppressed,
		DataCollection:         s.state.DataCollection,
		DisplayInterval:        m.config.Current().DisplayInterval,
	}
}
