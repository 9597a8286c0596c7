package models

import "time"

// DateLayout is the calendar date format used for day-rollover detection
const DateLayout = "2006-01-02"

// Reason codes returned with a rejected Decision
const (
	ReasonDisabled        = "disabled"
	ReasonSuppressed      = "suppressed"
	ReasonDailyCapReached = "daily_cap_reached"
	ReasonAlreadyShown    = "already_shown_this_session"
	ReasonExpired         = "expired"
	ReasonSessionTooYoung = "session_too_young"
	ReasonAuthRequired    = "auth_required"
)

// Decision is the outcome of evaluating one candidate message
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

// Allowed is the positive decision
func Allowed() Decision {
	return Decision{Allow: true}
}

// Rejected builds a negative decision with a reason code
func Rejected(reason string) Decision {
	return Decision{Allow: false, Reason: reason}
}

// SessionState is the eligibility-relevant state of one client session
type SessionState struct {
	SessionStartTime       time.Time           `json:"sessionStartTime"`
	DisplayedMessageIDs    map[string]struct{} `json:"-"`
	MessagesDisplayedToday int                 `json:"messagesDisplayedToday"`
	LastResetDate          string              `json:"lastResetDate"`
	Suppressed             bool                `json:"suppressed"`
	DataCollection         bool                `json:"dataCollection"`
}

// NewSessionState returns a fresh state starting at now
func NewSessionState(now time.Time) SessionState {
	return SessionState{
		SessionStartTime:    now,
		DisplayedMessageIDs: make(map[string]struct{}),
		LastResetDate:       now.Format(DateLayout),
		DataCollection:      true,
	}
}

// HasDisplayed reports whether id was already shown in this session
func (s *SessionState) HasDisplayed(id string) bool {
	_, ok := s.DisplayedMessageIDs[id]
	return ok
}

// DayCounter is the persisted daily display counter of a subject
type DayCounter struct {
	Subject                string `json:"subject"`
	LastResetDate          string `json:"lastResetDate"`
	MessagesDisplayedToday int    `json:"messagesDisplayedToday"`
}

// Session represents one client session (a browser tab) of a subject
type Session struct {
	ID                     string    `json:"id"`
	Subject                string    `json:"subjectId"`
	StartedAt              time.Time `json:"startedAt"`
	ExpiresAt              time.Time `json:"expiresAt"`
	DisplayedMessageIDs    []string  `json:"displayedMessageIds"`
	MessagesDisplayedToday int       `json:"messagesDisplayedToday"`
	LastResetDate          string    `json:"lastResetDate"`
	Suppressed             bool      `json:"suppressed"`
	DataCollection         bool      `json:"dataCollection"`
	DisplayInterval        int64     `json:"displayInterval"`
}

// CreateSessionRequest is the payload for creating a new session
type CreateSessionRequest struct {
	Subject string `json:"subjectId"`
	Timeout int    `json:"timeout,omitempty"` // seconds
}

// EvaluateRequest asks whether a message may be displayed now
type EvaluateRequest struct {
	Message       Message `json:"message"`
	Authenticated bool    `json:"authenticated"`
}

// EvaluateResponse is a Decision plus the id the message was evaluated under,
// generated when the request carried none
type EvaluateResponse struct {
	Decision
	MessageID string `json:"messageId"`
}

// DisplayRequest commits a message display
type DisplayRequest struct {
	Message Message `json:"message"`
}

// ToggleRequest carries a boolean setter value
type ToggleRequest struct {
	Value bool `json:"value"`
}

// NextMessageResponse is the first eligible catalog message, if any
type NextMessageResponse struct {
	Message  *Message `json:"message,omitempty"`
	Decision Decision `json:"decision"`
}
