// Package policy decides whether an in-app message may be displayed.
package policy

import (
	"time"

	"github.com/google/uuid"

	"github.com/shehryarbajwa/inapp-messaging/pkg/models"
)

const (
	placeholderTitle = "Notification"
	placeholderBody  = "You have a new message"
)

// Evaluate runs the eligibility gates in order and returns the first rejection.
// It never fails: every outcome is a Decision.
func Evaluate(msg models.Message, state models.SessionState, cfg models.Config, authenticated bool, now time.Time) models.Decision {
	if !cfg.Enabled {
		return models.Rejected(models.ReasonDisabled)
	}
	if state.Suppressed {
		return models.Rejected(models.ReasonSuppressed)
	}
	if state.MessagesDisplayedToday >= cfg.MaxMessagesPerSession {
		return models.Rejected(models.ReasonDailyCapReached)
	}
	if state.HasDisplayed(msg.MessageID) {
		return models.Rejected(models.ReasonAlreadyShown)
	}
	if msg.ExpiresAt != nil && !msg.ExpiresAt.After(now) {
		return models.Rejected(models.ReasonExpired)
	}

	if cond := msg.DisplayConditions; cond != nil {
		if cond.MinSessionTime > 0 && now.Sub(state.SessionStartTime) < cond.MinSessionDuration() {
			return models.Rejected(models.ReasonSessionTooYoung)
		}
		if cond.RequiresAuth && !authenticated {
			return models.Rejected(models.ReasonAuthRequired)
		}
	}

	return models.Allowed()
}

// Normalize fills safe defaults into an incomplete message instead of rejecting it
func Normalize(msg models.Message) models.Message {
	if msg.MessageID == "" {
		msg.MessageID = uuid.New().String()
	}
	if msg.Title == "" {
		msg.Title = placeholderTitle
	}
	if msg.Body == "" {
		msg.Body = placeholderBody
	}
	if msg.Priority == "" {
		msg.Priority = models.PriorityNormal
	}
	return msg
}

// RollOver resets the daily count when today differs from the last reset date.
// It reports whether a reset happened.
func RollOver(state *models.SessionState, today string) bool {
	if state.LastResetDate == today {
		return false
	}
	state.MessagesDisplayedToday = 0
	state.LastResetDate = today
	return true
}
