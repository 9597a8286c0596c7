package models

import "time"

// Priority is advisory. Catalog ordering uses it; eligibility does not.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Rank orders priorities from high to low. Unknown values rank as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// DisplayConditions narrows when a message may be shown
type DisplayConditions struct {
	MinSessionTime int64 `json:"minSessionTime,omitempty"` // milliseconds since session start
	RequiresAuth   bool  `json:"requiresAuth,omitempty"`

	// MaxDisplaysPerDay is carried for clients but not enforced; the global daily cap applies instead.
	MaxDisplaysPerDay int `json:"maxDisplaysPerDay,omitempty"`
}

// MinSessionDuration returns MinSessionTime as a duration
func (c *DisplayConditions) MinSessionDuration() time.Duration {
	if c == nil {
		return 0
	}
	return time.Duration(c.MinSessionTime) * time.Millisecond
}

// Message is a promotional or informational payload shown inside the client
type Message struct {
	MessageID         string             `json:"messageId"`
	Title             string             `json:"title"`
	Body              string             `json:"body"`
	ActionURL         string             `json:"actionUrl,omitempty"`
	ImageURL          string             `json:"imageUrl,omitempty"`
	CampaignName      string             `json:"campaignName,omitempty"`
	Priority          Priority           `json:"priority,omitempty"`
	ExpiresAt         *time.Time         `json:"expiresAt,omitempty"`
	DisplayConditions *DisplayConditions `json:"displayConditions,omitempty"`
}

// Action is a click on a message's call to action
type Action struct {
	MessageID   string    `json:"messageId"`
	ActionLabel string    `json:"actionLabel"`
	ActionURL   string    `json:"actionUrl"`
	Timestamp   time.Time `json:"timestamp"`
}
