package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are added to every record logged with a context carrying them
type LogFields struct {
	SessionID string
	Subject   string
	MessageID string
	Component string // e.g. "inapp.session.manager"
}

// WithLogFields enriches ctx. Non-empty values in fields replace existing ones.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := GetLogFields(ctx)
	if fields.SessionID != "" {
		merged.SessionID = fields.SessionID
	}
	if fields.Subject != "" {
		merged.Subject = fields.Subject
	}
	if fields.MessageID != "" {
		merged.MessageID = fields.MessageID
	}
	if fields.Component != "" {
		merged.Component = fields.Component
	}
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields returns the fields stored in ctx, or empty fields
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}
