// Package audit records security, consent, routing and worker events without
// blocking the request path.
package audit

import (
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event types emitted outside the per-transition pipeline events.
const (
	EventConsentOracleUnavailable    = "consent_oracle_unavailable"
	EventRateLimitBackendUnavailable = "rate_limit_backend_unavailable"
	EventAuditEventsDropped          = "audit_events_dropped"
	EventSessionStoreFault           = "session_store_fault"
)

// Event is immutable once emitted.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	EventType string         `json:"event_type"`
	UserID    string         `json:"user_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	TurnID    string         `json:"turn_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Severity  Severity       `json:"severity"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// NewEvent stamps an event with a fresh ID and the current time.
func NewEvent(eventType string, severity Severity, payload map[string]any) Event {
	return Event{
		ID:        uuid.New(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Severity:  severity,
		Payload:   payload,
	}
}

// WithSubject returns a copy of e attributed to a user, session and turn.
func (e Event) WithSubject(userID, sessionID, turnID string) Event {
	e.UserID = userID
	e.SessionID = sessionID
	e.TurnID = turnID
	return e
}

// Recorder accepts events. Implementations must not block.
type Recorder interface {
	Emit(Event)
}

// Discard drops every event.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Emit(Event) {}
