package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
)

// LogSink writes events as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Persist(ctx context.Context, events []Event) error {
	for _, ev := range events {
		s.logger.LogAttrs(ctx, logLevel(ev.Severity), "audit event",
			slog.String("audit_id", ev.ID.String()),
			slog.String("event_type", ev.EventType),
			slog.String("severity", string(ev.Severity)),
			slog.String("user_id", ev.UserID),
			slog.String("session_id", ev.SessionID),
			slog.String("turn_id", ev.TurnID),
			slog.Time("timestamp", ev.Timestamp),
			slog.Any("payload", ev.Payload),
		)
	}
	return nil
}

func logLevel(s Severity) slog.Level {
	switch s {
	case SeverityDebug:
		return slog.LevelDebug
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityError, SeverityCritical:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MemorySink keeps events in memory. Err, when set, is returned by Persist.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (s *MemorySink) Persist(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Recorder adapts the sink to Recorder for synchronous use in tests.
func (s *MemorySink) Emit(ev Event) {
	_ = s.Persist(context.Background(), []Event{ev})
}

// copier is the subset of pgxpool.Pool used by PostgresSink.
type copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var auditColumns = []string{
	"id", "event_type", "user_id", "session_id", "turn_id", "severity", "payload", "created_at",
}

// PostgresSink bulk-inserts events into the audit_events table.
type PostgresSink struct {
	db copier
}

func NewPostgresSink(db copier) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Persist(ctx context.Context, events []Event) error {
	rows := make([][]any, 0, len(events))
	for _, ev := range events {
		payload := ev.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		rows = append(rows, []any{
			ev.ID, ev.EventType, ev.UserID, ev.SessionID, ev.TurnID, string(ev.Severity), payload, ev.Timestamp,
		})
	}
	n, err := s.db.CopyFrom(ctx, pgx.Identifier{"audit_events"}, auditColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy audit events: %w", err)
	}
	if int(n) != len(events) {
		return fmt.Errorf("copy audit events: wrote %d of %d rows", n, len(events))
	}
	return nil
}
