// Package workers caches expensive worker instances and defines the contract
// the orchestrator invokes them through.
package workers

import (
	"context"
	"log/slog"

	"github.com/af-corp/aegis-orchestrator/internal/types"
)

// Worker handles a sanitized message for one worker type.
type Worker interface {
	Invoke(ctx context.Context, text string, deps Deps) (Result, error)
}

// HealthChecker is implemented by workers that can report their own health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Factory builds a worker. It may be slow.
type Factory func(ctx context.Context) (Worker, error)

// Deps is everything a worker may read while handling a turn.
type Deps struct {
	WorkerType  string
	Language    string
	UserContext map[string]string
	SessionData map[string]any
	History     []types.Message
	Tools       *ToolRegistry
	Logger      *slog.Logger
}

// Result is a worker's answer.
type Result struct {
	Text       string         `json:"text"`
	Confidence float64        `json:"confidence,omitempty"`
	TokensUsed int            `json:"tokens_used,omitempty"`
	Cost       float64        `json:"cost,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context, text string, deps Deps) (Result, error)

func (f WorkerFunc) Invoke(ctx context.Context, text string, deps Deps) (Result, error) {
	return f(ctx, text, deps)
}
