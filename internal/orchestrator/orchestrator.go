// Package orchestrator drives one conversation turn through sanitization,
// consent, rate limiting, routing and worker execution.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/af-corp/aegis-orchestrator/internal/audit"
	"github.com/af-corp/aegis-orchestrator/internal/config"
	"github.com/af-corp/aegis-orchestrator/internal/consent"
	"github.com/af-corp/aegis-orchestrator/internal/ratelimit"
	"github.com/af-corp/aegis-orchestrator/internal/router"
	"github.com/af-corp/aegis-orchestrator/internal/sanitize"
	"github.com/af-corp/aegis-orchestrator/internal/session"
	"github.com/af-corp/aegis-orchestrator/internal/telemetry"
	"github.com/af-corp/aegis-orchestrator/internal/types"
	"github.com/af-corp/aegis-orchestrator/internal/workers"
)

const sessionSaveTimeout = 2 * time.Second

// FactorySource resolves a worker type to its factory.
type FactorySource interface {
	Factory(workerType string) (workers.Factory, error)
}

// UsageRecorder accumulates per-user token and cost counters.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, userID string, tokens int, cost float64) error
}

// Deps are the collaborators of an Orchestrator. Sessions, Audit, Monitor,
// Usage, Tools and Config are optional.
type Deps struct {
	Config   func() config.OrchestratorConfig
	Scanner  *sanitize.Scanner
	Consent  *consent.Gate
	Limiter  *ratelimit.Limiter
	Router   *router.Router
	Workers  FactorySource
	Cache    *workers.Cache
	Sessions session.Store
	Audit    audit.Recorder
	Monitor  *telemetry.Monitor
	Usage    UsageRecorder
	Tools    *workers.ToolRegistry
}

type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator is safe for concurrent use. Each call to Handle runs its own
// pipeline; only the worker cache, rate limiter and monitor are shared.
type Orchestrator struct {
	deps   Deps
	router atomic.Pointer[router.Router]
	logger *slog.Logger
	now    func() time.Time
}

// Request is one inbound user message.
type Request struct {
	SessionID   string
	UserID      string
	Text        string
	IPAddress   string
	UserContext map[string]string
}

func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Scanner == nil:
		return nil, errors.New("orchestrator: scanner is required")
	case deps.Consent == nil:
		return nil, errors.New("orchestrator: consent gate is required")
	case deps.Limiter == nil:
		return nil, errors.New("orchestrator: rate limiter is required")
	case deps.Router == nil:
		return nil, errors.New("orchestrator: router is required")
	case deps.Workers == nil || deps.Cache == nil:
		return nil, errors.New("orchestrator: worker factories and cache are required")
	}
	if _, err := deps.Workers.Factory(deps.Router.DefaultWorker()); err != nil {
		return nil, fmt.Errorf("orchestrator: default worker: %w", err)
	}

	if deps.Config == nil {
		def := config.DefaultConfig().Orchestrator
		deps.Config = func() config.OrchestratorConfig { return def }
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewMemoryStore(deps.Config().SessionTTL)
	}
	if deps.Audit == nil {
		deps.Audit = audit.Discard
	}
	if deps.Monitor == nil {
		deps.Monitor = telemetry.NewMonitor(nil)
	}

	o := &Orchestrator{deps: deps, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	o.router.Store(deps.Router)
	return o, nil
}

// SetRouter swaps the routing table for subsequent turns. Turns already
// running keep the router they started with.
func (o *Orchestrator) SetRouter(r *router.Router) {
	if r == nil {
		return
	}
	if _, err := o.deps.Workers.Factory(r.DefaultWorker()); err != nil {
		o.logger.Error("rejecting router without a registered default worker", "default_worker", r.DefaultWorker(), "error", err)
		return
	}
	o.router.Store(r)
	o.logger.Info("routing table replaced", "default_worker", r.DefaultWorker(), "workers", r.Table().WorkerTypes())
}

func (o *Orchestrator) Router() *router.Router { return o.router.Load() }

func (o *Orchestrator) Monitor() *telemetry.Monitor { return o.deps.Monitor }

func (o *Orchestrator) Cache() *workers.Cache { return o.deps.Cache }

// HandleMessage runs one turn and always returns a response with non-empty
// text.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID, userID, rawText, ipAddress string) types.Response {
	return o.Handle(ctx, Request{SessionID: sessionID, UserID: userID, Text: rawText, IPAddress: ipAddress})
}

// Handle is HandleMessage with caller supplied user context.
func (o *Orchestrator) Handle(ctx context.Context, req Request) types.Response {
	cfg := o.deps.Config()
	start := o.now()

	state := o.loadState(ctx, req)
	state.BeginTurn(uuid.NewString(), start)
	for k, v := range req.UserContext {
		state.UserContext[k] = v
	}

	t := &turn{
		ctx:      ctx,
		state:    state,
		raw:      req.Text,
		ipAddr:   req.IPAddress,
		language: language(state, cfg),
		recorder: o.deps.Audit,
		logger:   o.logger.With("session_id", state.SessionID, "turn_id", state.TurnID),
	}

	resp := o.run(t, cfg)
	if resp.Text == "" {
		resp.Text = message(t.language, msgApology)
	}
	state.ProcessingEnd = o.now()
	elapsed := state.ProcessingEnd.Sub(start)
	resp.Metadata = o.metadata(t, elapsed)

	o.saveState(ctx, state, cfg)
	o.deps.Monitor.RecordRequest(telemetry.RequestLabels{
		Outcome:    t.outcome,
		Worker:     resp.WorkerUsed,
		DurationMs: float64(elapsed.Microseconds()) / 1000,
		TokensUsed: t.tokens,
		Cost:       t.cost,
	})

	t.logger.Info("turn completed",
		"user_id", state.UserID,
		"workflow_step", state.WorkflowStep,
		"worker", resp.WorkerUsed,
		"blocked", resp.Blocked,
		"error_count", state.ErrorCount,
		"duration_ms", elapsed.Milliseconds(),
	)
	return resp
}

func (o *Orchestrator) run(t *turn, cfg config.OrchestratorConfig) types.Response {
	rt := o.router.Load()
	st := t.state

	if err := t.ctx.Err(); err != nil {
		return o.abort(t, err)
	}

	// received -> sanitized
	sec := o.deps.Scanner.Assess(t.raw)
	st.Security = sec
	st.Append(types.Message{Role: types.RoleUser, Content: sec.SanitizedText, Timestamp: o.now()})
	t.advance(types.StepSanitized, riskSeverity(sec.RiskLevel), map[string]any{
		"risk_level":     string(sec.RiskLevel),
		"input_modified": sec.InputModified,
		"matches":        matchSummary(sec.Matches),
	})
	if o.deps.Scanner.ShouldBlock(sec.RiskLevel) {
		return o.block(t, message(t.language, msgInputBlocked), "threat_detected")
	}

	// sanitized -> consent_checked
	if err := t.ctx.Err(); err != nil {
		return o.abort(t, err)
	}
	ct, dc, err := o.deps.Consent.Required()
	granted := false
	if err == nil {
		granted, err = o.deps.Consent.CheckConsent(t.ctx, st.UserID, ct, dc)
	}
	if ctxErr := t.ctx.Err(); ctxErr != nil {
		return o.abort(t, ctxErr)
	}
	payload := map[string]any{
		"granted":       granted,
		"consent_type":  string(ct),
		"data_category": string(dc),
	}
	sev := audit.SeverityInfo
	if !granted {
		sev = audit.SeverityWarning
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	t.advance(types.StepConsentChecked, sev, payload)
	if !granted {
		return o.block(t, message(t.language, msgConsentRequired), "consent_denied")
	}

	// consent_checked -> rate_checked
	decision := o.deps.Limiter.CheckChain(t.ctx, o.deps.Limiter.Scopes(t.ipAddr, st.UserID), 1)
	if err := t.ctx.Err(); err != nil {
		return o.abort(t, err)
	}
	t.advance(types.StepRateChecked, audit.SeverityInfo, map[string]any{
		"allowed":     decision.Allowed,
		"scope":       string(decision.Scope.Kind),
		"count":       decision.Count,
		"retry_after": decision.RetryAfterSeconds,
		"degraded":    decision.Degraded,
	})
	if !decision.Allowed {
		t.retryAfter = decision.RetryAfterSeconds
		o.deps.Monitor.RecordRateLimitRejection(string(decision.Scope.Kind))
		return o.block(t, message(t.language, msgRateLimited, t.retryAfter), "rate_limited")
	}

	// rate_checked -> routed
	route := rt.Decide(sec.SanitizedText)
	st.NextWorker = route.Worker
	t.scores = route.Scores
	t.confidence = route.Confidence
	t.advance(types.StepRouted, audit.SeverityInfo, map[string]any{
		"worker":     route.Worker,
		"scores":     route.Scores,
		"confidence": route.Confidence,
	})

	return o.execute(t, rt.DefaultWorker(), cfg)
}

// block ends the turn as a policy rejection.
func (o *Orchestrator) block(t *turn, text, reason string) types.Response {
	t.halt(text, o.now())
	t.outcome = telemetry.OutcomeBlocked
	t.advance(types.StepFinalized, audit.SeverityInfo, map[string]any{"reason": reason})
	return types.Response{Text: text, Blocked: true, RetryAfterSeconds: t.retryAfter}
}

// abort ends a cancelled turn in the error state.
func (o *Orchestrator) abort(t *turn, cause error) types.Response {
	text := message(t.language, msgCancelled)
	t.halt(text, o.now())
	t.outcome = telemetry.OutcomeFailure
	t.advance(types.StepError, audit.SeverityError, map[string]any{
		"reason": "cancelled",
		"error":  cause.Error(),
	})
	t.logger.Warn("turn cancelled", "workflow_step", t.state.WorkflowStep, "error", cause)
	return types.Response{Text: text}
}

func (o *Orchestrator) loadState(ctx context.Context, req Request) *types.ConversationState {
	if req.SessionID == "" {
		return types.NewConversationState(uuid.NewString(), req.UserID)
	}
	st, err := o.deps.Sessions.LoadState(ctx, req.SessionID)
	switch {
	case err == nil:
		if st.UserID != req.UserID {
			o.logger.Warn("session owned by another user, starting fresh", "session_id", req.SessionID)
			return types.NewConversationState(req.SessionID, req.UserID)
		}
		return st
	case errors.Is(err, session.ErrNotFound):
	default:
		o.internalFault("load", req.SessionID, req.UserID, err)
	}
	return types.NewConversationState(req.SessionID, req.UserID)
}

func (o *Orchestrator) saveState(ctx context.Context, st *types.ConversationState, cfg config.OrchestratorConfig) {
	st.TrimHistory(cfg.MaxHistory)
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionSaveTimeout)
	defer cancel()
	if err := o.deps.Sessions.SaveState(saveCtx, st.SessionID, st); err != nil {
		o.internalFault("save", st.SessionID, st.UserID, err)
	}
}

// internalFault logs and audits a fault that is never shown to the user.
func (o *Orchestrator) internalFault(op, sessionID, userID string, err error) {
	o.logger.Error("session store fault", "op", op, "session_id", sessionID, "error", err)
	o.deps.Audit.Emit(audit.NewEvent(audit.EventSessionStoreFault, audit.SeverityCritical, map[string]any{
		"op":    op,
		"error": err.Error(),
	}).WithSubject(userID, sessionID, ""))
}

func (o *Orchestrator) metadata(t *turn, elapsed time.Duration) map[string]any {
	st := t.state
	md := map[string]any{
		"session_id":        st.SessionID,
		"turn_id":           st.TurnID,
		"workflow_step":     string(st.WorkflowStep),
		"risk_level":        string(st.Security.RiskLevel),
		"input_modified":    st.Security.InputModified,
		"error_count":       st.ErrorCount,
		"retry_attempts":    st.RetryAttempts,
		"attempted_workers": append([]string(nil), st.AttemptedWorkers...),
		"tokens_used":       t.tokens,
		"cost":              t.cost,
		"processing_ms":     elapsed.Milliseconds(),
		"language":          t.language,
	}
	if t.scores != nil {
		md["scores"] = t.scores
	}
	if t.workerMetadata != nil {
		md["worker_metadata"] = t.workerMetadata
	}
	return md
}

func language(st *types.ConversationState, cfg config.OrchestratorConfig) string {
	if lang := st.UserContext["language"]; lang != "" {
		return lang
	}
	if cfg.DefaultLanguage != "" {
		return cfg.DefaultLanguage
	}
	return "hu"
}

func riskSeverity(level types.RiskLevel) audit.Severity {
	if level.AtLeast(types.RiskMedium) {
		return audit.SeverityWarning
	}
	return audit.SeverityInfo
}

func matchSummary(matches []types.PatternMatch) []string {
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Class+"/"+m.Rule)
	}
	return out
}
