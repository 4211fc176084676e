package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/af-corp/aegis-orchestrator/internal/audit"
	"github.com/af-corp/aegis-orchestrator/internal/config"
	"github.com/af-corp/aegis-orchestrator/internal/telemetry"
	"github.com/af-corp/aegis-orchestrator/internal/types"
	"github.com/af-corp/aegis-orchestrator/internal/workers"
)

// execute invokes the routed worker. A failing worker is retried once on the
// default worker type; the default worker itself is never retried.
func (o *Orchestrator) execute(t *turn, defaultWorker string, cfg config.OrchestratorConfig) types.Response {
	st := t.state
	for {
		if err := t.ctx.Err(); err != nil {
			return o.abort(t, err)
		}

		workerType := st.NextWorker
		if workerType != defaultWorker && !o.deps.Cache.Available(workerType) {
			t.logger.Warn("worker circuit open, substituting default", "worker", workerType, "default_worker", defaultWorker)
			workerType = defaultWorker
			st.NextWorker = defaultWorker
		}
		st.AttemptedWorkers = append(st.AttemptedWorkers, workerType)

		res, err := o.invoke(t, workerType, cfg)
		if err == nil {
			return o.complete(t, workerType, res)
		}
		if ctxErr := t.ctx.Err(); ctxErr != nil {
			return o.abort(t, ctxErr)
		}

		st.ErrorCount++
		t.logger.Warn("worker invocation failed", "worker", workerType, "error_count", st.ErrorCount, "error", err)
		if st.ErrorCount <= cfg.MaxRetries && workerType != defaultWorker {
			st.RetryAttempts++
			st.NextWorker = defaultWorker
			t.advance(types.StepRouted, audit.SeverityWarning, map[string]any{
				"worker":        defaultWorker,
				"forced":        true,
				"failed_worker": workerType,
				"error":         err.Error(),
				"error_count":   st.ErrorCount,
			})
			continue
		}
		return o.giveUp(t, workerType, err)
	}
}

func (o *Orchestrator) invoke(t *turn, workerType string, cfg config.OrchestratorConfig) (workers.Result, error) {
	started := o.now()
	res, err := o.invokeOnce(t, workerType, cfg)
	if t.ctx.Err() == nil {
		o.deps.Cache.RecordResult(workerType, err)
	} else {
		o.deps.Cache.ReleaseProbe(workerType)
	}
	o.deps.Monitor.RecordWorker(workerType, err == nil, float64(o.now().Sub(started).Microseconds())/1000)
	return res, err
}

func (o *Orchestrator) invokeOnce(t *turn, workerType string, cfg config.OrchestratorConfig) (res workers.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %s panicked: %v", workerType, r)
		}
	}()

	factory, err := o.deps.Workers.Factory(workerType)
	if err != nil {
		return workers.Result{}, err
	}
	w, err := o.deps.Cache.GetOrCreate(t.ctx, workerType, factory)
	if err != nil {
		return workers.Result{}, err
	}

	ctx := t.ctx
	if cfg.WorkerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.WorkerTimeout)
		defer cancel()
	}

	st := t.state
	res, err = w.Invoke(ctx, st.Security.SanitizedText, workers.Deps{
		WorkerType:  workerType,
		Language:    t.language,
		UserContext: st.UserContext,
		SessionData: st.SessionData,
		History:     append([]types.Message(nil), st.Messages...),
		Tools:       o.deps.Tools,
		Logger:      t.logger.With("worker", workerType),
	})
	if err != nil {
		return workers.Result{}, fmt.Errorf("invoke worker %s: %w", workerType, err)
	}
	if strings.TrimSpace(res.Text) == "" {
		return workers.Result{}, fmt.Errorf("worker %s returned an empty reply", workerType)
	}
	return res, nil
}

// complete folds a worker result into the state: routed -> executed -> finalized.
func (o *Orchestrator) complete(t *turn, workerType string, res workers.Result) types.Response {
	st := t.state
	st.CurrentWorker = workerType
	st.TokensUsed += res.TokensUsed
	st.Cost += res.Cost
	t.tokens = res.TokensUsed
	t.cost = res.Cost
	t.workerMetadata = res.Metadata
	if res.Confidence > 0 {
		t.confidence = res.Confidence
	}

	t.advance(types.StepExecuted, audit.SeverityInfo, map[string]any{
		"worker":      workerType,
		"tokens_used": res.TokensUsed,
		"cost":        res.Cost,
		"confidence":  t.confidence,
	})
	st.Append(types.Message{Role: types.RoleAssistant, Content: res.Text, Timestamp: o.now(), Worker: workerType})
	t.outcome = telemetry.OutcomeSuccess
	t.advance(types.StepFinalized, audit.SeverityInfo, map[string]any{"worker": workerType})

	if o.deps.Usage != nil {
		if err := o.deps.Usage.RecordUsage(t.ctx, st.UserID, res.TokensUsed, res.Cost); err != nil {
			t.logger.Warn("failed to record usage", "user_id", st.UserID, "error", err)
		}
	}

	return types.Response{Text: res.Text, WorkerUsed: workerType, Confidence: t.confidence}
}

// giveUp ends the turn with an apology once retries are exhausted.
func (o *Orchestrator) giveUp(t *turn, workerType string, cause error) types.Response {
	text := message(t.language, msgApology)
	t.halt(text, o.now())
	t.outcome = telemetry.OutcomeFailure
	t.advance(types.StepFinalized, audit.SeverityError, map[string]any{
		"reason":        "worker_failed",
		"failed_worker": workerType,
		"error":         cause.Error(),
		"error_count":   t.state.ErrorCount,
	})
	t.logger.Error("retries exhausted", "worker", workerType, "error_count", t.state.ErrorCount, "error", cause)
	return types.Response{Text: text}
}
