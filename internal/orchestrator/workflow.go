package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/af-corp/aegis-orchestrator/internal/audit"
	"github.com/af-corp/aegis-orchestrator/internal/types"
)

// EventTypePrefix prefixes the audit event type of every workflow transition,
// e.g. "workflow.consent_checked".
const EventTypePrefix = "workflow."

var transitions = map[types.WorkflowStep][]types.WorkflowStep{
	types.StepReceived:       {types.StepSanitized, types.StepError},
	types.StepSanitized:      {types.StepConsentChecked, types.StepFinalized, types.StepError},
	types.StepConsentChecked: {types.StepRateChecked, types.StepFinalized, types.StepError},
	types.StepRateChecked:    {types.StepRouted, types.StepFinalized, types.StepError},
	types.StepRouted:         {types.StepExecuted, types.StepRouted, types.StepFinalized, types.StepError},
	types.StepExecuted:       {types.StepFinalized, types.StepError},
}

// canTransition reports whether the pipeline may move from one step to another.
func canTransition(from, to types.WorkflowStep) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// turn carries one pipeline run.
type turn struct {
	ctx      context.Context
	state    *types.ConversationState
	raw      string
	ipAddr   string
	language string
	recorder audit.Recorder
	logger   *slog.Logger

	retryAfter     int
	confidence     float64
	scores         map[string]int
	tokens         int
	cost           float64
	workerMetadata map[string]any
	outcome        string
}

// advance moves the turn to step `to` and emits the transition's audit event.
// An illegal transition is logged and ignored.
func (t *turn) advance(to types.WorkflowStep, sev audit.Severity, payload map[string]any) bool {
	from := t.state.WorkflowStep
	if !canTransition(from, to) {
		t.logger.Error("illegal workflow transition", "from", from, "to", to)
		return false
	}
	t.state.WorkflowStep = to

	if payload == nil {
		payload = map[string]any{}
	}
	payload["from"] = string(from)
	payload["to"] = string(to)
	t.recorder.Emit(audit.NewEvent(EventTypePrefix+string(to), sev, payload).
		WithSubject(t.state.UserID, t.state.SessionID, t.state.TurnID))
	return true
}

// halt stops the pipeline and appends the single terminal message.
func (t *turn) halt(text string, now time.Time) {
	t.state.Halt()
	t.state.AppendTerminal(types.Message{Role: types.RoleSystem, Content: text, Timestamp: now})
}
