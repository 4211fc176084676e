package types

import "time"

// Message roles stored in a conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Worker    string    `json:"worker,omitempty"`
}

// WorkflowStep tags how far a turn has progressed through the pipeline.
type WorkflowStep string

const (
	StepReceived       WorkflowStep = "received"
	StepSanitized      WorkflowStep = "sanitized"
	StepConsentChecked WorkflowStep = "consent_checked"
	StepRateChecked    WorkflowStep = "rate_checked"
	StepRouted         WorkflowStep = "routed"
	StepExecuted       WorkflowStep = "executed"
	StepFinalized      WorkflowStep = "finalized"
	StepError          WorkflowStep = "error"
)

// Terminal reports whether no further transition is possible.
func (s WorkflowStep) Terminal() bool {
	return s == StepFinalized || s == StepError
}

// RiskLevel is the outcome of threat scoring.
type RiskLevel string

const (
	RiskNone   RiskLevel = "none"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Level returns a numeric rank for comparison. Unknown levels rank below none.
func (r RiskLevel) Level() int {
	switch r {
	case RiskNone:
		return 0
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether r is as severe as other.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Level() >= other.Level()
}

func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(s) {
	case RiskNone, RiskLow, RiskMedium, RiskHigh:
		return RiskLevel(s), true
	default:
		return "", false
	}
}

// PatternMatch records one threat pattern hit.
type PatternMatch struct {
	Class    string    `json:"class"`
	Rule     string    `json:"rule"`
	Severity RiskLevel `json:"severity"`
	Start    int       `json:"start"`
	End      int       `json:"end"`
}

// SecurityContext is the sanitizer and threat scorer output for a turn.
type SecurityContext struct {
	RiskLevel     RiskLevel      `json:"risk_level"`
	Matches       []PatternMatch `json:"matches,omitempty"`
	SanitizedText string         `json:"sanitized_text"`
	InputModified bool           `json:"input_modified"`
}

// ConversationState is owned by a single pipeline run for the duration of one
// turn. Between turns it is persisted by a session store.
type ConversationState struct {
	TurnID    string `json:"-"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`

	Messages      []Message         `json:"messages"`
	CurrentWorker string            `json:"current_worker,omitempty"`
	NextWorker    string            `json:"-"`
	UserContext   map[string]string `json:"user_context,omitempty"`
	SessionData   map[string]any    `json:"session_data,omitempty"`

	Security         SecurityContext `json:"-"`
	ErrorCount       int             `json:"-"`
	RetryAttempts    int             `json:"-"`
	WorkflowStep     WorkflowStep    `json:"-"`
	ShouldContinue   bool            `json:"-"`
	AttemptedWorkers []string        `json:"-"`

	TokensUsed      int       `json:"tokens_used"`
	Cost            float64   `json:"cost"`
	ProcessingStart time.Time `json:"-"`
	ProcessingEnd   time.Time `json:"-"`

	terminalAppended bool
}

// NewConversationState returns an empty state for a session.
func NewConversationState(sessionID, userID string) *ConversationState {
	return &ConversationState{
		SessionID:      sessionID,
		UserID:         userID,
		UserContext:    map[string]string{},
		SessionData:    map[string]any{},
		WorkflowStep:   StepReceived,
		ShouldContinue: true,
	}
}

// BeginTurn resets the per-turn fields. History and opaque maps survive.
func (s *ConversationState) BeginTurn(turnID string, now time.Time) {
	s.TurnID = turnID
	s.NextWorker = ""
	s.Security = SecurityContext{RiskLevel: RiskNone}
	s.ErrorCount = 0
	s.RetryAttempts = 0
	s.WorkflowStep = StepReceived
	s.ShouldContinue = true
	s.AttemptedWorkers = nil
	s.ProcessingStart = now
	s.ProcessingEnd = time.Time{}
	s.terminalAppended = false
	if s.UserContext == nil {
		s.UserContext = map[string]string{}
	}
	if s.SessionData == nil {
		s.SessionData = map[string]any{}
	}
}

// Append adds a message while the pipeline is still running. It reports false
// once the pipeline has been halted.
func (s *ConversationState) Append(m Message) bool {
	if !s.ShouldContinue {
		return false
	}
	s.Messages = append(s.Messages, m)
	return true
}

// Halt stops the pipeline. Only AppendTerminal may touch Messages afterwards.
func (s *ConversationState) Halt() {
	s.ShouldContinue = false
}

// AppendTerminal appends the single terminal message of a turn. Subsequent
// calls are ignored.
func (s *ConversationState) AppendTerminal(m Message) bool {
	if s.terminalAppended {
		return false
	}
	s.terminalAppended = true
	s.Messages = append(s.Messages, m)
	return true
}

// TrimHistory keeps the most recent max messages. max <= 0 keeps everything.
func (s *ConversationState) TrimHistory(max int) {
	if max <= 0 || len(s.Messages) <= max {
		return
	}
	trimmed := make([]Message, max)
	copy(trimmed, s.Messages[len(s.Messages)-max:])
	s.Messages = trimmed
}

// Clone returns a deep copy of the persisted portion plus turn fields.
func (s *ConversationState) Clone() *ConversationState {
	c := *s
	c.Messages = append([]Message(nil), s.Messages...)
	c.AttemptedWorkers = append([]string(nil), s.AttemptedWorkers...)
	c.Security.Matches = append([]PatternMatch(nil), s.Security.Matches...)
	c.UserContext = make(map[string]string, len(s.UserContext))
	for k, v := range s.UserContext {
		c.UserContext[k] = v
	}
	c.SessionData = make(map[string]any, len(s.SessionData))
	for k, v := range s.SessionData {
		c.SessionData[k] = v
	}
	return &c
}
