// Package ratelimit admits or rejects requests against per-scope fixed-window
// counters with a burst allowance. Backend faults fail open.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/af-corp/aegis-orchestrator/internal/audit"
	"github.com/af-corp/aegis-orchestrator/internal/config"
)

type ScopeKind string

const (
	ScopeGlobal   ScopeKind = "global"
	ScopeEndpoint ScopeKind = "endpoint"
	ScopeIP       ScopeKind = "ip"
	ScopeUser     ScopeKind = "user"
)

// chainOrder is the fixed evaluation order of CheckChain.
var chainOrder = map[ScopeKind]int{
	ScopeGlobal:   0,
	ScopeEndpoint: 1,
	ScopeIP:       2,
	ScopeUser:     3,
}

const globalScopeID = "*"

// Scope identifies one bucket.
type Scope struct {
	Kind ScopeKind
	ID   string
}

func (s Scope) key() string { return string(s.Kind) + ":" + s.ID }

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed           bool
	RetryAfterSeconds int
	Count             int
	// Scope is the rejecting scope, or the last scope checked when allowed.
	Scope Scope
	// Degraded is set when the backend failed and the check was failed open.
	Degraded bool
}

// Limiter evaluates scopes against a Backend.
type Limiter struct {
	backend  Backend
	recorder audit.Recorder
	cfg      func() config.RateLimitConfig
	now      func() time.Time
}

func NewLimiter(backend Backend, recorder audit.Recorder, cfg func() config.RateLimitConfig) *Limiter {
	if recorder == nil {
		recorder = audit.Discard
	}
	return &Limiter{backend: backend, recorder: recorder, cfg: cfg, now: time.Now}
}

// CheckLimit charges cost against one scope. A cost of 0 only reads the bucket.
// Scopes without a configured limit are always allowed.
func (l *Limiter) CheckLimit(ctx context.Context, kind ScopeKind, id string, cost float64) (allowed bool, retryAfterSeconds int, currentCount int) {
	scope := Scope{Kind: kind, ID: id}
	d, err := l.check(ctx, scope, cost)
	if err != nil {
		l.failOpen(scope, err)
		return true, 0, 0
	}
	return d.Allowed, d.RetryAfterSeconds, d.Count
}

// CheckChain evaluates scopes in global, endpoint, ip, user order and stops at
// the first rejection. A backend fault allows the whole chain.
func (l *Limiter) CheckChain(ctx context.Context, scopes []Scope, cost float64) Decision {
	ordered := append([]Scope(nil), scopes...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return chainOrder[ordered[i].Kind] < chainOrder[ordered[j].Kind]
	})

	last := Decision{Allowed: true}
	for _, scope := range ordered {
		d, err := l.check(ctx, scope, cost)
		if err != nil {
			l.failOpen(scope, err)
			return Decision{Allowed: true, Scope: scope, Degraded: true}
		}
		if !d.Allowed {
			return d
		}
		last = d
	}
	return last
}

// Scopes builds the standard chain for a request. Empty ip or user ids are
// left out.
func (l *Limiter) Scopes(ip, userID string) []Scope {
	scopes := []Scope{
		{Kind: ScopeGlobal, ID: globalScopeID},
		{Kind: ScopeEndpoint, ID: l.cfg().Endpoint},
	}
	if ip != "" {
		scopes = append(scopes, Scope{Kind: ScopeIP, ID: ip})
	}
	if userID != "" {
		scopes = append(scopes, Scope{Kind: ScopeUser, ID: userID})
	}
	return scopes
}

func (l *Limiter) check(ctx context.Context, scope Scope, cost float64) (Decision, error) {
	lim, ok := l.cfg().Scopes[string(scope.Kind)]
	if !ok || lim.MaxRequests <= 0 || lim.Window <= 0 {
		return Decision{Allowed: true, Scope: scope}, nil
	}

	now := l.now()
	var (
		b   Bucket
		err error
	)
	if cost > 0 {
		b, err = l.backend.Add(ctx, scope.key(), cost, lim, now)
	} else {
		b, err = l.backend.Peek(ctx, scope.key(), lim, now)
	}
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Allowed: b.Count <= float64(lim.MaxRequests+lim.Burst),
		Count:   int(math.Ceil(b.Count)),
		Scope:   scope,
	}
	if !d.Allowed {
		d.RetryAfterSeconds = retryAfter(b.WindowStart.Add(lim.Window).Sub(now))
	}
	return d, nil
}

func (l *Limiter) failOpen(scope Scope, err error) {
	slog.Warn("rate limit backend unavailable, allowing", "scope", scope.Kind, "error", err)
	l.recorder.Emit(audit.NewEvent(audit.EventRateLimitBackendUnavailable, audit.SeverityWarning, map[string]any{
		"scope": string(scope.Kind),
		"error": err.Error(),
	}))
}

func retryAfter(remaining time.Duration) int {
	secs := int(math.Ceil(remaining.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
