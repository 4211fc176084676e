// Package consent decides whether a user has granted the consent an operation
// requires. The gate fails closed: an unreachable oracle means no consent.
package consent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/af-corp/aegis-orchestrator/internal/audit"
	"github.com/af-corp/aegis-orchestrator/internal/config"
	"github.com/af-corp/aegis-orchestrator/internal/types"
)

// ErrOracleUnavailable is returned when the consent oracle cannot answer.
var ErrOracleUnavailable = errors.New("consent oracle unavailable")

// Oracle answers whether a consent record exists for a user.
type Oracle interface {
	HasConsent(ctx context.Context, userID string, ct types.ConsentType, dc types.DataCategory) (bool, error)
}

// Gate wraps an Oracle with the anonymous-user and NECESSARY rules and the
// fail-closed policy.
type Gate struct {
	oracle   Oracle
	recorder audit.Recorder
	cfg      func() config.ConsentConfig
}

func NewGate(oracle Oracle, recorder audit.Recorder, cfg func() config.ConsentConfig) *Gate {
	if recorder == nil {
		recorder = audit.Discard
	}
	return &Gate{oracle: oracle, recorder: recorder, cfg: cfg}
}

// Required returns the consent type and data category a conversation turn needs.
func (g *Gate) Required() (types.ConsentType, types.DataCategory, error) {
	cfg := g.cfg()
	ct, ok := types.ParseConsentType(cfg.RequiredType)
	if !ok {
		return "", "", fmt.Errorf("unknown consent type %q", cfg.RequiredType)
	}
	dc, ok := types.ParseDataCategory(cfg.DataCategory)
	if !ok {
		return "", "", fmt.Errorf("unknown data category %q", cfg.DataCategory)
	}
	return ct, dc, nil
}

// CheckConsent reports whether userID granted ct for dc. On oracle failure it
// returns false with an error wrapping ErrOracleUnavailable and records one
// critical audit event.
func (g *Gate) CheckConsent(ctx context.Context, userID string, ct types.ConsentType, dc types.DataCategory) (bool, error) {
	if !ct.RequiresRecord() {
		return true, nil
	}
	if userID == "" {
		return false, nil
	}

	timeout := g.cfg().OracleTimeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	oracleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	granted, err := g.oracle.HasConsent(oracleCtx, userID, ct, dc)
	if err != nil && ctx.Err() != nil {
		// The caller gave up; the oracle is not at fault.
		return false, ctx.Err()
	}
	if err != nil {
		slog.Error("consent oracle failed, denying", "user_id", userID, "consent_type", ct, "error", err)
		g.recorder.Emit(audit.NewEvent(audit.EventConsentOracleUnavailable, audit.SeverityCritical, map[string]any{
			"consent_type":  string(ct),
			"data_category": string(dc),
			"error":         err.Error(),
		}).WithSubject(userID, "", ""))
		return false, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}
	return granted, nil
}
