package consent

import (
	"context"
	"sync"

	"github.com/af-corp/aegis-orchestrator/internal/types"
)

// Grant is one consent type granted for one data category.
type Grant struct {
	ConsentType  types.ConsentType  `json:"consent_type"`
	DataCategory types.DataCategory `json:"data_category"`
}

// StaticOracle keeps grants in memory.
type StaticOracle struct {
	mu     sync.RWMutex
	grants map[string]map[Grant]bool
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{grants: make(map[string]map[Grant]bool)}
}

func (o *StaticOracle) Grant(userID string, ct types.ConsentType, dc types.DataCategory) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.grants[userID] == nil {
		o.grants[userID] = make(map[Grant]bool)
	}
	o.grants[userID][Grant{ConsentType: ct, DataCategory: dc}] = true
}

func (o *StaticOracle) Revoke(userID string, ct types.ConsentType, dc types.DataCategory) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.grants[userID], Grant{ConsentType: ct, DataCategory: dc})
}

func (o *StaticOracle) HasConsent(_ context.Context, userID string, ct types.ConsentType, dc types.DataCategory) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.grants[userID][Grant{ConsentType: ct, DataCategory: dc}], nil
}

func (o *StaticOracle) ListGrants(_ context.Context, userID string) ([]Grant, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Grant, 0, len(o.grants[userID]))
	for g := range o.grants[userID] {
		out = append(out, g)
	}
	return out, nil
}

func (o *StaticOracle) RecordConsent(_ context.Context, rec Record) error {
	if rec.Granted {
		o.Grant(rec.UserID, rec.ConsentType, rec.DataCategory)
	} else {
		o.Revoke(rec.UserID, rec.ConsentType, rec.DataCategory)
	}
	return nil
}
