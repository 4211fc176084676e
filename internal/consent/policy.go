package consent

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/open-policy-agent/opa/rego"

	"github.com/af-corp/aegis-orchestrator/internal/types"
)

//go:embed policies/*.rego
var defaultPolicies embed.FS

// ErrNoPolicy is returned when the policy oracle has nothing to evaluate.
var ErrNoPolicy = errors.New("no consent policy loaded")

const policyQuery = "data.consent.policy.allow"

// PolicyInput is the document OPA evaluates.
type PolicyInput struct {
	UserID       string  `json:"user_id"`
	ConsentType  string  `json:"consent_type"`
	DataCategory string  `json:"data_category"`
	Grants       []Grant `json:"grants"`
}

// PolicyOracle decides consent by evaluating Rego policy over the user's
// recorded grants.
type PolicyOracle struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	grants   GrantLister
}

func NewPolicyOracle(grants GrantLister) *PolicyOracle {
	return &PolicyOracle{grants: grants}
}

// LoadDefault compiles the embedded policy.
func (o *PolicyOracle) LoadDefault() error {
	entries, err := defaultPolicies.ReadDir("policies")
	if err != nil {
		return fmt.Errorf("read embedded policies: %w", err)
	}
	modules := make(map[string]string, len(entries))
	for _, entry := range entries {
		data, err := defaultPolicies.ReadFile("policies/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read embedded policy %s: %w", entry.Name(), err)
		}
		modules[entry.Name()] = string(data)
	}
	return o.LoadFromModules(modules)
}

// LoadDir compiles every .rego file in dir.
func (o *PolicyOracle) LoadDir(dir string) error {
	modules, err := loadRegoFiles(dir)
	if err != nil {
		return fmt.Errorf("load rego files: %w", err)
	}
	if len(modules) == 0 {
		slog.Warn("no rego files found", "path", dir)
		return nil
	}
	return o.LoadFromModules(modules)
}

// LoadFromModules compiles policies from module sources keyed by file name.
func (o *PolicyOracle) LoadFromModules(modules map[string]string) error {
	opts := []func(*rego.Rego){rego.Query(policyQuery)}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}

	prepared, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	o.mu.Lock()
	o.prepared = &prepared
	o.mu.Unlock()

	slog.Info("consent policies loaded", "modules", len(modules))
	return nil
}

func (o *PolicyOracle) HasConsent(ctx context.Context, userID string, ct types.ConsentType, dc types.DataCategory) (bool, error) {
	o.mu.RLock()
	prepared := o.prepared
	o.mu.RUnlock()
	if prepared == nil {
		return false, ErrNoPolicy
	}

	input := PolicyInput{
		UserID:       userID,
		ConsentType:  string(ct),
		DataCategory: string(dc),
		Grants:       []Grant{},
	}
	if o.grants != nil && userID != "" {
		grants, err := o.grants.ListGrants(ctx, userID)
		if err != nil {
			return false, err
		}
		if grants != nil {
			input.Grants = grants
		}
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("evaluate consent policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := results[0].Expressions[0].Value.(bool)
	return allowed, nil
}

func loadRegoFiles(dir string) (map[string]string, error) {
	modules := make(map[string]string)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".rego" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		modules[entry.Name()] = string(data)
	}
	return modules, nil
}
