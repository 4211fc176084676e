package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/af-corp/aegis-orchestrator/internal/config"
)

// Table is the immutable keyword weight table a Router scores against.
type Table struct {
	DefaultWorker string
	// Priority breaks score ties; earlier entries win.
	Priority []string
	// Keywords maps worker type to keyword to weight. Keywords are matched
	// case-insensitively as substrings.
	Keywords map[string]map[string]int
}

// TableFromConfig copies a routing config into a Table, lower-casing keywords.
func TableFromConfig(cfg *config.RoutingConfig) Table {
	t := Table{
		DefaultWorker: cfg.DefaultWorker,
		Priority:      append([]string(nil), cfg.Priority...),
		Keywords:      make(map[string]map[string]int, len(cfg.Keywords)),
	}
	for worker, kws := range cfg.Keywords {
		m := make(map[string]int, len(kws))
		for kw, w := range kws {
			m[strings.ToLower(kw)] += w
		}
		t.Keywords[worker] = m
	}
	return t
}

// Validate checks the table is usable for routing.
func (t Table) Validate() error {
	var errs []error
	if t.DefaultWorker == "" {
		errs = append(errs, errors.New("default worker is required"))
	}
	seen := make(map[string]bool, len(t.Priority))
	for _, w := range t.Priority {
		if seen[w] {
			errs = append(errs, fmt.Errorf("worker %q listed twice in priority", w))
		}
		seen[w] = true
	}
	for worker, kws := range t.Keywords {
		if worker == "" {
			errs = append(errs, errors.New("empty worker type in keyword table"))
		}
		for kw, w := range kws {
			if strings.TrimSpace(kw) == "" {
				errs = append(errs, fmt.Errorf("worker %q has an empty keyword", worker))
			}
			if w <= 0 {
				errs = append(errs, fmt.Errorf("worker %q keyword %q has non-positive weight %d", worker, kw, w))
			}
		}
	}
	return errors.Join(errs...)
}

// WorkerTypes returns every worker type the table can route to.
func (t Table) WorkerTypes() []string {
	seen := map[string]bool{t.DefaultWorker: true}
	out := []string{t.DefaultWorker}
	for _, w := range t.Priority {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	for w := range t.Keywords {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}
