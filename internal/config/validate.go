package config

import (
	"errors"
	"fmt"
)

// Validate reports configuration values the orchestrator cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be positive, got %d", c.Server.Port))
	}
	if c.Sanitizer.MaxInputRunes <= 0 {
		errs = append(errs, fmt.Errorf("sanitizer.max_input_runes must be positive, got %d", c.Sanitizer.MaxInputRunes))
	}
	switch c.Consent.Backend {
	case "static", "postgres", "policy":
	default:
		errs = append(errs, fmt.Errorf("consent.backend %q is not one of static, postgres, policy", c.Consent.Backend))
	}
	if c.Consent.OracleTimeout <= 0 {
		errs = append(errs, errors.New("consent.oracle_timeout must be positive"))
	}
	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("rate_limit.backend %q is not one of memory, redis", c.RateLimit.Backend))
	}
	for scope, lim := range c.RateLimit.Scopes {
		if lim.MaxRequests <= 0 || lim.Window <= 0 || lim.Burst < 0 {
			errs = append(errs, fmt.Errorf("rate_limit.scopes.%s: max_requests and window must be positive, burst non-negative", scope))
		}
	}
	for name, def := range c.Workers.Definitions {
		switch def.Kind {
		case "static":
		case "remote":
			if def.Endpoint == "" {
				errs = append(errs, fmt.Errorf("workers.definitions.%s: remote worker needs an endpoint", name))
			}
		default:
			errs = append(errs, fmt.Errorf("workers.definitions.%s: unknown kind %q", name, def.Kind))
		}
	}
	switch c.Audit.Sink {
	case "log", "postgres":
	default:
		errs = append(errs, fmt.Errorf("audit.sink %q is not one of log, postgres", c.Audit.Sink))
	}
	if c.Audit.QueueSize <= 0 || c.Audit.BatchSize <= 0 {
		errs = append(errs, errors.New("audit.queue_size and audit.batch_size must be positive"))
	}
	if c.Orchestrator.MaxRetries < 0 {
		errs = append(errs, errors.New("orchestrator.max_retries must not be negative"))
	}
	switch c.Orchestrator.SessionBackend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("orchestrator.session_backend %q is not one of memory, redis", c.Orchestrator.SessionBackend))
	}
	return errors.Join(errs...)
}
