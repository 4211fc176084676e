package workers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/af-corp/aegis-orchestrator/internal/config"
)

// ErrUnknownWorker is returned for a worker type with no registered factory.
var ErrUnknownWorker = errors.New("unknown worker type")

// ErrSealed is returned when registering after Seal.
var ErrSealed = errors.New("worker registry is sealed")

// Registry maps worker types to factories. It is built at startup and sealed
// before the first request.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	sealed    bool
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(workerType string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	if workerType == "" || f == nil {
		return errors.New("worker type and factory are required")
	}
	if _, ok := r.factories[workerType]; ok {
		return fmt.Errorf("worker type %q already registered", workerType)
	}
	r.factories[workerType] = f
	return nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Factory(workerType string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[workerType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, workerType)
	}
	return f, nil
}

// Types returns registered worker types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// BuildFromConfig registers a factory per worker definition. The default
// worker falls back to a static reply when it has no definition. The
// returned registry is sealed.
func BuildFromConfig(defs map[string]config.WorkerDefinition, defaultWorker string) (*Registry, error) {
	registry := NewRegistry()
	for name, def := range defs {
		var f Factory
		switch def.Kind {
		case "remote":
			f = remoteFactory(name, def)
		case "static":
			f = staticFactory(def.Replies)
		default:
			return nil, fmt.Errorf("worker %s: unknown kind %q", name, def.Kind)
		}
		if err := registry.Register(name, f); err != nil {
			return nil, err
		}
	}
	if _, ok := defs[defaultWorker]; !ok && defaultWorker != "" {
		if err := registry.Register(defaultWorker, staticFactory(DefaultGeneralReplies)); err != nil {
			return nil, err
		}
	}
	registry.Seal()
	return registry, nil
}

func staticFactory(replies map[string]string) Factory {
	return func(context.Context) (Worker, error) {
		if len(replies) == 0 {
			return nil, errors.New("static worker has no replies")
		}
		return NewStaticWorker(replies), nil
	}
}

func remoteFactory(name string, def config.WorkerDefinition) Factory {
	return func(ctx context.Context) (Worker, error) {
		timeout := def.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client := &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}
		w := NewRemoteWorker(name, def, client)
		// A worker that cannot answer its health probe is not cached.
		if err := w.Ping(ctx); err != nil {
			client.CloseIdleConnections()
			return nil, err
		}
		return w, nil
	}
}
