package workers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnknownTool is returned when a worker calls a tool that was not registered.
var ErrUnknownTool = errors.New("unknown tool")

// ToolFunc is a capability a worker may call by name.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// ToolRegistry is an immutable name to tool mapping, validated when built.
type ToolRegistry struct {
	tools map[string]ToolFunc
	names []string
}

// NewToolRegistry validates and freezes tools.
func NewToolRegistry(tools map[string]ToolFunc) (*ToolRegistry, error) {
	r := &ToolRegistry{tools: make(map[string]ToolFunc, len(tools))}
	for name, fn := range tools {
		if name == "" {
			return nil, errors.New("tool name must not be empty")
		}
		if fn == nil {
			return nil, fmt.Errorf("tool %q has no implementation", name)
		}
		r.tools[name] = fn
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Call invokes a tool by name.
func (r *ToolRegistry) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	fn, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return fn(ctx, args)
}

// Names returns registered tool names in sorted order.
func (r *ToolRegistry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.names...)
}

// BuiltinTools returns the tools every deployment gets.
func BuiltinTools() map[string]ToolFunc {
	return map[string]ToolFunc{
		"current_time": func(_ context.Context, args map[string]any) (any, error) {
			loc := time.UTC
			if tz, ok := args["timezone"].(string); ok && tz != "" {
				l, err := time.LoadLocation(tz)
				if err != nil {
					return nil, fmt.Errorf("load timezone %q: %w", tz, err)
				}
				loc = l
			}
			return time.Now().In(loc).Format(time.RFC3339), nil
		},
	}
}
