// Package tools provides the tools agents can call while working a task.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mpataki/nourishbot/internal/llm"
)

// ErrUnknownTool is returned when a name is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Tool is a named capability with a free-form argument map. The result is
// handed back to the agent as its observation.
type Tool interface {
	Name() string
	Description() string
	Run(ctx context.Context, args map[string]any) (string, error)
}

type usageKey struct{}

// WithUsage returns a context under which tools add the usage of their own
// LLM calls to u. Tools run one at a time per agent, so u is not locked.
func WithUsage(ctx context.Context, u *llm.Usage) context.Context {
	return context.WithValue(ctx, usageKey{}, u)
}

func recordUsage(ctx context.Context, u llm.Usage) {
	if acc, ok := ctx.Value(usageKey{}).(*llm.Usage); ok && acc != nil {
		*acc = acc.Add(u)
	}
}

// Registry maps tool names to instances.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t. Registering a name twice is an error.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool '%s' already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownTool, name)
	}
	return t, nil
}

// Resolve looks up every name in order.
func (r *Registry) Resolve(names ...string) ([]Tool, error) {
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		t, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe renders tool names and descriptions for a prompt.
func Describe(tools []Tool) string {
	var b strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name(), t.Description())
	}
	return strings.TrimRight(b.String(), "\n")
}

// StringArg returns the first non-empty string found under keys.
func StringArg(args map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := args[k]; ok {
			switch val := v.(type) {
			case string:
				if strings.TrimSpace(val) != "" {
					return strings.TrimSpace(val)
				}
			case nil:
			default:
				return fmt.Sprintf("%v", val)
			}
		}
	}
	return ""
}

// ListArg accepts a JSON array, a JSON-encoded array string, or a comma or
// newline separated string.
func ListArg(args map[string]any, keys ...string) []string {
	for _, k := range keys {
		v, ok := args[k]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case []string:
			return val
		case []any:
			out := make([]string, 0, len(val))
			for _, item := range val {
				out = append(out, fmt.Sprintf("%v", item))
			}
			return out
		case string:
			return SplitList(val)
		}
	}
	return nil
}

// SplitList parses a list written either as a JSON array or as separated text.
func SplitList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if strings.HasPrefix(s, "[") {
		var arr []string
		if err := json.Unmarshal([]byte(s), &arr); err == nil {
			return arr
		}
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func toJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool result: %w", err)
	}
	return string(data), nil
}
