// Package tools defines the capabilities the model may request and the
// registry that holds them. The registry is populated once at process
// start and is immutable afterwards; what is registered here is a
// security boundary, reviewed independently of any one tool.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Sentinel errors surfaced to the agent loop. None of these are fatal to
// a turn: the loop feeds them back to the model as observations so it
// can self-correct.
var (
	// ErrToolNotFound means the requested tool name is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidArguments means the arguments failed schema validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrDuplicateTool means a tool name was registered twice.
	ErrDuplicateTool = errors.New("tool already registered")
)

// RespondToUser is the reserved pseudo-tool name the model uses to end a
// turn with a direct answer. It is handled by the action parser and must
// never be registered as an invocable tool.
const RespondToUser = "respond_to_user"

// Definition describes a tool to the model: a stable name, a JSON-schema
// argument description, and natural-language usage text.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Handler executes a tool invocation and returns its textual result.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool pairs a definition with its handler.
type Tool struct {
	Definition
	Handler Handler `json:"-"`
}

// Registry holds the fixed set of invocable capabilities. Registration
// order is preserved: DescribeAll renders tools in the order they were
// registered, which keeps the prompt stable across runs.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*Tool),
	}
}

// Register adds a tool. Names must be unique; the reserved
// respond_to_user name is rejected.
func (r *Registry) Register(t *Tool) error {
	if t.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if t.Name == RespondToUser {
		return fmt.Errorf("register tool: %q is reserved", RespondToUser)
	}
	if t.Handler == nil {
		return fmt.Errorf("register tool %q: nil handler", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Lookup retrieves a tool by name.
func (r *Registry) Lookup(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// DescribeAll returns one human-readable description per tool, in
// registration order, for verbatim inclusion in the prompt.
func (r *Registry) DescribeAll() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, name := range r.order {
		t := r.tools[name]
		schema, _ := json.Marshal(t.Parameters)
		out = append(out, fmt.Sprintf("- %s: %s Arguments schema: %s", t.Name, t.Description, schema))
	}
	return out
}

// Invoke looks up a tool, validates the arguments against its schema,
// and runs the handler. Unknown names return ErrToolNotFound rather
// than a silent no-op.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	t, err := r.Lookup(name)
	if err != nil {
		return "", err
	}

	if err := validateArgs(t.Parameters, args); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidArguments, name, err)
	}

	return t.Handler(ctx, args)
}

// validateArgs checks required fields from a JSON-schema-shaped
// parameter map. Full schema validation is not attempted; missing
// required fields are by far the dominant model failure mode.
func validateArgs(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}

	var missing []string
	if req, ok := schema["required"].([]string); ok {
		for _, field := range req {
			if _, present := args[field]; !present {
				missing = append(missing, field)
			}
		}
	} else if req, ok := schema["required"].([]any); ok {
		for _, f := range req {
			field, ok := f.(string)
			if !ok {
				continue
			}
			if _, present := args[field]; !present {
				missing = append(missing, field)
			}
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}
