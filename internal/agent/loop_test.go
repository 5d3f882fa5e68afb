package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/noxassist/nox/internal/llm"
	"github.com/noxassist/nox/internal/memory"
	"github.com/noxassist/nox/internal/prompt"
	"github.com/noxassist/nox/internal/tools"
)

// scriptedLLM returns canned completions in order, then repeats the
// last one. It records every prompt it was given. Safe for concurrent
// use.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	err     error
	prompts []string
	calls   int
}

func (s *scriptedLLM) Generate(ctx context.Context, system, p string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.prompts = append(s.prompts, p)
	if s.err != nil {
		return "", s.err
	}
	i := s.calls - 1
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	return s.replies[i], nil
}

func (s *scriptedLLM) Ping(ctx context.Context) error { return s.err }

func respondWith(text string) string {
	return fmt.Sprintf(`Action: {"action": "respond_to_user", "action_input": {"response": %q}}`, text)
}

func invokeTool(name, argsJSON string) string {
	return fmt.Sprintf(`Action: {"action": %q, "action_input": %s}`, name, argsJSON)
}

func newTestLoop(t *testing.T, client llm.Client, registry *tools.Registry) *Loop {
	t.Helper()
	if registry == nil {
		registry = tools.NewRegistry()
	}
	assembler, err := prompt.New("", "")
	if err != nil {
		t.Fatalf("prompt.New: %v", err)
	}
	loop, err := NewLoop(LoopConfig{
		LLM:       client,
		Registry:  registry,
		Assembler: assembler,
	})
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	return loop
}

func userTurn(text string) []memory.Message {
	return []memory.Message{{Role: memory.RoleUser, Content: text}}
}

func TestLoopDirectResponse(t *testing.T) {
	client := &scriptedLLM{replies: []string{respondWith("Hello!")}}
	loop := newTestLoop(t, client, nil)

	out := loop.Run(context.Background(), userTurn("hi"), "")
	if out.State != StateDone {
		t.Fatalf("State = %v, want StateDone", out.State)
	}
	if out.Response != "Hello!" {
		t.Errorf("Response = %q, want Hello!", out.Response)
	}
	if len(out.ToolCalls) != 0 {
		t.Errorf("ToolCalls = %d, want 0", len(out.ToolCalls))
	}
}

func TestLoopToolThenResponse(t *testing.T) {
	registry := tools.NewRegistry()
	var gotArgs map[string]any
	err := registry.Register(&tools.Tool{
		Definition: tools.Definition{Name: "get_temp", Description: "Read a temperature."},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			gotArgs = args
			return "21.5 C", nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	client := &scriptedLLM{replies: []string{
		invokeTool("get_temp", `{"room": "kitchen"}`),
		respondWith("It's 21.5 degrees."),
	}}
	loop := newTestLoop(t, client, registry)

	out := loop.Run(context.Background(), userTurn("how warm is the kitchen?"), "")
	if out.State != StateDone {
		t.Fatalf("State = %v, want StateDone", out.State)
	}
	if out.Response != "It's 21.5 degrees." {
		t.Errorf("Response = %q", out.Response)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Tool != "get_temp" {
		t.Fatalf("ToolCalls = %+v, want one get_temp call", out.ToolCalls)
	}
	if gotArgs["room"] != "kitchen" {
		t.Errorf("handler args = %v", gotArgs)
	}

	// The observation must appear in the second prompt so the model can
	// use it.
	if len(client.prompts) != 2 {
		t.Fatalf("model calls = %d, want 2", len(client.prompts))
	}
	if !strings.Contains(client.prompts[1], "Observation (get_temp): 21.5 C") {
		t.Errorf("second prompt missing tool observation:\n%s", client.prompts[1])
	}

	// Messages traces the full turn: model action, observation, model
	// response.
	wantRoles := []memory.Role{memory.RoleModel, memory.RoleToolResult, memory.RoleModel}
	if len(out.Messages) != len(wantRoles) {
		t.Fatalf("Messages = %d entries, want %d", len(out.Messages), len(wantRoles))
	}
	for i, want := range wantRoles {
		if out.Messages[i].Role != want {
			t.Errorf("Messages[%d].Role = %v, want %v", i, out.Messages[i].Role, want)
		}
	}
	if out.Messages[1].ToolName != "get_temp" {
		t.Errorf("observation ToolName = %q, want get_temp", out.Messages[1].ToolName)
	}
	if out.Messages[1].Content != "21.5 C" {
		t.Errorf("observation Content = %q", out.Messages[1].Content)
	}
}

func TestLoopProviderFailureReturnsApology(t *testing.T) {
	client := &scriptedLLM{err: fmt.Errorf("dial: %w", llm.ErrProviderUnavailable)}
	loop := newTestLoop(t, client, nil)

	out := loop.Run(context.Background(), userTurn("hi"), "")
	if out.State != StateFailed {
		t.Fatalf("State = %v, want StateFailed", out.State)
	}
	if out.Response != DefaultApology {
		t.Errorf("Response = %q, want the apology", out.Response)
	}
}

func TestLoopUnknownToolFedBack(t *testing.T) {
	client := &scriptedLLM{replies: []string{
		invokeTool("no_such_tool", `{}`),
		respondWith("recovered"),
	}}
	loop := newTestLoop(t, client, nil)

	out := loop.Run(context.Background(), userTurn("do the thing"), "")
	if out.State != StateDone {
		t.Fatalf("State = %v, want StateDone", out.State)
	}
	if out.Response != "recovered" {
		t.Errorf("Response = %q", out.Response)
	}
	if len(out.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(out.ToolCalls))
	}
	if !errors.Is(out.ToolCalls[0].Err, tools.ErrToolNotFound) {
		t.Errorf("ToolCalls[0].Err = %v, want ErrToolNotFound", out.ToolCalls[0].Err)
	}
	// The error text goes back to the model as an observation.
	if !strings.Contains(client.prompts[1], "no_such_tool") {
		t.Errorf("second prompt missing the unknown tool name")
	}
}

func TestLoopToolErrorFedBack(t *testing.T) {
	registry := tools.NewRegistry()
	_ = registry.Register(&tools.Tool{
		Definition: tools.Definition{Name: "flaky", Description: "Always fails."},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("device unreachable")
		},
	})

	client := &scriptedLLM{replies: []string{
		invokeTool("flaky", `{}`),
		respondWith("Sorry, the device is unreachable."),
	}}
	loop := newTestLoop(t, client, registry)

	out := loop.Run(context.Background(), userTurn("poke it"), "")
	if out.State != StateDone {
		t.Fatalf("State = %v, want StateDone", out.State)
	}
	if !strings.Contains(client.prompts[1], "device unreachable") {
		t.Errorf("tool error not surfaced as observation")
	}
}

func TestLoopMalformedOutputFails(t *testing.T) {
	client := &scriptedLLM{replies: []string{"I will just chat instead of following the format."}}
	loop := newTestLoop(t, client, nil)

	out := loop.Run(context.Background(), userTurn("hi"), "")
	if out.State != StateFailed {
		t.Fatalf("State = %v, want StateFailed", out.State)
	}
	// The raw text is still shown to the user rather than nothing.
	if out.Response != "I will just chat instead of following the format." {
		t.Errorf("Response = %q", out.Response)
	}
	if client.calls != 1 {
		t.Errorf("model calls = %d, want 1 (no retry on malformed output)", client.calls)
	}
}

func TestLoopIterationCeiling(t *testing.T) {
	registry := tools.NewRegistry()
	_ = registry.Register(&tools.Tool{
		Definition: tools.Definition{Name: "spin", Description: "No-op."},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "ok", nil
		},
	})

	// The model never responds to the user.
	client := &scriptedLLM{replies: []string{invokeTool("spin", `{}`)}}
	loop := newTestLoop(t, client, registry)

	out := loop.Run(context.Background(), userTurn("loop forever"), "")
	if out.State != StateDone {
		t.Fatalf("State = %v, want StateDone (forced termination)", out.State)
	}
	if client.calls != DefaultMaxIterations {
		t.Errorf("model calls = %d, want %d", client.calls, DefaultMaxIterations)
	}
	if out.Response == "" {
		t.Error("Response is empty at the ceiling")
	}
}

func TestLoopContextInPrompt(t *testing.T) {
	client := &scriptedLLM{replies: []string{respondWith("ok")}}
	loop := newTestLoop(t, client, nil)

	loop.Run(context.Background(), userTurn("hi"), "User's cat is named Miso.")
	if !strings.Contains(client.prompts[0], "User's cat is named Miso.") {
		t.Errorf("retrieved context missing from prompt")
	}
}
