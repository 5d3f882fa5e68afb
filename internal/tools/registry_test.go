package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func echoTool(name string, required ...string) *Tool {
	params := map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
	if len(required) > 0 {
		params["required"] = required
	}
	return &Tool{
		Definition: Definition{
			Name:        name,
			Description: "Echo tool.",
			Parameters:  params,
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "echo:" + name, nil
		},
	}
}

func TestRegisterAndInvoke(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("alpha")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := r.Invoke(context.Background(), "alpha", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "echo:alpha" {
		t.Errorf("result = %q", got)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("alpha")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(echoTool("alpha")); !errors.Is(err, ErrDuplicateTool) {
		t.Errorf("err = %v, want ErrDuplicateTool", err)
	}
}

func TestRegisterRejectsReservedName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool(RespondToUser)); err == nil {
		t.Error("expected error registering reserved name")
	}
}

func TestRegisterRejectsNilHandler(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Tool{Definition: Definition{Name: "broken"}})
	if err == nil {
		t.Error("expected error for nil handler")
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), "missing", nil)
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("err = %v, want ErrToolNotFound", err)
	}
}

func TestInvokeValidatesRequiredArgs(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("needy", "target")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := r.Invoke(context.Background(), "needy", map[string]any{})
	if !errors.Is(err, ErrInvalidArguments) {
		t.Errorf("err = %v, want ErrInvalidArguments", err)
	}
	if err != nil && !strings.Contains(err.Error(), "target") {
		t.Errorf("err = %v, want the missing field named", err)
	}

	if _, err := r.Invoke(context.Background(), "needy", map[string]any{"target": "x"}); err != nil {
		t.Errorf("Invoke with required arg: %v", err)
	}
}

func TestNamesPreserveRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zebra", "alpha", "middle"} {
		if err := r.Register(echoTool(name)); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	got := r.Names()
	want := []string{"zebra", "alpha", "middle"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names = %v, want %v", got, want)
		}
	}
}

func TestDescribeAllStableAcrossCalls(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(echoTool("alpha", "x"))
	_ = r.Register(echoTool("beta"))

	first := strings.Join(r.DescribeAll(), "\n")
	for i := 0; i < 3; i++ {
		if got := strings.Join(r.DescribeAll(), "\n"); got != first {
			t.Fatal("DescribeAll output changed between calls")
		}
	}
	if !strings.Contains(first, "- alpha:") || !strings.Contains(first, "- beta:") {
		t.Errorf("DescribeAll = %q", first)
	}
}
