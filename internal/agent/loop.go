package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/noxassist/nox/internal/llm"
	"github.com/noxassist/nox/internal/memory"
	"github.com/noxassist/nox/internal/prompt"
	"github.com/noxassist/nox/internal/tools"
)

const levelTrace = slog.Level(-8)

// State is the loop's control state after each transition.
type State int

const (
	// StateThink means the next step is a model call.
	StateThink State = iota

	// StateAct means a tool invocation is in flight.
	StateAct

	// StateDone means the loop produced a final response.
	StateDone

	// StateFailed means the loop terminated abnormally.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateThink:
		return "think"
	case StateAct:
		return "act"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultMaxIterations bounds the think-act cycle per user turn.
const DefaultMaxIterations = 15

// DefaultApology is returned when the model provider is unreachable.
const DefaultApology = "Sorry, I can't reach my brain right now. Please try again in a moment."

// ToolCall records one tool invocation made during a turn, for
// observability and tests.
type ToolCall struct {
	Tool   string
	Result string
	Err    error
}

// Outcome is the result of one full think-act cycle.
type Outcome struct {
	// Response is the text to show the user. Always non-empty.
	Response string

	// State is the terminal state, StateDone or StateFailed.
	State State

	// ToolCalls lists the tool invocations made, in order.
	ToolCalls []ToolCall

	// Messages traces the model and tool-result messages generated
	// during the turn, in order. The conversation window keeps only
	// the user message and final response; this is the full record
	// for logging and diagnostics.
	Messages []memory.Message
}

// LoopConfig configures a Loop. LLM, Registry and Assembler are
// required.
type LoopConfig struct {
	LLM       llm.Client
	Registry  *tools.Registry
	Assembler *prompt.Assembler
	Logger    *slog.Logger

	// MaxIterations caps model calls per turn. Defaults to
	// DefaultMaxIterations.
	MaxIterations int

	// Apology is the canned response for provider failures. Defaults
	// to DefaultApology.
	Apology string
}

// Loop runs the think-act cycle: call the model, parse its action,
// invoke tools and feed observations back, until the model responds to
// the user or a bound is hit.
type Loop struct {
	llm           llm.Client
	registry      *tools.Registry
	assembler     *prompt.Assembler
	logger        *slog.Logger
	maxIterations int
	apology       string
}

// NewLoop builds a Loop from cfg, applying defaults.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.LLM == nil {
		return nil, errors.New("agent: LLM client is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("agent: tool registry is required")
	}
	if cfg.Assembler == nil {
		return nil, errors.New("agent: prompt assembler is required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Apology == "" {
		cfg.Apology = DefaultApology
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		llm:           cfg.LLM,
		registry:      cfg.Registry,
		assembler:     cfg.Assembler,
		logger:        cfg.Logger,
		maxIterations: cfg.MaxIterations,
		apology:       cfg.Apology,
	}, nil
}

// Run executes the think-act cycle for one user turn. transcript is the
// conversation so far, ending with the user's new message; longTermContext
// is the retrieved memory block. Run never returns an empty Response.
func (l *Loop) Run(ctx context.Context, transcript []memory.Message, longTermContext string) Outcome {
	out := Outcome{State: StateThink}

	// Working copy: tool observations accumulate here across
	// iterations without touching the caller's slice.
	working := make([]memory.Message, len(transcript))
	copy(working, transcript)

	descriptions := l.registry.DescribeAll()

	var lastModelText string
	for i := 0; i < l.maxIterations; i++ {
		p := l.assembler.Assemble(descriptions, longTermContext, working)
		l.logger.Log(ctx, levelTrace, "model prompt assembled", "iteration", i, "prompt_len", len(p))

		raw, err := l.llm.Generate(ctx, "", p)
		if err != nil {
			l.logger.Error("model call failed", "iteration", i, "error", err)
			out.State = StateFailed
			out.Response = l.apology
			return out
		}
		lastModelText = raw

		modelMsg := memory.Message{Role: memory.RoleModel, Content: raw}
		working = append(working, modelMsg)
		out.Messages = append(out.Messages, modelMsg)

		action := ParseAction(raw)
		switch action.Kind {
		case ActionRespond:
			l.logger.Debug("turn complete", "iterations", i+1, "tool_calls", len(out.ToolCalls))
			out.State = StateDone
			out.Response = action.Response
			return out

		case ActionMalformed:
			// The model ignored the response format. Reflect the raw
			// text back once as an observation and stop; retrying a
			// confused model rarely converges.
			l.logger.Warn("malformed model output", "iteration", i)
			obs := memory.Message{
				Role:     memory.RoleToolResult,
				ToolName: "format_error",
				Content:  "Output did not contain a valid Action. Raw output was: " + raw,
			}
			out.Messages = append(out.Messages, obs)
			out.State = StateFailed
			out.Response = fallbackResponse(raw, l.apology)
			return out

		case ActionInvokeTool:
			out.State = StateAct
			result, invokeErr := l.registry.Invoke(ctx, action.Tool, action.Arguments)
			observation := result
			if invokeErr != nil {
				// Tool failures, unknown names and bad arguments all
				// go back to the model as observations so it can
				// adjust its next step.
				l.logger.Warn("tool invocation failed", "tool", action.Tool, "error", invokeErr)
				observation = "Error: " + invokeErr.Error()
			} else {
				l.logger.Debug("tool invoked", "tool", action.Tool, "result_len", len(result))
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{Tool: action.Tool, Result: result, Err: invokeErr})

			obs := memory.Message{
				Role:     memory.RoleToolResult,
				ToolName: action.Tool,
				Content:  observation,
			}
			working = append(working, obs)
			out.Messages = append(out.Messages, obs)
			out.State = StateThink
		}
	}

	// Iteration ceiling. Surface whatever the model last said rather
	// than looping forever or going silent.
	l.logger.Warn("iteration ceiling reached", "max_iterations", l.maxIterations)
	out.State = StateDone
	out.Response = fallbackResponse(lastModelText, l.apology)
	return out
}

// fallbackResponse derives a user-visible response from raw model text,
// falling back to the apology when the text is empty.
func fallbackResponse(raw, apology string) string {
	if s := strings.TrimSpace(raw); s != "" {
		return s
	}
	return apology
}
