package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/noxassist/nox/internal/memory"
)

// Retriever is the long-term memory surface the agent reads from and
// writes to. *memory.Store satisfies it. Retrieve degrades to an empty
// result set on backend failure; Add reports failure loudly.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) []memory.Result
	Add(ctx context.Context, text string) error
}

// Config configures an Agent. Loop is required; Memory is optional and
// the agent runs purely on its conversation window without it.
type Config struct {
	Loop   *Loop
	Memory Retriever
	Logger *slog.Logger

	// RetrieveK is how many memory results to pull per turn.
	// Defaults to 3.
	RetrieveK int

	// WindowSize is the per-session conversation window capacity.
	// Defaults to memory.DefaultWindowSize.
	WindowSize int
}

// session holds one conversation's state. The mutex serializes turns
// within the session; distinct sessions proceed concurrently.
type session struct {
	mu     sync.Mutex
	window *memory.Window
}

// Agent ties the think-act loop to per-session conversation windows and
// shared long-term memory. Safe for concurrent use.
type Agent struct {
	loop       *Loop
	memory     Retriever
	logger     *slog.Logger
	retrieveK  int
	windowSize int

	mu       sync.Mutex
	sessions map[string]*session
}

// New builds an Agent from cfg.
func New(cfg Config) (*Agent, error) {
	if cfg.Loop == nil {
		return nil, fmt.Errorf("agent: loop is required")
	}
	if cfg.RetrieveK <= 0 {
		cfg.RetrieveK = 3
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = memory.DefaultWindowSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Agent{
		loop:       cfg.Loop,
		memory:     cfg.Memory,
		logger:     cfg.Logger,
		retrieveK:  cfg.RetrieveK,
		windowSize: cfg.WindowSize,
		sessions:   make(map[string]*session),
	}, nil
}

// HandleTurn runs one full user turn for the given session and returns
// the response text. It never panics and never returns an empty string;
// any internal failure degrades to the loop's apology.
func (a *Agent) HandleTurn(ctx context.Context, sessionID, text string) (response string) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic during turn", "session", sessionID, "panic", r)
			response = a.loop.apology
		}
	}()

	s := a.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.window.Append(memory.Message{Role: memory.RoleUser, Content: text})

	longTerm := a.retrieveContext(ctx, text)

	out := a.loop.Run(ctx, s.window.Snapshot(), longTerm)
	a.logger.Info("turn handled",
		"session", sessionID,
		"state", out.State.String(),
		"tool_calls", len(out.ToolCalls))

	s.window.Append(memory.Message{Role: memory.RoleModel, Content: out.Response})

	if out.State == StateDone {
		a.persistExchange(ctx, text, out.Response)
	}

	return out.Response
}

// session returns the session for id, creating it on first use.
func (a *Agent) session(id string) *session {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[id]
	if !ok {
		s = &session{window: memory.NewWindow(a.windowSize)}
		a.sessions[id] = s
	}
	return s
}

// retrieveContext pulls the most relevant long-term memories for the
// user's text and joins them into a context block. Retrieval failures
// degrade to an empty block.
func (a *Agent) retrieveContext(ctx context.Context, text string) string {
	if a.memory == nil {
		return ""
	}
	results := a.memory.Retrieve(ctx, text, a.retrieveK)
	if len(results) == 0 {
		return ""
	}
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Text)
	}
	return strings.Join(parts, "\n\n")
}

// persistExchange records a completed exchange in long-term memory.
// Failures are loud in the log but do not affect the user's response.
func (a *Agent) persistExchange(ctx context.Context, userText, reply string) {
	if a.memory == nil {
		return
	}
	entry := "User: " + userText + "\nNox: " + reply
	if err := a.memory.Add(ctx, entry); err != nil {
		a.logger.Error("failed to persist exchange to memory", "error", err)
	}
}
