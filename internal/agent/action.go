// Package agent implements the core think-act loop that drives the
// language model, and the per-session conversation handling around it.
package agent

import (
	"encoding/json"
	"strings"

	"github.com/noxassist/nox/internal/tools"
)

// ActionMarker is the token that introduces the action-bearing segment
// of the model's output. It must match the prompt template's response
// format instructions.
const ActionMarker = "Action:"

// ActionKind tags the variants of a parsed action.
type ActionKind int

const (
	// ActionInvokeTool requests a tool invocation.
	ActionInvokeTool ActionKind = iota

	// ActionRespond ends the turn with a direct answer to the user.
	ActionRespond

	// ActionMalformed means the output carried no decodable action.
	ActionMalformed
)

// Action is the structured request extracted from a model completion.
// Exactly the fields for its Kind are meaningful; Raw always carries the
// original completion.
type Action struct {
	Kind      ActionKind
	Tool      string         // ActionInvokeTool
	Arguments map[string]any // ActionInvokeTool
	Response  string         // ActionRespond
	Raw       string         // always set
}

// wireAction is the JSON shape the model is instructed to emit.
type wireAction struct {
	Action      string          `json:"action"`
	ActionInput json.RawMessage `json:"action_input"`
}

// respondInput is the action_input shape for respond_to_user.
type respondInput struct {
	Response string `json:"response"`
}

// ParseAction extracts a structured action from a model completion.
// Language models are unreliable narrators: any decode or validation
// failure yields an ActionMalformed result, never an error or a panic,
// so a parse failure stays a recoverable control-flow branch.
//
// Tool-name existence is deliberately NOT checked here; the loop checks
// it at invocation time so an unknown name becomes a ToolNotFound
// observation the model can correct, rather than a dead turn.
func ParseAction(raw string) Action {
	malformed := Action{Kind: ActionMalformed, Raw: raw}

	idx := strings.LastIndex(raw, ActionMarker)
	if idx < 0 {
		return malformed
	}

	segment := strings.TrimSpace(raw[idx+len(ActionMarker):])
	segment = stripCodeFence(segment)
	if segment == "" {
		return malformed
	}

	// Models often trail the JSON with more prose; cut at the end of
	// the first complete JSON value.
	segment = truncateAfterJSON(segment)

	var wire wireAction
	if err := json.Unmarshal([]byte(segment), &wire); err != nil {
		return malformed
	}
	if wire.Action == "" || len(wire.ActionInput) == 0 {
		return malformed
	}

	if wire.Action == tools.RespondToUser {
		var in respondInput
		if err := json.Unmarshal(wire.ActionInput, &in); err != nil {
			// Tolerate a bare string as the input.
			var s string
			if err := json.Unmarshal(wire.ActionInput, &s); err != nil || s == "" {
				return malformed
			}
			in.Response = s
		}
		if in.Response == "" {
			return malformed
		}
		return Action{Kind: ActionRespond, Response: in.Response, Raw: raw}
	}

	var args map[string]any
	if err := json.Unmarshal(wire.ActionInput, &args); err != nil {
		return malformed
	}

	return Action{Kind: ActionInvokeTool, Tool: wire.Action, Arguments: args, Raw: raw}
}

// stripCodeFence removes a surrounding markdown code fence, with or
// without a language tag.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.HasPrefix(s, "{") {
		// Drop a language tag like "json" on the fence line.
		s = s[nl+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// truncateAfterJSON returns the prefix of s covering the first balanced
// JSON object, leaving s untouched if no balanced object is found.
func truncateAfterJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return s
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s
}
