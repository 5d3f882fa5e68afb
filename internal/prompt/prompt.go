// Package prompt renders the single prompt string sent to the model each
// think step. Assembly is a pure function of its inputs: the same
// persona, tool list, retrieved context, and transcript always produce
// byte-identical output.
package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/noxassist/nox/internal/memory"
)

// DefaultPersona is the built-in persona used when the configuration
// supplies none.
const DefaultPersona = "You are Nox, a helpful and friendly smart-home assistant. " +
	"Your goal is to help the user by controlling devices with the available tools."

// DefaultTemplate is the built-in ReAct prompt template. A custom
// template from configuration must reference the same four fields; that
// is checked once at startup, not at request time.
const DefaultTemplate = `{{.Persona}}

TOOLS:
------
You have access to the following tools:
{{.Tools}}
------

RESPONSE FORMAT:
You MUST follow the Thought / Action / Observation cycle.

Thought: Always think about what to do next. Analyze the request, the
conversation history, and the previous observation.
Action: To use a tool, or to answer the user, emit the marker "Action:"
followed by valid JSON naming the tool and its arguments. For example:
Action: {"action": "tool_name", "action_input": {"arg1": "value1"}}
To answer the user directly, use the reserved respond_to_user action:
Action: {"action": "respond_to_user", "action_input": {"response": "your answer"}}
Observation: The result of your action. The system provides it.
... (this cycle may repeat several times)

BACKGROUND (things you remember about this user):
{{.Context}}

CONVERSATION:
{{.Transcript}}

BEGIN!`

// requiredFields must all be referenced by any prompt template. A
// template missing one would silently drop a whole context tier, so the
// absence is a fatal configuration error surfaced at startup.
var requiredFields = []string{"Persona", "Tools", "Context", "Transcript"}

// data is the template execution payload.
type data struct {
	Persona    string
	Tools      string
	Context    string
	Transcript string
}

// Assembler renders prompts from a template parsed and validated once.
type Assembler struct {
	tmpl    *template.Template
	persona string
}

// New parses and validates the template text. An empty templateText or
// persona selects the built-in default. Validation executes the template
// with sentinel values and checks each reaches the output, catching both
// parse errors and missing placeholders before the first request.
func New(templateText, persona string) (*Assembler, error) {
	if templateText == "" {
		templateText = DefaultTemplate
	}
	if persona == "" {
		persona = DefaultPersona
	}

	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(templateText)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}

	probe := data{
		Persona:    "\x00persona\x00",
		Tools:      "\x00tools\x00",
		Context:    "\x00context\x00",
		Transcript: "\x00transcript\x00",
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, probe); err != nil {
		return nil, fmt.Errorf("execute prompt template: %w", err)
	}
	rendered := sb.String()
	for _, field := range requiredFields {
		marker := "\x00" + strings.ToLower(field) + "\x00"
		if !strings.Contains(rendered, marker) {
			return nil, fmt.Errorf("prompt template does not reference required field .%s", field)
		}
	}

	return &Assembler{tmpl: tmpl, persona: persona}, nil
}

// Persona returns the persona text the assembler was built with.
func (a *Assembler) Persona() string {
	return a.persona
}

// Assemble renders the prompt for one think step. It performs no I/O and
// holds no state: identical inputs yield byte-identical output.
func (a *Assembler) Assemble(toolDescriptions []string, longTermContext string, transcript []memory.Message) string {
	toolsText := strings.Join(toolDescriptions, "\n")
	if toolsText == "" {
		toolsText = "(no tools available)"
	}
	if longTermContext == "" {
		longTermContext = "(nothing relevant)"
	}

	var sb strings.Builder
	// Execute cannot fail here: the template was validated with the
	// same data shape at construction.
	_ = a.tmpl.Execute(&sb, data{
		Persona:    a.persona,
		Tools:      toolsText,
		Context:    longTermContext,
		Transcript: FormatTranscript(transcript),
	})
	return sb.String()
}

// FormatTranscript renders messages as role-tagged lines. Tool results
// are presented as observations so the model recognizes them as the
// outcome of its own actions.
func FormatTranscript(messages []memory.Message) string {
	var lines []string
	for _, m := range messages {
		switch m.Role {
		case memory.RoleUser:
			lines = append(lines, "user: "+m.Content)
		case memory.RoleModel:
			lines = append(lines, "model: "+m.Content)
		case memory.RoleToolResult:
			name := m.ToolName
			if name == "" {
				name = "unknown"
			}
			lines = append(lines, fmt.Sprintf("Observation (%s): %s", name, m.Content))
		default:
			// Unknown roles are skipped rather than rendered wrong.
		}
	}
	return strings.Join(lines, "\n")
}
