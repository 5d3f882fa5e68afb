// Package memory provides Nox's two memory tiers: a bounded per-session
// conversation window and a persistent vector store over past dialogue.
package memory

// Role identifies who produced a message. It is a closed set: switch
// statements over Role should enumerate all three values so a new role
// cannot be added without updating every match site.
type Role int

const (
	// RoleUser is a message typed (or spoken) by the human.
	RoleUser Role = iota

	// RoleModel is text produced by the language model.
	RoleModel

	// RoleToolResult is the textual output of a tool invocation, fed
	// back to the model as an observation.
	RoleToolResult
)

// String returns the wire/prompt name of the role.
func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleModel:
		return "model"
	case RoleToolResult:
		return "tool_result"
	default:
		return "unknown"
	}
}

// Message is one entry in a conversation transcript. Messages are
// append-only: once added to a window or turn transcript they are never
// mutated.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolName is set on RoleToolResult messages to identify which tool
	// produced the content.
	ToolName string `json:"tool_name,omitempty"`
}
