package domain

// Role defines the sender of a transcript message.
type Role string

const (
	// RoleUser indicates the query or tool results sent to the model.
	RoleUser Role = "user"
	// RoleAssistant indicates a message from the model.
	RoleAssistant Role = "assistant"
)

// Content block types.
const (
	ContentTypeText       = "text"
	ContentTypeToolUse    = "tool_use"
	ContentTypeToolResult = "tool_result"
)
