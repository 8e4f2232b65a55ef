package domain

import (
	"encoding/json"
	"time"
)

// ToolUse represents a tool invocation by the model.
type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the text answer to a ToolUse, keyed by its ID.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

// EventType identifies the kind of a session event.
type EventType string

const (
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventDisplay    EventType = "display"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Event is a progress notification streamed to the caller of a session.
// Only the fields relevant to Type are set.
type Event struct {
	Type EventType `json:"type"`

	// ToolCall and ToolResult.
	Name         string `json:"name,omitempty"`
	InputSummary string `json:"input_summary,omitempty"`
	Preview      string `json:"output_preview,omitempty"`

	// Display.
	Text string `json:"text,omitempty"`

	// Done.
	URL    string `json:"url,omitempty"`
	Output string `json:"output,omitempty"`

	// Error.
	Message string `json:"message,omitempty"`
}

// Terminal reports whether the event ends the session.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Artifact is a saved session result.
type Artifact struct {
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Query     string    `json:"query"`
	Channel   string    `json:"channel"`
	Path      string    `json:"path"`
	URL       string    `json:"url"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}
