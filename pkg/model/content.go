package model

import (
	"encoding/json"
	"fmt"

	"github.com/ircarchive/ircview/pkg/domain"
)

// Content represents a single component of a message. It encodes to and
// decodes from the Anthropic content block shape.
type Content struct {
	Type string // "text", "tool_use", "tool_result" or a block type passed through in Raw

	// Text content (when Type == "text").
	Text string

	// Tool use (when Type == "tool_use").
	ToolUse *domain.ToolUse

	// Tool result (when Type == "tool_result").
	ToolResult *domain.ToolResult

	// Raw holds blocks of other types verbatim so they can be echoed back.
	Raw json.RawMessage

	// ThoughtSignature is an opaque signature for the model's internal state.
	// Must be round-tripped back to the model on the next request. It is not
	// part of the JSON encoding.
	ThoughtSignature []byte
}

// TextContent returns a text block.
func TextContent(text string) Content {
	return Content{Type: domain.ContentTypeText, Text: text}
}

// ToolResultContent returns a tool_result block answering the tool use id.
func ToolResultContent(id, text string) Content {
	return Content{
		Type:       domain.ContentTypeToolResult,
		ToolResult: &domain.ToolResult{ToolUseID: id, Content: text},
	}
}

type wireBlock struct {
	Type      string          `json:"type"`
	Text      *string         `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   *string         `json:"content,omitempty"`
}

var emptyObject = json.RawMessage(`{}`)

func (c Content) MarshalJSON() ([]byte, error) {
	switch c.Type {
	case domain.ContentTypeText:
		text := c.Text
		return json.Marshal(wireBlock{Type: c.Type, Text: &text})
	case domain.ContentTypeToolUse:
		if c.ToolUse == nil {
			return nil, fmt.Errorf("tool_use block without tool use")
		}
		input := c.ToolUse.Input
		if len(input) == 0 {
			input = emptyObject
		}
		return json.Marshal(wireBlock{Type: c.Type, ID: c.ToolUse.ID, Name: c.ToolUse.Name, Input: input})
	case domain.ContentTypeToolResult:
		if c.ToolResult == nil {
			return nil, fmt.Errorf("tool_result block without tool result")
		}
		content := c.ToolResult.Content
		return json.Marshal(wireBlock{Type: c.Type, ToolUseID: c.ToolResult.ToolUseID, Content: &content})
	}
	if len(c.Raw) == 0 {
		return nil, fmt.Errorf("content block of type %q has no data", c.Type)
	}
	return c.Raw, nil
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = Content{Type: w.Type}
	switch w.Type {
	case domain.ContentTypeText:
		if w.Text != nil {
			c.Text = *w.Text
		}
	case domain.ContentTypeToolUse:
		c.ToolUse = &domain.ToolUse{ID: w.ID, Name: w.Name, Input: w.Input}
	case domain.ContentTypeToolResult:
		tr := &domain.ToolResult{ToolUseID: w.ToolUseID}
		if w.Content != nil {
			tr.Content = *w.Content
		}
		c.ToolResult = tr
	default:
		c.Raw = append(json.RawMessage(nil), data...)
	}
	return nil
}
