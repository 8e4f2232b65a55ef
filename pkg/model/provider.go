package model

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/ircarchive/ircview/pkg/domain"
)

// Stop reasons understood by the session loop. Providers translate their
// native finish reasons into these; anything else is passed through.
const (
	StopEndTurn = "end_turn"
	StopToolUse = "tool_use"
)

// Message represents a message in the model's conversation context.
type Message struct {
	// Role indicates the sender (user or assistant).
	Role domain.Role `json:"role"`
	// Content holds the message parts.
	Content []Content `json:"content"`
}

// ParamType is the JSON schema type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
)

// Param describes one tool parameter.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Enum        []string
}

// Tool is a provider-neutral tool definition.
type Tool struct {
	Name        string
	Description string
	Params      []Param
	Required    []string
}

// BlockRef points at one content block of a request transcript.
type BlockRef struct {
	Message int
	Block   int
}

// Request is a single, non-streaming completion request.
type Request struct {
	Model     string
	MaxTokens int
	// System is the system prompt.
	System   string
	Tools    []Tool
	Messages []Message
	// Breakpoint marks the end of the prefix the provider may cache. It is a
	// hint only; providers without prompt caching ignore it.
	Breakpoint *BlockRef
}

// Usage holds the token counters of one response.
type Usage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// Response is the complete answer to a Request.
type Response struct {
	StopReason string
	Content    []Content
	Usage      Usage
}

// Provider represents a service that provides LLMs (e.g. Anthropic, Gemini).
type Provider interface {
	// Name returns the provider's identifier (e.g. "anthropic", "gemini").
	Name() string

	// Complete sends the request and blocks until the full response is
	// available. Failures are reported as *TransportError, *StatusError or
	// *ProtocolError.
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// LastBlock returns a reference to the last content block of the last
// message, or nil when there is none.
func LastBlock(msgs []Message) *BlockRef {
	if len(msgs) == 0 {
		return nil
	}
	last := len(msgs) - 1
	if len(msgs[last].Content) == 0 {
		return nil
	}
	return &BlockRef{Message: last, Block: len(msgs[last].Content) - 1}
}

// TranscriptSize returns the length of the JSON encoding of msgs. HTML
// characters are counted unescaped, as they go over the wire.
func TranscriptSize(msgs []Message) (int, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(msgs); err != nil {
		return 0, err
	}
	return len(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}
