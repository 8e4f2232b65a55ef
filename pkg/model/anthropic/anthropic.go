// Package anthropic implements model.Provider on the Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ircarchive/ircview/pkg/model"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// DefaultBaseURL is the public API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"
	// APIVersion is sent in the anthropic-version header.
	APIVersion = "2023-06-01"
)

var ephemeral = []byte(`{"type":"ephemeral"}`)

// Provider implements model.Provider over plain HTTP.
type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = strings.TrimSuffix(u, "/")
		}
	}
}

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.client = c
		}
	}
}

// New creates a new Anthropic provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "anthropic" }

// Complete posts req to /v1/messages and decodes the answer.
func (p *Provider) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	body, err := EncodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	url := p.baseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &model.TransportError{Op: "request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", APIVersion)

	slog.Debug("Anthropic.Complete", "model", req.Model, "messageCount", len(req.Messages), "bytes", len(body))

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &model.TransportError{Op: "request", Err: err}
	}
	defer func() {
		if errClose := httpResp.Body.Close(); errClose != nil {
			slog.Warn("Closing response body", "error", errClose)
		}
	}()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &model.TransportError{Op: "read", Err: err}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &model.StatusError{StatusCode: httpResp.StatusCode, Body: string(data)}
	}
	return DecodeResponse(data)
}

type inputSchema struct {
	Type       string                `json:"type"`
	Properties map[string]propSchema `json:"properties"`
	Required   []string              `json:"required,omitempty"`
}

type propSchema struct {
	Type        model.ParamType `json:"type"`
	Enum        []string        `json:"enum,omitempty"`
	Description string          `json:"description,omitempty"`
}

type toolDef struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema inputSchema `json:"input_schema"`
}

type systemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type requestBody struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    []systemBlock   `json:"system,omitempty"`
	Messages  []model.Message `json:"messages"`
	Tools     []toolDef       `json:"tools,omitempty"`
}

// EncodeRequest renders req as a Messages API body. The last tool
// definition and the breakpoint block get an ephemeral cache_control
// marker; req itself is left untouched.
func EncodeRequest(req *model.Request) ([]byte, error) {
	rb := requestBody{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Messages:  req.Messages,
	}
	if req.System != "" {
		rb.System = []systemBlock{{Type: "text", Text: req.System}}
	}
	for _, t := range req.Tools {
		schema := inputSchema{
			Type:       "object",
			Properties: make(map[string]propSchema, len(t.Params)),
			Required:   t.Required,
		}
		for _, p := range t.Params {
			schema.Properties[p.Name] = propSchema{Type: p.Type, Enum: p.Enum, Description: p.Description}
		}
		rb.Tools = append(rb.Tools, toolDef{Name: t.Name, Description: t.Description, InputSchema: schema})
	}

	body, err := json.Marshal(rb)
	if err != nil {
		return nil, err
	}

	if n := len(rb.Tools); n > 0 {
		body, err = sjson.SetRawBytes(body, fmt.Sprintf("tools.%d.cache_control", n-1), ephemeral)
		if err != nil {
			return nil, err
		}
	}
	if bp := req.Breakpoint; bp != nil && validRef(req.Messages, bp) {
		path := fmt.Sprintf("messages.%d.content.%d.cache_control", bp.Message, bp.Block)
		body, err = sjson.SetRawBytes(body, path, ephemeral)
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

func validRef(msgs []model.Message, ref *model.BlockRef) bool {
	return ref.Message >= 0 && ref.Message < len(msgs) &&
		ref.Block >= 0 && ref.Block < len(msgs[ref.Message].Content)
}

// DecodeResponse parses a Messages API response body.
func DecodeResponse(data []byte) (*model.Response, error) {
	if !gjson.ValidBytes(data) {
		return nil, &model.ProtocolError{Err: errors.New("malformed JSON body")}
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, &model.ProtocolError{Err: errors.New("response is not an object")}
	}

	resp := &model.Response{
		StopReason: root.Get("stop_reason").String(),
	}
	if content := root.Get("content"); content.IsArray() {
		if err := json.Unmarshal([]byte(content.Raw), &resp.Content); err != nil {
			return nil, &model.ProtocolError{Err: err}
		}
	}
	if usage := root.Get("usage"); usage.Exists() {
		resp.Usage = model.Usage{
			InputTokens:              usage.Get("input_tokens").Int(),
			OutputTokens:             usage.Get("output_tokens").Int(),
			CacheCreationInputTokens: usage.Get("cache_creation_input_tokens").Int(),
			CacheReadInputTokens:     usage.Get("cache_read_input_tokens").Int(),
		}
	}
	return resp, nil
}
