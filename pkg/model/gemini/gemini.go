// Package gemini implements model.Provider using the Google Gen AI SDK.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/ircarchive/ircview/pkg/domain"
	"github.com/ircarchive/ircview/pkg/model"
	"google.golang.org/genai"
)

// Provider implements model.Provider using the Google Gen AI SDK.
type Provider struct {
	client *genai.Client
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// New creates a new Gemini provider.
func New(ctx context.Context, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// Complete sends the conversation to Gemini and waits for the whole answer.
func (p *Provider) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	slog.Debug("Gemini.Complete", "model", req.Model, "messageCount", len(req.Messages))

	contents, err := toContents(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("converting messages: %w", err)
	}

	config := &genai.GenerateContentConfig{
		Tools:           toTools(req.Tools),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, classify(err)
	}
	return fromResponse(resp)
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &model.StatusError{StatusCode: apiErr.Code, Body: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &model.StatusError{StatusCode: apiErrPtr.Code, Body: apiErrPtr.Message}
	}
	return &model.TransportError{Op: "request", Err: err}
}

func toTools(tools []model.Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		schema := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: make(map[string]*genai.Schema, len(t.Params)),
			Required:   t.Required,
		}
		for _, p := range t.Params {
			schema.Properties[p.Name] = &genai.Schema{
				Type:        schemaType(p.Type),
				Description: p.Description,
				Enum:        p.Enum,
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func schemaType(t model.ParamType) genai.Type {
	switch t {
	case model.TypeInteger:
		return genai.TypeInteger
	case model.TypeBoolean:
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

func toContents(msgs []model.Message) ([]*genai.Content, error) {
	var contents []*genai.Content
	toolNameMap := make(map[string]string) // tool use ID -> name

	for _, msg := range msgs {
		var parts []*genai.Part
		for _, c := range msg.Content {
			switch c.Type {
			case domain.ContentTypeText:
				parts = append(parts, &genai.Part{
					Text:             c.Text,
					ThoughtSignature: c.ThoughtSignature,
				})
			case domain.ContentTypeToolUse:
				if c.ToolUse == nil {
					continue
				}
				args := map[string]any{}
				if len(c.ToolUse.Input) > 0 {
					if err := json.Unmarshal(c.ToolUse.Input, &args); err != nil {
						return nil, fmt.Errorf("tool use %s input: %w", c.ToolUse.ID, err)
					}
				}
				toolNameMap[c.ToolUse.ID] = c.ToolUse.Name
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   c.ToolUse.ID,
						Name: c.ToolUse.Name,
						Args: args,
					},
					ThoughtSignature: c.ThoughtSignature,
				})
			case domain.ContentTypeToolResult:
				if c.ToolResult == nil {
					continue
				}
				parts = append(parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:   c.ToolResult.ToolUseID,
						Name: toolNameMap[c.ToolResult.ToolUseID],
						Response: map[string]any{
							"result": c.ToolResult.Content,
						},
					},
				})
			}
		}

		role := genai.RoleUser
		if msg.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}
	return contents, nil
}

func fromResponse(resp *genai.GenerateContentResponse) (*model.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &model.ProtocolError{Err: errors.New("no candidates in response")}
	}
	cand := resp.Candidates[0]

	out := &model.Response{}
	var text strings.Builder
	var textSignature []byte
	var toolUses []model.Content

	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part.Text != "" && !part.Thought {
				if len(part.ThoughtSignature) > 0 {
					textSignature = part.ThoughtSignature
				}
				text.WriteString(part.Text)
			}
			if fc := part.FunctionCall; fc != nil {
				id := fc.ID
				if id == "" {
					id = "call-" + uuid.New().String()
				}
				input, err := json.Marshal(fc.Args)
				if err != nil {
					return nil, &model.ProtocolError{Err: err}
				}
				if fc.Args == nil {
					input = []byte(`{}`)
				}
				toolUses = append(toolUses, model.Content{
					Type:             domain.ContentTypeToolUse,
					ToolUse:          &domain.ToolUse{ID: id, Name: fc.Name, Input: input},
					ThoughtSignature: part.ThoughtSignature,
				})
			}
		}
	}
	if text.Len() > 0 {
		c := model.TextContent(text.String())
		c.ThoughtSignature = textSignature
		out.Content = append(out.Content, c)
	}
	out.Content = append(out.Content, toolUses...)

	switch {
	case len(toolUses) > 0:
		out.StopReason = model.StopToolUse
	case cand.FinishReason == genai.FinishReasonStop:
		out.StopReason = model.StopEndTurn
	default:
		out.StopReason = strings.ToLower(string(cand.FinishReason))
	}

	if u := resp.UsageMetadata; u != nil {
		out.Usage = model.Usage{
			InputTokens:          int64(u.PromptTokenCount),
			OutputTokens:         int64(u.CandidatesTokenCount),
			CacheReadInputTokens: int64(u.CachedContentTokenCount),
		}
	}
	return out, nil
}
