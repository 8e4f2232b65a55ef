// Package controller runs search sessions: it drives the model through
// repeated tool-calling turns and grounds each tool call in the log corpus.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ircarchive/ircview/pkg/domain"
	"github.com/ircarchive/ircview/pkg/logs"
	"github.com/ircarchive/ircview/pkg/metrics"
	"github.com/ircarchive/ircview/pkg/model"
	"github.com/ircarchive/ircview/pkg/output"
	"github.com/ircarchive/ircview/pkg/store"
)

// MaxTranscriptBytes is the size of the serialized transcript beyond which
// a session refuses to call the model again.
const MaxTranscriptBytes = 150_000

// Config holds the per-session limits and model settings.
type Config struct {
	Model     string
	MaxTokens int
	// MaxToolCalls is the number of model turns a session may take.
	MaxToolCalls int
	// SystemPrompt replaces DefaultSystemPrompt when set. The channel
	// listing is always appended.
	SystemPrompt string
	// SearchLimit caps the match count a search call may ask for.
	SearchLimit int
	// RequestTimeout bounds each model call when positive.
	RequestTimeout time.Duration

	// ReportBudgetExhausted emits an Error event when a session runs out
	// of turns. Otherwise such a session ends without a terminal event.
	ReportBudgetExhausted bool
	// ReportWriteErrors emits an Error event when done cannot save the
	// artifact.
	ReportWriteErrors bool
}

// Emitter receives the events of one session in order.
type Emitter interface {
	Emit(ev domain.Event)
}

// Controller runs search sessions against one model provider and one log
// tree. It is safe for concurrent use; each session is owned by the
// goroutine calling Run.
type Controller struct {
	cfg       Config
	provider  model.Provider
	tree      *logs.Tree
	writer    *output.Writer
	artifacts store.ArtifactStore
	metrics   *metrics.Metrics
	system    string
	tools     []model.Tool
	now       func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithArtifactStore records saved artifacts in s.
func WithArtifactStore(s store.ArtifactStore) Option {
	return func(c *Controller) { c.artifacts = s }
}

// WithMetrics records model usage, tool calls and outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock overrides the time source used for artifact timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates a new Controller. The system prompt is built once from the
// tree, which must not change afterwards.
func New(cfg Config, provider model.Provider, tree *logs.Tree, writer *output.Writer, opts ...Option) *Controller {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = 30
	}
	base := cfg.SystemPrompt
	if base == "" {
		base = DefaultSystemPrompt
	}
	c := &Controller{
		cfg:      cfg,
		provider: provider,
		tree:     tree,
		writer:   writer,
		system:   BuildSystemPrompt(base, tree),
		tools:    Tools(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SystemPrompt returns the prompt sent with every request.
func (c *Controller) SystemPrompt() string { return c.system }

// Session is the state of one search. It is not safe for concurrent use.
type Session struct {
	ID      string
	Query   string
	Channel string

	messages []model.Message
	buf      output.Buffer
	turns    int
}

// NewSession starts a session for query. channel is the scope the caller
// asked for and is recorded with the artifact.
func NewSession(query, channel string) *Session {
	return &Session{
		ID:      uuid.New().String(),
		Query:   query,
		Channel: channel,
		messages: []model.Message{{
			Role:    domain.RoleUser,
			Content: []model.Content{model.TextContent(query)},
		}},
	}
}

// Messages returns the transcript.
func (s *Session) Messages() []model.Message { return s.messages }

// Output returns the current output buffer.
func (s *Session) Output() string { return s.buf.String() }

// run is the state of one Run call.
type run struct {
	ctx  context.Context
	ctrl *Controller
	sess *Session
	em   Emitter

	// pending holds the terminal event raised during the current turn. It
	// is emitted once the turn's remaining audit events are out.
	pending *domain.Event
	outcome string
}

func (r *run) terminate(ev domain.Event) {
	if r.pending == nil {
		r.pending = &ev
	}
}

func (r *run) flush() {
	if r.pending == nil {
		return
	}
	ev := *r.pending
	r.pending = nil
	if r.outcome == "" {
		r.outcome = metrics.OutcomeError
		if ev.Type == domain.EventDone {
			r.outcome = metrics.OutcomeDone
		}
	}
	r.em.Emit(ev)
}

func (r *run) fail(msg string) {
	r.terminate(domain.Event{Type: domain.EventError, Message: msg})
	r.flush()
}

// Run drives sess until a terminating tool fires, an error occurs or the
// turn budget is spent, sending events to em. At most one terminal event
// is emitted and it is the last one. Run returns the session outcome.
func (c *Controller) Run(ctx context.Context, sess *Session, em Emitter) string {
	r := &run{ctx: ctx, ctrl: c, sess: sess, em: em}
	log := slog.With("session", sess.ID)
	log.Info("Session started", "query", sess.Query, "channel", sess.Channel)

	finished := false
	for turn := 0; turn < c.cfg.MaxToolCalls && !finished; turn++ {
		finished = r.turn(log)
		r.flush()
	}
	if !finished {
		log.Warn("Tool call budget exhausted", "turns", c.cfg.MaxToolCalls)
		r.outcome = metrics.OutcomeExhausted
		if c.cfg.ReportBudgetExhausted {
			em.Emit(domain.Event{Type: domain.EventError, Message: "tool call budget exhausted"})
		}
	}
	if r.outcome == "" {
		r.outcome = metrics.OutcomeNone
	}
	c.metrics.SessionOutcome(r.outcome)
	log.Info("Session finished", "outcome", r.outcome, "turns", sess.turns, "outputBytes", sess.buf.Len())
	return r.outcome
}

// turn performs one model round trip and reports whether the session is
// over.
func (r *run) turn(log *slog.Logger) bool {
	sess := r.sess
	sess.turns++

	size, err := model.TranscriptSize(sess.messages)
	if err != nil {
		log.Error("Encoding transcript", "error", err)
		r.fail("internal error")
		return true
	}
	if size > MaxTranscriptBytes {
		log.Warn("Context limit reached", "bytes", size)
		r.fail("context limit reached")
		return true
	}

	resp, err := r.complete()
	if err != nil {
		log.Error("Model request failed", "error", err)
		r.fail(describe(err))
		return true
	}

	switch resp.StopReason {
	case model.StopEndTurn:
		r.endTurn(resp.Content)
		return true
	case model.StopToolUse:
		if len(resp.Content) == 0 {
			return true
		}
		return r.toolUse(log, resp.Content)
	default:
		r.fail("unexpected stop_reason: " + resp.StopReason)
		return true
	}
}

func (r *run) complete() (*model.Response, error) {
	c, sess := r.ctrl, r.sess
	req := &model.Request{
		Model:      c.cfg.Model,
		MaxTokens:  c.cfg.MaxTokens,
		System:     c.system,
		Tools:      c.tools,
		Messages:   sess.messages,
		Breakpoint: model.LastBlock(sess.messages),
	}

	ctx := r.ctx
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	u := resp.Usage
	slog.Info("Model usage",
		"session", sess.ID,
		"input", u.InputTokens,
		"cacheCreate", u.CacheCreationInputTokens,
		"cacheRead", u.CacheReadInputTokens,
		"output", u.OutputTokens,
	)
	c.metrics.ModelRequest(c.provider.Name(), time.Since(start),
		u.InputTokens, u.OutputTokens, u.CacheCreationInputTokens, u.CacheReadInputTokens)
	return resp, nil
}

// endTurn handles a plain text answer: the text joins the buffer and a
// non-blank buffer is saved under the query as title.
func (r *run) endTurn(content []model.Content) {
	var text strings.Builder
	for _, b := range content {
		if b.Type == domain.ContentTypeText {
			text.WriteString(b.Text)
		}
	}
	if strings.TrimSpace(text.String()) != "" {
		r.sess.buf.AppendLine(text.String())
	}
	if r.sess.buf.IsBlank() {
		r.fail("no results found")
		return
	}
	r.save(r.sess.Query)
}

// toolUse dispatches every tool call of an assistant turn in order and
// reports whether a terminal tool ran.
func (r *run) toolUse(log *slog.Logger, content []model.Content) bool {
	sess := r.sess
	sess.messages = append(sess.messages, model.Message{Role: domain.RoleAssistant, Content: content})

	results := []model.Content{}
	stop := false
	for _, block := range content {
		if block.Type != domain.ContentTypeToolUse || block.ToolUse == nil {
			continue
		}
		tu := block.ToolUse
		in, known := ParseInput(tu.Name, tu.Input)
		var def toolDef
		if known {
			def, _ = lookupTool(tu.Name)
		}
		silent := def.Silent
		r.ctrl.metrics.ToolCall(tu.Name)

		if !silent {
			r.em.Emit(domain.Event{Type: domain.EventToolCall, Name: tu.Name, InputSummary: summarize(tu.Name, in, tu.Input)})
		}

		var result string
		if known {
			result = r.dispatch(in)
			stop = stop || def.Terminal
		} else {
			result = "unknown tool: " + tu.Name
		}
		log.Debug("Tool call", "tool", tu.Name, "resultBytes", len(result))

		if !silent {
			r.em.Emit(domain.Event{Type: domain.EventToolResult, Name: tu.Name, Preview: result})
		}
		results = append(results, model.ToolResultContent(tu.ID, result))
	}

	sess.messages = append(sess.messages, model.Message{Role: domain.RoleUser, Content: results})
	return stop
}

// describe renders a provider failure as the message of an Error event.
func describe(err error) string {
	var (
		te *model.TransportError
		se *model.StatusError
		pe *model.ProtocolError
	)
	if errors.As(err, &te) || errors.As(err, &se) || errors.As(err, &pe) {
		return err.Error()
	}
	return fmt.Sprintf("API request failed: %v", err)
}
