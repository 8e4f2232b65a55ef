package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ircarchive/ircview/pkg/domain"
	"github.com/ircarchive/ircview/pkg/gate"
	"github.com/ircarchive/ircview/pkg/logs"
	"github.com/ircarchive/ircview/pkg/model"
	"github.com/ircarchive/ircview/pkg/output"
	"github.com/ircarchive/ircview/pkg/store"
)

const testChannel = "OFTC/#example"

var testLog = []string{
	"[10:00] <alice> hello",
	"[10:01] <bob> seeing high latency on eu-west",
	"[10:02] <alice> which service?",
	"[10:03] <bob> the gateway",
}

type step struct {
	resp *model.Response
	err  error
}

// scripted replays canned responses and records every request.
type scripted struct {
	mu       sync.Mutex
	steps    []step
	requests []*model.Request
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	cp.Messages = append([]model.Message(nil), req.Messages...)
	s.requests = append(s.requests, &cp)
	if len(s.steps) == 0 {
		return nil, fmt.Errorf("unexpected request %d", len(s.requests))
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.resp, st.err
}

type recorder struct {
	events []domain.Event
}

func (r *recorder) Emit(ev domain.Event) { r.events = append(r.events, ev) }

type memStore struct {
	mu    sync.Mutex
	saved []domain.Artifact
}

func (m *memStore) SaveArtifact(ctx context.Context, a *domain.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, *a)
	return nil
}

func (m *memStore) GetArtifact(ctx context.Context, slug string) (*domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.saved {
		if m.saved[i].Slug == slug {
			a := m.saved[i]
			return &a, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) ListArtifacts(ctx context.Context, limit int) ([]domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Artifact(nil), m.saved...), nil
}

func toolUse(id, name, input string) model.Content {
	return model.Content{
		Type:    domain.ContentTypeToolUse,
		ToolUse: &domain.ToolUse{ID: id, Name: name, Input: json.RawMessage(input)},
	}
}

func toolTurn(blocks ...model.Content) step {
	return step{resp: &model.Response{StopReason: model.StopToolUse, Content: blocks}}
}

func textTurn(text string) step {
	var content []model.Content
	if text != "" {
		content = append(content, model.TextContent(text))
	}
	return step{resp: &model.Response{StopReason: model.StopEndTurn, Content: content}}
}

type fixture struct {
	tree     *logs.Tree
	writer   *output.Writer
	outDir   string
	provider *scripted
	store    *memStore
}

func newFixture(t *testing.T, steps ...step) *fixture {
	t.Helper()
	root := t.TempDir()
	chDir := filepath.Join(root, "logs", "OFTC", "#example")
	if err := os.MkdirAll(chDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := strings.Join(testLog, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(chDir, "2025-01-02.log"), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	outDir := filepath.Join(root, "ask")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return &fixture{
		tree:     logs.Discover([]string{filepath.Join(root, "logs")}),
		writer:   output.NewWriter(outDir, "/ask"),
		outDir:   outDir,
		provider: &scripted{steps: steps},
		store:    &memStore{},
	}
}

func (f *fixture) controller(cfg Config) *Controller {
	if cfg.Model == "" {
		cfg.Model = "test-model"
	}
	return New(cfg, f.provider, f.tree, f.writer,
		WithArtifactStore(f.store),
		WithClock(func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }),
	)
}

func (f *fixture) run(t *testing.T, cfg Config, query string) ([]domain.Event, string) {
	t.Helper()
	rec := &recorder{}
	outcome := f.controller(cfg).Run(context.Background(), NewSession(query, testChannel), rec)
	return rec.events, outcome
}

func assertSingleTerminalLast(t *testing.T, events []domain.Event) {
	t.Helper()
	for i, ev := range events {
		if ev.Terminal() && i != len(events)-1 {
			t.Fatalf("terminal event %d of %d is not last: %+v", i, len(events), events)
		}
	}
}

func TestLatencyScenario(t *testing.T) {
	f := newFixture(t,
		toolTurn(
			toolUse("t1", "display", `{"text":"Searching for latency"}`),
			toolUse("t2", "search", `{"pattern":"latency","channel":"OFTC/#example"}`),
		),
		toolTurn(
			toolUse("t3", "copy", `{"channel":"OFTC/#example","date":"2025-01-02","lines":"2-3"}`),
			toolUse("t4", "output", `{"text":"## Summary"}`),
		),
		toolTurn(toolUse("t5", "done", `{"title":"Latency report"}`)),
	)
	events, outcome := f.run(t, Config{}, "find latency")

	wantOutput := "--- OFTC/#example 2025-01-02 ---\n" +
		testLog[1] + "\n" +
		testLog[2] + "\n" +
		"## Summary\n"
	want := []domain.Event{
		{Type: domain.EventDisplay, Text: "Searching for latency"},
		{Type: domain.EventToolCall, Name: "search", InputSummary: `pattern="latency", channel=OFTC/#example`},
		{Type: domain.EventToolResult, Name: "search", Preview: "--- OFTC/#example 2025-01-02 (1 matches) ---\n" +
			"    2: " + testLog[1] + "\n"},
		{Type: domain.EventToolCall, Name: "copy", InputSummary: "OFTC/#example 2025-01-02 lines=2-3"},
		{Type: domain.EventToolResult, Name: "copy", Preview: "copied 2 lines"},
		{Type: domain.EventToolCall, Name: "output", InputSummary: `"## Summary"`},
		{Type: domain.EventToolResult, Name: "output", Preview: "ok"},
		{Type: domain.EventToolCall, Name: "done", InputSummary: `title="Latency report"`},
		{Type: domain.EventToolResult, Name: "done", Preview: "saved: /ask/output/latency-report.html"},
		{Type: domain.EventDone, URL: "/ask/output/latency-report.html", Output: wantOutput},
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if outcome != "done" {
		t.Errorf("outcome = %q, want done", outcome)
	}

	data, err := os.ReadFile(filepath.Join(f.outDir, "latency-report.md"))
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	if string(data) != wantOutput {
		t.Errorf("artifact = %q, want %q", data, wantOutput)
	}

	if len(f.store.saved) != 1 {
		t.Fatalf("catalog has %d artifacts, want 1", len(f.store.saved))
	}
	a := f.store.saved[0]
	if a.Slug != "latency-report" || a.Query != "find latency" || a.Channel != testChannel || a.Size != len(wantOutput) {
		t.Errorf("unexpected artifact %+v", a)
	}

	reqs := f.provider.requests
	if len(reqs) != 3 {
		t.Fatalf("got %d requests, want 3", len(reqs))
	}
	last := reqs[2]
	if len(last.Messages) != 5 {
		t.Errorf("last request has %d messages, want 5", len(last.Messages))
	}
	if diff := cmp.Diff(&model.BlockRef{Message: 4, Block: 1}, last.Breakpoint); diff != "" {
		t.Errorf("breakpoint (-want +got):\n%s", diff)
	}
	if len(last.Tools) != 6 || last.MaxTokens != 4096 || last.Model != "test-model" {
		t.Errorf("unexpected request settings: tools=%d maxTokens=%d model=%q", len(last.Tools), last.MaxTokens, last.Model)
	}
	if !strings.Contains(last.System, "- OFTC/#example (2025-01-02 to 2025-01-02, 1 files)\n") {
		t.Errorf("system prompt lacks channel listing:\n%s", last.System)
	}

	// Tool results answer the calls of the previous turn by id, in order.
	results := last.Messages[4].Content
	if results[0].ToolResult.ToolUseID != "t3" || results[1].ToolResult.ToolUseID != "t4" {
		t.Errorf("tool results out of order: %+v", results)
	}
}

func TestAbort(t *testing.T) {
	f := newFixture(t, toolTurn(toolUse("t1", "abort", `{}`)))
	events, outcome := f.run(t, Config{}, "what is the weather")

	want := []domain.Event{{Type: domain.EventError, Message: "no relevant results found"}}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if outcome != "error" {
		t.Errorf("outcome = %q", outcome)
	}
	if n := len(f.provider.requests); n != 1 {
		t.Errorf("got %d requests after abort, want 1", n)
	}
}

func TestDoneWriteFailure(t *testing.T) {
	for _, report := range []bool{false, true} {
		t.Run(fmt.Sprintf("report=%v", report), func(t *testing.T) {
			f := newFixture(t,
				toolTurn(toolUse("t1", "output", `{"text":"x"}`), toolUse("t2", "done", `{"title":"T"}`)),
			)
			f.writer = output.NewWriter(filepath.Join(f.outDir, "missing"), "/ask")
			events, outcome := f.run(t, Config{ReportWriteErrors: report}, "q")

			assertSingleTerminalLast(t, events)
			var result domain.Event
			for _, ev := range events {
				if ev.Type == domain.EventToolResult && ev.Name == "done" {
					result = ev
				}
				if ev.Type == domain.EventDone {
					t.Errorf("unexpected Done event: %+v", ev)
				}
			}
			if !strings.HasPrefix(result.Preview, "error writing file: ") {
				t.Errorf("done result = %q", result.Preview)
			}
			if len(f.provider.requests) != 1 {
				t.Errorf("done must stop the session even when the write fails")
			}

			last := events[len(events)-1]
			if report {
				if last.Type != domain.EventError || !strings.HasPrefix(last.Message, "failed to save output: ") {
					t.Errorf("last event = %+v", last)
				}
				if outcome != "error" {
					t.Errorf("outcome = %q", outcome)
				}
			} else {
				if last.Terminal() {
					t.Errorf("unexpected terminal event %+v", last)
				}
				if outcome != "none" {
					t.Errorf("outcome = %q", outcome)
				}
			}
			if len(f.store.saved) != 0 {
				t.Errorf("nothing should be cataloged")
			}
		})
	}
}

func TestDoneWithoutTitleStops(t *testing.T) {
	f := newFixture(t, toolTurn(toolUse("t1", "done", `{}`)))
	events, outcome := f.run(t, Config{}, "q")

	want := []domain.Event{
		{Type: domain.EventToolCall, Name: "done", InputSummary: `title="?"`},
		{Type: domain.EventToolResult, Name: "done", Preview: "error: title is required"},
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if outcome != "none" || len(f.provider.requests) != 1 {
		t.Errorf("outcome = %q, requests = %d", outcome, len(f.provider.requests))
	}
}

func TestUnknownToolThenEndTurn(t *testing.T) {
	f := newFixture(t,
		toolTurn(toolUse("t1", "frobnicate", `{"x":1}`)),
		textTurn("Nothing relevant beyond a latency report."),
	)
	events, outcome := f.run(t, Config{}, "Latency issues?")

	want := []domain.Event{
		{Type: domain.EventToolCall, Name: "frobnicate", InputSummary: `{"x":1}`},
		{Type: domain.EventToolResult, Name: "frobnicate", Preview: "unknown tool: frobnicate"},
		{Type: domain.EventDone, URL: "/ask/output/latency-issues.html", Output: "Nothing relevant beyond a latency report.\n"},
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if outcome != "done" {
		t.Errorf("outcome = %q", outcome)
	}
	if _, err := os.Stat(filepath.Join(f.outDir, "latency-issues.md")); err != nil {
		t.Errorf("artifact not written: %v", err)
	}
}

func TestEndTurnWithBlankBuffer(t *testing.T) {
	f := newFixture(t, textTurn("   \n"))
	events, _ := f.run(t, Config{}, "q")
	want := []domain.Event{{Type: domain.EventError, Message: "no results found"}}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestEndTurnKeepsBuffer(t *testing.T) {
	f := newFixture(t,
		toolTurn(toolUse("t1", "output", `{"text":"# Notes"}`)),
		textTurn(""),
	)
	events, _ := f.run(t, Config{}, "notes")
	last := events[len(events)-1]
	if last.Type != domain.EventDone || last.Output != "# Notes\n" {
		t.Errorf("last event = %+v", last)
	}
}

func TestProviderFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"status", &model.StatusError{StatusCode: http.StatusInternalServerError, Body: "boom"}, "API error 500 Internal Server Error: boom"},
		{"transport", &model.TransportError{Op: "request", Err: errors.New("connection refused")}, "API request failed: connection refused"},
		{"read", &model.TransportError{Op: "read", Err: errors.New("EOF")}, "API read failed: EOF"},
		{"protocol", &model.ProtocolError{Err: errors.New("bad json")}, "invalid API response: bad json"},
		{"other", errors.New("deadline"), "API request failed: deadline"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, step{err: tc.err})
			events, outcome := f.run(t, Config{}, "q")
			want := []domain.Event{{Type: domain.EventError, Message: tc.want}}
			if diff := cmp.Diff(want, events); diff != "" {
				t.Errorf("events (-want +got):\n%s", diff)
			}
			if outcome != "error" {
				t.Errorf("outcome = %q", outcome)
			}
		})
	}
}

func TestUnexpectedStopReason(t *testing.T) {
	f := newFixture(t, step{resp: &model.Response{StopReason: "max_tokens"}})
	events, _ := f.run(t, Config{}, "q")
	want := []domain.Event{{Type: domain.EventError, Message: "unexpected stop_reason: max_tokens"}}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestToolUseWithoutContentEndsSilently(t *testing.T) {
	f := newFixture(t, toolTurn())
	events, outcome := f.run(t, Config{}, "q")
	if len(events) != 0 || outcome != "none" {
		t.Errorf("events = %+v, outcome = %q", events, outcome)
	}
}

func TestContextGuard(t *testing.T) {
	f := newFixture(t)
	events, _ := f.run(t, Config{}, strings.Repeat("a", MaxTranscriptBytes))
	want := []domain.Event{{Type: domain.EventError, Message: "context limit reached"}}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if len(f.provider.requests) != 0 {
		t.Errorf("the model must not be called past the context limit")
	}
}

func TestContextGuardCountsUnescapedHTML(t *testing.T) {
	f := newFixture(t, textTurn(""))
	query := strings.Repeat("<bob> hi\n", 11_000)
	events, _ := f.run(t, Config{}, query)

	if len(f.provider.requests) != 1 {
		t.Fatalf("requests = %d, want 1: %+v", len(f.provider.requests), events)
	}
	want := []domain.Event{{Type: domain.EventError, Message: "no results found"}}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestDoneWithUnsluggableTitle(t *testing.T) {
	f := newFixture(t, toolTurn(
		toolUse("t1", "output", `{"text":"findings"}`),
		toolUse("t2", "done", `{"title":"日本語"}`),
	))
	events, outcome := f.run(t, Config{}, "q")
	if outcome != "done" {
		t.Fatalf("outcome = %q, events = %+v", outcome, events)
	}

	done := events[len(events)-1]
	slug, ok := strings.CutSuffix(strings.TrimPrefix(done.URL, "/ask/output/"), ".html")
	if !ok || !strings.HasPrefix(slug, "output-") || len(slug) != len("output-")+8 {
		t.Fatalf("done URL = %q", done.URL)
	}
	if output.Slugify(slug) != slug {
		t.Errorf("fallback slug %q is not a valid slug", slug)
	}
	if _, err := os.Stat(filepath.Join(f.outDir, slug+".md")); err != nil {
		t.Errorf("artifact file: %v", err)
	}
	if len(f.store.saved) != 1 || f.store.saved[0].Slug != slug || f.store.saved[0].Title != "日本語" {
		t.Errorf("catalog = %+v", f.store.saved)
	}
}

func TestBudgetExhausted(t *testing.T) {
	for _, report := range []bool{false, true} {
		t.Run(fmt.Sprintf("report=%v", report), func(t *testing.T) {
			display := toolTurn(toolUse("t", "display", `{"text":"still looking"}`))
			f := newFixture(t, display, display, display)
			events, outcome := f.run(t, Config{MaxToolCalls: 2, ReportBudgetExhausted: report}, "q")

			want := []domain.Event{
				{Type: domain.EventDisplay, Text: "still looking"},
				{Type: domain.EventDisplay, Text: "still looking"},
			}
			if report {
				want = append(want, domain.Event{Type: domain.EventError, Message: "tool call budget exhausted"})
			}
			if diff := cmp.Diff(want, events); diff != "" {
				t.Errorf("events (-want +got):\n%s", diff)
			}
			if outcome != "exhausted" {
				t.Errorf("outcome = %q", outcome)
			}
			if len(f.provider.requests) != 2 {
				t.Errorf("got %d requests, want 2", len(f.provider.requests))
			}
		})
	}
}

func TestSingleTerminalEventPerTurn(t *testing.T) {
	f := newFixture(t, toolTurn(
		toolUse("t1", "output", `{"text":"body"}`),
		toolUse("t2", "done", `{"title":"First"}`),
		toolUse("t3", "abort", `{}`),
		toolUse("t4", "output", `{"text":"late"}`),
	))
	events, outcome := f.run(t, Config{}, "q")
	assertSingleTerminalLast(t, events)

	last := events[len(events)-1]
	if last.Type != domain.EventDone || last.URL != "/ask/output/first.html" {
		t.Errorf("last event = %+v", last)
	}
	// The late output ran and was audited before the terminal event.
	if prev := events[len(events)-2]; prev.Type != domain.EventToolResult || prev.Name != "output" {
		t.Errorf("event before Done = %+v", prev)
	}
	if outcome != "done" {
		t.Errorf("outcome = %q", outcome)
	}
}

func TestBreakpointDeterministic(t *testing.T) {
	turn := toolTurn(toolUse("t1", "display", `{"text":"x"}`))
	f1 := newFixture(t, turn, textTurn("a"))
	f2 := newFixture(t, turn, textTurn("a"))
	f1.run(t, Config{}, "same query")
	f2.run(t, Config{}, "same query")

	for i := range f1.provider.requests {
		a, b := f1.provider.requests[i], f2.provider.requests[i]
		if diff := cmp.Diff(a.Breakpoint, b.Breakpoint); diff != "" {
			t.Errorf("request %d breakpoints differ:\n%s", i, diff)
		}
		ja, _ := json.Marshal(a.Messages)
		jb, _ := json.Marshal(b.Messages)
		if string(ja) != string(jb) {
			t.Errorf("request %d transcripts differ", i)
		}
	}
	if bp := f1.provider.requests[0].Breakpoint; bp == nil || bp.Message != 0 || bp.Block != 0 {
		t.Errorf("first breakpoint = %+v", bp)
	}
}

func TestRunThroughGate(t *testing.T) {
	f := newFixture(t,
		toolTurn(toolUse("t1", "output", `{"text":"hello"}`), toolUse("t2", "done", `{"title":"Hello"}`)),
	)
	ctrl := f.controller(Config{})
	g := gate.New(1)
	q, err := g.Admit(context.Background(), func(ctx context.Context, q *gate.Queue) {
		ctrl.Run(ctx, NewSession("hello", testChannel), q)
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	var got []domain.EventType
	for ev := range q.Events() {
		got = append(got, ev.Type)
	}
	g.Wait()
	want := []domain.EventType{
		domain.EventToolCall, domain.EventToolResult,
		domain.EventToolCall, domain.EventToolResult,
		domain.EventDone,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("event types (-want +got):\n%s", diff)
	}
}
