package controller

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ircarchive/ircview/pkg/output"
)

func TestParseInput(t *testing.T) {
	in, ok := ParseInput("search", json.RawMessage(`{
		"pattern": "lat", "channel": "a/#b", "order": "oldest",
		"A": 2, "B": -1, "C": 1.5, "n": "yes", "c": 10, "date": 20250101
	}`))
	if !ok {
		t.Fatal("search not recognized")
	}
	want := SearchInput{Pattern: "lat", Channel: "a/#b", Order: "oldest", After: 2, MaxResults: 10}
	if diff := cmp.Diff(want, in); diff != "" {
		t.Errorf("search input (-want +got):\n%s", diff)
	}

	in, _ = ParseInput("search", json.RawMessage(`{"C": 0}`))
	if s := in.(SearchInput); !s.HasContext || s.Context != 0 {
		t.Errorf("C=0 should be present: %+v", s)
	}

	in, _ = ParseInput("output", json.RawMessage(`{"text":"hi","clear":true}`))
	if diff := cmp.Diff(OutputInput{Text: "hi", Clear: true}, in); diff != "" {
		t.Errorf("output input (-want +got):\n%s", diff)
	}

	if _, ok := ParseInput("rm", json.RawMessage(`{}`)); ok {
		t.Error("unknown tool parsed")
	}
	if in, ok := ParseInput("abort", nil); !ok || in != (AbortInput{}) {
		t.Errorf("abort without input: %v %v", in, ok)
	}
}

func TestSummarize(t *testing.T) {
	long := strings.Repeat("é", 40) // 80 bytes
	cases := []struct {
		name, input, want string
	}{
		{"search", `{"pattern":"a\"b","channel":"n/#c"}`, `pattern="a\"b", channel=n/#c`},
		{"search", `{"pattern":"x","channel":"n/#c","date":"2025-01-01","from_date":"2024-01-01","to_date":"2024-12-31","order":"oldest","n":true,"C":3}`,
			`pattern="x", channel=n/#c, date=2025-01-01, from=2024-01-01, to=2024-12-31, order=oldest, count-only, C=3`},
		{"search", `{}`, `pattern="?", channel=?`},
		{"copy", `{"channel":"n/#c","date":"2025-01-01","lines":"1-3"}`, "n/#c 2025-01-01 lines=1-3"},
		{"copy", `{}`, "? ? lines=?"},
		{"output", `{"text":"` + strings.Repeat("x", 70) + `"}`, `"` + strings.Repeat("x", 60) + `"`},
		{"output", `{"text":"` + long + `"}`, `"` + strings.Repeat("é", 30) + `"`},
		{"done", `{"title":"Report"}`, `title="Report"`},
		{"display", `{"text":"hi"}`, "hi"},
		{"abort", `{}`, ""},
		{"mystery", `{"a":[1]}`, `{"a":[1]}`},
		{"mystery", ``, `{}`},
	}
	for _, tc := range cases {
		in, _ := ParseInput(tc.name, json.RawMessage(tc.input))
		if got := summarize(tc.name, in, []byte(tc.input)); got != tc.want {
			t.Errorf("summarize(%s, %s) = %q, want %q", tc.name, tc.input, got, tc.want)
		}
	}
}

func newTestRun(t *testing.T) (*run, *recorder) {
	t.Helper()
	f := newFixture(t)
	rec := &recorder{}
	return &run{
		ctx:  context.Background(),
		ctrl: f.controller(Config{}),
		sess: NewSession("q", testChannel),
		em:   rec,
	}, rec
}

func TestSearchTool(t *testing.T) {
	r, _ := newTestRun(t)
	cases := []struct {
		in   SearchInput
		want string
	}{
		{SearchInput{Channel: testChannel}, "error: pattern is required"},
		{SearchInput{Pattern: "x"}, "error: channel is required"},
		{SearchInput{Pattern: "x", Channel: "OFTC/#nope"}, "unknown channel: OFTC/#nope"},
		{SearchInput{Pattern: "x", Channel: "OFTC"}, "not a channel: OFTC"},
		{SearchInput{Pattern: "zzz", Channel: testChannel}, `no matches for "zzz" in OFTC/#example`},
		{SearchInput{Pattern: "gateway", Channel: testChannel, Context: 1, HasContext: true},
			"--- OFTC/#example 2025-01-02 (1 matches) ---\n    3: " + testLog[2] + "\n    4: " + testLog[3] + "\n"},
		{SearchInput{Pattern: "gateway", Channel: testChannel, Before: 3},
			"--- OFTC/#example 2025-01-02 (1 matches) ---\n" +
				"    1: " + testLog[0] + "\n    2: " + testLog[1] + "\n    3: " + testLog[2] + "\n    4: " + testLog[3] + "\n"},
		{SearchInput{Pattern: "<", Channel: testChannel, CountOnly: true}, "2025-01-02: 4 matches\ntotal: 4 matches across 1 dates scanned"},
	}
	for _, tc := range cases {
		if got := r.toolSearch(tc.in); got != tc.want {
			t.Errorf("search(%+v) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if got := r.toolSearch(SearchInput{Pattern: "(", Channel: testChannel}); !strings.HasPrefix(got, "invalid regex: ") {
		t.Errorf("bad regex result = %q", got)
	}
}

func TestCopyTool(t *testing.T) {
	r, _ := newTestRun(t)
	cases := []struct {
		in   CopyInput
		want string
	}{
		{CopyInput{Date: "2025-01-02", Lines: "1"}, "error: channel is required"},
		{CopyInput{Channel: testChannel, Date: "2025-1-2", Lines: "1"}, "error: date (YYYY-MM-DD) is required"},
		{CopyInput{Channel: testChannel, Date: "2025-01-02"}, "error: lines spec is required"},
		{CopyInput{Channel: testChannel, Date: "../../abcd", Lines: "1"}, "error: date (YYYY-MM-DD) is required"},
		{CopyInput{Channel: "x/#y", Date: "2025-01-02", Lines: "1"}, "unknown channel: x/#y"},
		{CopyInput{Channel: testChannel, Date: "2025-01-02", Lines: "1;2"}, "invalid line spec: only digits, commas, and hyphens allowed"},
		{CopyInput{Channel: testChannel, Date: "2024-01-01", Lines: "1"}, "no log for 2024-01-01 in OFTC/#example"},
	}
	for _, tc := range cases {
		if got := r.toolCopy(tc.in); got != tc.want {
			t.Errorf("copy(%+v) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if r.sess.Output() != "" {
		t.Fatalf("failed copies must not touch the buffer: %q", r.sess.Output())
	}

	if got := r.toolCopy(CopyInput{Channel: testChannel, Date: "2025-01-02", Lines: "4,9,1"}); got != "copied 2 lines" {
		t.Errorf("copy result = %q", got)
	}
	want := "--- OFTC/#example 2025-01-02 ---\n" + testLog[0] + "\n" + testLog[3] + "\n"
	if got := r.sess.Output(); got != want {
		t.Errorf("buffer = %q, want %q", got, want)
	}
}

func TestOutputToolTruncates(t *testing.T) {
	r, _ := newTestRun(t)
	if got := r.toolOutput(OutputInput{Text: strings.Repeat("x", output.MaxBytes-10)}); got != "ok" {
		t.Fatalf("first append = %q", got)
	}
	if got := r.toolOutput(OutputInput{Text: strings.Repeat("y", 100)}); got != "appended (output buffer truncated to 100KB)" {
		t.Errorf("second append = %q", got)
	}
	if n := r.sess.buf.Len(); n != output.MaxBytes {
		t.Errorf("buffer length = %d", n)
	}
	if got := r.toolCopy(CopyInput{Channel: testChannel, Date: "2025-01-02", Lines: "1"}); got != "copied 1 lines (output buffer truncated to 100KB)" {
		t.Errorf("copy into full buffer = %q", got)
	}

	r.toolOutput(OutputInput{Text: "fresh", Clear: true})
	if got := r.sess.Output(); got != "fresh\n" {
		t.Errorf("after clear = %q", got)
	}
}

func TestDisplayTool(t *testing.T) {
	r, rec := newTestRun(t)
	if got := r.toolDisplay(DisplayInput{Text: "working"}); got != "ok" {
		t.Errorf("display = %q", got)
	}
	if len(rec.events) != 1 || rec.events[0].Text != "working" {
		t.Errorf("events = %+v", rec.events)
	}
	if r.pending != nil {
		t.Error("display must not terminate")
	}
}

func TestToolFlags(t *testing.T) {
	got := map[string][2]bool{}
	for _, d := range toolDefs {
		got[d.Name] = [2]bool{d.Silent, d.Terminal}
	}
	want := map[string][2]bool{
		"search":  {false, false},
		"copy":    {false, false},
		"output":  {false, false},
		"done":    {false, true},
		"display": {true, false},
		"abort":   {true, true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("flags (-want +got):\n%s", diff)
	}
	if tools := Tools(); tools[len(tools)-1].Name != "abort" {
		t.Errorf("abort should be the last tool definition")
	}
}

func TestSearchLimit(t *testing.T) {
	c := &Controller{cfg: Config{SearchLimit: 100}}
	for n, want := range map[int]int{0: 0, 50: 50, 100: 100, 5000: 100} {
		if got := c.searchLimit(n); got != want {
			t.Errorf("searchLimit(%d) = %d, want %d", n, got, want)
		}
	}
	if got := (&Controller{}).searchLimit(5000); got != 5000 {
		t.Errorf("unlimited searchLimit = %d", got)
	}
}
