package controller

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/ircarchive/ircview/pkg/domain"
	"github.com/ircarchive/ircview/pkg/linespec"
	"github.com/ircarchive/ircview/pkg/logs"
	"github.com/ircarchive/ircview/pkg/model"
	"github.com/ircarchive/ircview/pkg/output"
	"github.com/ircarchive/ircview/pkg/search"
)

const (
	toolSearch  = "search"
	toolCopy    = "copy"
	toolOutput  = "output"
	toolDone    = "done"
	toolDisplay = "display"
	toolAbort   = "abort"
)

// toolDef is a tool definition with its dispatch flags.
type toolDef struct {
	model.Tool
	// Silent tools emit no ToolCall/ToolResult events.
	Silent bool
	// Terminal tools end the session after the current turn.
	Terminal bool
}

var toolDefs = []toolDef{
	{Tool: model.Tool{
		Name:        toolSearch,
		Description: "Grep-like search through IRC logs. Returns matching lines with line numbers.",
		Params: []model.Param{
			{Name: "pattern", Type: model.TypeString, Description: "Regex pattern (case-insensitive)"},
			{Name: "channel", Type: model.TypeString, Description: "Channel path, e.g. 'OFTC/#channel'"},
			{Name: "date", Type: model.TypeString, Description: "Specific date (YYYY-MM-DD)"},
			{Name: "from_date", Type: model.TypeString, Description: "Start of date range (YYYY-MM-DD)"},
			{Name: "to_date", Type: model.TypeString, Description: "End of date range (YYYY-MM-DD)"},
			{Name: "order", Type: model.TypeString, Enum: []string{"newest", "oldest"}, Description: "Date order to scan (default newest)"},
			{Name: "A", Type: model.TypeInteger, Description: "Lines of context after each match"},
			{Name: "B", Type: model.TypeInteger, Description: "Lines of context before each match"},
			{Name: "C", Type: model.TypeInteger, Description: "Lines of context before and after each match"},
			{Name: "n", Type: model.TypeBoolean, Description: "Only count matches per date"},
			{Name: "c", Type: model.TypeInteger, Description: "Max number of matching lines to return (default 50)"},
		},
		Required: []string{"pattern", "channel"},
	}},
	{Tool: model.Tool{
		Name:        toolCopy,
		Description: "Copy specific line ranges from a log file into the output buffer.",
		Params: []model.Param{
			{Name: "channel", Type: model.TypeString, Description: "Channel path"},
			{Name: "date", Type: model.TypeString, Description: "Date (YYYY-MM-DD)"},
			{Name: "lines", Type: model.TypeString, Description: "Line numbers and ranges, e.g. '1,5,10-20'"},
		},
		Required: []string{"channel", "date", "lines"},
	}},
	{Tool: model.Tool{
		Name:        toolOutput,
		Description: "Append text to the output buffer (titles, separators, summaries).",
		Params: []model.Param{
			{Name: "text", Type: model.TypeString, Description: "Text to append"},
			{Name: "clear", Type: model.TypeBoolean, Description: "Clear the buffer first"},
		},
		Required: []string{"text"},
	}},
	{Tool: model.Tool{
		Name:        toolDone,
		Description: "Save the output buffer to a file and finish the session.",
		Params: []model.Param{
			{Name: "title", Type: model.TypeString, Description: "Title for the output file (used to generate filename slug)"},
		},
		Required: []string{"title"},
	}, Terminal: true},
	{Tool: model.Tool{
		Name:        toolDisplay,
		Description: "Show a progress message to the user in real-time.",
		Params: []model.Param{
			{Name: "text", Type: model.TypeString, Description: "Message to show"},
		},
		Required: []string{"text"},
	}, Silent: true},
	{Tool: model.Tool{
		Name:        toolAbort,
		Description: "Cancel the session (use when the query is unrelated to IRC log search).",
	}, Silent: true, Terminal: true},
}

// Tools returns the definitions sent to the model.
func Tools() []model.Tool {
	out := make([]model.Tool, len(toolDefs))
	for i, d := range toolDefs {
		out[i] = d.Tool
	}
	return out
}

func lookupTool(name string) (toolDef, bool) {
	for _, d := range toolDefs {
		if d.Name == name {
			return d, true
		}
	}
	return toolDef{}, false
}

// dispatch runs one parsed tool call and returns the text handed back to
// the model.
func (r *run) dispatch(in ToolInput) string {
	switch in := in.(type) {
	case SearchInput:
		return r.toolSearch(in)
	case CopyInput:
		return r.toolCopy(in)
	case OutputInput:
		return r.toolOutput(in)
	case DoneInput:
		return r.toolDone(in)
	case DisplayInput:
		return r.toolDisplay(in)
	case AbortInput:
		return r.toolAbort()
	}
	return fmt.Sprintf("unknown tool: %s", in.toolName())
}

func (r *run) toolSearch(in SearchInput) string {
	if in.Pattern == "" {
		return "error: pattern is required"
	}
	if in.Channel == "" {
		return "error: channel is required"
	}
	ch, err := r.ctrl.tree.Lookup(in.Channel)
	if err != nil {
		return err.Error()
	}
	re, err := search.Compile(in.Pattern)
	if err != nil {
		return err.Error()
	}
	return search.Run(ch, re, search.Params{
		Pattern:    in.Pattern,
		Channel:    in.Channel,
		Date:       in.Date,
		From:       in.FromDate,
		To:         in.ToDate,
		Oldest:     in.Order == "oldest",
		Before:     max(in.Before, in.Context),
		After:      max(in.After, in.Context),
		CountOnly:  in.CountOnly,
		MaxResults: r.ctrl.searchLimit(in.MaxResults),
	})
}

// searchLimit caps the requested match count at the configured limit.
func (c *Controller) searchLimit(n int) int {
	if c.cfg.SearchLimit > 0 && n > c.cfg.SearchLimit {
		return c.cfg.SearchLimit
	}
	return n
}

func (r *run) toolCopy(in CopyInput) string {
	if in.Channel == "" {
		return "error: channel is required"
	}
	if !logs.ValidDate(in.Date) {
		return "error: date (YYYY-MM-DD) is required"
	}
	if in.Lines == "" {
		return "error: lines spec is required"
	}
	ch, err := r.ctrl.tree.Lookup(in.Channel)
	if err != nil {
		return err.Error()
	}
	nums, err := linespec.Parse(in.Lines)
	if err != nil {
		return err.Error()
	}

	path, err := ch.Resolve(in.Date)
	if err != nil {
		return fmt.Sprintf("no log for %s in %s", in.Date, in.Channel)
	}
	data, err := logs.ReadFile(path)
	if err != nil {
		slog.Warn("Reading log for copy", "session", r.sess.ID, "path", path, "error", err)
		return fmt.Sprintf("error reading log for %s", in.Date)
	}
	lines := logs.SplitLines(string(data))

	buf := &r.sess.buf
	truncated := buf.Append(fmt.Sprintf("--- %s %s ---\n", in.Channel, in.Date))
	copied := 0
	for _, n := range nums {
		if n < 1 || n > len(lines) {
			continue
		}
		if buf.AppendLine(lines[n-1]) {
			truncated = true
		}
		copied++
	}
	if truncated {
		return fmt.Sprintf("copied %d lines (output buffer truncated to 100KB)", copied)
	}
	return fmt.Sprintf("copied %d lines", copied)
}

func (r *run) toolOutput(in OutputInput) string {
	if in.Clear {
		r.sess.buf.Clear()
	}
	if r.sess.buf.AppendLine(in.Text) {
		return "appended (output buffer truncated to 100KB)"
	}
	return "ok"
}

func (r *run) toolDone(in DoneInput) string {
	if in.Title == "" {
		return "error: title is required"
	}
	return r.save(in.Title)
}

// save writes the buffer as an artifact named after title and queues the
// Done event.
func (r *run) save(title string) string {
	ctrl := r.ctrl
	slug := output.Slugify(title)
	if slug == "" {
		slug = "output-" + r.sess.ID[:8]
	}
	content := r.sess.buf.String()

	path, err := ctrl.writer.Write(slug, content)
	if err != nil {
		slog.Error("Saving output", "session", r.sess.ID, "slug", slug, "error", err)
		if ctrl.cfg.ReportWriteErrors {
			r.terminate(domain.Event{Type: domain.EventError, Message: fmt.Sprintf("failed to save output: %v", err)})
		}
		return fmt.Sprintf("error writing file: %v", unwrapPath(err))
	}

	url := ctrl.writer.URL(slug)
	r.terminate(domain.Event{Type: domain.EventDone, URL: url, Output: content})

	if ctrl.artifacts != nil {
		a := &domain.Artifact{
			Slug:      slug,
			Title:     title,
			Query:     r.sess.Query,
			Channel:   r.sess.Channel,
			Path:      path,
			URL:       url,
			Size:      len(content),
			CreatedAt: ctrl.now(),
		}
		if err := ctrl.artifacts.SaveArtifact(r.ctx, a); err != nil {
			slog.Error("Recording artifact", "session", r.sess.ID, "slug", slug, "error", err)
		}
	}
	slog.Info("Saved output", "session", r.sess.ID, "slug", slug, "bytes", len(content))
	return "saved: " + url
}

func (r *run) toolDisplay(in DisplayInput) string {
	r.em.Emit(domain.Event{Type: domain.EventDisplay, Text: in.Text})
	return "ok"
}

func (r *run) toolAbort() string {
	r.terminate(domain.Event{Type: domain.EventError, Message: "no relevant results found"})
	return "aborted"
}

// unwrapPath drops the "writing <path>:" prefix added by the writer so the
// model sees the underlying cause.
func unwrapPath(err error) error {
	if inner := errors.Unwrap(err); inner != nil {
		return inner
	}
	return err
}

// summarize renders the short input description carried by ToolCall
// events.
func summarize(name string, in ToolInput, raw []byte) string {
	switch in := in.(type) {
	case SearchInput:
		var b strings.Builder
		fmt.Fprintf(&b, "pattern=%q, channel=%s", orUnknown(in.Pattern), orUnknown(in.Channel))
		if in.Date != "" {
			b.WriteString(", date=" + in.Date)
		}
		if in.FromDate != "" {
			b.WriteString(", from=" + in.FromDate)
		}
		if in.ToDate != "" {
			b.WriteString(", to=" + in.ToDate)
		}
		if in.Order != "" {
			b.WriteString(", order=" + in.Order)
		}
		if in.CountOnly {
			b.WriteString(", count-only")
		}
		if in.HasContext {
			fmt.Fprintf(&b, ", C=%d", in.Context)
		}
		return b.String()
	case CopyInput:
		return fmt.Sprintf("%s %s lines=%s", orUnknown(in.Channel), orUnknown(in.Date), orUnknown(in.Lines))
	case OutputInput:
		return fmt.Sprintf("%q", truncate(in.Text, 60))
	case DoneInput:
		return fmt.Sprintf("title=%q", orUnknown(in.Title))
	case DisplayInput:
		return truncate(in.Text, 80)
	case AbortInput:
		return ""
	}
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
