package controller

import (
	"encoding/json"
	"math"

	"github.com/tidwall/gjson"
)

// ToolInput is the parsed input of one tool call. The concrete type is one
// of SearchInput, CopyInput, OutputInput, DoneInput, DisplayInput or
// AbortInput.
type ToolInput interface {
	toolName() string
}

// SearchInput holds the arguments of the search tool.
type SearchInput struct {
	Pattern  string
	Channel  string
	Date     string
	FromDate string
	ToDate   string
	Order    string

	After, Before, Context int
	// HasContext reports whether C was given as a non-negative integer.
	HasContext bool
	CountOnly  bool
	MaxResults int
}

// CopyInput holds the arguments of the copy tool.
type CopyInput struct {
	Channel string
	Date    string
	Lines   string
}

// OutputInput holds the arguments of the output tool.
type OutputInput struct {
	Text  string
	Clear bool
}

// DoneInput holds the arguments of the done tool.
type DoneInput struct {
	Title string
}

// DisplayInput holds the arguments of the display tool.
type DisplayInput struct {
	Text string
}

// AbortInput is the empty input of the abort tool.
type AbortInput struct{}

func (SearchInput) toolName() string  { return toolSearch }
func (CopyInput) toolName() string    { return toolCopy }
func (OutputInput) toolName() string  { return toolOutput }
func (DoneInput) toolName() string    { return toolDone }
func (DisplayInput) toolName() string { return toolDisplay }
func (AbortInput) toolName() string   { return toolAbort }

// ParseInput decodes raw as the input of the named tool. Fields of the
// wrong JSON type are treated as absent. ok is false for unknown tools.
func ParseInput(name string, raw json.RawMessage) (in ToolInput, ok bool) {
	doc := gjson.ParseBytes(raw)
	switch name {
	case toolSearch:
		s := SearchInput{
			Pattern:   str(doc, "pattern"),
			Channel:   str(doc, "channel"),
			Date:      str(doc, "date"),
			FromDate:  str(doc, "from_date"),
			ToDate:    str(doc, "to_date"),
			Order:     str(doc, "order"),
			CountOnly: boolean(doc, "n"),
		}
		s.After, _ = count(doc, "A")
		s.Before, _ = count(doc, "B")
		s.Context, s.HasContext = count(doc, "C")
		s.MaxResults, _ = count(doc, "c")
		return s, true
	case toolCopy:
		return CopyInput{
			Channel: str(doc, "channel"),
			Date:    str(doc, "date"),
			Lines:   str(doc, "lines"),
		}, true
	case toolOutput:
		return OutputInput{Text: str(doc, "text"), Clear: boolean(doc, "clear")}, true
	case toolDone:
		return DoneInput{Title: str(doc, "title")}, true
	case toolDisplay:
		return DisplayInput{Text: str(doc, "text")}, true
	case toolAbort:
		return AbortInput{}, true
	}
	return nil, false
}

func str(doc gjson.Result, key string) string {
	if r := doc.Get(key); r.Type == gjson.String {
		return r.Str
	}
	return ""
}

func boolean(doc gjson.Result, key string) bool {
	return doc.Get(key).Type == gjson.True
}

// count returns a non-negative integral number field.
func count(doc gjson.Result, key string) (int, bool) {
	r := doc.Get(key)
	if r.Type != gjson.Number || r.Num < 0 || r.Num != math.Trunc(r.Num) || r.Num > math.MaxInt32 {
		return 0, false
	}
	return int(r.Num), true
}
