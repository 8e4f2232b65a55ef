package controller

import (
	"fmt"
	"strings"

	"github.com/ircarchive/ircview/pkg/logs"
)

// DefaultSystemPrompt holds the base instructions used when the
// configuration does not override them.
const DefaultSystemPrompt = `You are an IRC log search assistant. Search IRC logs using tools and compile relevant excerpts into an output document.

Workflow:
1. Use display to tell the user what you're searching for
2. Use search to find relevant messages (use n first to gauge volume, then C for context)
3. Use copy to include relevant log lines in the output
4. Use output to add titles, separators, and factual summaries
5. Use done to save and finish -- you MUST always call done to produce a result

Rules:
- Only retrieve and summarize IRC log content
- Summaries must be grounded in the log data -- no speculation
- If the query is unrelated to IRC log search, call abort immediately
- NEVER respond with just text -- always produce an output document via done
- Format all output text as markdown (headings, lists, code blocks for log excerpts)
`

// BuildSystemPrompt appends the list of searchable channels, with their
// date ranges, to base.
func BuildSystemPrompt(base string, tree *logs.Tree) string {
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\nAvailable channels:\n")
	if tree == nil {
		return b.String()
	}
	for _, ch := range tree.Channels() {
		st, ok := ch.Stat()
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s (%s to %s, %d files)\n", st.Path, st.First, st.Last, st.Files)
	}
	return b.String()
}
