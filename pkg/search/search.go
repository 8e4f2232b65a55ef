// Package search implements grep-style scanning of a channel's dated logs.
package search

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ircarchive/ircview/pkg/logs"
)

const (
	// DefaultMaxResults applies when no positive match limit is given.
	DefaultMaxResults = 50
	// MaxDates bounds the number of dates scanned by one search.
	MaxDates = 365
	// MaxOutputBytes stops excerpt emission once exceeded.
	MaxOutputBytes = 8000
)

// Source gives access to the logs of one channel.
type Source interface {
	// Dates returns the available dates in ascending order.
	Dates() []string
	// ReadLines returns the lines logged on date.
	ReadLines(date string) ([]string, error)
}

// Params selects what to search and how to report it.
type Params struct {
	// Pattern is the regex source, shown verbatim when nothing matches.
	Pattern string
	// Channel is the channel path used in headers.
	Channel string

	// Date restricts the search to one day. From and To bound the range of
	// dates otherwise. Values that are not 10 characters long are ignored.
	Date, From, To string
	// Oldest scans from the first date forward instead of newest first.
	Oldest bool

	Before, After int
	CountOnly     bool
	MaxResults    int
}

// Compile builds the case-insensitive matcher for pattern.
func Compile(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return re, nil
}

// Run scans src and returns the formatted report.
func Run(src Source, re *regexp.Regexp, p Params) string {
	maxResults := p.MaxResults
	if maxResults < 1 {
		maxResults = DefaultMaxResults
	}

	var out strings.Builder
	total, scanned := 0, 0

scan:
	for _, date := range candidateDates(src, p) {
		if scanned >= MaxDates {
			fmt.Fprintf(&out, "\n[stopped: %d dates scanned]\n", MaxDates)
			break
		}
		scanned++

		lines, err := src.ReadLines(date)
		if err != nil {
			continue
		}
		matches := matchingLines(re, lines)
		if len(matches) == 0 {
			continue
		}

		if p.CountOnly {
			fmt.Fprintf(&out, "%s: %d matches\n", date, len(matches))
			total += len(matches)
			if total >= maxResults {
				break
			}
			continue
		}

		// Matches past the remaining budget do not contribute excerpts.
		contributing := matches
		if remaining := maxResults - total; len(contributing) > remaining {
			contributing = contributing[:remaining]
		}
		selected := windows(contributing, len(lines), p.Before, p.After)

		fmt.Fprintf(&out, "--- %s %s (%d matches) ---\n", p.Channel, date, len(matches))
		prev := -1
		for _, j := range selected {
			if prev >= 0 && j > prev+1 {
				out.WriteString("--\n")
			}
			fmt.Fprintf(&out, "%5d: %s\n", j+1, lines[j])
			prev = j
			if out.Len() > MaxOutputBytes {
				total += len(matches)
				out.WriteString("\n[stopped: output size limit]\n")
				break scan
			}
		}
		total += len(matches)

		if total >= maxResults {
			fmt.Fprintf(&out, "\n[stopped: %d match limit reached]\n", maxResults)
			break
		}
		if out.Len() > MaxOutputBytes {
			out.WriteString("\n[stopped: output size limit]\n")
			break
		}
	}

	switch {
	case total == 0:
		return fmt.Sprintf("no matches for \"%s\" in %s", p.Pattern, p.Channel)
	case p.CountOnly:
		return fmt.Sprintf("%stotal: %d matches across %d dates scanned", out.String(), total, scanned)
	}
	return out.String()
}

func candidateDates(src Source, p Params) []string {
	if validDate(p.Date) {
		return []string{p.Date}
	}
	all := src.Dates()
	dates := make([]string, 0, len(all))
	for _, d := range all {
		if validDate(p.From) && d < p.From {
			continue
		}
		if validDate(p.To) && d > p.To {
			continue
		}
		dates = append(dates, d)
	}
	if !p.Oldest {
		sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	}
	return dates
}

func validDate(s string) bool { return logs.ValidDate(s) }

func matchingLines(re *regexp.Regexp, lines []string) []int {
	var idx []int
	for i, l := range lines {
		if re.MatchString(l) {
			idx = append(idx, i)
		}
	}
	return idx
}

// windows returns the sorted union of [i-before, i+after] over matches,
// clamped to [0, n).
func windows(matches []int, n, before, after int) []int {
	set := make(map[int]struct{})
	for _, i := range matches {
		start := max(i-before, 0)
		end := min(i+after, n-1)
		for j := start; j <= end; j++ {
			set[j] = struct{}{}
		}
	}
	out := make([]int, 0, len(set))
	for j := range set {
		out = append(out, j)
	}
	sort.Ints(out)
	return out
}
