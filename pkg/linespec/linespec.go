// Package linespec parses compact line selections such as "1,5,10-20"
// into sorted sets of 1-based line numbers.
package linespec

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxLines bounds both the width of a single range and the size of the
// resulting set.
const MaxLines = 500

// Error describes a malformed line spec. Its text is meant to be shown to
// the caller as-is.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return e.Msg }

func errorf(format string, args ...any) error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

// Parse returns the ascending, deduplicated line numbers selected by spec.
func Parse(spec string) ([]int, error) {
	if spec == "" {
		return nil, errorf("empty line spec")
	}
	for i := 0; i < len(spec); i++ {
		b := spec[i]
		if (b < '0' || b > '9') && b != ',' && b != '-' {
			return nil, errorf("invalid line spec: only digits, commas, and hyphens allowed")
		}
	}

	set := make(map[int]struct{})
	for _, part := range strings.Split(spec, ",") {
		if part == "" {
			continue
		}
		if startStr, endStr, ok := strings.Cut(part, "-"); ok {
			start, err := parseNumber(startStr)
			if err != nil {
				return nil, err
			}
			end, err := parseNumber(endStr)
			if err != nil {
				return nil, err
			}
			if start == 0 || end == 0 {
				return nil, errorf("line numbers must be >= 1")
			}
			if end < start {
				return nil, errorf("invalid range: %d-%d", start, end)
			}
			if end-start > MaxLines {
				return nil, errorf("range too large (max %d lines)", MaxLines)
			}
			for n := start; n <= end; n++ {
				set[n] = struct{}{}
			}
			continue
		}
		n, err := parseNumber(part)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, errorf("line numbers must be >= 1")
		}
		set[n] = struct{}{}
	}

	if len(set) > MaxLines {
		return nil, errorf("too many lines (max %d)", MaxLines)
	}

	lines := make([]int, 0, len(set))
	for n := range set {
		lines = append(lines, n)
	}
	sort.Ints(lines)
	return lines, nil
}

func parseNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errorf("invalid number: %s", s)
	}
	return n, nil
}
