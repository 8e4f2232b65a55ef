package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const (
	plainExt = ".log"
	zstdExt  = ".log.zst"
)

// decoder is shared by all reads; DecodeAll is safe for concurrent use.
var decoder *zstd.Decoder

func init() {
	var err error
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("logs: zstd decoder initialization failed: " + err.Error())
	}
}

// Channel is a leaf of the tree backed by one or more directories of
// dated log files.
type Channel struct {
	Name     string
	Segments []string
	Dirs     []string
}

// Path returns the slash separated channel path.
func (c *Channel) Path() string {
	return strings.Join(c.Segments, "/")
}

// Searchable reports whether the channel is a real IRC channel.
func (c *Channel) Searchable() bool {
	return strings.HasPrefix(c.Name, "#")
}

// Dates returns the ascending, deduplicated dates for which a log exists in
// any of the channel's directories.
func (c *Channel) Dates() []string {
	seen := make(map[string]struct{})
	for _, dir := range c.Dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if date, ok := dateFromFilename(e.Name()); ok {
				seen[date] = struct{}{}
			}
		}
	}
	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// Resolve returns the file holding date. The plain file wins over the
// compressed one, and earlier directories win over later ones.
func (c *Channel) Resolve(date string) (string, error) {
	if !ValidDate(date) {
		return "", fmt.Errorf("log %q in %s: %w", date, c.Path(), ErrNotFound)
	}
	for _, dir := range c.Dirs {
		for _, ext := range []string{plainExt, zstdExt} {
			path := filepath.Join(dir, date+ext)
			if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("log %s in %s: %w", date, c.Path(), ErrNotFound)
}

// ReadLines returns the lines of the log for date.
func (c *Channel) ReadLines(date string) ([]string, error) {
	path, err := c.Resolve(date)
	if err != nil {
		return nil, err
	}
	data, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return SplitLines(string(data)), nil
}

// ReadFile reads a log file, decompressing it when it ends in ".zst".
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".zst") {
		return data, nil
	}
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing %s: %w", path, err)
	}
	return out, nil
}

// SplitLines splits s on "\n", dropping a trailing "\r" from every line and
// the empty string after a final newline.
func SplitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// Stat summarizes the dates available for a channel.
type Stat struct {
	Path  string `json:"path"`
	First string `json:"first"`
	Last  string `json:"last"`
	Files int    `json:"files"`
}

// Stat returns the date range of c. ok is false when no logs exist.
func (c *Channel) Stat() (Stat, bool) {
	dates := c.Dates()
	if len(dates) == 0 {
		return Stat{}, false
	}
	return Stat{
		Path:  c.Path(),
		First: dates[0],
		Last:  dates[len(dates)-1],
		Files: len(dates),
	}, true
}

// ValidDate reports whether s has the YYYY-MM-DD shape of a log file name.
func ValidDate(s string) bool {
	if len(s) != 10 {
		return false
	}
	for i := 0; i < len(s); i++ {
		switch i {
		case 4, 7:
			if s[i] != '-' {
				return false
			}
		default:
			if s[i] < '0' || s[i] > '9' {
				return false
			}
		}
	}
	return true
}

func dateFromFilename(name string) (string, bool) {
	date, ok := strings.CutSuffix(name, zstdExt)
	if !ok {
		date, ok = strings.CutSuffix(name, plainExt)
	}
	if !ok || !ValidDate(date) {
		return "", false
	}
	return date, true
}
