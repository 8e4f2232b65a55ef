package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Writer persists finished buffers as <slug>.md files and knows the public
// URL under which they are browsable.
type Writer struct {
	dir       string
	publicURL string
}

// NewWriter returns a Writer storing files in dir. publicURL is the URL
// prefix that serves the "output/<slug>.html" pages; a trailing slash is
// ignored.
func NewWriter(dir, publicURL string) *Writer {
	return &Writer{
		dir:       dir,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// Path returns the file path used for slug.
func (w *Writer) Path(slug string) string {
	return filepath.Join(w.dir, slug+".md")
}

// URL returns the browsable URL of the artifact for slug.
func (w *Writer) URL(slug string) string {
	return w.publicURL + "/output/" + slug + ".html"
}

// Write stores content verbatim under slug and returns the file path.
func (w *Writer) Write(slug, content string) (string, error) {
	path := w.Path(slug)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// Read returns the stored markdown for slug.
func (w *Writer) Read(slug string) ([]byte, error) {
	return os.ReadFile(w.Path(slug))
}
