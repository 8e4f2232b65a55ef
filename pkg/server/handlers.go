package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ircarchive/ircview/pkg/domain"
	"github.com/ircarchive/ircview/pkg/logs"
	"github.com/ircarchive/ircview/pkg/output"
	"github.com/ircarchive/ircview/pkg/store"
)

// --- Ask ---

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	q, status, err := s.startSession(r.Context(), r.URL.Query().Get("q"), r.URL.Query().Get("channel"))
	if err != nil {
		s.errorResponse(w, status, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		q.Detach()
		s.errorResponse(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			q.Detach()
			return
		case ev, ok := <-q.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Error("Encoding event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				q.Detach()
				return
			}
			flusher.Flush()
		}
	}
}

// --- Artifacts ---

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}} - {{.Site}}</title>
</head>
<body>
<main>
{{.Body}}
</main>
</body>
</html>
`))

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if s.writer == nil {
		s.errorResponse(w, http.StatusNotFound, ErrDisabled)
		return
	}
	file := r.PathValue("file")
	slug, asHTML := strings.CutSuffix(file, ".html")
	if !asHTML {
		var ok bool
		if slug, ok = strings.CutSuffix(file, ".md"); !ok {
			http.NotFound(w, r)
			return
		}
	}
	if slug == "" || output.Slugify(slug) != slug {
		http.NotFound(w, r)
		return
	}

	src, err := s.writer.Read(slug)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}

	if !asHTML {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write(src)
		return
	}

	var body bytes.Buffer
	if err := s.markdown().Convert(src, &body); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Errorf("rendering %s: %w", slug, err))
		return
	}
	title := slug
	if s.artifacts != nil {
		if a, err := s.artifacts.GetArtifact(r.Context(), slug); err == nil {
			title = a.Title
		} else if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("Looking up artifact", "slug", slug, "error", err)
		}
	}

	var page bytes.Buffer
	err = pageTemplate.Execute(&page, map[string]any{
		"Title": title,
		"Site":  s.title,
		"Body":  template.HTML(body.String()),
	})
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page.Bytes())
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	if s.artifacts == nil {
		s.errorResponse(w, http.StatusNotFound, ErrDisabled)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	artifacts, err := s.artifacts.ListArtifacts(r.Context(), limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if artifacts == nil {
		artifacts = []domain.Artifact{}
	}
	s.jsonResponse(w, http.StatusOK, artifacts)
}

// --- Channels ---

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	stats := []logs.Stat{}
	for _, ch := range s.tree.Channels() {
		if st, ok := ch.Stat(); ok {
			stats = append(stats, st)
		}
	}
	s.jsonResponse(w, http.StatusOK, stats)
}
