// Package server exposes search sessions over SSE and websockets, serves
// saved artifacts and lists the log channels.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/ircarchive/ircview/pkg/controller"
	"github.com/ircarchive/ircview/pkg/gate"
	"github.com/ircarchive/ircview/pkg/logs"
	"github.com/ircarchive/ircview/pkg/metrics"
	"github.com/ircarchive/ircview/pkg/output"
	"github.com/ircarchive/ircview/pkg/store"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// ErrDisabled is returned for ask requests when no model is configured.
var ErrDisabled = errors.New("ai search is not configured")

// Server serves the HTTP interface.
type Server struct {
	title     string
	basePath  string
	tree      *logs.Tree
	ctrl      *controller.Controller
	gate      *gate.Gate
	writer    *output.Writer
	artifacts store.ArtifactStore
	metrics   *metrics.Metrics
	srv       *http.Server

	mdOnce sync.Once
	md     goldmark.Markdown
}

// Option configures a Server.
type Option func(*Server)

// WithAsk enables the ask endpoints.
func WithAsk(ctrl *controller.Controller, g *gate.Gate, w *output.Writer) Option {
	return func(s *Server) {
		s.ctrl = ctrl
		s.gate = g
		s.writer = w
	}
}

// WithArtifactStore serves the artifact catalog.
func WithArtifactStore(a store.ArtifactStore) Option {
	return func(s *Server) { s.artifacts = a }
}

// WithMetrics serves m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithBasePath mounts every route except /metrics under p, which must be
// "" or start with a slash and not end with one.
func WithBasePath(p string) Option {
	return func(s *Server) { s.basePath = p }
}

// WithTitle sets the site title used on rendered pages.
func WithTitle(t string) Option {
	return func(s *Server) { s.title = t }
}

// New creates a new Server.
func New(tree *logs.Tree, opts ...Option) *Server {
	s := &Server{
		title: "IRC Logs",
		tree:  tree,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	p := s.basePath

	// Ask
	mux.HandleFunc("GET "+p+"/ask", s.handleAsk)
	mux.HandleFunc("GET "+p+"/ask/ws", s.handleAskWebSocket)
	mux.HandleFunc("GET "+p+"/ask/output/{file}", s.handleArtifact)

	// API
	mux.HandleFunc("GET "+p+"/api/artifacts", s.handleListArtifacts)
	mux.HandleFunc("GET "+p+"/api/channels", s.handleListChannels)

	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	slog.Info("Starting web server", "addr", addr, "basePath", s.basePath, "ask", s.ctrl != nil)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// startSession validates a request and admits its session. The returned
// status is meaningful only when err is non-nil.
func (s *Server) startSession(ctx context.Context, query, channel string) (*gate.Queue, int, error) {
	if s.ctrl == nil || s.gate == nil {
		return nil, http.StatusNotFound, ErrDisabled
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, http.StatusBadRequest, errors.New("query is required")
	}
	if channel != "" {
		if _, err := s.tree.Lookup(channel); err != nil {
			return nil, http.StatusNotFound, err
		}
	}

	q, err := s.gate.Admit(ctx, func(ctx context.Context, q *gate.Queue) {
		s.ctrl.Run(ctx, controller.NewSession(query, channel), q)
	})
	if err != nil {
		if errors.Is(err, gate.ErrBusy) {
			return nil, http.StatusServiceUnavailable, err
		}
		return nil, http.StatusInternalServerError, err
	}
	return q, 0, nil
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Writing JSON response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		slog.Error("API Error", "status", status, "error", err)
	} else {
		slog.Debug("API Error", "status", status, "error", err)
	}
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) markdown() goldmark.Markdown {
	s.mdOnce.Do(func() {
		s.md = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return s.md
}
