// Package server provides the HTTP surface: a JSON API over the index, RSS
// output per category and plain HTML pages that read well in text browsers.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bryan-buckman/newsdex/internal/engine"
	"github.com/bryan-buckman/newsdex/internal/model"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Index is the part of the engine the server uses.
type Index interface {
	Save(ctx context.Context, rec model.Record) error
	List(ctx context.Context, category string, page, size int) (model.Page, error)
	Detail(ctx context.Context, id model.ID) (model.Detail, bool, error)
	Categories(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id model.ID, category string) error
	Sweep(ctx context.Context, maxAge time.Duration) (model.SweepResult, error)
}

// Options tune the server. Zero values take defaults.
type Options struct {
	Title       string
	PageSize    int
	MaxPageSize int

	// MaxAge is the horizon for sweeps requested without max_age.
	MaxAge func() time.Duration

	// Refresh runs one ingestion pass and reports how many records it saved.
	// POST /api/refresh is not routed when nil.
	Refresh func(ctx context.Context) (int, error)

	// Deadline bounds each request.
	Deadline time.Duration
}

// Server is the HTTP server.
type Server struct {
	index     Index
	opts      Options
	router    chi.Router
	templates *template.Template
}

// New creates a server over idx.
func New(idx Index, opts Options) (*Server, error) {
	if opts.Title == "" {
		opts.Title = "newsdex"
	}
	if opts.PageSize < 1 {
		opts.PageSize = engine.DefaultPageSize
	}
	if opts.MaxPageSize < opts.PageSize {
		opts.MaxPageSize = opts.PageSize
	}
	if opts.MaxAge == nil {
		opts.MaxAge = func() time.Duration { return engine.DefaultMaxAge }
	}

	tmpl, err := template.New("").Funcs(template.FuncMap{
		"published": published,
		"rich":      func(s string) template.HTML { return template.HTML(s) },
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{index: idx, opts: opts, templates: tmpl}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if s.opts.Deadline > 0 {
		r.Use(middleware.Timeout(s.opts.Deadline))
	}

	// Pages.
	r.Get("/", s.handleHome)
	r.Get("/view/{id}", s.handleView)
	r.Get("/rss", s.handleRSS)

	// API.
	r.Route("/api", func(r chi.Router) {
		r.Get("/news", s.handleList)
		r.Post("/news", s.handleSave)
		r.Get("/news/{id}", s.handleDetail)
		r.Delete("/news/{id}", s.handleDelete)
		r.Get("/categories", s.handleCategories)
		r.Post("/sweep", s.handleSweep)
		if s.opts.Refresh != nil {
			r.Post("/refresh", s.handleRefresh)
		}
	})

	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		slog.Info("server: listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("server: stopped")
	return nil
}

// pageParams reads page and size from the query. Missing values take the
// defaults; size is capped at MaxPageSize. Malformed values are passed on so
// the engine rejects them.
func (s *Server) pageParams(r *http.Request) (page, size int, err error) {
	page, size = 1, s.opts.PageSize
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("%w: page %q", engine.ErrInvalidArgument, v)
		}
	}
	if v := q.Get("size"); v != "" {
		if size, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("%w: size %q", engine.ErrInvalidArgument, v)
		}
	}
	if size > s.opts.MaxPageSize {
		size = s.opts.MaxPageSize
	}
	return page, size, nil
}

func published(ms int64) string {
	return time.UnixMilli(ms).Format(model.PublishTimeLayout)
}

// pageLink builds a home-page URL for category and page.
func pageLink(category string, page int) string {
	q := url.Values{}
	if category != "" {
		q.Set("category", category)
	}
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}
	if len(q) == 0 {
		return "/"
	}
	return "/?" + q.Encode()
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		slog.Error("server: template error", "template", name, "err", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("server: encode response", "err", err)
	}
}

// statusOf maps engine error kinds to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= 500 {
		slog.Error("server: request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
