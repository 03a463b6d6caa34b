package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bryan-buckman/newsdex/internal/clean"
	"github.com/bryan-buckman/newsdex/internal/config"
	"github.com/bryan-buckman/newsdex/internal/engine"
	"github.com/bryan-buckman/newsdex/internal/feedxml"
	"github.com/bryan-buckman/newsdex/internal/model"
)

// --- Page Handlers ---

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	page, size, err := s.pageParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := s.index.List(r.Context(), category, page, size)
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	cats, err := s.index.Categories(r.Context())
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}

	data := map[string]any{
		"Title":      s.opts.Title,
		"Category":   category,
		"Categories": cats,
		"Page":       result,
		"Start":      (page-1)*size + 1,
		"Prev":       "",
		"Next":       "",
	}
	if page > 1 {
		data["Prev"] = pageLink(category, page-1)
	}
	if result.HasNext {
		data["Next"] = pageLink(category, page+1)
	}
	s.render(w, http.StatusOK, "list.html", data)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	d, ok, err := s.index.Detail(r.Context(), model.ID(chi.URLParam(r, "id")))
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	if !ok {
		s.render(w, http.StatusNotFound, "notfound.html", map[string]any{"Title": s.opts.Title})
		return
	}
	s.render(w, http.StatusOK, "detail.html", map[string]any{"Title": s.opts.Title, "Detail": d})
}

func (s *Server) handleRSS(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	_, size, err := s.pageParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := s.index.List(r.Context(), category, 1, size)
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}

	entries := make([]feedxml.Entry, 0, len(result.Items))
	for _, p := range result.Items {
		e := feedxml.Entry{Projection: p}
		d, ok, err := s.index.Detail(r.Context(), p.ID)
		if err != nil {
			http.Error(w, err.Error(), statusOf(err))
			return
		}
		if ok {
			e.Detail = &d
		}
		entries = append(entries, e)
	}

	title := s.opts.Title
	if category != "" {
		title += " - " + category
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	out, err := feedxml.Render(feedxml.Meta{
		Title:       title,
		Link:        fmt.Sprintf("%s://%s%s", scheme, r.Host, pageLink(category, 1)),
		Description: title,
		BuiltAt:     time.Now(),
	}, entries)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Write(out)
}

// --- API Handlers ---

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	page, size, err := s.pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.index.List(r.Context(), r.URL.Query().Get("category"), page, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	d, ok, err := s.index.Detail(r.Context(), model.ID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// saveRequest is the body of POST /api/news. Either publish_time in
// milliseconds or published as "2006-01-02 15:04:05" local time may be set.
type saveRequest struct {
	ID          string            `json:"id"`
	Category    string            `json:"category"`
	Title       string            `json:"title"`
	Author      string            `json:"author"`
	Thumbnail   string            `json:"pic_path"`
	URL         string            `json:"url"`
	Summary     string            `json:"summary"`
	Content     string            `json:"content"`
	Meta        map[string]string `json:"meta"`
	PublishTime int64             `json:"publish_time"`
	Published   string            `json:"published"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", engine.ErrInvalidArgument, err))
		return
	}
	content, err := clean.HTML(req.Content)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", engine.ErrInvalidArgument, err))
		return
	}
	rec := model.Record{
		ID:          model.ID(req.ID),
		Category:    req.Category,
		Title:       req.Title,
		Author:      req.Author,
		Thumbnail:   clean.ImageURL(req.Thumbnail),
		URL:         req.URL,
		Summary:     req.Summary,
		Content:     content,
		Meta:        req.Meta,
		PublishTime: req.PublishTime,
	}
	if rec.PublishTime == 0 && req.Published != "" {
		rec.PublishTime = model.ParsePublishTime(req.Published, time.Local, time.Now())
	}
	if err := s.index.Save(r.Context(), rec); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok", "id": req.ID})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.index.Delete(r.Context(), model.ID(id), r.URL.Query().Get("category")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "id": id})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.index.Categories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	maxAge := s.opts.MaxAge()
	if v := r.URL.Query().Get("max_age"); v != "" {
		d, err := config.ParseDuration(v)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: max_age: %v", engine.ErrInvalidArgument, err))
			return
		}
		maxAge = d
	}
	res, err := s.index.Sweep(r.Context(), maxAge)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	saved, err := s.opts.Refresh(ctx)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "saved": saved})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "saved": saved})
}
