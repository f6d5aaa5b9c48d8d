// Package server exposes the context database over HTTP. The routes mirror
// the CLI verbs one to one so a deployment can swap between local and
// remote use without changing semantics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openviking/openviking/pkg/errdefs"
	"github.com/openviking/openviking/pkg/retrieval"
	"github.com/openviking/openviking/pkg/service"
	"github.com/openviking/openviking/pkg/uri"
)

// maxUploadBytes bounds one ingested document.
const maxUploadBytes = 64 << 20

// Server serves the context database API.
type Server struct {
	svc    *service.Service
	logger *slog.Logger
	router chi.Router
}

func New(svc *service.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, logger: logger}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Get("/health", s.handleHealth)
	r.Get("/queue", s.handleQueueStats)

	r.Post("/resources", s.handleAddResource)
	r.Post("/skills", s.handleAddSkill)

	r.Post("/find", s.handleFind)
	r.Post("/search", s.handleSearch)

	r.Get("/fs/ls", s.handleLs)
	r.Get("/fs/tree", s.handleTree)
	r.Get("/fs/read", s.handleRead)
	r.Get("/fs/abstract", s.handleAbstract)
	r.Get("/fs/overview", s.handleOverview)
	r.Delete("/fs", s.handleRm)
	r.Post("/fs/mv", s.handleMv)
	r.Post("/fs/link", s.handleLink)
	r.Post("/fs/unlink", s.handleUnlink)

	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.QueueStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type addResourceRequest struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

func (s *Server) handleAddResource(w http.ResponseWriter, r *http.Request) {
	var req addResourceRequest
	if !s.decode(w, r, &req) {
		return
	}
	target, err := s.svc.AddResource(r.Context(), req.Filename, req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"uri": target.String()})
}

type addSkillRequest struct {
	Name  string            `json:"name"`
	Files map[string][]byte `json:"files"`
}

func (s *Server) handleAddSkill(w http.ResponseWriter, r *http.Request) {
	var req addSkillRequest
	if !s.decode(w, r, &req) {
		return
	}
	target, err := s.svc.AddSkill(r.Context(), req.Name, req.Files)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"uri": target.String()})
}

type findRequest struct {
	Query string `json:"query"`
	Scope string `json:"scope,omitempty"`
	TopK  int    `json:"top_k"`
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	var req findRequest
	if !s.decode(w, r, &req) {
		return
	}
	var scope *uri.URI
	if req.Scope != "" {
		u, err := uri.Parse(req.Scope)
		if err != nil {
			s.writeError(w, err)
			return
		}
		scope = &u
	}
	matches, err := s.svc.Find(r.Context(), req.Query, scope, req.TopK)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

type searchRequest struct {
	Message        string   `json:"message"`
	SessionSummary string   `json:"session_summary,omitempty"`
	History        []string `json:"history,omitempty"`
	TopK           int      `json:"top_k"`
	Mode           string   `json:"mode,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	mode := retrieval.ModeFast
	if req.Mode == string(retrieval.ModeThinking) {
		mode = retrieval.ModeThinking
	}
	matches, err := s.svc.Search(r.Context(), req.Message, req.SessionSummary, req.History, req.TopK, mode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleLs(w http.ResponseWriter, r *http.Request) {
	u, ok := s.uriParam(w, r)
	if !ok {
		return
	}
	entries, err := s.svc.FS().Ls(r.Context(), u, r.URL.Query().Get("abstracts") == "true")
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	u, ok := s.uriParam(w, r)
	if !ok {
		return
	}
	depth := 0
	fmt.Sscanf(r.URL.Query().Get("depth"), "%d", &depth)
	tree, err := s.svc.FS().Tree(r.Context(), u, depth, r.URL.Query().Get("abstracts") == "true")
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	u, ok := s.uriParam(w, r)
	if !ok {
		return
	}
	data, err := s.svc.FS().Read(r.Context(), u)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleAbstract(w http.ResponseWriter, r *http.Request) {
	s.handleReserved(w, r, s.svc.FS().Abstract)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	s.handleReserved(w, r, s.svc.FS().Overview)
}

func (s *Server) handleReserved(w http.ResponseWriter, r *http.Request, read func(context.Context, uri.URI) (string, error)) {
	u, ok := s.uriParam(w, r)
	if !ok {
		return
	}
	text, err := read(r.Context(), u)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"uri": u.String(), "text": text})
}

func (s *Server) handleRm(w http.ResponseWriter, r *http.Request) {
	u, ok := s.uriParam(w, r)
	if !ok {
		return
	}
	err := s.svc.FS().Rm(r.Context(), u, r.URL.Query().Get("recursive") == "true")
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type mvRequest struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

func (s *Server) handleMv(w http.ResponseWriter, r *http.Request) {
	var req mvRequest
	if !s.decode(w, r, &req) {
		return
	}
	src, err := uri.Parse(req.Src)
	if err != nil {
		s.writeError(w, err)
		return
	}
	dst, err := uri.Parse(req.Dst)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.FS().Mv(r.Context(), src, dst); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"uri": dst.String()})
}

type linkRequest struct {
	URI     string   `json:"uri"`
	Targets []string `json:"targets"`
	Reason  string   `json:"reason,omitempty"`
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	s.handleRelationEdit(w, r, func(ctx context.Context, from uri.URI, targets []uri.URI, reason string) error {
		return s.svc.FS().Link(ctx, from, targets, reason)
	})
}

func (s *Server) handleUnlink(w http.ResponseWriter, r *http.Request) {
	s.handleRelationEdit(w, r, func(ctx context.Context, from uri.URI, targets []uri.URI, _ string) error {
		return s.svc.FS().Unlink(ctx, from, targets)
	})
}

func (s *Server) handleRelationEdit(w http.ResponseWriter, r *http.Request, apply func(context.Context, uri.URI, []uri.URI, string) error) {
	var req linkRequest
	if !s.decode(w, r, &req) {
		return
	}
	from, err := uri.Parse(req.URI)
	if err != nil {
		s.writeError(w, err)
		return
	}
	targets := make([]uri.URI, 0, len(req.Targets))
	for _, t := range req.Targets {
		u, err := uri.Parse(t)
		if err != nil {
			s.writeError(w, err)
			return
		}
		targets = append(targets, u)
	}
	if err := apply(r.Context(), from, targets, req.Reason); err != nil {
		s.writeError(w, err)
		return
	}
	relations, err := s.svc.FS().Relations(r.Context(), from)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, relations)
}

func (s *Server) uriParam(w http.ResponseWriter, r *http.Request) (uri.URI, bool) {
	raw := r.URL.Query().Get("uri")
	u, err := uri.Parse(raw)
	if err != nil {
		s.writeError(w, err)
		return uri.URI{}, false
	}
	return u, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxUploadBytes)
	defer io.Copy(io.Discard, body)
	if err := json.NewDecoder(body).Decode(into); err != nil {
		s.writeError(w, errdefs.InvalidInput("", fmt.Errorf("bad request body: %w", err)))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errdefs.KindOf(err) {
	case errdefs.KindInvalidInput:
		status = http.StatusBadRequest
	case errdefs.KindNotFound:
		status = http.StatusNotFound
	case errdefs.KindConflict:
		status = http.StatusConflict
	case errdefs.KindTransientBackend:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(errdefs.KindOf(err)),
	})
}
