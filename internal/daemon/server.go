package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jcdickinson/implindex/internal/cas"
	"github.com/jcdickinson/implindex/internal/config"
	"github.com/jcdickinson/implindex/internal/index"
	"github.com/jcdickinson/implindex/internal/render"
	"github.com/jcdickinson/implindex/internal/rpc"
	"github.com/jcdickinson/implindex/internal/shard"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/jcdickinson/implindex/internal/daemon")

type Server struct {
	cfg        *config.Config
	socketPath string
	httpServer *http.Server
	listener   net.Listener

	pages   *pageSet
	source  shard.Source
	loader  *shard.Loader
	metrics *metrics
	router  chi.Router

	mu         sync.Mutex
	expTimer   *time.Timer
	expiration time.Duration
}

func NewServer(cfg *config.Config, source shard.Source, socketPath string) *Server {
	expSec := cfg.Daemon.ExpirationSeconds
	if expSec <= 0 {
		expSec = 600
	}

	s := &Server{
		cfg:        cfg,
		socketPath: socketPath,
		pages:      newPageSet(cfg.Index),
		source:     source,
		expiration: time.Duration(expSec) * time.Second,
	}
	if source != nil {
		s.loader = shard.NewLoader(source, cfg.Source.Concurrency, nil)
	}
	s.metrics = newMetrics(s.pages.len)
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.instrument)

	r.Group(func(r chi.Router) {
		r.Use(s.withExpReset)
		r.Post("/register", s.handleRegister)
		r.Post("/initialize", s.handleInitialize)
		r.Post("/lookup", s.handleLookup)
		r.Post("/expand", s.handleExpand)
		r.Post("/load", s.handleLoad)
		r.Get("/status", s.handleStatus)
		r.Get("/watch", s.handleWatch)
		r.Post("/clear-cache", s.handleClearCache)
	})
	r.Post("/shutdown", s.handleShutdown)
	r.Method("GET", "/metrics", s.metrics.handler())
	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("setting socket permissions: %w", err)
	}
	s.listener = listener

	s.httpServer = &http.Server{Handler: s.router}

	s.mu.Lock()
	s.expTimer = time.AfterFunc(s.expiration, s.expire)
	s.mu.Unlock()

	log.Printf("daemon: listening on %s (expires after %s of inactivity)", s.socketPath, s.expiration)

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("daemon: shutdown error: %v", err)
			errs = append(errs, err)
		}
	}
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Printf("daemon: listener close error: %v", err)
			errs = append(errs, err)
		}
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		log.Printf("daemon: socket remove error: %v", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) expire() {
	log.Printf("daemon: expiring due to inactivity")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	os.Exit(0)
}

func (s *Server) resetExpiration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expTimer != nil {
		s.expTimer.Stop()
		s.expTimer.Reset(s.expiration)
	}
}

func (s *Server) withExpReset(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.resetExpiration()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req rpc.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Page == "" {
		writeError(w, http.StatusBadRequest, "missing page")
		return
	}

	_, span := tracer.Start(r.Context(), "daemon.register", trace.WithAttributes(
		attribute.String("page", req.Page),
		attribute.Int("bytes", len(req.Shard)),
	))
	defer span.End()

	ix, _ := s.pages.get(req.Page, true)
	err := ix.RegisterJSON(req.Shard)
	s.metrics.shardResult(err)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		writeIndexError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.pageStatus(req.Page, ix))
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req rpc.InitializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Page == "" {
		writeError(w, http.StatusBadRequest, "missing page")
		return
	}

	_, span := tracer.Start(r.Context(), "daemon.initialize", trace.WithAttributes(
		attribute.String("page", req.Page),
	))
	defer span.End()

	ix, _ := s.pages.get(req.Page, true)
	pending := ix.State.Pending()
	ix.Initialize()
	if pending > 0 {
		log.Printf("daemon: initialized %s, flushed %d pending shards", req.Page, pending)
	}
	writeJSON(w, http.StatusOK, s.pageStatus(req.Page, ix))
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	var req rpc.LookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, span := tracer.Start(r.Context(), "daemon.lookup", trace.WithAttributes(
		attribute.String("page", req.Page),
		attribute.String("name", req.Name),
	))
	defer span.End()

	ix, ok := s.pages.get(req.Page, false)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("page %s not found", req.Page))
		return
	}
	records, err := ix.Lookup(req.Name)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		writeIndexError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.LookupResponse{Records: records})
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	var req rpc.ExpandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, span := tracer.Start(r.Context(), "daemon.expand", trace.WithAttributes(
		attribute.String("page", req.Page),
		attribute.String("name", req.Name),
		attribute.String("format", req.Format),
	))
	defer span.End()

	ix, ok := s.pages.get(req.Page, false)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("page %s not found", req.Page))
		return
	}
	target, err := newPanelTarget(req.Page, req.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := expandPanel(ix, req.Name, target)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		writeIndexError(w, err)
		return
	}
	span.SetAttributes(attribute.Int("entries", len(resp.Entries)))
	writeJSON(w, http.StatusOK, resp)
}

func newPanelTarget(page, format string) (render.Target, error) {
	return render.NewTarget(format, "Implementors of "+path.Base(shard.PageKey(page)))
}

// expandPanel renders one unit, or every unit when name is empty, into both
// the entry list and target.
func expandPanel(ix *index.Index, name string, target render.Target) (*rpc.ExpandResponse, error) {
	var err error
	var list index.EntryList
	if name == "" {
		err = ix.ExpandAll(&list)
	} else {
		err = ix.Expand(name, &list)
	}
	if err != nil {
		return nil, err
	}
	target.Reset()
	for _, e := range list.Entries {
		target.Append(e)
	}
	return &rpc.ExpandResponse{Entries: list.Entries, Rendered: target.String()}, nil
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req rpc.LoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.loader == nil {
		writeError(w, http.StatusServiceUnavailable, "no shard source configured")
		return
	}
	if len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, "missing paths")
		return
	}

	ctx, span := tracer.Start(r.Context(), "daemon.load", trace.WithAttributes(
		attribute.Int("paths", len(req.Paths)),
	))
	defer span.End()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	connected := true
	send := func(line rpc.ProgressLine) {
		if !connected {
			return
		}
		if line.Message != "" {
			log.Printf("daemon: %s", line.Message)
		}
		if err := enc.Encode(line); err != nil {
			log.Printf("daemon: client disconnected: %v", err)
			connected = false
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	loader := s.loader
	if req.Refresh {
		loader = shard.NewLoader(s.source, s.cfg.Source.Concurrency, nil)
		loader.Refresh = true
	}

	send(rpc.ProgressLine{Type: "progress", Message: fmt.Sprintf("loading %d shards", len(req.Paths))})
	results, err := loader.Load(ctx, req.Paths, s.pages.registrar, func(res shard.Result) {
		s.metrics.shardResult(res.Err)
		result := rpc.ShardResult{Path: res.Path, Page: res.Page, Bytes: res.Bytes, Cached: res.Cached}
		if res.Err != nil {
			result.Error = res.Err.Error()
		}
		send(rpc.ProgressLine{Type: "result", Result: &result})
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return
	}

	if req.Initialize {
		seen := make(map[string]bool)
		for _, res := range results {
			if res.Err != nil || seen[res.Page] {
				continue
			}
			seen[res.Page] = true
			if ix, ok := s.pages.get(res.Page, false); ok {
				ix.Initialize()
				send(rpc.ProgressLine{Type: "progress", Message: fmt.Sprintf("initialized %s", res.Page)})
			}
		}
	}
}

func (s *Server) pageStatus(page string, ix *index.Index) rpc.PageStatus {
	return rpc.PageStatus{
		Page:      shard.PageKey(page),
		Lifecycle: ix.State.Lifecycle().String(),
		Pending:   ix.State.Pending(),
		Units:     len(ix.State.Units()),
		Records:   ix.State.RecordCount(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := []rpc.PageStatus{}
	for _, page := range s.pages.names() {
		if ix, ok := s.pages.get(page, false); ok {
			status = append(status, s.pageStatus(page, ix))
		}
	}
	writeJSON(w, http.StatusOK, rpc.StatusResponse{Pages: status})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := cas.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Printf("daemon: shard cache cleared")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
		os.Exit(0)
	}()
}

func outcome(err error) string {
	var verr *index.ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verr):
		return "invalid"
	default:
		return "error"
	}
}

// writeIndexError maps index errors onto status codes.
func writeIndexError(w http.ResponseWriter, err error) {
	var verr *index.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, index.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
