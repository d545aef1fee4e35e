package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/yourorg/cavelog/internal/config"
	"github.com/yourorg/cavelog/internal/feed"
	"github.com/yourorg/cavelog/internal/filter"
	"github.com/yourorg/cavelog/internal/har"
	"github.com/yourorg/cavelog/internal/store"
	"github.com/yourorg/cavelog/pkg/types"
)

// Version is reported as the HAR creator version.
var Version = "dev"

// Server exposes the stored exchanges and the live feed over HTTP.
type Server struct {
	cfg    *config.Config
	store  store.Store
	feed   *feed.Feed
	router *chi.Mux
}

// New constructs a new Server with routes registered.
func New(cfg *config.Config, st store.Store, fd *feed.Feed) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if st == nil {
		return nil, errors.New("store is nil")
	}
	if fd == nil {
		return nil, errors.New("feed is nil")
	}

	srv := &Server{
		cfg:    cfg,
		store:  st,
		feed:   fd,
		router: chi.NewRouter(),
	}
	srv.registerRoutes()
	return srv, nil
}

// Handler returns the http handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	return serve(ctx, addr, s.router)
}

func serve(ctx context.Context, addr string, h http.Handler) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- hs.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/exchanges", s.handleList)
		r.Delete("/exchanges", s.handleClear)
		r.Get("/exchanges/{id}", s.handleGet)
		r.Delete("/exchanges/{id}", s.handleDelete)
		r.Get("/export.har", s.handleExport)
		r.Get("/feed", s.handleFeed)
	})
}

// exchangeView adds the derived fields to the stored record.
type exchangeView struct {
	types.Exchange
	Pending  bool   `json:"pending"`
	Duration string `json:"duration,omitempty"`
}

func view(e types.Exchange) exchangeView {
	return exchangeView{Exchange: e, Pending: e.Pending(), Duration: e.Duration()}
}

func views(list []types.Exchange) []exchangeView {
	out := make([]exchangeView, 0, len(list))
	for _, e := range list {
		out = append(out, view(e))
	}
	return out
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListAll(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	list = filter.Apply(list, filter.ParseCriteria(r.URL.Query()))
	writeJSON(w, http.StatusOK, views(list))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := exchangeID(w, r)
	if !ok {
		return
	}
	e, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "exchange not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, view(*e))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := exchangeID(w, r)
	if !ok {
		return
	}
	err := s.store.Delete(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "exchange not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListAll(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	list = filter.Apply(list, filter.ParseCriteria(r.URL.Query()))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="cavelog.har"`)
	if err := har.Write(w, list, Version); err != nil {
		slog.Warn("har export failed", "error", err)
	}
}

// handleFeed streams every feed snapshot to a websocket client as a JSON array.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.cfg.Server.AllowedOrigins),
	})
	if err != nil {
		slog.Debug("feed accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	sub := s.feed.Subscribe()
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case list, ok := <-sub.C():
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			data, err := json.Marshal(views(list))
			if err != nil {
				_ = conn.Close(websocket.StatusInternalError, "encode failed")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// originPatterns converts configured CORS origins to host patterns for the websocket handshake.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := urlHost(o); err == nil && u != "" {
			out = append(out, u)
		} else {
			out = append(out, o)
		}
	}
	return out
}

func exchangeID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid exchange id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
