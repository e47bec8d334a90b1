// Package viewer serves journaled runs over HTTP and streams engine records
// to websocket clients. It only reads; nothing here can act on a run.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/journal"
	"github.com/rustyeddy/tradecore/portfolio"
)

// Store is the read side of a journal.
type Store interface {
	ListRuns(ctx context.Context, limit int) ([]journal.Run, error)
	GetRun(ctx context.Context, runID string) (journal.Run, error)
	ListOrders(ctx context.Context, runID string) ([]broker.Order, error)
	ListFills(ctx context.Context, runID string) ([]broker.Fill, error)
	ListSnapshots(ctx context.Context, runID string) ([]portfolio.Snapshot, error)
}

var _ Store = (*journal.SQLite)(nil)

type Options struct {
	Addr           string
	AllowedOrigins []string
}

type Server struct {
	store  Store
	hub    *Hub
	router *mux.Router
	opts   Options
	log    *zap.Logger
}

// NewServer builds the routes. store and hub may each be nil; their
// endpoints then answer 503.
func NewServer(store Store, hub *Hub, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	s := &Server{store: store, hub: hub, router: mux.NewRouter(), opts: opts, log: log.Named("viewer")}
	if hub != nil {
		hub.AllowOrigins(opts.AllowedOrigins...)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", s.handleRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/orders", s.handleOrders).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/fills", s.handleFills).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/equity", s.handleEquity).Methods(http.MethodGet)
	api.HandleFunc("/live", s.handleLive).Methods(http.MethodGet)

	s.router.HandleFunc("/ws", s.handleWS)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler is the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// ListenAndServe runs the server until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("viewer listening", zap.String("addr", s.opts.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func respondError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

func (s *Server) storeErr(w http.ResponseWriter, err error) {
	if errors.Is(err, journal.ErrRunNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.log.Error("journal query failed", zap.Error(err))
	respondError(w, http.StatusInternalServerError, "journal query failed")
}

func (s *Server) needStore(w http.ResponseWriter) bool {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "no journal configured")
		return false
	}
	return true
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !s.needStore(w) {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.storeErr(w, err)
		return
	}
	if runs == nil {
		runs = []journal.Run{}
	}
	respondJSON(w, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !s.needStore(w) {
		return
	}
	run, err := s.store.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeErr(w, err)
		return
	}
	respondJSON(w, run)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if !s.needStore(w) {
		return
	}
	orders, err := s.store.ListOrders(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeErr(w, err)
		return
	}
	if orders == nil {
		orders = []broker.Order{}
	}
	respondJSON(w, orders)
}

func (s *Server) handleFills(w http.ResponseWriter, r *http.Request) {
	if !s.needStore(w) {
		return
	}
	fills, err := s.store.ListFills(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeErr(w, err)
		return
	}
	if fills == nil {
		fills = []broker.Fill{}
	}
	respondJSON(w, fills)
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	if !s.needStore(w) {
		return
	}
	snaps, err := s.store.ListSnapshots(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeErr(w, err)
		return
	}
	if snaps == nil {
		snaps = []portfolio.Snapshot{}
	}
	respondJSON(w, snaps)
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "no live run attached")
		return
	}
	respondJSON(w, s.hub.Live())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "no live run attached")
		return
	}
	s.hub.ServeWS(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}
