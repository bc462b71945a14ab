// Package api exposes the tracker's read endpoints and sync triggers
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vaultscope/internal/model"
	"vaultscope/internal/recompute"
	"vaultscope/internal/storage"
)

// Valuer reads live position values off chain.
type Valuer interface {
	Positions(ctx context.Context, vaultID string) ([]model.Position, error)
	TotalValue(ctx context.Context, vaultID string) (decimal.Decimal, error)
}

// SyncQueue is the slice of the recompute queue the API drives.
type SyncQueue interface {
	Request(vaultID string) bool
	SyncAllActive(ctx context.Context) (int, error)
	FailedJobs() []recompute.FailedJob
}

// Server wires the storage, valuation, and recompute layers to HTTP
// handlers.
type Server struct {
	store  storage.Store
	valuer Valuer
	queue  SyncQueue
	logger *zap.Logger
}

func NewServer(store storage.Store, valuer Valuer, queue SyncQueue, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{store: store, valuer: valuer, queue: queue, logger: logger}
}

// NewRouter returns a router with all the routes defined by this package.
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.HandleHealth).Methods("GET")

	r.HandleFunc("/vaults", s.HandleListVaults).Methods("GET")
	r.HandleFunc("/vaults/stats", s.HandleStats).Methods("GET")
	r.HandleFunc("/vaults/sync", s.HandleSyncAll).Methods("POST")
	r.HandleFunc("/vaults/{id}", s.HandleGetVault).Methods("GET")
	r.HandleFunc("/vaults/{id}/sync", s.HandleSyncVault).Methods("POST")

	r.HandleFunc("/jobs/failed", s.HandleFailedJobs).Methods("GET")

	return r
}

// NewHTTPServer returns an http.Server bound to addr with sane timeouts.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Stats(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
