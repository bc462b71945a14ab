package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"vaultscope/internal/recompute"
	"vaultscope/internal/storage"
)

// HandleSyncVault enqueues a recompute for one vault. A duplicate
// request while one is already pending is reported, not re-queued.
func (s *Server) HandleSyncVault(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := s.store.GetVault(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "vault not found")
			return
		}
		s.logger.Error("get vault", zap.String("vault", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	queued := s.queue.Request(id)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"vaultId": id,
		"queued":  queued,
	})
}

// HandleSyncAll enqueues a recompute for every active vault.
func (s *Server) HandleSyncAll(w http.ResponseWriter, r *http.Request) {
	queued, err := s.queue.SyncAllActive(r.Context())
	if err != nil {
		s.logger.Error("sync all", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
}

func (s *Server) HandleFailedJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.queue.FailedJobs()
	if jobs == nil {
		jobs = []recompute.FailedJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": jobs})
}
