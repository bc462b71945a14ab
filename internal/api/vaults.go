package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vaultscope/internal/model"
	"vaultscope/internal/storage"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	historyChartRows = 30
)

type listResponse struct {
	Data    []model.Vault `json:"data"`
	Total   int           `json:"total"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
	HasMore bool          `json:"hasMore"`
}

type vaultDetail struct {
	model.Vault
	LiveTVL   decimal.Decimal      `json:"liveTvl"`
	Positions []model.Position     `json:"positions"`
	History   []model.VaultHistory `json:"history"`
}

// HandleListVaults returns stored vault rows.
// GET /vaults?owner=&strategyType=&isActive=&sortBy=&sortOrder=&limit=&offset=
func (s *Server) HandleListVaults(w http.ResponseWriter, r *http.Request) {
	filter, err := parseVaultFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	vaults, total, err := s.store.ListVaults(r.Context(), filter)
	if err != nil {
		s.logger.Error("list vaults", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Data:    vaults,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
		HasMore: filter.Offset+len(vaults) < total,
	})
}

// HandleGetVault returns one vault with its recent history and a live
// read of its positions. The live read is best-effort: when the chain
// is unreachable the stored row is still served and positions are null.
func (s *Server) HandleGetVault(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx := r.Context()

	vault, err := s.store.GetVault(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "vault not found")
			return
		}
		s.logger.Error("get vault", zap.String("vault", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	history, err := s.store.VaultHistory(ctx, id, historyChartRows)
	if err != nil {
		s.logger.Error("vault history", zap.String("vault", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	detail := vaultDetail{Vault: vault, LiveTVL: vault.TVL, History: history}
	if positions, err := s.valuer.Positions(ctx, id); err != nil {
		s.logger.Warn("live valuation unavailable", zap.String("vault", id), zap.Error(err))
	} else {
		detail.Positions = positions
		live := decimal.Zero
		for _, p := range positions {
			live = live.Add(p.ValueUSD)
		}
		detail.LiveTVL = live
	}

	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("vault stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parseVaultFilter(r *http.Request) (storage.VaultFilter, error) {
	qs := r.URL.Query()
	filter := storage.VaultFilter{
		Owner:        qs.Get("owner"),
		StrategyType: qs.Get("strategyType"),
		Limit:        defaultLimit,
	}

	if v := qs.Get("isActive"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return storage.VaultFilter{}, errInvalidActive
		}
		filter.IsActive = &active
	}

	switch v := qs.Get("sortBy"); v {
	case "", "tvl", "apy", "createdAt":
		filter.SortBy = v
	default:
		return storage.VaultFilter{}, errInvalidSortBy
	}

	switch v := qs.Get("sortOrder"); v {
	case "", "asc", "desc":
		filter.SortOrder = v
	default:
		return storage.VaultFilter{}, errInvalidSortOrder
	}

	if v := qs.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return storage.VaultFilter{}, errInvalidLimit
		}
		if n > maxLimit {
			n = maxLimit
		}
		filter.Limit = n
	}

	if v := qs.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return storage.VaultFilter{}, errInvalidOffset
		}
		filter.Offset = n
	}

	return filter, nil
}

var (
	errInvalidActive    = &parseError{msg: "invalid isActive, must be a boolean"}
	errInvalidSortBy    = &parseError{msg: "invalid sortBy, must be 'tvl', 'apy' or 'createdAt'"}
	errInvalidSortOrder = &parseError{msg: "invalid sortOrder, must be 'asc' or 'desc'"}
	errInvalidLimit     = &parseError{msg: "invalid limit"}
	errInvalidOffset    = &parseError{msg: "invalid offset"}
)

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }
