package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultscope/internal/model"
	"vaultscope/internal/recompute"
	"vaultscope/internal/storage"
	"vaultscope/internal/storage/memory"
)

type fakeValuer struct {
	positions map[string][]model.Position
	err       error
}

func (f *fakeValuer) Positions(_ context.Context, vaultID string) ([]model.Position, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.positions[vaultID], nil
}

func (f *fakeValuer) TotalValue(ctx context.Context, vaultID string) (decimal.Decimal, error) {
	positions, err := f.Positions(ctx, vaultID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.ValueUSD)
	}
	return total, nil
}

type fakeQueue struct {
	requests []string
	accepted bool
	syncN    int
	syncErr  error
	failed   []recompute.FailedJob
}

func (f *fakeQueue) Request(vaultID string) bool {
	f.requests = append(f.requests, vaultID)
	return f.accepted
}

func (f *fakeQueue) SyncAllActive(context.Context) (int, error) { return f.syncN, f.syncErr }

func (f *fakeQueue) FailedJobs() []recompute.FailedJob { return f.failed }

func seedVault(t *testing.T, store storage.Store, id, owner string, tvl int64) {
	t.Helper()
	ctx := context.Background()
	_, err := store.UpsertVault(ctx, storage.VaultUpsert{
		ID: id, Owner: owner, Name: "vault " + id, StrategyType: "clmm",
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, store.SetVaultTVL(ctx, id, decimal.NewFromInt(tvl), time.Now().UTC()))
}

func newTestServer(store storage.Store, valuer Valuer, queue SyncQueue) *httptest.Server {
	return httptest.NewServer(NewServer(store, valuer, queue, nil).NewRouter())
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestListVaults(t *testing.T) {
	store := memory.NewStore()
	seedVault(t, store, "0xv1", "0xa", 10)
	seedVault(t, store, "0xv2", "0xb", 20)
	srv := newTestServer(store, &fakeValuer{}, &fakeQueue{})
	defer srv.Close()

	var body listResponse
	status := getJSON(t, srv.URL+"/vaults?sortBy=tvl&sortOrder=desc", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, body.Total)
	require.Len(t, body.Data, 2)
	assert.Equal(t, "0xv2", body.Data[0].ID)

	status = getJSON(t, srv.URL+"/vaults?owner=0xa", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, body.Total)

	status = getJSON(t, srv.URL+"/vaults?limit=1&offset=1&sortBy=tvl&sortOrder=asc", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, body.Total, "total counts past the page")
	require.Len(t, body.Data, 1)
	assert.Equal(t, "0xv2", body.Data[0].ID)
	assert.False(t, body.HasMore)
}

func TestListVaultsRejectsBadParams(t *testing.T) {
	srv := newTestServer(memory.NewStore(), &fakeValuer{}, &fakeQueue{})
	defer srv.Close()

	for _, qs := range []string{"isActive=sometimes", "sortBy=owner", "sortOrder=sideways", "limit=0", "offset=-1"} {
		var body map[string]string
		status := getJSON(t, srv.URL+"/vaults?"+qs, &body)
		assert.Equal(t, http.StatusBadRequest, status, qs)
		assert.NotEmpty(t, body["error"], qs)
	}
}

func TestGetVaultDetail(t *testing.T) {
	store := memory.NewStore()
	seedVault(t, store, "0xv1", "0xa", 10)
	require.NoError(t, store.AppendHistory(context.Background(), model.VaultHistory{
		VaultID: "0xv1", TVL: decimal.NewFromInt(10), Timestamp: time.Now().UTC(),
	}))
	valuer := &fakeValuer{positions: map[string][]model.Position{
		"0xv1": {
			{ObjectID: "0xp1", Protocol: "Native Coin", ValueUSD: decimal.NewFromInt(6)},
			{ObjectID: "0xp2", Protocol: "Cetus", ValueUSD: decimal.NewFromInt(5)},
		},
	}}
	srv := newTestServer(store, valuer, &fakeQueue{})
	defer srv.Close()

	var body vaultDetail
	status := getJSON(t, srv.URL+"/vaults/0xv1", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "0xv1", body.ID)
	assert.True(t, body.TVL.Equal(decimal.NewFromInt(10)), "stored tvl")
	assert.True(t, body.LiveTVL.Equal(decimal.NewFromInt(11)), "live tvl sums positions")
	assert.Len(t, body.Positions, 2)
	assert.Len(t, body.History, 1)
}

func TestGetVaultDetailDegradesWithoutChain(t *testing.T) {
	store := memory.NewStore()
	seedVault(t, store, "0xv1", "0xa", 10)
	srv := newTestServer(store, &fakeValuer{err: errors.New("rpc down")}, &fakeQueue{})
	defer srv.Close()

	var body vaultDetail
	status := getJSON(t, srv.URL+"/vaults/0xv1", &body)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, body.LiveTVL.Equal(decimal.NewFromInt(10)), "falls back to stored tvl")
	assert.Nil(t, body.Positions)
}

func TestGetVaultNotFound(t *testing.T) {
	srv := newTestServer(memory.NewStore(), &fakeValuer{}, &fakeQueue{})
	defer srv.Close()

	var body map[string]string
	status := getJSON(t, srv.URL+"/vaults/0xmissing", &body)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStats(t *testing.T) {
	store := memory.NewStore()
	seedVault(t, store, "0xv1", "0xa", 10)
	seedVault(t, store, "0xv2", "0xb", 20)
	require.NoError(t, store.DeactivateVault(context.Background(), "0xv2"))
	srv := newTestServer(store, &fakeValuer{}, &fakeQueue{})
	defer srv.Close()

	var stats model.VaultStats
	status := getJSON(t, srv.URL+"/vaults/stats", &stats)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, stats.TotalVaults)
	assert.Equal(t, 1, stats.ActiveVaults)
	assert.True(t, stats.TotalTVL.Equal(decimal.NewFromInt(10)))
}

func TestSyncVault(t *testing.T) {
	store := memory.NewStore()
	seedVault(t, store, "0xv1", "0xa", 10)
	queue := &fakeQueue{accepted: true}
	srv := newTestServer(store, &fakeValuer{}, queue)
	defer srv.Close()

	var body map[string]any
	status := postJSON(t, srv.URL+"/vaults/0xv1/sync", &body)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, true, body["queued"])
	assert.Equal(t, []string{"0xv1"}, queue.requests)

	status = postJSON(t, srv.URL+"/vaults/0xmissing/sync", &body)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Len(t, queue.requests, 1, "missing vault is never queued")
}

func TestSyncAll(t *testing.T) {
	queue := &fakeQueue{syncN: 3}
	srv := newTestServer(memory.NewStore(), &fakeValuer{}, queue)
	defer srv.Close()

	var body map[string]int
	status := postJSON(t, srv.URL+"/vaults/sync", &body)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, 3, body["queued"])
}

func TestFailedJobs(t *testing.T) {
	queue := &fakeQueue{failed: []recompute.FailedJob{{
		VaultID: "0xv1", Attempts: 3, LastError: "rpc down", FailedAt: time.Now().UTC(),
	}}}
	srv := newTestServer(memory.NewStore(), &fakeValuer{}, queue)
	defer srv.Close()

	var body struct {
		Data []recompute.FailedJob `json:"data"`
	}
	status := getJSON(t, srv.URL+"/jobs/failed", &body)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body.Data, 1)
	assert.Equal(t, "0xv1", body.Data[0].VaultID)

	// Empty set is an array, not null.
	empty := newTestServer(memory.NewStore(), &fakeValuer{}, &fakeQueue{})
	defer empty.Close()
	resp, err := http.Get(empty.URL + "/jobs/failed")
	require.NoError(t, err)
	defer resp.Body.Close()
	var raw map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.JSONEq(t, "[]", string(raw["data"]))
}

func TestHealth(t *testing.T) {
	srv := newTestServer(memory.NewStore(), &fakeValuer{}, &fakeQueue{})
	defer srv.Close()

	var body map[string]string
	status := getJSON(t, srv.URL+"/health", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}
