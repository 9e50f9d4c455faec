package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/plasmavault/internal/operator"
	"github.com/elys-network/plasmavault/internal/state"
	"github.com/elys-network/plasmavault/internal/types"
)

var vaultAddr = common.HexToAddress("0x7a")

type fakeReader struct {
	snapshot types.VaultSnapshot
	requests map[string]types.WithdrawalRequest
	last     *operator.CycleReport
}

func (f *fakeReader) Vault() common.Address         { return vaultAddr }
func (f *fakeReader) Snapshot() types.VaultSnapshot { return f.snapshot }
func (f *fakeReader) PendingRequests() []types.WithdrawalRequest {
	return f.snapshot.PendingQueue
}
func (f *fakeReader) Request(id string) (types.WithdrawalRequest, bool) {
	r, ok := f.requests[id]
	return r, ok
}
func (f *fakeReader) LastCycle() (operator.CycleReport, bool) {
	if f.last == nil {
		return operator.CycleReport{}, false
	}
	return *f.last, true
}

type fakeHistory struct {
	snapshots []types.VaultSnapshot
	dbErr     error
	limits    []int
}

func (f *fakeHistory) RecentSnapshots(_ common.Address, limit int) ([]types.VaultSnapshot, error) {
	f.limits = append(f.limits, limit)
	return f.snapshots, nil
}

func (f *fakeHistory) SnapshotByID(id int64) (*types.VaultSnapshot, error) {
	for _, s := range f.snapshots {
		if s.SnapshotID == id {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", state.ErrSnapshotNotFound, id)
}

func (f *fakeHistory) RecentReceipts(common.Address, int) ([]types.ExecutionReceipt, error) {
	return []types.ExecutionReceipt{{BatchID: "b1"}}, nil
}

func (f *fakeHistory) Summary(common.Address) (*state.VaultSummary, error) {
	return &state.VaultSummary{TotalAssets: sdkmath.NewInt(5), TotalSnapshots: len(f.snapshots)}, nil
}

func (f *fakeHistory) Performance(common.Address) (*state.PerformanceMetrics, error) {
	return nil, errors.New("no data")
}

func (f *fakeHistory) Healthy() error { return f.dbErr }

func testSnapshot() types.VaultSnapshot {
	req := types.WithdrawalRequest{ID: "req-1", Owner: common.HexToAddress("0xa11ce"), Shares: sdkmath.NewInt(300), Status: types.RequestPending}
	return types.VaultSnapshot{
		Vault:         vaultAddr,
		AssetDecimals: 6,
		TotalAssets:   sdkmath.NewInt(1_250_500_000),
		IdleBalance:   sdkmath.NewInt(250_500_000),
		TotalSupply:   sdkmath.NewInt(100_000_000_000),
		PricePerShare: sdkmath.NewInt(1_250_500_000_000_000_000),
		Markets: []types.MarketSnapshot{
			{MarketID: 1, Balance: sdkmath.NewInt(1_000_000_000)},
			{MarketID: 2, Balance: sdkmath.ZeroInt(), Stale: true},
		},
		Fees: types.FeeAccount{
			HighWaterMark:              sdkmath.NewInt(1_000_000_000_000_000_000),
			ClaimableManagementShares:  sdkmath.NewInt(150_000_000),
			ClaimablePerformanceShares: sdkmath.ZeroInt(),
			TotalManagementAssets:      sdkmath.NewInt(1_500_000),
			TotalPerformanceAssets:     sdkmath.ZeroInt(),
		},
		PendingQueue: []types.WithdrawalRequest{req},
		Timestamp:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newServer(history History) (*WebServer, *fakeReader) {
	snap := testSnapshot()
	reader := &fakeReader{
		snapshot: snap,
		requests: map[string]types.WithdrawalRequest{"req-1": snap.PendingQueue[0]},
	}
	return NewWebServer(Config{Reader: reader, History: history, ShareDecimals: 8}), reader
}

func get(t *testing.T, ws *WebServer, path string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec.Code, body
}

func TestVaultEndpoint(t *testing.T) {
	ws, _ := newServer(nil)
	code, body := get(t, ws, "/api/vault")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1250500000", body["total_assets"])
	display := body["display"].(map[string]interface{})
	assert.Equal(t, "1250.5", display["total_assets"])
	assert.Equal(t, "1000", display["total_supply"])
	assert.Equal(t, "1.2505", display["price_per_share"])
}

func TestMarketEndpoints(t *testing.T) {
	ws, _ := newServer(nil)
	code, body := get(t, ws, "/api/markets")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["count"])

	code, body = get(t, ws, "/api/markets/1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1000", body["display_balance"])

	code, _ = get(t, ws, "/api/markets/9")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestFeesAndQueue(t *testing.T) {
	ws, _ := newServer(nil)
	code, body := get(t, ws, "/api/fees")
	require.Equal(t, http.StatusOK, code)
	display := body["display"].(map[string]interface{})
	assert.Equal(t, "1.5", display["claimable_management_shares"])
	assert.Equal(t, "1.5", display["total_management_assets"])

	code, body = get(t, ws, "/api/queue")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])

	code, body = get(t, ws, "/api/requests/req-1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "PENDING", body["status"])

	code, _ = get(t, ws, "/api/requests/nope")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealth(t *testing.T) {
	history := &fakeHistory{}
	ws, reader := newServer(history)

	code, body := get(t, ws, "/health")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body["status"])

	reader.last = &operator.CycleReport{CycleNumber: 3, Error: "refresh markets: boom"}
	code, body = get(t, ws, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "DEGRADED", body["status"])

	reader.last = &operator.CycleReport{CycleNumber: 4}
	history.dbErr = errors.New("connection refused")
	code, _ = get(t, ws, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, body = get(t, ws, "/api/cycles/latest")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(4), body["cycle_number"])
}

func TestHistoryEndpoints(t *testing.T) {
	snap := testSnapshot()
	snap.SnapshotID = 42
	history := &fakeHistory{snapshots: []types.VaultSnapshot{snap}}
	ws, _ := newServer(history)

	code, body := get(t, ws, "/api/snapshots?limit=500")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(defaultLimit), body["limit"], "out of range limits fall back to the default")
	code, _ = get(t, ws, "/api/snapshots?limit=5")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []int{defaultLimit, 5}, history.limits)

	code, body = get(t, ws, "/api/snapshots/42")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(42), body["snapshot_id"])
	code, _ = get(t, ws, "/api/snapshots/7")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = get(t, ws, "/api/receipts")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])

	code, body = get(t, ws, "/api/summary")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "5", body["total_assets"])

	code, _ = get(t, ws, "/api/performance")
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestHistoryDisabled(t *testing.T) {
	ws, _ := newServer(nil)
	for _, path := range []string{"/api/snapshots", "/api/snapshots/1", "/api/receipts", "/api/summary", "/api/performance"} {
		code, body := get(t, ws, path)
		assert.Equal(t, http.StatusServiceUnavailable, code, path)
		assert.Equal(t, true, body["error"])
	}
}

func TestCORSHeaders(t *testing.T) {
	ws, _ := newServer(nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/vault", nil))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	ws, _ := newServer(nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
