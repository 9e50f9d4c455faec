package metrics

import (
	"net/http"
	"strconv"

	sdkmath "cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/elys-network/plasmavault/internal/types"
	"github.com/elys-network/plasmavault/internal/utils"
)

var (
	// ============================================
	// Vault accounting
	// ============================================
	TotalAssets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "plasmavault_total_assets",
		Help: "Total assets of the vault in underlying units",
	}, []string{"vault"})

	IdleBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "plasmavault_idle_balance",
		Help: "Underlying held by the vault outside of markets",
	}, []string{"vault"})

	TotalSupply = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "plasmavault_total_supply",
		Help: "Outstanding vault shares in share units",
	}, []string{"vault"})

	PricePerShare = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "plasmavault_price_per_share",
		Help: "Asset units per share unit",
	}, []string{"vault"})

	MarketBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "plasmavault_market_balance",
		Help: "Cached market balance in underlying units",
	}, []string{"vault", "market"})

	PendingWithdrawals = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "plasmavault_pending_withdrawals",
		Help: "Queued withdrawal requests awaiting liquidity",
	}, []string{"vault"})

	// ============================================
	// Operator
	// ============================================
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plasmavault_operator_cycles_total",
		Help: "Operator cycles by outcome",
	}, []string{"vault", "outcome"})

	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "plasmavault_operator_cycle_duration_seconds",
		Help:    "Operator cycle duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"vault"})

	BatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plasmavault_batches_total",
		Help: "Execution batches by outcome",
	}, []string{"vault", "outcome"})

	RequestsFulfilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plasmavault_withdrawals_fulfilled_total",
		Help: "Queued withdrawal requests fulfilled by the operator",
	}, []string{"vault"})

	// ============================================
	// Event publishing
	// ============================================
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plasmavault_events_published_total",
		Help: "Vault events handed to a sink",
	}, []string{"sink", "kind"})

	EventsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plasmavault_events_failed_total",
		Help: "Vault events a sink failed to deliver",
	}, []string{"sink", "kind"})

	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plasmavault_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSnapshot updates every vault gauge from a snapshot. Amounts are scaled by their decimals
// so dashboards show human units.
func ObserveSnapshot(s types.VaultSnapshot, shareDecimals uint64) {
	vault := s.Vault.Hex()
	TotalAssets.WithLabelValues(vault).Set(scaled(s.TotalAssets, s.AssetDecimals))
	IdleBalance.WithLabelValues(vault).Set(scaled(s.IdleBalance, s.AssetDecimals))
	TotalSupply.WithLabelValues(vault).Set(scaled(s.TotalSupply, shareDecimals))
	PricePerShare.WithLabelValues(vault).Set(scaled(s.PricePerShare, utils.WadDecimals))
	PendingWithdrawals.WithLabelValues(vault).Set(float64(len(s.PendingQueue)))
	for _, m := range s.Markets {
		MarketBalance.WithLabelValues(vault, strconv.FormatUint(uint64(m.MarketID), 10)).Set(scaled(m.Balance, s.AssetDecimals))
	}
}

func scaled(v sdkmath.Int, decimals uint64) float64 {
	if v.IsNil() {
		return 0
	}
	f, _ := decimal.NewFromBigInt(v.BigInt(), -int32(decimals)).Float64()
	return f
}
