package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/elys-network/plasmavault/internal/types"
)

// performanceWindow caps how many snapshots feed the performance computation.
const performanceWindow = 5000

// VaultSummary represents high-level vault statistics
type VaultSummary struct {
	TotalAssets    sdkmath.Int `json:"total_assets"`
	TotalSupply    sdkmath.Int `json:"total_supply"`
	PricePerShare  sdkmath.Int `json:"price_per_share"`
	TotalSnapshots int         `json:"total_snapshots"`
	TotalBatches   int         `json:"total_batches"`
	LastUpdated    *time.Time  `json:"last_updated,omitempty"`
}

// PerformanceMetrics describes share-price performance over the stored history.
type PerformanceMetrics struct {
	Snapshots           int             `json:"snapshots"`
	From                time.Time       `json:"from"`
	To                  time.Time       `json:"to"`
	FirstPricePerShare  sdkmath.Int     `json:"first_price_per_share"`
	LatestPricePerShare sdkmath.Int     `json:"latest_price_per_share"`
	ReturnPercent       decimal.Decimal `json:"return_percent"`
	AnnualizedPercent   decimal.Decimal `json:"annualized_percent"`
	MaxDrawdownPercent  decimal.Decimal `json:"max_drawdown_percent"`
}

// GetVaultSummary retrieves high-level vault statistics
func GetVaultSummary(vault common.Address) (*VaultSummary, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}

	summary := &VaultSummary{
		TotalAssets:   sdkmath.ZeroInt(),
		TotalSupply:   sdkmath.ZeroInt(),
		PricePerShare: sdkmath.ZeroInt(),
	}

	var totalAssets, totalSupply, pps string
	var lastUpdated time.Time
	err := DB.QueryRow(`
		SELECT total_assets::TEXT, total_supply::TEXT, price_per_share::TEXT, snapshot_timestamp
		FROM vault_snapshots
		WHERE vault_address = $1
		ORDER BY snapshot_timestamp DESC
		LIMIT 1`, vault.Hex()).Scan(&totalAssets, &totalSupply, &pps, &lastUpdated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to get latest vault values: %w", err)
	default:
		if summary.TotalAssets, err = parseNumeric("total_assets", totalAssets); err != nil {
			return nil, err
		}
		if summary.TotalSupply, err = parseNumeric("total_supply", totalSupply); err != nil {
			return nil, err
		}
		if summary.PricePerShare, err = parseNumeric("price_per_share", pps); err != nil {
			return nil, err
		}
		summary.LastUpdated = &lastUpdated
	}

	if err := DB.QueryRow(`SELECT COUNT(*) FROM vault_snapshots WHERE vault_address = $1`, vault.Hex()).Scan(&summary.TotalSnapshots); err != nil {
		log.Error().Err(err).Msg("Failed to count snapshots")
	}
	if err := DB.QueryRow(`SELECT COUNT(*) FROM execution_receipts WHERE vault_address = $1`, vault.Hex()).Scan(&summary.TotalBatches); err != nil {
		log.Error().Err(err).Msg("Failed to count execution receipts")
	}
	return summary, nil
}

// GetPerformanceMetrics computes share-price performance from the stored snapshots.
func GetPerformanceMetrics(vault common.Address) (*PerformanceMetrics, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}

	rows, err := DB.Query(`
		SELECT snapshot_timestamp, price_per_share::TEXT
		FROM vault_snapshots
		WHERE vault_address = $1
		ORDER BY snapshot_timestamp ASC
		LIMIT $2`, vault.Hex(), performanceWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to query share price history: %w", err)
	}
	defer rows.Close()

	var points []types.VaultSnapshot
	for rows.Next() {
		var p types.VaultSnapshot
		var pps string
		if err := rows.Scan(&p.Timestamp, &pps); err != nil {
			return nil, fmt.Errorf("failed to scan share price: %w", err)
		}
		if p.PricePerShare, err = parseNumeric("price_per_share", pps); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	m := ComputePerformance(points)
	log.Debug().Int("snapshots", m.Snapshots).Str("return_percent", m.ReturnPercent.String()).Msg("Computed performance metrics")
	return &m, nil
}

// ComputePerformance derives return, annualized return and maximum drawdown from snapshots in
// chronological order. Percentages are rounded to 4 decimal places.
func ComputePerformance(points []types.VaultSnapshot) PerformanceMetrics {
	m := PerformanceMetrics{
		Snapshots:           len(points),
		FirstPricePerShare:  sdkmath.ZeroInt(),
		LatestPricePerShare: sdkmath.ZeroInt(),
	}
	if len(points) == 0 {
		return m
	}
	first, last := points[0], points[len(points)-1]
	m.From, m.To = first.Timestamp, last.Timestamp
	m.FirstPricePerShare, m.LatestPricePerShare = first.PricePerShare, last.PricePerShare

	start := toDecimal(first.PricePerShare)
	if start.IsZero() {
		return m
	}
	hundred := decimal.NewFromInt(100)
	ret := toDecimal(last.PricePerShare).Sub(start).Div(start)
	m.ReturnPercent = ret.Mul(hundred).Round(4)

	if elapsed := last.Timestamp.Sub(first.Timestamp); elapsed > 0 {
		year := decimal.NewFromInt(int64(365 * 24 * time.Hour))
		m.AnnualizedPercent = ret.Mul(year).Div(decimal.NewFromInt(int64(elapsed))).Mul(hundred).Round(4)
	}

	peak := decimal.Zero
	worst := decimal.Zero
	for _, p := range points {
		v := toDecimal(p.PricePerShare)
		if v.GreaterThan(peak) {
			peak = v
			continue
		}
		if peak.IsPositive() {
			if dd := peak.Sub(v).Div(peak); dd.GreaterThan(worst) {
				worst = dd
			}
		}
	}
	m.MaxDrawdownPercent = worst.Mul(hundred).Round(4)
	return m
}

func toDecimal(v sdkmath.Int) decimal.Decimal {
	if v.IsNil() {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v.BigInt(), 0)
}
