/*

This file contains the vault-level records shared between the engine, the persistence layer and
the read API: withdrawal requests, fee configuration and state snapshots.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// RequestStatus is the lifecycle state of a queued withdrawal.
type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestFulfilled RequestStatus = "FULFILLED"
	RequestCancelled RequestStatus = "CANCELLED"
	RequestExpired   RequestStatus = "EXPIRED"
)

// WithdrawalRequest is a redemption that could not be satisfied from idle liquidity.
// Its shares are held in escrow by the vault until the request is fulfilled, cancelled or expires.
type WithdrawalRequest struct {
	ID          string         `json:"id"`
	Owner       common.Address `json:"owner"`
	Receiver    common.Address `json:"receiver"`
	Shares      sdkmath.Int    `json:"shares"`
	RequestedAt time.Time      `json:"requested_at"`
	EligibleAt  time.Time      `json:"eligible_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Status      RequestStatus  `json:"status"`
	Assets      sdkmath.Int    `json:"assets,omitempty"` // set on fulfillment
}

// WithdrawParameters configure the redemption engine.
type WithdrawParameters struct {
	// RedemptionDelay is the minimum holding period between an owner's last deposit and a redemption.
	RedemptionDelay time.Duration `json:"redemption_delay" yaml:"redemption_delay"`
	// WithdrawWindow is how long a queued request stays fulfillable before it expires.
	WithdrawWindow time.Duration `json:"withdraw_window" yaml:"withdraw_window"`
	// QueueEnabled allows redemptions that cannot be paid immediately to be queued.
	QueueEnabled bool `json:"queue_enabled" yaml:"queue_enabled"`
}

// FeeRecipient receives a share of a fee expressed in basis points of the fee base.
type FeeRecipient struct {
	Recipient common.Address `json:"recipient" yaml:"recipient"`
	Bps       uint64         `json:"bps" yaml:"bps"`
}

// FeePackage bundles the management and performance fee recipients selectable at vault creation.
type FeePackage struct {
	Name        string         `json:"name" yaml:"name"`
	Management  []FeeRecipient `json:"management" yaml:"management"`
	Performance []FeeRecipient `json:"performance" yaml:"performance"`
}

// ManagementBps is the total management fee rate of the package.
func (p FeePackage) ManagementBps() uint64 {
	return sumBps(p.Management)
}

// PerformanceBps is the total performance fee rate of the package.
func (p FeePackage) PerformanceBps() uint64 {
	return sumBps(p.Performance)
}

func sumBps(recipients []FeeRecipient) uint64 {
	var total uint64
	for _, r := range recipients {
		total += r.Bps
	}
	return total
}

// FeeAccount is the fee bookkeeping of a vault.
type FeeAccount struct {
	// LastRealized is when the management fee was last moved from unrealized to claimable.
	LastRealized time.Time `json:"last_realized"`
	// HighWaterMark is the highest post-fee price per share (WAD) seen so far.
	HighWaterMark sdkmath.Int `json:"high_water_mark"`
	// ClaimableManagementShares and ClaimablePerformanceShares are minted but not yet distributed.
	ClaimableManagementShares  sdkmath.Int `json:"claimable_management_shares"`
	ClaimablePerformanceShares sdkmath.Int `json:"claimable_performance_shares"`
	// TotalManagementAssets and TotalPerformanceAssets are lifetime fee values at realization time.
	TotalManagementAssets  sdkmath.Int `json:"total_management_assets"`
	TotalPerformanceAssets sdkmath.Int `json:"total_performance_assets"`
}

// MarketSnapshot is the read-model of one market.
type MarketSnapshot struct {
	MarketID     MarketID    `json:"market_id"`
	Balance      sdkmath.Int `json:"balance"`
	Stale        bool        `json:"stale"`
	Substrates   []string    `json:"substrates"`
	Dependencies []MarketID  `json:"dependencies,omitempty"`
	BalanceFuse  string      `json:"balance_fuse,omitempty"`
}

// VaultSnapshot is a point-in-time view of the whole vault.
type VaultSnapshot struct {
	SnapshotID     int64               `json:"snapshot_id,omitempty"` // Auto-incremented by DB
	CycleNumber    int                 `json:"cycle_number,omitempty"`
	Vault          common.Address      `json:"vault"`
	Asset          common.Address      `json:"asset"`
	AssetDecimals  uint64              `json:"asset_decimals"`
	TotalAssets    sdkmath.Int         `json:"total_assets"`
	IdleBalance    sdkmath.Int         `json:"idle_balance"`
	TotalSupply    sdkmath.Int         `json:"total_supply"`
	PricePerShare  sdkmath.Int         `json:"price_per_share"`
	Markets        []MarketSnapshot    `json:"markets"`
	Fees           FeeAccount          `json:"fees"`
	PendingQueue   []WithdrawalRequest `json:"pending_queue"`
	BatchesApplied uint64              `json:"batches_applied"`
	Timestamp      time.Time           `json:"timestamp"`
}

// VaultParameters is one persisted version of the tunable vault settings.
type VaultParameters struct {
	ParamsID    int64              `json:"params_id,omitempty"` // Auto-incremented by DB
	Vault       common.Address     `json:"vault"`
	Version     int                `json:"version"`
	FeePackage  FeePackage         `json:"fee_package"`
	Withdraw    WithdrawParameters `json:"withdraw"`
	SupplyCap   sdkmath.Int        `json:"supply_cap"`
	IsActive    bool               `json:"is_active"`
	ActivatedAt time.Time          `json:"activated_at"`
}
