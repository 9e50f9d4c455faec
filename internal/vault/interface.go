package vault

import (
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/plasmavault/internal/types"
)

// Engine defines the vault operations driven by the operator loop and served by the read API.
// This interface abstracts away the concrete Vault so the operator can be tested against
// a stub and the web layer never reaches into engine internals.
type Engine interface {
	// Snapshot returns a point-in-time copy of balances, markets, fees and the queue.
	Snapshot() types.VaultSnapshot

	// Markets lists every market the vault knows about.
	Markets() []types.MarketID

	// IsStale reports whether a market needs a refresh before its balance can be trusted.
	IsStale(market types.MarketID) bool

	// UpdateMarketsBalances re-values the given markets and realizes fees.
	UpdateMarketsBalances(caller common.Address, markets []types.MarketID) error

	// Execute runs a batch of fuse actions atomically.
	Execute(caller common.Address, actions []types.FuseAction) (*types.ExecutionReceipt, error)

	// RealizeFees accrues management and performance fees up to now.
	RealizeFees(caller common.Address) error

	// ProcessWithdrawalQueue fulfils or expires queued redemptions.
	ProcessWithdrawalQueue(caller common.Address) ([]string, error)

	// ClaimFees distributes realized fee shares to the package recipients.
	ClaimFees(caller common.Address) (map[common.Address]sdkmath.Int, error)

	// PendingRequests returns queued redemptions in FIFO order.
	PendingRequests() []types.WithdrawalRequest

	// Request looks up a withdrawal request in any status.
	Request(id string) (types.WithdrawalRequest, bool)
}

var _ Engine = (*Vault)(nil)
