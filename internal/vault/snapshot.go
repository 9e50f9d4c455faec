package vault

import (
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/plasmavault/internal/types"
)

// Snapshot returns a point-in-time copy of the vault for persistence and the read API.
func (v *Vault) Snapshot() types.VaultSnapshot {
	snap := types.VaultSnapshot{
		Vault:          v.address,
		Asset:          v.asset,
		AssetDecimals:  v.decimals,
		TotalAssets:    v.TotalAssets(),
		IdleBalance:    v.IdleBalance(),
		TotalSupply:    v.state.TotalSupply,
		PricePerShare:  v.pricePerShare(),
		Fees:           v.state.Fees,
		PendingQueue:   v.PendingRequests(),
		BatchesApplied: v.state.Batches,
		Timestamp:      v.now(),
	}
	for _, id := range v.state.marketIDs() {
		m := v.state.Markets[id]
		ms := types.MarketSnapshot{
			MarketID:     id,
			Balance:      m.Balance,
			Stale:        m.Stale,
			Substrates:   make([]string, 0, len(m.Substrates)),
			Dependencies: slices.Clone(m.Dependencies),
		}
		for _, s := range m.Substrates {
			ms.Substrates = append(ms.Substrates, s.Hex())
		}
		if m.BalanceFuse != (common.Address{}) {
			ms.BalanceFuse = m.BalanceFuse.Hex()
		}
		snap.Markets = append(snap.Markets, ms)
	}
	return snap
}
