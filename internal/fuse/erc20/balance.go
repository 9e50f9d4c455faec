// Package erc20 values tokens other than the underlying that the vault holds directly.
package erc20

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/plasmavault/internal/fuse"
	"github.com/elys-network/plasmavault/internal/substrate"
	"github.com/elys-network/plasmavault/internal/types"
)

// BalanceFuse sums the USD value of every Asset substrate of its market held by the vault.
// The underlying asset is skipped because it is already counted as idle balance.
type BalanceFuse struct {
	address  common.Address
	marketID types.MarketID
}

func NewBalanceFuse(address common.Address, marketID types.MarketID) *BalanceFuse {
	return &BalanceFuse{address: address, marketID: marketID}
}

func (f *BalanceFuse) Address() common.Address  { return f.address }
func (f *BalanceFuse) MarketID() types.MarketID { return f.marketID }

// BalanceOf implements fuse.BalanceFuse.
func (f *BalanceFuse) BalanceOf(view fuse.View) (sdkmath.Int, error) {
	total := sdkmath.ZeroInt()
	for _, token := range substrate.Addresses(view.Substrates(f.marketID), substrate.Asset) {
		if token == view.Asset() {
			continue
		}
		value, err := fuse.USDValue(view, token, view.TokenBalance(token))
		if err != nil {
			return sdkmath.ZeroInt(), fmt.Errorf("market %d token %s: %w", f.marketID, token.Hex(), err)
		}
		total = total.Add(value)
	}
	return total, nil
}
