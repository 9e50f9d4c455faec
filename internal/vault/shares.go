package vault

import (
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/plasmavault/internal/utils"
)

// Share conversions use a virtual offset of 10^decimalsOffset shares and one virtual asset so
// that the first depositor cannot be front-run by a donation.

func (v *Vault) virtualShares() sdkmath.Int {
	return utils.Pow10(v.offset)
}

// TotalSupply includes escrowed and unclaimed fee shares.
func (v *Vault) TotalSupply() sdkmath.Int {
	return v.state.TotalSupply
}

// BalanceOf returns the free shares of account.
func (v *Vault) BalanceOf(account common.Address) sdkmath.Int {
	return v.state.shares(account)
}

// ConvertToShares returns the shares assets would mint, rounding down.
func (v *Vault) ConvertToShares(assets sdkmath.Int) sdkmath.Int {
	return v.toShares(assets, false)
}

// ConvertToAssets returns the assets shares would redeem for, rounding down.
func (v *Vault) ConvertToAssets(shares sdkmath.Int) sdkmath.Int {
	return v.toAssets(shares, false)
}

// PricePerShare is assets per share scaled by 1e18.
func (v *Vault) PricePerShare() sdkmath.Int {
	return v.pricePerShare()
}

func (v *Vault) toShares(assets sdkmath.Int, roundUp bool) sdkmath.Int {
	supply := v.state.TotalSupply.Add(v.virtualShares())
	total := v.TotalAssets().AddRaw(1)
	if roundUp {
		return utils.MulDivUpOrZero(assets, supply, total)
	}
	return utils.MulDivOrZero(assets, supply, total)
}

func (v *Vault) toAssets(shares sdkmath.Int, roundUp bool) sdkmath.Int {
	supply := v.state.TotalSupply.Add(v.virtualShares())
	total := v.TotalAssets().AddRaw(1)
	if roundUp {
		return utils.MulDivUpOrZero(shares, total, supply)
	}
	return utils.MulDivOrZero(shares, total, supply)
}

func (v *Vault) pricePerShare() sdkmath.Int {
	supply := v.state.TotalSupply.Add(v.virtualShares())
	return utils.MulDivOrZero(v.TotalAssets().AddRaw(1), utils.Wad(), supply)
}

func (v *Vault) mint(to common.Address, shares sdkmath.Int) {
	v.state.Shares[to] = v.state.shares(to).Add(shares)
	v.state.TotalSupply = v.state.TotalSupply.Add(shares)
}

func (v *Vault) burn(from common.Address, shares sdkmath.Int) error {
	balance := v.state.shares(from)
	if balance.LT(shares) {
		return ErrInsufficientShares
	}
	v.state.Shares[from] = balance.Sub(shares)
	v.state.TotalSupply = v.state.TotalSupply.Sub(shares)
	return nil
}

func (v *Vault) moveShares(from, to common.Address, shares sdkmath.Int) error {
	balance := v.state.shares(from)
	if balance.LT(shares) {
		return ErrInsufficientShares
	}
	v.state.Shares[from] = balance.Sub(shares)
	v.state.Shares[to] = v.state.shares(to).Add(shares)
	return nil
}

func (v *Vault) checkSupplyCap(extra sdkmath.Int) error {
	if v.supplyCap.IsPositive() && v.state.TotalSupply.Add(extra).GT(v.supplyCap) {
		return ErrSupplyCapExceeded
	}
	return nil
}
