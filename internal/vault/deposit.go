package vault

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/plasmavault/internal/access"
	"github.com/elys-network/plasmavault/internal/types"
)

// Deposit takes assets of the underlying from caller and mints shares to receiver.
// Stale markets are refreshed and fees realized before the share price is read.
func (v *Vault) Deposit(caller, receiver common.Address, assets sdkmath.Int) (sdkmath.Int, error) {
	if assets.IsNil() || !assets.IsPositive() {
		return sdkmath.ZeroInt(), ErrZeroAmount
	}
	if err := v.checkReceiver(receiver); err != nil {
		return sdkmath.ZeroInt(), err
	}
	shares := sdkmath.ZeroInt()
	err := v.atomically("deposit", func(b *batch) error {
		if err := v.prepare(b); err != nil {
			return err
		}
		shares = v.toShares(assets, false)
		return v.settleDeposit(b, caller, receiver, assets, shares)
	})
	return shares, err
}

// Mint mints exactly shares to receiver, taking the assets they cost, rounded up.
func (v *Vault) Mint(caller, receiver common.Address, shares sdkmath.Int) (sdkmath.Int, error) {
	if shares.IsNil() || !shares.IsPositive() {
		return sdkmath.ZeroInt(), ErrZeroShares
	}
	if err := v.checkReceiver(receiver); err != nil {
		return sdkmath.ZeroInt(), err
	}
	assets := sdkmath.ZeroInt()
	err := v.atomically("mint", func(b *batch) error {
		if err := v.prepare(b); err != nil {
			return err
		}
		assets = v.toAssets(shares, true)
		if !assets.IsPositive() {
			return ErrZeroAmount
		}
		return v.settleDeposit(b, caller, receiver, assets, shares)
	})
	return assets, err
}

// checkReceiver rejects the zero address and the vault itself, which escrows queued shares.
func (v *Vault) checkReceiver(receiver common.Address) error {
	if receiver == (common.Address{}) {
		return fmt.Errorf("%w: receiver", ErrZeroAddress)
	}
	if receiver == v.address {
		return fmt.Errorf("%w: receiver %s", ErrVaultAccount, receiver.Hex())
	}
	return nil
}

func (v *Vault) settleDeposit(b *batch, caller, receiver common.Address, assets, shares sdkmath.Int) error {
	if !shares.IsPositive() {
		return ErrZeroShares
	}
	if err := v.checkSupplyCap(shares); err != nil {
		return fmt.Errorf("%w: cap %s, supply %s, minting %s", err, v.supplyCap, v.state.TotalSupply, shares)
	}
	b.Credit(v.asset, assets)
	v.mint(receiver, shares)
	v.state.LastDeposit[receiver] = v.now()

	b.Emit(types.Event{
		Kind: types.EventDeposit,
		Fields: map[string]string{
			"sender":   caller.Hex(),
			"receiver": receiver.Hex(),
			"assets":   assets.String(),
			"shares":   shares.String(),
		},
	})
	return nil
}

// ReceiveRewards adds underlying to idle balance without minting shares, raising the price
// per share. Used by the rewards manager. Requires Claimer.
func (v *Vault) ReceiveRewards(caller common.Address, assets sdkmath.Int) error {
	if err := v.require(caller, access.Claimer); err != nil {
		return err
	}
	if assets.IsNil() || !assets.IsPositive() {
		return ErrZeroAmount
	}
	return v.atomically("receive_rewards", func(b *batch) error {
		if err := v.prepare(b); err != nil {
			return err
		}
		b.Credit(v.asset, assets)
		b.Emit(types.Event{
			Kind:     types.EventDeposit,
			Protocol: "rewards",
			Fields: map[string]string{
				"sender": caller.Hex(),
				"assets": assets.String(),
			},
		})
		return nil
	})
}

// prepare brings cached balances up to date and realizes fees so share-price-dependent
// operations see the post-fee price.
func (v *Vault) prepare(b *batch) error {
	if err := v.refreshStale(b); err != nil {
		return err
	}
	return v.realizeFees(b)
}
