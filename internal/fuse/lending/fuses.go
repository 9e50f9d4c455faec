package lending

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/elys-network/plasmavault/internal/fuse"
	"github.com/elys-network/plasmavault/internal/logger"
	"github.com/elys-network/plasmavault/internal/substrate"
	"github.com/elys-network/plasmavault/internal/types"
)

const protocolName = "lending"

type base struct {
	address  common.Address
	marketID types.MarketID
	protocol Protocol
	logger   zerolog.Logger
}

func newBase(address common.Address, marketID types.MarketID, protocol Protocol, component string) base {
	return base{
		address:  address,
		marketID: marketID,
		protocol: protocol,
		logger:   logger.GetForComponent(component),
	}
}

func (b base) Address() common.Address  { return b.address }
func (b base) MarketID() types.MarketID { return b.marketID }

func (b base) event(kind types.EventKind, ctx fuse.View, asset common.Address, amount sdkmath.Int, action string) types.Event {
	return types.Event{
		Kind:     kind,
		Vault:    ctx.Vault(),
		Fuse:     b.address,
		MarketID: b.marketID,
		Protocol: protocolName,
		Fields: map[string]string{
			"action": action,
			"pool":   b.protocol.Address().Hex(),
			"asset":  asset.Hex(),
			"amount": amount.String(),
		},
	}
}

// undo runs a compensating protocol call. Failures are logged; the vault state itself is
// restored from its snapshot regardless.
func (b base) undo(op string, fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			b.logger.Error().Err(err).Str("op", op).Uint64("market_id", uint64(b.marketID)).Msg("Failed to revert lending operation")
		}
	}
}

// SupplyFuse moves vault tokens into the pool (enter) and back (exit).
type SupplyFuse struct {
	base
}

func NewSupplyFuse(address common.Address, marketID types.MarketID, protocol Protocol) *SupplyFuse {
	return &SupplyFuse{base: newBase(address, marketID, protocol, "lending_supply_fuse")}
}

// Enter supplies (asset, amount).
func (f *SupplyFuse) Enter(ctx fuse.Context, payload []byte) error {
	asset, amount, err := fuse.DecodeAssetAmount(payload)
	if err != nil {
		return err
	}
	if err := fuse.RequireGranted(ctx, f.marketID, asset); err != nil {
		return err
	}
	if err := ctx.Debit(asset, amount); err != nil {
		return err
	}
	vault := ctx.Vault()
	if err := f.protocol.Supply(vault, asset, amount); err != nil {
		return fmt.Errorf("supply to %s: %w", f.protocol.Address().Hex(), err)
	}
	ctx.OnRevert(f.undo("supply", func() error { return f.protocol.Withdraw(vault, asset, amount) }))
	ctx.Emit(f.event(types.EventFuseEnter, ctx, asset, amount, "supply"))
	return nil
}

// Exit withdraws up to amount; withdrawing more than is supplied withdraws everything.
func (f *SupplyFuse) Exit(ctx fuse.Context, payload []byte) error {
	asset, amount, err := fuse.DecodeAssetAmount(payload)
	if err != nil {
		return err
	}
	if err := fuse.RequireGranted(ctx, f.marketID, asset); err != nil {
		return err
	}
	withdrawn, err := f.withdraw(ctx, asset, amount)
	if err != nil {
		return err
	}
	if withdrawn.IsZero() {
		return nil
	}
	ctx.Emit(f.event(types.EventFuseExit, ctx, asset, withdrawn, "withdraw"))
	return nil
}

// InstantWithdraw pulls up to amount of the vault's underlying asset out of the pool, limited
// by the vault's supplied position and the pool's free liquidity. params may name the asset
// explicitly as an Asset substrate; it must still be the underlying.
func (f *SupplyFuse) InstantWithdraw(ctx fuse.Context, amount sdkmath.Int, params []substrate.Substrate) error {
	asset := ctx.Asset()
	if len(params) > 0 {
		addr, t := substrate.Decode(params[0])
		if t != substrate.Asset || addr != asset {
			return fmt.Errorf("%w: instant withdraw asset %s is not the underlying", fuse.ErrInvalidPayload, addr.Hex())
		}
	}
	if err := fuse.RequireGranted(ctx, f.marketID, asset); err != nil {
		return err
	}
	target := sdkmath.MinInt(amount, f.protocol.Available(asset))
	withdrawn, err := f.withdraw(ctx, asset, target)
	if err != nil {
		return err
	}
	if withdrawn.IsZero() {
		return fmt.Errorf("%w: market %d", fuse.ErrNothingToWithdraw, f.marketID)
	}
	ctx.Emit(f.event(types.EventInstantWithdraw, ctx, asset, withdrawn, "withdraw"))
	return nil
}

func (f *SupplyFuse) withdraw(ctx fuse.Context, asset common.Address, amount sdkmath.Int) (sdkmath.Int, error) {
	vault := ctx.Vault()
	amount = sdkmath.MinInt(amount, f.protocol.Supplied(vault, asset))
	if !amount.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}
	if err := f.protocol.Withdraw(vault, asset, amount); err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("withdraw from %s: %w", f.protocol.Address().Hex(), err)
	}
	ctx.OnRevert(f.undo("withdraw", func() error { return f.protocol.Supply(vault, asset, amount) }))
	ctx.Credit(asset, amount)
	return amount, nil
}

// BorrowFuse opens debt in the pool (enter) and repays it (exit).
type BorrowFuse struct {
	base
}

func NewBorrowFuse(address common.Address, marketID types.MarketID, protocol Protocol) *BorrowFuse {
	return &BorrowFuse{base: newBase(address, marketID, protocol, "lending_borrow_fuse")}
}

func (f *BorrowFuse) Enter(ctx fuse.Context, payload []byte) error {
	asset, amount, err := fuse.DecodeAssetAmount(payload)
	if err != nil {
		return err
	}
	if err := fuse.RequireGranted(ctx, f.marketID, asset); err != nil {
		return err
	}
	vault := ctx.Vault()
	if err := f.protocol.Borrow(vault, asset, amount); err != nil {
		return fmt.Errorf("borrow from %s: %w", f.protocol.Address().Hex(), err)
	}
	ctx.OnRevert(f.undo("borrow", func() error { return f.protocol.Repay(vault, asset, amount) }))
	ctx.Credit(asset, amount)
	ctx.Emit(f.event(types.EventFuseEnter, ctx, asset, amount, "borrow"))
	return nil
}

// Exit repays up to amount of outstanding debt.
func (f *BorrowFuse) Exit(ctx fuse.Context, payload []byte) error {
	asset, amount, err := fuse.DecodeAssetAmount(payload)
	if err != nil {
		return err
	}
	if err := fuse.RequireGranted(ctx, f.marketID, asset); err != nil {
		return err
	}
	vault := ctx.Vault()
	amount = sdkmath.MinInt(amount, f.protocol.Borrowed(vault, asset))
	if !amount.IsPositive() {
		return nil
	}
	if err := ctx.Debit(asset, amount); err != nil {
		return err
	}
	if err := f.protocol.Repay(vault, asset, amount); err != nil {
		return fmt.Errorf("repay to %s: %w", f.protocol.Address().Hex(), err)
	}
	ctx.OnRevert(f.undo("repay", func() error { return f.protocol.Borrow(vault, asset, amount) }))
	ctx.Emit(f.event(types.EventFuseExit, ctx, asset, amount, "repay"))
	return nil
}

// BalanceFuse values the vault's net position in the pool: supplied minus borrowed, across
// every Asset substrate of the market.
type BalanceFuse struct {
	base
}

func NewBalanceFuse(address common.Address, marketID types.MarketID, protocol Protocol) *BalanceFuse {
	return &BalanceFuse{base: newBase(address, marketID, protocol, "lending_balance_fuse")}
}

func (f *BalanceFuse) BalanceOf(view fuse.View) (sdkmath.Int, error) {
	vault := view.Vault()
	net := sdkmath.ZeroInt()
	for _, asset := range substrate.Addresses(view.Substrates(f.marketID), substrate.Asset) {
		supplied, err := fuse.USDValue(view, asset, f.protocol.Supplied(vault, asset))
		if err != nil {
			return sdkmath.ZeroInt(), fmt.Errorf("market %d supplied %s: %w", f.marketID, asset.Hex(), err)
		}
		borrowed, err := fuse.USDValue(view, asset, f.protocol.Borrowed(vault, asset))
		if err != nil {
			return sdkmath.ZeroInt(), fmt.Errorf("market %d borrowed %s: %w", f.marketID, asset.Hex(), err)
		}
		net = net.Add(supplied).Sub(borrowed)
	}
	if net.IsNegative() {
		return sdkmath.ZeroInt(), &fuse.NegativeBalanceError{MarketID: f.marketID, Delta: net}
	}
	return net, nil
}
