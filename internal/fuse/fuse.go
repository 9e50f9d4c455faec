/*
Package fuse defines the contract between the vault engine and its protocol adapters.

A fuse never touches vault storage directly. The engine hands it a Context for the duration of
one call; the context exposes only the mutations a fuse is allowed to perform (moving vault-held
tokens, emitting events, registering undo steps for external side effects) plus read access to
the market allow-list and prices.
*/
package fuse

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/plasmavault/internal/pricing"
	"github.com/elys-network/plasmavault/internal/substrate"
	"github.com/elys-network/plasmavault/internal/types"
	"github.com/elys-network/plasmavault/internal/utils"
)

var (
	ErrNegativeBalance     = errors.New("negative market balance")
	ErrSubstrateNotGranted = errors.New("substrate not granted to market")
	ErrInsufficientBalance = errors.New("insufficient vault token balance")
	ErrInvalidPayload      = errors.New("invalid fuse payload")
	ErrNothingToWithdraw   = errors.New("nothing to withdraw")
	ErrUnknownToken        = errors.New("unknown token")
)

// NegativeBalanceError is returned by balance fuses whose net position is below zero.
// Delta is the signed net value (USD, WAD) and is always negative.
type NegativeBalanceError struct {
	MarketID types.MarketID
	Delta    sdkmath.Int
}

func (e *NegativeBalanceError) Error() string {
	return fmt.Sprintf("market %d: %s: %s", e.MarketID, ErrNegativeBalance, e.Delta)
}

func (e *NegativeBalanceError) Unwrap() error {
	return ErrNegativeBalance
}

// View is the read-only part of the vault a fuse may inspect.
type View interface {
	Vault() common.Address
	Asset() common.Address
	AssetDecimals() uint64
	// TokenDecimals fails with ErrUnknownToken for tokens the vault was not configured with.
	TokenDecimals(token common.Address) (uint64, error)
	TokenBalance(token common.Address) sdkmath.Int
	IsGranted(market types.MarketID, s substrate.Substrate) bool
	Substrates(market types.MarketID) []substrate.Substrate
	MarketBalance(market types.MarketID) sdkmath.Int
	Prices() pricing.Resolver
}

// Context is what a fuse receives while it executes inside a batch.
type Context interface {
	View

	// Credit records tokens arriving in the vault.
	Credit(token common.Address, amount sdkmath.Int)
	// Debit records tokens leaving the vault. It fails with ErrInsufficientBalance.
	Debit(token common.Address, amount sdkmath.Int) error
	// Emit buffers an event. Events are published only if the batch commits.
	Emit(event types.Event)
	// OnRevert registers an undo step for a mutation made outside the vault.
	// Undo steps run in reverse registration order when the batch is rolled back.
	OnRevert(undo func())
	// Callback re-enters the vault through the registered callback handler for (origin, selector).
	Callback(origin common.Address, selector types.Selector, data []byte) error
}

// Fuse is an enter/exit adapter for one market.
type Fuse interface {
	Address() common.Address
	MarketID() types.MarketID
	Enter(ctx Context, payload []byte) error
	Exit(ctx Context, payload []byte) error
}

// BalanceFuse values one market. The result is a USD value with 18 decimals.
// Implementations return a *NegativeBalanceError instead of clamping a negative net position.
type BalanceFuse interface {
	Address() common.Address
	MarketID() types.MarketID
	BalanceOf(view View) (sdkmath.Int, error)
}

// InstantWithdrawFuse can pull up to amount of the underlying asset back into the vault on demand.
type InstantWithdrawFuse interface {
	Fuse
	InstantWithdraw(ctx Context, amount sdkmath.Int, params []substrate.Substrate) error
}

// CallbackHandler turns a protocol callback into nested fuse actions executed in the current batch.
type CallbackHandler interface {
	HandleCallback(view View, data []byte) ([]types.FuseAction, error)
}

// CallbackHandlerFunc adapts a function to CallbackHandler.
type CallbackHandlerFunc func(view View, data []byte) ([]types.FuseAction, error)

func (f CallbackHandlerFunc) HandleCallback(view View, data []byte) ([]types.FuseAction, error) {
	return f(view, data)
}

// RequireGranted checks that the asset is an Asset substrate of the market.
func RequireGranted(view View, market types.MarketID, asset common.Address) error {
	if !view.IsGranted(market, substrate.Encode(asset, substrate.Asset)) {
		return fmt.Errorf("%w: market %d asset %s", ErrSubstrateNotGranted, market, asset.Hex())
	}
	return nil
}

// USDValue prices amount of token through the view's resolver. The result has 18 decimals.
func USDValue(view View, token common.Address, amount sdkmath.Int) (sdkmath.Int, error) {
	if amount.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	decimals, err := view.TokenDecimals(token)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	price, priceDecimals, err := view.Prices().GetPrice(token)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return utils.ValueInUSD(amount, decimals, price, priceDecimals), nil
}
