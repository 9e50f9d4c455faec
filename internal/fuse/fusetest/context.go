// Package fusetest provides an in-memory fuse.Context for adapter tests.
package fusetest

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/plasmavault/internal/fuse"
	"github.com/elys-network/plasmavault/internal/pricing"
	"github.com/elys-network/plasmavault/internal/substrate"
	"github.com/elys-network/plasmavault/internal/types"
)

type callbackKey struct {
	origin   common.Address
	selector types.Selector
}

// Context records everything a fuse does so tests can assert on it.
type Context struct {
	VaultAddress common.Address
	AssetAddress common.Address
	Decimals     map[common.Address]uint64
	Tokens       map[common.Address]sdkmath.Int
	Granted      map[types.MarketID][]substrate.Substrate
	Balances     map[types.MarketID]sdkmath.Int
	Resolver     pricing.Resolver
	Events       []types.Event
	Undo         []func()
	// Callbacks maps (origin, selector) to the function run by Callback.
	Callbacks map[callbackKey]func(data []byte) error
}

// NewContext creates a context for a vault holding asset with the given decimals.
func NewContext(vault, asset common.Address, decimals uint64, resolver pricing.Resolver) *Context {
	return &Context{
		VaultAddress: vault,
		AssetAddress: asset,
		Decimals:     map[common.Address]uint64{asset: decimals},
		Tokens:       make(map[common.Address]sdkmath.Int),
		Granted:      make(map[types.MarketID][]substrate.Substrate),
		Balances:     make(map[types.MarketID]sdkmath.Int),
		Resolver:     resolver,
		Callbacks:    make(map[callbackKey]func([]byte) error),
	}
}

// Grant appends Asset substrates for the tokens to the market.
func (c *Context) Grant(market types.MarketID, tokens ...common.Address) {
	for _, t := range tokens {
		c.Granted[market] = append(c.Granted[market], substrate.Encode(t, substrate.Asset))
	}
}

// OnCallback registers fn for (origin, selector).
func (c *Context) OnCallback(origin common.Address, selector types.Selector, fn func(data []byte) error) {
	c.Callbacks[callbackKey{origin, selector}] = fn
}

// Revert runs the registered undo steps in reverse order.
func (c *Context) Revert() {
	for i := len(c.Undo) - 1; i >= 0; i-- {
		c.Undo[i]()
	}
	c.Undo = nil
}

func (c *Context) Vault() common.Address    { return c.VaultAddress }
func (c *Context) Asset() common.Address    { return c.AssetAddress }
func (c *Context) AssetDecimals() uint64    { return c.Decimals[c.AssetAddress] }
func (c *Context) Prices() pricing.Resolver { return c.Resolver }

func (c *Context) TokenDecimals(token common.Address) (uint64, error) {
	d, ok := c.Decimals[token]
	if !ok {
		return 0, fmt.Errorf("%w: %s", fuse.ErrUnknownToken, token.Hex())
	}
	return d, nil
}

func (c *Context) TokenBalance(token common.Address) sdkmath.Int {
	if b, ok := c.Tokens[token]; ok {
		return b
	}
	return sdkmath.ZeroInt()
}

func (c *Context) IsGranted(market types.MarketID, s substrate.Substrate) bool {
	for _, g := range c.Granted[market] {
		if g == s {
			return true
		}
	}
	return false
}

func (c *Context) Substrates(market types.MarketID) []substrate.Substrate {
	return c.Granted[market]
}

func (c *Context) MarketBalance(market types.MarketID) sdkmath.Int {
	if b, ok := c.Balances[market]; ok {
		return b
	}
	return sdkmath.ZeroInt()
}

func (c *Context) Credit(token common.Address, amount sdkmath.Int) {
	c.Tokens[token] = c.TokenBalance(token).Add(amount)
}

func (c *Context) Debit(token common.Address, amount sdkmath.Int) error {
	balance := c.TokenBalance(token)
	if balance.LT(amount) {
		return fmt.Errorf("%w: have %s, need %s", fuse.ErrInsufficientBalance, balance, amount)
	}
	c.Tokens[token] = balance.Sub(amount)
	return nil
}

func (c *Context) Emit(event types.Event) {
	c.Events = append(c.Events, event)
}

func (c *Context) OnRevert(undo func()) {
	c.Undo = append(c.Undo, undo)
}

func (c *Context) Callback(origin common.Address, selector types.Selector, data []byte) error {
	fn, ok := c.Callbacks[callbackKey{origin, selector}]
	if !ok {
		return fmt.Errorf("no callback for %s/%s", origin.Hex(), selector)
	}
	return fn(data)
}

var _ fuse.Context = (*Context)(nil)
