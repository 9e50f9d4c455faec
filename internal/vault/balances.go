package vault

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/plasmavault/internal/access"
	"github.com/elys-network/plasmavault/internal/fuse"
	"github.com/elys-network/plasmavault/internal/types"
	"github.com/elys-network/plasmavault/internal/utils"
)

// TotalAssets is idle balance plus every cached market balance, in underlying units.
func (v *Vault) TotalAssets() sdkmath.Int {
	total := v.IdleBalance()
	for _, m := range v.state.Markets {
		total = total.Add(m.Balance)
	}
	return total
}

// IdleBalance is the underlying held by the vault and not deployed in any market.
func (v *Vault) IdleBalance() sdkmath.Int {
	return v.state.token(v.asset)
}

// MarketBalance is the cached valuation of one market in underlying units.
func (v *Vault) MarketBalance(market types.MarketID) sdkmath.Int {
	if m, ok := v.state.Markets[market]; ok {
		return m.Balance
	}
	return sdkmath.ZeroInt()
}

// IsStale reports whether a market's cached balance predates a configuration change.
func (v *Vault) IsStale(market types.MarketID) bool {
	m, ok := v.state.Markets[market]
	return ok && m.Stale
}

// UpdateMarketsBalances refreshes the given markets and everything they depend on, then
// realizes fees against the new total. Requires Alpha. Any valuation error reverts the call.
func (v *Vault) UpdateMarketsBalances(caller common.Address, markets []types.MarketID) error {
	if err := v.require(caller, access.Alpha); err != nil {
		return err
	}
	return v.atomically("update_markets_balances", func(b *batch) error {
		if err := v.refreshMarkets(b, markets); err != nil {
			return err
		}
		return v.realizeFees(b)
	})
}

// refreshStale refreshes every market whose cached balance is marked stale.
func (v *Vault) refreshStale(b *batch) error {
	var stale []types.MarketID
	for _, id := range v.state.marketIDs() {
		if v.state.Markets[id].Stale {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	return v.refreshMarkets(b, stale)
}

func (v *Vault) refreshMarkets(b *batch, markets []types.MarketID) error {
	order, err := v.refreshOrder(markets)
	if err != nil {
		return err
	}
	for _, id := range order {
		if err := v.refreshMarket(b, id); err != nil {
			return err
		}
	}
	return nil
}

func (v *Vault) refreshMarket(b *batch, id types.MarketID) error {
	m := v.state.market(id)
	balance := sdkmath.ZeroInt()
	if len(m.Substrates) > 0 && m.BalanceFuse != (common.Address{}) {
		bf, ok := v.balanceFuses[m.BalanceFuse]
		if !ok {
			return fmt.Errorf("market %d: %w: balance fuse %s", id, ErrUnsupportedFuse, m.BalanceFuse.Hex())
		}
		usd, err := bf.BalanceOf(b)
		if err != nil {
			return fmt.Errorf("market %d valuation: %w", id, err)
		}
		if usd.IsNil() {
			usd = sdkmath.ZeroInt()
		}
		if usd.IsNegative() {
			return &fuse.NegativeBalanceError{MarketID: id, Delta: usd}
		}
		if balance, err = v.usdToAssets(usd); err != nil {
			return fmt.Errorf("market %d valuation: %w", id, err)
		}
	}

	previous := m.Balance
	m.Balance = balance
	m.Stale = false
	if !previous.Equal(balance) {
		b.Emit(types.Event{
			Kind:     types.EventMarketBalance,
			MarketID: id,
			Fields: map[string]string{
				"previous": previous.String(),
				"balance":  balance.String(),
			},
		})
	}
	v.logger.Debug().Uint64("market_id", uint64(id)).Str("balance", balance.String()).Msg("Market balance refreshed")
	return nil
}

// usdToAssets converts a WAD USD value into underlying units at the current price.
func (v *Vault) usdToAssets(usd sdkmath.Int) (sdkmath.Int, error) {
	if usd.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	price, priceDecimals, err := v.prices.GetPrice(v.asset)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return utils.AmountFromUSD(usd, v.decimals, price, priceDecimals)
}
