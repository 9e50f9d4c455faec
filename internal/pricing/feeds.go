/*
Composite price feeds. Both feeds report prices with 18 decimals.
*/

package pricing

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/plasmavault/internal/utils"
)

// Aggregator is a single oracle leg (answer plus the decimals of that answer).
type Aggregator interface {
	Decimals() uint64
	LatestAnswer() (sdkmath.Int, error)
}

// DualCrossReferenceFeed prices Asset in USD through an intermediate quote asset:
// price(Asset/USD) = answer(Asset/Quote) * answer(Quote/USD).
type DualCrossReferenceFeed struct {
	Asset      common.Address
	AssetQuote Aggregator
	QuoteUSD   Aggregator
}

// NewDualCrossReferenceFeed validates and builds a cross-reference feed.
func NewDualCrossReferenceFeed(asset common.Address, assetQuote, quoteUSD Aggregator) (*DualCrossReferenceFeed, error) {
	if asset == (common.Address{}) {
		return nil, fmt.Errorf("%w: asset", ErrZeroAddress)
	}
	if assetQuote == nil || quoteUSD == nil {
		return nil, ErrNilFeed
	}
	return &DualCrossReferenceFeed{Asset: asset, AssetQuote: assetQuote, QuoteUSD: quoteUSD}, nil
}

// LatestPrice implements Feed.
func (f *DualCrossReferenceFeed) LatestPrice() (sdkmath.Int, uint64, error) {
	first, err := readLeg(f.AssetQuote)
	if err != nil {
		return sdkmath.ZeroInt(), 0, fmt.Errorf("asset/quote leg: %w", err)
	}
	second, err := readLeg(f.QuoteUSD)
	if err != nil {
		return sdkmath.ZeroInt(), 0, fmt.Errorf("quote/usd leg: %w", err)
	}
	price := utils.ConvertDecimals(first.Mul(second), f.AssetQuote.Decimals()+f.QuoteUSD.Decimals(), utils.WadDecimals)
	if !price.IsPositive() {
		return sdkmath.ZeroInt(), 0, fmt.Errorf("%w: composed price rounds to zero", ErrInvalidPrice)
	}
	return price, utils.WadDecimals, nil
}

func readLeg(agg Aggregator) (sdkmath.Int, error) {
	answer, err := agg.LatestAnswer()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := checkPrice(answer, agg.Decimals()); err != nil {
		return sdkmath.ZeroInt(), err
	}
	return answer, nil
}

// PoolCoin is one constituent of a stable pool.
type PoolCoin struct {
	Asset    common.Address
	Decimals uint64
	Balance  sdkmath.Int
}

// StablePool is the view of a Curve-style stable-swap pool the LP feed needs.
type StablePool interface {
	Address() common.Address
	TotalSupply() sdkmath.Int
	Decimals() uint64
	Coins() []PoolCoin
}

// CurveStablePoolFeed prices one LP token of a stable pool as the USD value of the pool's
// reserves divided by the LP supply. Constituent prices come from a Resolver.
type CurveStablePoolFeed struct {
	pool     StablePool
	resolver Resolver
}

// NewCurveStablePoolFeed builds the feed and reads it once, so a pool that cannot be priced
// (no supply, unpriced coin) is rejected at construction time.
func NewCurveStablePoolFeed(pool StablePool, resolver Resolver) (*CurveStablePoolFeed, error) {
	if pool == nil || pool.Address() == (common.Address{}) {
		return nil, fmt.Errorf("%w: pool", ErrZeroAddress)
	}
	if resolver == nil {
		return nil, ErrNilFeed
	}
	feed := &CurveStablePoolFeed{pool: pool, resolver: resolver}
	if _, _, err := feed.LatestPrice(); err != nil {
		return nil, err
	}
	return feed, nil
}

// LatestPrice implements Feed.
func (f *CurveStablePoolFeed) LatestPrice() (sdkmath.Int, uint64, error) {
	supply := f.pool.TotalSupply()
	if supply.IsNil() || !supply.IsPositive() {
		return sdkmath.ZeroInt(), 0, fmt.Errorf("%w: pool %s reports %v", ErrInvalidTotalSupply, f.pool.Address().Hex(), supply)
	}

	reservesUSD := sdkmath.ZeroInt()
	for _, coin := range f.pool.Coins() {
		price, decimals, err := f.resolver.GetPrice(coin.Asset)
		if err != nil {
			return sdkmath.ZeroInt(), 0, err
		}
		if !price.IsPositive() {
			return sdkmath.ZeroInt(), 0, fmt.Errorf("%w: coin %s", ErrInvalidPrice, coin.Asset.Hex())
		}
		reservesUSD = reservesUSD.Add(utils.ValueInUSD(coin.Balance, coin.Decimals, price, decimals))
	}

	// reservesUSD is WAD; scale the LP supply to WAD as well so the ratio stays WAD.
	price, err := utils.MulDiv(reservesUSD, utils.Wad(), utils.ToWad(supply, f.pool.Decimals()))
	if err != nil {
		return sdkmath.ZeroInt(), 0, err
	}
	if !price.IsPositive() {
		return sdkmath.ZeroInt(), 0, fmt.Errorf("%w: pool %s has no priced reserves", ErrInvalidPrice, f.pool.Address().Hex())
	}
	return price, utils.WadDecimals, nil
}
