package pricing

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/elys-network/plasmavault/internal/logger"
)

// FeedFactory creates composite feeds from oracle legs and pools registered by address.
// Every feed it creates gets a deterministic address derived from the factory address and
// a creation nonce, mirroring how the feeds would be deployed on chain.
type FeedFactory struct {
	mu          sync.Mutex
	address     common.Address
	nonce       uint64
	aggregators map[common.Address]Aggregator
	pools       map[common.Address]StablePool
	created     map[common.Address]Feed
	logger      zerolog.Logger
}

// NewFeedFactory creates a factory living at address.
func NewFeedFactory(address common.Address) *FeedFactory {
	return &FeedFactory{
		address:     address,
		aggregators: make(map[common.Address]Aggregator),
		pools:       make(map[common.Address]StablePool),
		created:     make(map[common.Address]Feed),
		logger:      logger.GetForComponent("price_feed_factory"),
	}
}

// RegisterAggregator makes an oracle leg addressable.
func (f *FeedFactory) RegisterAggregator(addr common.Address, agg Aggregator) error {
	if addr == (common.Address{}) {
		return fmt.Errorf("%w: aggregator", ErrZeroAddress)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aggregators[addr] = agg
	return nil
}

// RegisterPool makes a stable pool addressable.
func (f *FeedFactory) RegisterPool(pool StablePool) error {
	if pool == nil || pool.Address() == (common.Address{}) {
		return fmt.Errorf("%w: pool", ErrZeroAddress)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pools[pool.Address()] = pool
	return nil
}

// CreateDualCrossReferenceFeed builds a feed for asset from the Asset/Quote and Quote/USD legs.
func (f *FeedFactory) CreateDualCrossReferenceFeed(asset, assetQuoteFeed, quoteUSDFeed common.Address) (common.Address, *DualCrossReferenceFeed, error) {
	if asset == (common.Address{}) {
		return common.Address{}, nil, fmt.Errorf("%w: asset", ErrZeroAddress)
	}
	if assetQuoteFeed == (common.Address{}) || quoteUSDFeed == (common.Address{}) {
		return common.Address{}, nil, fmt.Errorf("%w: feed leg", ErrZeroAddress)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	first, ok := f.aggregators[assetQuoteFeed]
	if !ok {
		return common.Address{}, nil, fmt.Errorf("%w: %s", ErrUnknownFeed, assetQuoteFeed.Hex())
	}
	second, ok := f.aggregators[quoteUSDFeed]
	if !ok {
		return common.Address{}, nil, fmt.Errorf("%w: %s", ErrUnknownFeed, quoteUSDFeed.Hex())
	}
	feed, err := NewDualCrossReferenceFeed(asset, first, second)
	if err != nil {
		return common.Address{}, nil, err
	}
	addr := f.record(feed)
	f.logger.Info().Str("feed", addr.Hex()).Str("asset", asset.Hex()).Msg("Dual cross-reference feed created")
	return addr, feed, nil
}

// CreateCurveStablePoolFeed builds an LP feed for a registered pool, pricing its coins with resolver.
func (f *FeedFactory) CreateCurveStablePoolFeed(poolAddr common.Address, resolver Resolver) (common.Address, *CurveStablePoolFeed, error) {
	if poolAddr == (common.Address{}) {
		return common.Address{}, nil, fmt.Errorf("%w: pool", ErrZeroAddress)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	pool, ok := f.pools[poolAddr]
	if !ok {
		return common.Address{}, nil, fmt.Errorf("%w: %s", ErrUnknownFeed, poolAddr.Hex())
	}
	feed, err := NewCurveStablePoolFeed(pool, resolver)
	if err != nil {
		return common.Address{}, nil, err
	}
	addr := f.record(feed)
	f.logger.Info().Str("feed", addr.Hex()).Str("pool", poolAddr.Hex()).Msg("Curve stable pool feed created")
	return addr, feed, nil
}

// Feed returns a feed previously created by this factory.
func (f *FeedFactory) Feed(addr common.Address) (Feed, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	feed, ok := f.created[addr]
	return feed, ok
}

// record must be called with f.mu held.
func (f *FeedFactory) record(feed Feed) common.Address {
	addr := crypto.CreateAddress(f.address, f.nonce)
	f.nonce++
	f.created[addr] = feed
	return addr
}
