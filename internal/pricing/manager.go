package pricing

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/elys-network/plasmavault/internal/access"
	"github.com/elys-network/plasmavault/internal/logger"
	"github.com/elys-network/plasmavault/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrice       = errors.New("invalid price")
	ErrZeroAddress        = errors.New("zero address")
	ErrInvalidTotalSupply = errors.New("invalid total supply")
	ErrUnknownFeed        = errors.New("unknown price feed source")
	ErrNilFeed            = errors.New("price feed is nil")
)

// Resolver maps an asset to its USD price and the decimals of that price.
// Implementations never return a zero price: unset or zero prices fail with ErrInvalidPrice.
type Resolver interface {
	GetPrice(asset common.Address) (sdkmath.Int, uint64, error)
}

// Feed is a single price source for one asset.
type Feed interface {
	LatestPrice() (sdkmath.Int, uint64, error)
}

// Manager is the vault's price manager: a per-asset registry of feeds.
type Manager struct {
	mu     sync.RWMutex
	feeds  map[common.Address]Feed
	auth   access.Authorizer
	logger zerolog.Logger
}

// NewManager creates an empty price manager guarded by auth.
func NewManager(auth access.Authorizer) *Manager {
	return &Manager{
		feeds:  make(map[common.Address]Feed),
		auth:   auth,
		logger: logger.GetForComponent("price_manager"),
	}
}

// SetFeed registers or replaces the feed for asset. Requires PriceManager.
func (m *Manager) SetFeed(caller common.Address, asset common.Address, feed Feed) error {
	if err := access.Require(m.auth, caller, access.PriceManager); err != nil {
		return err
	}
	if asset == (common.Address{}) {
		return fmt.Errorf("%w: asset", ErrZeroAddress)
	}
	if feed == nil {
		return ErrNilFeed
	}
	m.mu.Lock()
	m.feeds[asset] = feed
	m.mu.Unlock()

	m.logger.Info().Str("asset", asset.Hex()).Msg("Price feed set")
	return nil
}

// RemoveFeed deletes the feed for asset. Requires PriceManager.
func (m *Manager) RemoveFeed(caller common.Address, asset common.Address) error {
	if err := access.Require(m.auth, caller, access.PriceManager); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.feeds, asset)
	m.mu.Unlock()
	return nil
}

// Assets lists the assets that have a feed.
func (m *Manager) Assets() []common.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]common.Address, 0, len(m.feeds))
	for a := range m.feeds {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// GetPrice implements Resolver.
func (m *Manager) GetPrice(asset common.Address) (sdkmath.Int, uint64, error) {
	m.mu.RLock()
	feed, ok := m.feeds[asset]
	m.mu.RUnlock()
	if !ok {
		return sdkmath.ZeroInt(), 0, fmt.Errorf("%w: no feed for %s", ErrInvalidPrice, asset.Hex())
	}
	price, decimals, err := feed.LatestPrice()
	if err != nil {
		return sdkmath.ZeroInt(), 0, fmt.Errorf("price feed for %s: %w", asset.Hex(), err)
	}
	if err := checkPrice(price, decimals); err != nil {
		return sdkmath.ZeroInt(), 0, fmt.Errorf("%w: asset %s", err, asset.Hex())
	}
	return price, decimals, nil
}

func checkPrice(price sdkmath.Int, decimals uint64) error {
	if price.IsNil() || !price.IsPositive() {
		return fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}
	if err := utils.ValidateDecimals(decimals); err != nil {
		return errors.Join(ErrInvalidPrice, err)
	}
	return nil
}

// StaticFeed returns a fixed price. The price can be updated in place, which is how
// operators push off-chain marks and how tests move markets.
type StaticFeed struct {
	mu       sync.RWMutex
	price    sdkmath.Int
	decimals uint64
}

// NewStaticFeed creates a feed with the given price and decimals.
func NewStaticFeed(price sdkmath.Int, decimals uint64) *StaticFeed {
	return &StaticFeed{price: price, decimals: decimals}
}

// Set replaces the price.
func (f *StaticFeed) Set(price sdkmath.Int) {
	f.mu.Lock()
	f.price = price
	f.mu.Unlock()
}

// LatestPrice implements Feed.
func (f *StaticFeed) LatestPrice() (sdkmath.Int, uint64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := checkPrice(f.price, f.decimals); err != nil {
		return sdkmath.ZeroInt(), 0, err
	}
	return f.price, f.decimals, nil
}
