package vault

import (
	"maps"
	"slices"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/plasmavault/internal/substrate"
	"github.com/elys-network/plasmavault/internal/types"
)

// Market is the vault's bookkeeping for one integration.
type Market struct {
	ID           types.MarketID
	Substrates   []substrate.Substrate
	Balance      sdkmath.Int // underlying units
	Stale        bool
	Dependencies []types.MarketID
	BalanceFuse  common.Address
}

func (m *Market) clone() *Market {
	c := *m
	c.Substrates = slices.Clone(m.Substrates)
	c.Dependencies = slices.Clone(m.Dependencies)
	return &c
}

// State is everything a rollback has to restore. It is owned by exactly one Vault.
type State struct {
	Tokens      map[common.Address]sdkmath.Int
	Shares      map[common.Address]sdkmath.Int
	TotalSupply sdkmath.Int
	Markets     map[types.MarketID]*Market
	Fees        types.FeeAccount
	Requests    map[string]*types.WithdrawalRequest
	Queue       []string
	LastDeposit map[common.Address]time.Time
	Batches     uint64
}

func newState() *State {
	return &State{
		Tokens:      make(map[common.Address]sdkmath.Int),
		Shares:      make(map[common.Address]sdkmath.Int),
		TotalSupply: sdkmath.ZeroInt(),
		Markets:     make(map[types.MarketID]*Market),
		Fees: types.FeeAccount{
			HighWaterMark:              sdkmath.ZeroInt(),
			ClaimableManagementShares:  sdkmath.ZeroInt(),
			ClaimablePerformanceShares: sdkmath.ZeroInt(),
			TotalManagementAssets:      sdkmath.ZeroInt(),
			TotalPerformanceAssets:     sdkmath.ZeroInt(),
		},
		Requests:    make(map[string]*types.WithdrawalRequest),
		LastDeposit: make(map[common.Address]time.Time),
	}
}

// Clone returns a deep copy. sdkmath.Int values are immutable and are shared.
func (s *State) Clone() *State {
	c := &State{
		Tokens:      maps.Clone(s.Tokens),
		Shares:      maps.Clone(s.Shares),
		TotalSupply: s.TotalSupply,
		Markets:     make(map[types.MarketID]*Market, len(s.Markets)),
		Fees:        s.Fees,
		Requests:    make(map[string]*types.WithdrawalRequest, len(s.Requests)),
		Queue:       slices.Clone(s.Queue),
		LastDeposit: maps.Clone(s.LastDeposit),
		Batches:     s.Batches,
	}
	for id, m := range s.Markets {
		c.Markets[id] = m.clone()
	}
	for id, r := range s.Requests {
		req := *r
		c.Requests[id] = &req
	}
	return c
}

func (s *State) token(addr common.Address) sdkmath.Int {
	if v, ok := s.Tokens[addr]; ok {
		return v
	}
	return sdkmath.ZeroInt()
}

func (s *State) shares(addr common.Address) sdkmath.Int {
	if v, ok := s.Shares[addr]; ok {
		return v
	}
	return sdkmath.ZeroInt()
}

// market returns the market, creating an empty one if needed.
func (s *State) market(id types.MarketID) *Market {
	m, ok := s.Markets[id]
	if !ok {
		m = &Market{ID: id, Balance: sdkmath.ZeroInt()}
		s.Markets[id] = m
	}
	return m
}

func (s *State) marketIDs() []types.MarketID {
	ids := slices.Collect(maps.Keys(s.Markets))
	slices.Sort(ids)
	return ids
}
