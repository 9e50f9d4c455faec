package vault

import (
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/plasmavault/internal/access"
	"github.com/elys-network/plasmavault/internal/substrate"
	"github.com/elys-network/plasmavault/internal/types"
)

// GrantSubstrates replaces the full substrate list of a market. Requires FuseManager.
// The cached balance is marked stale; balances themselves do not change.
func (v *Vault) GrantSubstrates(caller common.Address, market types.MarketID, substrates []substrate.Substrate) error {
	if err := v.require(caller, access.FuseManager); err != nil {
		return err
	}
	for i, s := range substrates {
		if s.Type() == substrate.Undefined {
			return fmt.Errorf("%w: market %d index %d (%s)", ErrUndefinedSubstrate, market, i, s.Hex())
		}
	}
	if err := v.enter(); err != nil {
		return err
	}
	defer v.leave()

	list := make([]substrate.Substrate, 0, len(substrates))
	for _, s := range substrates {
		if !slices.Contains(list, s) {
			list = append(list, s)
		}
	}
	m := v.state.market(market)
	m.Substrates = list
	m.Stale = true

	v.logger.Info().Uint64("market_id", uint64(market)).Int("substrates", len(list)).Msg("Market substrates granted")
	return nil
}

// RevokeAll clears the substrate list of a market. Requires FuseManager.
func (v *Vault) RevokeAll(caller common.Address, market types.MarketID) error {
	if err := v.require(caller, access.FuseManager); err != nil {
		return err
	}
	if err := v.enter(); err != nil {
		return err
	}
	defer v.leave()

	if m, ok := v.state.Markets[market]; ok {
		m.Substrates = nil
		m.Stale = true
	}
	v.logger.Info().Uint64("market_id", uint64(market)).Msg("Market substrates revoked")
	return nil
}

// IsGranted reports whether s is in the market's allow-list.
func (v *Vault) IsGranted(market types.MarketID, s substrate.Substrate) bool {
	m, ok := v.state.Markets[market]
	return ok && slices.Contains(m.Substrates, s)
}

// ListSubstrates returns a copy of the market's allow-list.
func (v *Vault) ListSubstrates(market types.MarketID) []substrate.Substrate {
	m, ok := v.state.Markets[market]
	if !ok {
		return nil
	}
	return slices.Clone(m.Substrates)
}

// Markets lists every market the vault knows about, in ID order.
func (v *Vault) Markets() []types.MarketID {
	return v.state.marketIDs()
}

// Dependencies returns the markets that must be refreshed before market.
func (v *Vault) Dependencies(market types.MarketID) []types.MarketID {
	m, ok := v.state.Markets[market]
	if !ok {
		return nil
	}
	return slices.Clone(m.Dependencies)
}

// SetDependencies replaces the dependency list of a market. Requires FuseManager.
// A list that would make the market depend on itself, directly or transitively, is rejected.
func (v *Vault) SetDependencies(caller common.Address, market types.MarketID, deps []types.MarketID) error {
	if err := v.require(caller, access.FuseManager); err != nil {
		return err
	}
	list := make([]types.MarketID, 0, len(deps))
	for _, d := range deps {
		if d == market {
			return fmt.Errorf("%w: market %d depends on itself", ErrDependencyCycle, market)
		}
		if !slices.Contains(list, d) {
			list = append(list, d)
		}
	}
	if path, ok := v.reaches(list, market); ok {
		return fmt.Errorf("%w: %d -> %v", ErrDependencyCycle, market, path)
	}
	if err := v.enter(); err != nil {
		return err
	}
	defer v.leave()

	v.state.market(market).Dependencies = list
	for _, d := range list {
		v.state.market(d)
	}
	v.logger.Info().Uint64("market_id", uint64(market)).Interface("dependencies", list).Msg("Market dependencies set")
	return nil
}

// reaches does a depth-first search from starts over the current dependency graph and reports
// whether target is reachable, returning the path that reaches it.
func (v *Vault) reaches(starts []types.MarketID, target types.MarketID) ([]types.MarketID, bool) {
	visited := make(map[types.MarketID]bool)
	var path []types.MarketID
	var walk func(id types.MarketID) bool
	walk = func(id types.MarketID) bool {
		path = append(path, id)
		if id == target {
			return true
		}
		if !visited[id] {
			visited[id] = true
			if m, ok := v.state.Markets[id]; ok {
				for _, d := range m.Dependencies {
					if walk(d) {
						return true
					}
				}
			}
		}
		path = path[:len(path)-1]
		return false
	}
	for _, s := range starts {
		if walk(s) {
			return path, true
		}
	}
	return nil, false
}

// refreshOrder expands ids with their transitive dependencies and orders the result so every
// market comes after the markets it depends on.
func (v *Vault) refreshOrder(ids []types.MarketID) ([]types.MarketID, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)

	const (
		unvisited = iota
		visiting
		done
	)
	marks := make(map[types.MarketID]int)
	order := make([]types.MarketID, 0, len(sorted))
	var visit func(id types.MarketID) error
	visit = func(id types.MarketID) error {
		switch marks[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: at market %d", ErrDependencyCycle, id)
		}
		marks[id] = visiting
		if m, ok := v.state.Markets[id]; ok {
			for _, d := range m.Dependencies {
				if err := visit(d); err != nil {
					return err
				}
			}
		}
		marks[id] = done
		order = append(order, id)
		return nil
	}
	for _, id := range sorted {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}
