package factory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/elys-network/plasmavault/internal/access"
	"github.com/elys-network/plasmavault/internal/logger"
)

var ErrNotApproved = errors.New("actor is not an approved context address")

// ContextManager lets owners opt approved actors (routers, zappers) into acting on their behalf
// for redemptions and request cancellation. An actor needs both the Atomist's approval and the
// owner's opt-in; removing the approval disables every opt-in at once.
type ContextManager struct {
	mu       sync.RWMutex
	address  common.Address
	auth     access.Authorizer
	approved map[common.Address]struct{}
	optIns   map[common.Address]map[common.Address]struct{}
	logger   zerolog.Logger
}

func NewContextManager(address common.Address, auth access.Authorizer) *ContextManager {
	return &ContextManager{
		address:  address,
		auth:     auth,
		approved: make(map[common.Address]struct{}),
		optIns:   make(map[common.Address]map[common.Address]struct{}),
		logger:   logger.GetForComponent("context_manager"),
	}
}

func (c *ContextManager) Address() common.Address { return c.address }

// AddApprovedAddresses approves actors. Requires Atomist.
func (c *ContextManager) AddApprovedAddresses(caller common.Address, actors ...common.Address) error {
	if err := access.Require(c.auth, caller, access.Atomist); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range actors {
		if a == (common.Address{}) {
			return fmt.Errorf("%w: zero actor", ErrNotApproved)
		}
		c.approved[a] = struct{}{}
		c.logger.Info().Str("actor", a.Hex()).Msg("Context address approved")
	}
	return nil
}

// RemoveApprovedAddresses withdraws approval. Requires Atomist.
func (c *ContextManager) RemoveApprovedAddresses(caller common.Address, actors ...common.Address) error {
	if err := access.Require(c.auth, caller, access.Atomist); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range actors {
		delete(c.approved, a)
	}
	return nil
}

// IsApproved reports the Atomist's approval of actor.
func (c *ContextManager) IsApproved(actor common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.approved[actor]
	return ok
}

// SetContext toggles owner's opt-in for actor. Only approved actors can be enabled.
func (c *ContextManager) SetContext(owner, actor common.Address, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !enabled {
		delete(c.optIns[owner], actor)
		return nil
	}
	if _, ok := c.approved[actor]; !ok {
		return fmt.Errorf("%w: %s", ErrNotApproved, actor.Hex())
	}
	set, ok := c.optIns[owner]
	if !ok {
		set = make(map[common.Address]struct{})
		c.optIns[owner] = set
	}
	set[actor] = struct{}{}
	return nil
}

// CanActFor implements vault.ActorResolver.
func (c *ContextManager) CanActFor(actor, owner common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.approved[actor]; !ok {
		return false
	}
	_, ok := c.optIns[owner][actor]
	return ok
}
