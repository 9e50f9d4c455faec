package access

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/elys-network/plasmavault/internal/logger"
)

var (
	ErrZeroAddress       = errors.New("zero address")
	ErrUnauthorized      = errors.New("caller lacks required capability")
	ErrUnknownCapability = errors.New("unknown capability")
	ErrLastAdmin         = errors.New("cannot remove the last admin")
)

// Capability is a named permission checked before privileged mutations.
type Capability string

const (
	// Admin grants and revokes every other capability.
	Admin Capability = "ADMIN"
	// Atomist configures fees, withdrawal parameters, instant-withdraw fuses and callback handlers.
	Atomist Capability = "ATOMIST"
	// Alpha submits execution batches and refreshes market balances.
	Alpha Capability = "ALPHA"
	// FuseManager edits the fuse allow-list, market substrates, balance fuses and dependencies.
	FuseManager Capability = "FUSE_MANAGER"
	// Maintenance runs restricted recovery batches outside of the alpha path.
	Maintenance Capability = "MAINTENANCE"
	// PriceManager sets price feeds for assets.
	PriceManager Capability = "PRICE_MANAGER"
	// Claimer distributes accrued fee shares and vested rewards.
	Claimer Capability = "CLAIMER"
)

// AllCapabilities lists every known capability in a stable order.
var AllCapabilities = []Capability{Admin, Atomist, Alpha, FuseManager, Maintenance, PriceManager, Claimer}

// ParseCapability validates a capability name.
func ParseCapability(name string) (Capability, error) {
	for _, c := range AllCapabilities {
		if string(c) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownCapability, name)
}

// Authorizer is the capability check consulted before every privileged mutation.
type Authorizer interface {
	HasCapability(caller common.Address, c Capability) bool
}

// Require returns ErrUnauthorized (with context) when caller lacks c.
func Require(auth Authorizer, caller common.Address, c Capability) error {
	if auth == nil || !auth.HasCapability(caller, c) {
		return fmt.Errorf("%w: %s does not hold %s", ErrUnauthorized, caller.Hex(), c)
	}
	return nil
}

// Manager is an in-memory role registry. It is safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	members map[Capability]map[common.Address]struct{}
	logger  zerolog.Logger
}

// NewManager creates a manager whose only member is admin, holding Admin.
func NewManager(admin common.Address) (*Manager, error) {
	if admin == (common.Address{}) {
		return nil, fmt.Errorf("%w: initial admin", ErrZeroAddress)
	}
	m := &Manager{
		members: make(map[Capability]map[common.Address]struct{}),
		logger:  logger.GetForComponent("access_manager"),
	}
	m.add(Admin, admin)
	return m, nil
}

// HasCapability implements Authorizer.
func (m *Manager) HasCapability(caller common.Address, c Capability) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.members[c][caller]
	return ok
}

// Grant gives account the capability. The caller must hold Admin.
func (m *Manager) Grant(caller common.Address, c Capability, account common.Address) error {
	if err := m.checkMutation(caller, c, account); err != nil {
		return err
	}
	m.mu.Lock()
	m.add(c, account)
	m.mu.Unlock()

	m.logger.Info().Str("capability", string(c)).Str("account", account.Hex()).Str("by", caller.Hex()).Msg("Capability granted")
	return nil
}

// Revoke removes the capability from account. The caller must hold Admin.
func (m *Manager) Revoke(caller common.Address, c Capability, account common.Address) error {
	if err := m.checkMutation(caller, c, account); err != nil {
		return err
	}
	return m.remove(c, account, caller)
}

// Renounce lets an account drop one of its own capabilities.
func (m *Manager) Renounce(account common.Address, c Capability) error {
	return m.remove(c, account, account)
}

// Members returns the holders of c sorted by address.
func (m *Manager) Members(c Capability) []common.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]common.Address, 0, len(m.members[c]))
	for addr := range m.members[c] {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (m *Manager) checkMutation(caller common.Address, c Capability, account common.Address) error {
	if _, err := ParseCapability(string(c)); err != nil {
		return err
	}
	if account == (common.Address{}) {
		return fmt.Errorf("%w: account", ErrZeroAddress)
	}
	return Require(m, caller, Admin)
}

func (m *Manager) add(c Capability, account common.Address) {
	set, ok := m.members[c]
	if !ok {
		set = make(map[common.Address]struct{})
		m.members[c] = set
	}
	set[account] = struct{}{}
}

func (m *Manager) remove(c Capability, account, by common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.members[c]
	if _, ok := set[account]; !ok {
		return nil
	}
	if c == Admin && len(set) == 1 {
		return ErrLastAdmin
	}
	delete(set, account)
	m.logger.Info().Str("capability", string(c)).Str("account", account.Hex()).Str("by", by.Hex()).Msg("Capability revoked")
	return nil
}
