/*
Package factory instantiates vaults with deterministic, salted addresses.

Every component address is computed the CREATE2 way (keccak256(0xff ++ factory ++ salt ++
keccak256(initCode)))[12:], so all addresses of an instance are known before anything exists.
Phase-1 components are created together with the vault. Phase-2 components (the rewards manager
and the context manager) only get their address up front and are created on demand. While any
Phase-2 component is missing the factory keeps the Admin capability on the vault's access
manager; it renounces it as soon as the last one is deployed.
*/
package factory

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/elys-network/plasmavault/internal/access"
	"github.com/elys-network/plasmavault/internal/logger"
	"github.com/elys-network/plasmavault/internal/pricing"
	"github.com/elys-network/plasmavault/internal/types"
	"github.com/elys-network/plasmavault/internal/vault"
)

// Error definitions for zero-tolerance error handling
var (
	ErrComponentAlreadyDeployed = errors.New("component already deployed")
	ErrVaultNotRegistered       = errors.New("vault not registered with factory")
	ErrVaultExists              = errors.New("vault already exists for salt")
	ErrUnknownComponent         = errors.New("unknown component")
	ErrInvalidParams            = errors.New("invalid vault parameters")
)

// Component names one deployable part of a vault instance.
type Component string

const (
	ComponentVault           Component = "PLASMA_VAULT"
	ComponentAccessManager   Component = "ACCESS_MANAGER"
	ComponentPriceManager    Component = "PRICE_MANAGER"
	ComponentWithdrawManager Component = "WITHDRAW_MANAGER"
	ComponentFeeManager      Component = "FEE_MANAGER"
	ComponentRewardsManager  Component = "REWARDS_MANAGER"
	ComponentContextManager  Component = "CONTEXT_MANAGER"
)

// PhaseOne components exist as soon as the vault is created.
var PhaseOne = []Component{ComponentVault, ComponentAccessManager, ComponentPriceManager, ComponentWithdrawManager, ComponentFeeManager}

// PhaseTwo components are deployed lazily through DeployComponent.
var PhaseTwo = []Component{ComponentRewardsManager, ComponentContextManager}

// initCodeHash stands in for the keccak256 of a component's creation code.
func (c Component) initCodeHash() []byte {
	return crypto.Keccak256([]byte("plasmavault/" + string(c)))
}

// VaultParams describes a vault to create.
type VaultParams struct {
	// Salt makes the instance addresses unique per factory.
	Salt  [32]byte
	Admin common.Address

	Asset          common.Address
	AssetDecimals  uint64
	DecimalsOffset uint64
	Tokens         map[common.Address]uint64
	FeePackage     types.FeePackage
	Withdraw       types.WithdrawParameters
	SupplyCap      sdkmath.Int
	Sink           vault.EventSink
}

// Instance is everything the factory created for one vault.
type Instance struct {
	Salt      [32]byte
	Addresses map[Component]common.Address

	Vault    *vault.Vault
	Access   *access.Manager
	Prices   *pricing.Manager
	Rewards  *RewardsManager
	Context  *ContextManager
	deployed map[Component]bool
}

// Deployed reports whether a component has been created.
func (i *Instance) Deployed(c Component) bool {
	return i.deployed[c]
}

// Factory creates and tracks vault instances.
type Factory struct {
	mu        sync.Mutex
	address   common.Address
	now       func() time.Time
	instances map[common.Address]*Instance
	code      map[common.Address]Component
	logger    zerolog.Logger
}

// New creates a factory deploying from address. now is the clock handed to vaults and rewards
// managers; nil means time.Now.
func New(address common.Address, now func() time.Time) *Factory {
	if now == nil {
		now = time.Now
	}
	return &Factory{
		address:   address,
		now:       now,
		instances: make(map[common.Address]*Instance),
		code:      make(map[common.Address]Component),
		logger:    logger.GetForComponent("vault_factory"),
	}
}

// Address is the factory's own account; it is the temporary admin of new access managers.
func (f *Factory) Address() common.Address { return f.address }

// ComputeAddress returns the deterministic address of a component for salt.
func (f *Factory) ComputeAddress(salt [32]byte, c Component) common.Address {
	componentSalt := crypto.Keccak256Hash(salt[:], []byte(c))
	return crypto.CreateAddress2(f.address, componentSalt, c.initCodeHash())
}

// PredictAddresses returns every component address of the instance salt would create.
func (f *Factory) PredictAddresses(salt [32]byte) map[Component]common.Address {
	out := make(map[Component]common.Address, len(PhaseOne)+len(PhaseTwo))
	for _, c := range slices.Concat(PhaseOne, PhaseTwo) {
		out[c] = f.ComputeAddress(salt, c)
	}
	return out
}

// HasCode reports whether a component has been deployed at addr.
func (f *Factory) HasCode(addr common.Address) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.code[addr]
	return ok
}

// CreateVault deploys the Phase-1 components of a new instance and registers it.
func (f *Factory) CreateVault(p VaultParams) (*Instance, error) {
	if err := validateParams(p, f.address); err != nil {
		return nil, err
	}
	addrs := f.PredictAddresses(p.Salt)

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.instances[addrs[ComponentVault]]; ok {
		return nil, fmt.Errorf("%w: %s", ErrVaultExists, addrs[ComponentVault].Hex())
	}

	am, err := access.NewManager(f.address)
	if err != nil {
		return nil, err
	}
	if err := am.Grant(f.address, access.Admin, p.Admin); err != nil {
		return nil, err
	}
	prices := pricing.NewManager(am)
	v, err := vault.New(vault.Config{
		Address:        addrs[ComponentVault],
		Asset:          p.Asset,
		AssetDecimals:  p.AssetDecimals,
		DecimalsOffset: p.DecimalsOffset,
		Tokens:         p.Tokens,
		Authorizer:     am,
		Prices:         prices,
		FeePackage:     p.FeePackage,
		Withdraw:       p.Withdraw,
		SupplyCap:      p.SupplyCap,
		Sink:           p.Sink,
		Now:            f.now,
	})
	if err != nil {
		return nil, fmt.Errorf("create vault: %w", err)
	}

	inst := &Instance{
		Salt:      p.Salt,
		Addresses: addrs,
		Vault:     v,
		Access:    am,
		Prices:    prices,
		deployed:  make(map[Component]bool),
	}
	// the withdraw and fee managers are engines inside the vault; their addresses are kept
	// so off-chain consumers can address them like the other components
	for _, c := range PhaseOne {
		inst.deployed[c] = true
		f.code[addrs[c]] = c
	}
	f.instances[v.Address()] = inst

	f.logger.Info().
		Str("vault", v.Address().Hex()).
		Str("admin", p.Admin.Hex()).
		Str("rewards_manager", addrs[ComponentRewardsManager].Hex()).
		Str("context_manager", addrs[ComponentContextManager].Hex()).
		Msg("Vault instance created")
	return inst, nil
}

func validateParams(p VaultParams, factory common.Address) error {
	var errs []error
	if p.Admin == (common.Address{}) {
		errs = append(errs, errors.New("admin is zero"))
	}
	if p.Admin == factory {
		errs = append(errs, errors.New("admin cannot be the factory"))
	}
	if p.Asset == (common.Address{}) {
		errs = append(errs, errors.New("asset is zero"))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidParams}, errs...)...)
	}
	return nil
}

// Instance returns the instance registered for a vault address.
func (f *Factory) Instance(vaultAddr common.Address) (*Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[vaultAddr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotRegistered, vaultAddr.Hex())
	}
	return inst, nil
}

// Vaults lists registered vault addresses.
func (f *Factory) Vaults() []common.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := slices.Collect(maps.Keys(f.instances))
	slices.SortFunc(out, func(a, b common.Address) int { return a.Cmp(b) })
	return out
}

// DeployComponent creates a Phase-2 component of a registered vault at its precomputed address.
func (f *Factory) DeployComponent(vaultAddr common.Address, c Component) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	inst, ok := f.instances[vaultAddr]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrVaultNotRegistered, vaultAddr.Hex())
	}
	addr, ok := inst.Addresses[c]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownComponent, c)
	}
	if inst.deployed[c] {
		return common.Address{}, fmt.Errorf("%w: %s at %s", ErrComponentAlreadyDeployed, c, addr.Hex())
	}

	switch c {
	case ComponentRewardsManager:
		rm := NewRewardsManager(addr, inst.Vault, inst.Access, f.now)
		if err := inst.Access.Grant(f.address, access.Claimer, addr); err != nil {
			return common.Address{}, fmt.Errorf("grant claimer to rewards manager: %w", err)
		}
		inst.Rewards = rm
	case ComponentContextManager:
		cm := NewContextManager(addr, inst.Access)
		if err := inst.Vault.SetActorResolver(f.address, cm); err != nil {
			return common.Address{}, fmt.Errorf("install context manager: %w", err)
		}
		inst.Context = cm
	default:
		return common.Address{}, fmt.Errorf("%w: %s is not deployed lazily", ErrUnknownComponent, c)
	}
	inst.deployed[c] = true
	f.code[addr] = c
	f.logger.Info().Str("vault", vaultAddr.Hex()).Str("component", string(c)).Str("address", addr.Hex()).Msg("Component deployed")

	if f.phaseTwoComplete(inst) {
		if err := inst.Access.Renounce(f.address, access.Admin); err != nil {
			return addr, fmt.Errorf("renounce factory admin: %w", err)
		}
		f.logger.Info().Str("vault", vaultAddr.Hex()).Msg("Factory admin renounced")
	}
	return addr, nil
}

func (f *Factory) phaseTwoComplete(inst *Instance) bool {
	for _, c := range PhaseTwo {
		if !inst.deployed[c] {
			return false
		}
	}
	return true
}
