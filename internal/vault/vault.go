/*
Package vault is the Plasma Vault accounting and execution engine.

A Vault is a single owned aggregate: it is not safe for concurrent use and expects its caller
to serialize access (the operator does this with a mutex). Every mutating operation runs as an
atomic batch; nested entry into a mutating operation while one is in progress fails with
ErrReentrantCall, except through the registered callback-handler path.
*/
package vault

import (
	"errors"
	"fmt"
	"slices"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/elys-network/plasmavault/internal/access"
	"github.com/elys-network/plasmavault/internal/fuse"
	"github.com/elys-network/plasmavault/internal/logger"
	"github.com/elys-network/plasmavault/internal/pricing"
	"github.com/elys-network/plasmavault/internal/types"
	"github.com/elys-network/plasmavault/internal/utils"
)

const (
	// MaxDecimalsOffset bounds the virtual-share offset used against inflation attacks.
	MaxDecimalsOffset = 18
	// MaxCallbackDepth bounds callback nesting within one batch.
	MaxCallbackDepth = 8
)

// EventSink receives the events of committed batches.
type EventSink interface {
	Publish(events []types.Event)
}

// ActorResolver decides whether actor may act for owner (redeem, withdraw, cancel requests).
type ActorResolver interface {
	CanActFor(actor, owner common.Address) bool
}

// Config holds everything needed to create a vault.
type Config struct {
	Address        common.Address
	Asset          common.Address
	AssetDecimals  uint64
	DecimalsOffset uint64
	// Tokens lists decimals for every non-underlying token fuses may value.
	Tokens     map[common.Address]uint64
	Authorizer access.Authorizer
	Prices     pricing.Resolver
	FeePackage types.FeePackage
	Withdraw   types.WithdrawParameters
	// SupplyCap limits total shares; zero or nil means unlimited.
	SupplyCap sdkmath.Int
	Sink      EventSink
	Now       func() time.Time
}

func validateConfig(cfg Config) error {
	var errs []error
	if cfg.Address == (common.Address{}) {
		errs = append(errs, fmt.Errorf("%w: vault address", ErrZeroAddress))
	}
	if cfg.Asset == (common.Address{}) {
		errs = append(errs, fmt.Errorf("%w: asset", ErrZeroAddress))
	}
	if err := utils.ValidateDecimals(cfg.AssetDecimals); err != nil {
		errs = append(errs, err)
	}
	if cfg.DecimalsOffset > MaxDecimalsOffset {
		errs = append(errs, fmt.Errorf("decimals offset %d exceeds %d", cfg.DecimalsOffset, MaxDecimalsOffset))
	}
	for token, decimals := range cfg.Tokens {
		if token == (common.Address{}) {
			errs = append(errs, fmt.Errorf("%w: token", ErrZeroAddress))
		}
		if err := utils.ValidateDecimals(decimals); err != nil {
			errs = append(errs, fmt.Errorf("token %s: %w", token.Hex(), err))
		}
	}
	if cfg.Authorizer == nil {
		errs = append(errs, errors.New("authorizer is required"))
	}
	if cfg.Prices == nil {
		errs = append(errs, errors.New("price resolver is required"))
	}
	if err := validateFeePackage(cfg.FeePackage); err != nil {
		errs = append(errs, err)
	}
	if err := validateWithdrawParameters(cfg.Withdraw); err != nil {
		errs = append(errs, err)
	}
	if !cfg.SupplyCap.IsNil() && cfg.SupplyCap.IsNegative() {
		errs = append(errs, errors.New("supply cap cannot be negative"))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}

func validateWithdrawParameters(p types.WithdrawParameters) error {
	if p.RedemptionDelay < 0 {
		return fmt.Errorf("%w: negative redemption delay", ErrInvalidConfig)
	}
	if p.QueueEnabled && p.WithdrawWindow <= 0 {
		return fmt.Errorf("%w: withdraw window must be positive when queuing is enabled", ErrInvalidConfig)
	}
	return nil
}

type callbackKey struct {
	origin   common.Address
	selector types.Selector
}

// Vault is the accounting and execution engine of one vault instance.
type Vault struct {
	address   common.Address
	asset     common.Address
	decimals  uint64
	offset    uint64
	tokens    map[common.Address]uint64
	auth      access.Authorizer
	prices    pricing.Resolver
	sink      EventSink
	actors    ActorResolver
	now       func() time.Time
	feePkg    types.FeePackage
	withdraw  types.WithdrawParameters
	supplyCap sdkmath.Int

	fuses           map[common.Address]fuse.Fuse
	balanceFuses    map[common.Address]fuse.BalanceFuse
	instantWithdraw []types.InstantWithdrawConfig
	handlers        map[callbackKey]fuse.CallbackHandler

	state   *State
	entered bool
	current *batch

	logger zerolog.Logger
}

// New creates an empty vault.
func New(cfg Config) (*Vault, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	supplyCap := cfg.SupplyCap
	if supplyCap.IsNil() {
		supplyCap = sdkmath.ZeroInt()
	}
	tokens := make(map[common.Address]uint64, len(cfg.Tokens)+1)
	for t, d := range cfg.Tokens {
		tokens[t] = d
	}
	tokens[cfg.Asset] = cfg.AssetDecimals

	v := &Vault{
		address:      cfg.Address,
		asset:        cfg.Asset,
		decimals:     cfg.AssetDecimals,
		offset:       cfg.DecimalsOffset,
		tokens:       tokens,
		auth:         cfg.Authorizer,
		prices:       cfg.Prices,
		sink:         cfg.Sink,
		now:          now,
		feePkg:       cfg.FeePackage,
		withdraw:     cfg.Withdraw,
		supplyCap:    supplyCap,
		fuses:        make(map[common.Address]fuse.Fuse),
		balanceFuses: make(map[common.Address]fuse.BalanceFuse),
		handlers:     make(map[callbackKey]fuse.CallbackHandler),
		state:        newState(),
		logger:       logger.GetForComponent("vault_engine").With().Str("vault", cfg.Address.Hex()).Logger(),
	}
	v.state.Fees.LastRealized = now()
	v.state.Fees.HighWaterMark = v.pricePerShare()

	v.logger.Info().
		Str("asset", cfg.Asset.Hex()).
		Uint64("decimals", cfg.AssetDecimals).
		Uint64("decimals_offset", cfg.DecimalsOffset).
		Str("fee_package", cfg.FeePackage.Name).
		Msg("Vault created")
	return v, nil
}

func (v *Vault) enter() error {
	if v.entered {
		return ErrReentrantCall
	}
	v.entered = true
	return nil
}

func (v *Vault) leave() {
	v.entered = false
}

func (v *Vault) require(caller common.Address, c access.Capability) error {
	return access.Require(v.auth, caller, c)
}

// Address is the vault's own account.
func (v *Vault) Address() common.Address { return v.address }

// Asset is the underlying asset.
func (v *Vault) Asset() common.Address { return v.asset }

// AssetDecimals is the precision of the underlying asset.
func (v *Vault) AssetDecimals() uint64 { return v.decimals }

// ShareDecimals is the precision of vault shares.
func (v *Vault) ShareDecimals() uint64 { return v.decimals + v.offset }

// TokenDecimals returns the configured precision of token.
func (v *Vault) TokenDecimals(token common.Address) (uint64, error) {
	d, ok := v.tokens[token]
	if !ok {
		return 0, fmt.Errorf("%w: %s", fuse.ErrUnknownToken, token.Hex())
	}
	return d, nil
}

// TokenBalance is the amount of token held directly by the vault.
func (v *Vault) TokenBalance(token common.Address) sdkmath.Int {
	return v.state.token(token)
}

// Prices returns the vault's price resolver.
func (v *Vault) Prices() pricing.Resolver { return v.prices }

// Authorizer returns the capability checker guarding the vault.
func (v *Vault) Authorizer() access.Authorizer { return v.auth }

// Phase reports the state of the batch in progress, if any.
func (v *Vault) Phase() Phase {
	if v.current == nil {
		return PhaseIdle
	}
	return v.current.phase
}

// FeePackage returns the active fee package.
func (v *Vault) FeePackage() types.FeePackage { return v.feePkg }

// WithdrawParameters returns the active redemption parameters.
func (v *Vault) WithdrawParameters() types.WithdrawParameters { return v.withdraw }

// SupplyCap returns the share cap; zero means unlimited.
func (v *Vault) SupplyCap() sdkmath.Int { return v.supplyCap }

// BatchesApplied counts committed execution batches.
func (v *Vault) BatchesApplied() uint64 { return v.state.Batches }

// AddFuses adds fuses to the allow-list. Requires FuseManager.
func (v *Vault) AddFuses(caller common.Address, fuses ...fuse.Fuse) error {
	if err := v.require(caller, access.FuseManager); err != nil {
		return err
	}
	if err := v.enter(); err != nil {
		return err
	}
	defer v.leave()

	for _, f := range fuses {
		if f == nil || f.Address() == (common.Address{}) {
			return fmt.Errorf("%w: fuse", ErrZeroAddress)
		}
		if _, ok := v.fuses[f.Address()]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateFuse, f.Address().Hex())
		}
	}
	for _, f := range fuses {
		v.fuses[f.Address()] = f
		v.logger.Info().Str("fuse", f.Address().Hex()).Uint64("market_id", uint64(f.MarketID())).Msg("Fuse added")
	}
	return nil
}

// RemoveFuses removes fuses from the allow-list. Requires FuseManager.
func (v *Vault) RemoveFuses(caller common.Address, addrs ...common.Address) error {
	if err := v.require(caller, access.FuseManager); err != nil {
		return err
	}
	if err := v.enter(); err != nil {
		return err
	}
	defer v.leave()

	for _, addr := range addrs {
		for _, cfg := range v.instantWithdraw {
			if cfg.Fuse == addr {
				return fmt.Errorf("%w: %s", ErrFuseInUse, addr.Hex())
			}
		}
	}
	for _, addr := range addrs {
		delete(v.fuses, addr)
		v.logger.Info().Str("fuse", addr.Hex()).Msg("Fuse removed")
	}
	return nil
}

// IsSupportedFuse reports whether addr is in the allow-list.
func (v *Vault) IsSupportedFuse(addr common.Address) bool {
	_, ok := v.fuses[addr]
	return ok
}

// Fuses lists the allow-list in address order.
func (v *Vault) Fuses() []common.Address {
	out := make([]common.Address, 0, len(v.fuses))
	for addr := range v.fuses {
		out = append(out, addr)
	}
	slices.SortFunc(out, func(a, b common.Address) int { return a.Cmp(b) })
	return out
}

// SetBalanceFuse registers the balance fuse of its market. Requires FuseManager.
func (v *Vault) SetBalanceFuse(caller common.Address, bf fuse.BalanceFuse) error {
	if err := v.require(caller, access.FuseManager); err != nil {
		return err
	}
	if bf == nil || bf.Address() == (common.Address{}) {
		return fmt.Errorf("%w: balance fuse", ErrZeroAddress)
	}
	if err := v.enter(); err != nil {
		return err
	}
	defer v.leave()

	m := v.state.market(bf.MarketID())
	if m.BalanceFuse != (common.Address{}) && m.BalanceFuse != bf.Address() {
		delete(v.balanceFuses, m.BalanceFuse)
	}
	m.BalanceFuse = bf.Address()
	m.Stale = true
	v.balanceFuses[bf.Address()] = bf
	v.logger.Info().Str("fuse", bf.Address().Hex()).Uint64("market_id", uint64(bf.MarketID())).Msg("Balance fuse set")
	return nil
}

// RemoveBalanceFuse unregisters a market's balance fuse. The market must hold nothing.
func (v *Vault) RemoveBalanceFuse(caller common.Address, market types.MarketID) error {
	if err := v.require(caller, access.FuseManager); err != nil {
		return err
	}
	if err := v.enter(); err != nil {
		return err
	}
	defer v.leave()

	m, ok := v.state.Markets[market]
	if !ok || m.BalanceFuse == (common.Address{}) {
		return nil
	}
	if !m.Balance.IsZero() {
		return fmt.Errorf("%w: market %d balance %s", ErrMarketNotEmpty, market, m.Balance)
	}
	delete(v.balanceFuses, m.BalanceFuse)
	m.BalanceFuse = common.Address{}
	m.Stale = false
	return nil
}

// SetInstantWithdrawFuses replaces the ordered list tried on a liquidity shortfall. Requires Atomist.
func (v *Vault) SetInstantWithdrawFuses(caller common.Address, configs []types.InstantWithdrawConfig) error {
	if err := v.require(caller, access.Atomist); err != nil {
		return err
	}
	if err := v.enter(); err != nil {
		return err
	}
	defer v.leave()

	for _, cfg := range configs {
		f, ok := v.fuses[cfg.Fuse]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnsupportedFuse, cfg.Fuse.Hex())
		}
		if _, ok := f.(fuse.InstantWithdrawFuse); !ok {
			return fmt.Errorf("%w: %s does not support instant withdrawal", ErrUnsupportedFuse, cfg.Fuse.Hex())
		}
	}
	v.instantWithdraw = slices.Clone(configs)
	v.logger.Info().Int("fuses", len(configs)).Msg("Instant withdraw fuses set")
	return nil
}

// InstantWithdrawFuses returns the configured list in order.
func (v *Vault) InstantWithdrawFuses() []types.InstantWithdrawConfig {
	return slices.Clone(v.instantWithdraw)
}

// RegisterCallbackHandler binds a handler to (origin, selector). Requires FuseManager.
// A nil handler removes the binding.
func (v *Vault) RegisterCallbackHandler(caller, origin common.Address, selector types.Selector, handler fuse.CallbackHandler) error {
	if err := v.require(caller, access.FuseManager); err != nil {
		return err
	}
	if origin == (common.Address{}) {
		return fmt.Errorf("%w: callback origin", ErrZeroAddress)
	}
	if err := v.enter(); err != nil {
		return err
	}
	defer v.leave()

	key := callbackKey{origin: origin, selector: selector}
	if handler == nil {
		delete(v.handlers, key)
		return nil
	}
	v.handlers[key] = handler
	v.logger.Info().Str("origin", origin.Hex()).Str("selector", selector.String()).Msg("Callback handler registered")
	return nil
}

// SetWithdrawParameters replaces the redemption parameters. Requires Atomist.
func (v *Vault) SetWithdrawParameters(caller common.Address, p types.WithdrawParameters) error {
	if err := v.require(caller, access.Atomist); err != nil {
		return err
	}
	if err := validateWithdrawParameters(p); err != nil {
		return err
	}
	if err := v.enter(); err != nil {
		return err
	}
	defer v.leave()
	v.withdraw = p
	return nil
}

// SetSupplyCap replaces the share cap. Requires Atomist.
func (v *Vault) SetSupplyCap(caller common.Address, supplyCap sdkmath.Int) error {
	if err := v.require(caller, access.Atomist); err != nil {
		return err
	}
	if supplyCap.IsNil() || supplyCap.IsNegative() {
		return fmt.Errorf("%w: supply cap", ErrInvalidConfig)
	}
	if err := v.enter(); err != nil {
		return err
	}
	defer v.leave()
	v.supplyCap = supplyCap
	return nil
}

// SetActorResolver installs the delegation registry consulted for owner-only operations. Requires Admin.
func (v *Vault) SetActorResolver(caller common.Address, r ActorResolver) error {
	if err := v.require(caller, access.Admin); err != nil {
		return err
	}
	v.actors = r
	return nil
}

func (v *Vault) canActFor(caller, owner common.Address) bool {
	if caller == owner {
		return true
	}
	return v.actors != nil && v.actors.CanActFor(caller, owner)
}
