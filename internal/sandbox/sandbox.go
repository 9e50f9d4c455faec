/*
Package sandbox deploys a vault file against in-memory protocols.

Every market of the file gets the fuse family its kind names, backed by a MemoryPool (lending) or
a MemoryLender (flash loans), and every token gets a static price feed. The result is a fully
wired factory instance the daemon and integration tests can drive without a chain.
*/
package sandbox

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/plasmavault/internal/access"
	"github.com/elys-network/plasmavault/internal/config"
	"github.com/elys-network/plasmavault/internal/factory"
	"github.com/elys-network/plasmavault/internal/fuse"
	"github.com/elys-network/plasmavault/internal/fuse/erc20"
	"github.com/elys-network/plasmavault/internal/fuse/flashloan"
	"github.com/elys-network/plasmavault/internal/fuse/lending"
	"github.com/elys-network/plasmavault/internal/logger"
	"github.com/elys-network/plasmavault/internal/pricing"
	"github.com/elys-network/plasmavault/internal/substrate"
	"github.com/elys-network/plasmavault/internal/types"
	"github.com/elys-network/plasmavault/internal/utils"
	"github.com/elys-network/plasmavault/internal/vault"
)

var sandboxLogger = logger.GetForComponent("sandbox")

// bootstrapCapabilities are held by the admin while markets are wired.
var bootstrapCapabilities = []access.Capability{access.FuseManager, access.PriceManager, access.Atomist}

// Deployment is a wired vault instance together with the in-memory protocols behind it.
type Deployment struct {
	Instance *factory.Instance
	Pools    map[types.MarketID]*lending.MemoryPool
	Lenders  map[types.MarketID]*flashloan.MemoryLender
	Feeds    map[common.Address]*pricing.StaticFeed
}

// Vault is the deployed vault.
func (d *Deployment) Vault() *vault.Vault { return d.Instance.Vault }

// Deploy creates the vault described by vf through f, wires its markets and deploys the Phase-2
// components so the factory gives up its admin rights.
func Deploy(f *factory.Factory, vf *config.VaultFile, sink vault.EventSink) (*Deployment, error) {
	pkg, err := vf.ResolveFeePackage()
	if err != nil {
		return nil, err
	}
	supplyCap, err := vf.SupplyCapAmount()
	if err != nil {
		return nil, err
	}

	inst, err := f.CreateVault(factory.VaultParams{
		Salt:           vf.DeploymentSalt(),
		Admin:          vf.Admin,
		Asset:          vf.Asset.Address,
		AssetDecimals:  vf.Asset.Decimals,
		DecimalsOffset: vf.Offset(),
		Tokens:         vf.TokenDecimals(),
		FeePackage:     pkg,
		Withdraw:       vf.WithdrawParameters(),
		SupplyCap:      supplyCap,
		Sink:           sink,
	})
	if err != nil {
		return nil, err
	}
	d := &Deployment{
		Instance: inst,
		Pools:    make(map[types.MarketID]*lending.MemoryPool),
		Lenders:  make(map[types.MarketID]*flashloan.MemoryLender),
		Feeds:    make(map[common.Address]*pricing.StaticFeed),
	}

	admin := vf.Admin
	for _, c := range bootstrapCapabilities {
		if err := inst.Access.Grant(admin, c, admin); err != nil {
			return nil, fmt.Errorf("bootstrap %s: %w", c, err)
		}
	}
	if err := d.wire(vf); err != nil {
		return nil, err
	}
	// bootstrap rights are dropped unless the file assigns them to the admin
	for _, c := range bootstrapCapabilities {
		if vf.HasRole(c, admin) {
			continue
		}
		if err := inst.Access.Renounce(admin, c); err != nil {
			return nil, fmt.Errorf("drop bootstrap %s: %w", c, err)
		}
	}

	for _, c := range factory.PhaseTwo {
		if _, err := f.DeployComponent(inst.Vault.Address(), c); err != nil {
			return nil, err
		}
	}

	sandboxLogger.Info().
		Str("vault", inst.Vault.Address().Hex()).
		Int("markets", len(vf.Markets)).
		Int("price_feeds", len(d.Feeds)).
		Msg("Sandbox deployment ready")
	return d, nil
}

func (d *Deployment) wire(vf *config.VaultFile) error {
	admin := vf.Admin
	am := d.Instance.Access
	v := d.Instance.Vault

	for _, r := range vf.RoleAssignments() {
		if err := am.Grant(admin, r.Capability, r.Account); err != nil {
			return fmt.Errorf("grant %s to %s: %w", r.Capability, r.Account.Hex(), err)
		}
	}

	for _, t := range append([]config.TokenSpec{vf.Asset}, vf.Tokens...) {
		price, err := utils.ParseUnits(t.Price, config.PriceDecimals)
		if err != nil {
			return err
		}
		feed := pricing.NewStaticFeed(price, config.PriceDecimals)
		if err := d.Instance.Prices.SetFeed(admin, t.Address, feed); err != nil {
			return fmt.Errorf("price feed for %s: %w", t.Address.Hex(), err)
		}
		d.Feeds[t.Address] = feed
	}

	var instant []types.InstantWithdrawConfig
	for _, m := range vf.Markets {
		liquidity := sdkmath.ZeroInt()
		if m.Liquidity != "" {
			amt, err := utils.ParseUnits(m.Liquidity, vf.Asset.Decimals)
			if err != nil {
				return err
			}
			liquidity = amt
		}

		subs := make([]substrate.Substrate, 0, len(m.Substrates))
		for _, s := range m.Substrates {
			subs = append(subs, s.Substrate())
		}
		if err := v.GrantSubstrates(admin, m.ID, subs); err != nil {
			return fmt.Errorf("market %d substrates: %w", m.ID, err)
		}

		switch m.Kind {
		case config.MarketLending:
			pool := lending.NewMemoryPool(m.Protocol)
			if liquidity.IsPositive() {
				pool.Fund(vf.Asset.Address, liquidity)
			}
			supply := lending.NewSupplyFuse(m.Fuses.Supply, m.ID, pool)
			fuses := []fuse.Fuse{supply}
			if m.Fuses.Borrow != (common.Address{}) {
				fuses = append(fuses, lending.NewBorrowFuse(m.Fuses.Borrow, m.ID, pool))
			}
			if err := v.AddFuses(admin, fuses...); err != nil {
				return fmt.Errorf("market %d fuses: %w", m.ID, err)
			}
			if err := v.SetBalanceFuse(admin, lending.NewBalanceFuse(m.Fuses.Balance, m.ID, pool)); err != nil {
				return fmt.Errorf("market %d balance fuse: %w", m.ID, err)
			}
			if m.InstantWithdraw {
				instant = append(instant, types.InstantWithdrawConfig{Fuse: supply.Address()})
			}
			d.Pools[m.ID] = pool
		case config.MarketERC20:
			if err := v.SetBalanceFuse(admin, erc20.NewBalanceFuse(m.Fuses.Balance, m.ID)); err != nil {
				return fmt.Errorf("market %d balance fuse: %w", m.ID, err)
			}
		case config.MarketFlashLoan:
			lender := flashloan.NewMemoryLender(m.Protocol, m.FeeBps)
			if liquidity.IsPositive() {
				lender.Fund(vf.Asset.Address, liquidity)
			}
			if err := v.AddFuses(admin, flashloan.NewFuse(m.Fuses.FlashLoan, m.ID, lender)); err != nil {
				return fmt.Errorf("market %d fuses: %w", m.ID, err)
			}
			if err := v.RegisterCallbackHandler(admin, lender.Address(), flashloan.CallbackSelector, flashloan.Handler{}); err != nil {
				return fmt.Errorf("market %d callback: %w", m.ID, err)
			}
			d.Lenders[m.ID] = lender
		default:
			return fmt.Errorf("%w: market %d kind %q", config.ErrInvalidVaultFile, m.ID, m.Kind)
		}
	}

	for _, m := range vf.Markets {
		if len(m.Dependencies) == 0 {
			continue
		}
		if err := v.SetDependencies(admin, m.ID, m.Dependencies); err != nil {
			return fmt.Errorf("market %d dependencies: %w", m.ID, err)
		}
	}
	if len(instant) > 0 {
		if err := v.SetInstantWithdrawFuses(admin, instant); err != nil {
			return errors.Join(errors.New("instant withdraw fuses"), err)
		}
	}
	return nil
}
