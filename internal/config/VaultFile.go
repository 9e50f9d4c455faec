package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"

	"github.com/elys-network/plasmavault/internal/access"
	"github.com/elys-network/plasmavault/internal/substrate"
	"github.com/elys-network/plasmavault/internal/types"
	"github.com/elys-network/plasmavault/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidVaultFile = errors.New("invalid vault file")
	ErrUnknownFeePack   = errors.New("unknown fee package")
)

// PriceDecimals is the precision of prices written in a vault file.
const PriceDecimals = 8

// MarketKind selects the fuse family wired for a market.
type MarketKind string

const (
	// MarketLending is a supply/borrow market with a balance fuse and optional instant withdraw.
	MarketLending MarketKind = "lending"
	// MarketERC20 values tokens the vault holds directly.
	MarketERC20 MarketKind = "erc20"
	// MarketFlashLoan borrows and repays inside one batch; it never carries a balance.
	MarketFlashLoan MarketKind = "flashloan"
)

// TokenSpec is a token the vault can value.
type TokenSpec struct {
	Address  common.Address `yaml:"address"`
	Decimals uint64         `yaml:"decimals"`
	// Price is the USD price in human units ("1.0002"), served by a static feed.
	Price string `yaml:"price"`
}

// SubstrateSpec is the readable form of a granted substrate.
type SubstrateSpec struct {
	Address common.Address `yaml:"address"`
	Type    string         `yaml:"type"`
}

// Substrate encodes the entry as a substrate.
func (s SubstrateSpec) Substrate() substrate.Substrate {
	return substrate.Encode(s.Address, substrate.ParseType(s.Type))
}

// FuseAddresses names the fuses wired for one market. Unused slots stay zero.
type FuseAddresses struct {
	Supply    common.Address `yaml:"supply"`
	Borrow    common.Address `yaml:"borrow"`
	Balance   common.Address `yaml:"balance"`
	FlashLoan common.Address `yaml:"flashloan"`
}

// MarketSpec describes one market and the protocol behind it.
type MarketSpec struct {
	ID           types.MarketID   `yaml:"id"`
	Kind         MarketKind       `yaml:"kind"`
	Protocol     common.Address   `yaml:"protocol"`
	Substrates   []SubstrateSpec  `yaml:"substrates"`
	Dependencies []types.MarketID `yaml:"dependencies"`
	Fuses        FuseAddresses    `yaml:"fuses"`
	// Liquidity seeds the in-memory protocol with this much of the underlying, in human units.
	Liquidity string `yaml:"liquidity"`
	// FeeBps is the flash loan fee.
	FeeBps uint64 `yaml:"fee_bps"`
	// InstantWithdraw appends the supply fuse to the instant-withdraw list, in market order.
	InstantWithdraw bool `yaml:"instant_withdraw"`
}

// VaultFile is the YAML definition of a vault and its markets.
type VaultFile struct {
	// Name seeds the deployment salt when Salt is empty.
	Name           string                      `yaml:"name"`
	Salt           string                      `yaml:"salt"`
	Admin          common.Address              `yaml:"admin"`
	Asset          TokenSpec                   `yaml:"asset"`
	DecimalsOffset *uint64                     `yaml:"decimals_offset"`
	SupplyCap      string                      `yaml:"supply_cap"`
	Tokens         []TokenSpec                 `yaml:"tokens"`
	Roles          map[string][]common.Address `yaml:"roles"`
	Treasury       common.Address              `yaml:"treasury"`
	FeePackage     string                      `yaml:"fee_package"`
	Fees           *types.FeePackage           `yaml:"fees"`
	Withdraw       *types.WithdrawParameters   `yaml:"withdraw"`
	Markets        []MarketSpec                `yaml:"markets"`
}

// LoadVaultFile reads and validates a vault definition.
func LoadVaultFile(path string) (*VaultFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vault file: %w", err)
	}
	return ParseVaultFile(raw)
}

// ParseVaultFile decodes and validates a vault definition.
func ParseVaultFile(raw []byte) (*VaultFile, error) {
	var vf VaultFile
	if err := yaml.Unmarshal(raw, &vf); err != nil {
		return nil, errors.Join(ErrInvalidVaultFile, err)
	}
	if err := vf.Validate(); err != nil {
		return nil, err
	}
	return &vf, nil
}

// Validate checks the file for mistakes that would only surface halfway through a deployment.
func (vf *VaultFile) Validate() error {
	var errs []error
	if vf.Name == "" && vf.Salt == "" {
		errs = append(errs, errors.New("name or salt is required"))
	}
	if vf.Salt != "" {
		if b := common.FromHex(vf.Salt); len(b) != 32 {
			errs = append(errs, fmt.Errorf("salt must be 32 bytes of hex, got %d bytes", len(b)))
		}
	}
	if vf.Admin == (common.Address{}) {
		errs = append(errs, errors.New("admin is required"))
	}
	if vf.Asset.Address == (common.Address{}) {
		errs = append(errs, errors.New("asset.address is required"))
	}
	if err := utils.ValidateDecimals(vf.Asset.Decimals); err != nil {
		errs = append(errs, fmt.Errorf("asset.decimals: %w", err))
	}
	for _, t := range append([]TokenSpec{vf.Asset}, vf.Tokens...) {
		if _, err := utils.ParseUnits(t.Price, PriceDecimals); err != nil {
			errs = append(errs, fmt.Errorf("price of %s: %w", t.Address.Hex(), err))
		}
	}
	if vf.SupplyCap != "" {
		if _, err := utils.ParseUnits(vf.SupplyCap, vf.Asset.Decimals); err != nil {
			errs = append(errs, fmt.Errorf("supply_cap: %w", err))
		}
	}
	for name := range vf.Roles {
		if _, err := access.ParseCapability(name); err != nil {
			errs = append(errs, err)
		}
	}
	if vf.Fees == nil {
		if _, ok := DefaultFeePackages[vf.feePackageName()]; !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownFeePack, vf.FeePackage))
		}
	}

	seen := make(map[types.MarketID]bool, len(vf.Markets))
	for _, m := range vf.Markets {
		if seen[m.ID] {
			errs = append(errs, fmt.Errorf("market %d is defined twice", m.ID))
		}
		seen[m.ID] = true
		errs = append(errs, m.validate(vf.Asset.Decimals)...)
	}
	for _, m := range vf.Markets {
		for _, dep := range m.Dependencies {
			if !seen[dep] {
				errs = append(errs, fmt.Errorf("market %d depends on unknown market %d", m.ID, dep))
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidVaultFile}, errs...)...)
	}
	return nil
}

func (m MarketSpec) validate(assetDecimals uint64) []error {
	var errs []error
	zero := common.Address{}
	if m.ID == 0 {
		errs = append(errs, errors.New("market id 0 is reserved"))
	}
	for _, s := range m.Substrates {
		if substrate.ParseType(s.Type) == substrate.Undefined {
			errs = append(errs, fmt.Errorf("market %d: unknown substrate type %q", m.ID, s.Type))
		}
	}
	if m.Liquidity != "" {
		if _, err := utils.ParseUnits(m.Liquidity, assetDecimals); err != nil {
			errs = append(errs, fmt.Errorf("market %d liquidity: %w", m.ID, err))
		}
	}
	switch m.Kind {
	case MarketLending:
		if m.Protocol == zero || m.Fuses.Supply == zero || m.Fuses.Balance == zero {
			errs = append(errs, fmt.Errorf("market %d: lending needs protocol, supply and balance fuses", m.ID))
		}
	case MarketERC20:
		if m.Fuses.Balance == zero {
			errs = append(errs, fmt.Errorf("market %d: erc20 needs a balance fuse", m.ID))
		}
	case MarketFlashLoan:
		if m.Protocol == zero || m.Fuses.FlashLoan == zero {
			errs = append(errs, fmt.Errorf("market %d: flashloan needs protocol and flashloan fuse", m.ID))
		}
	default:
		errs = append(errs, fmt.Errorf("market %d: unknown kind %q", m.ID, m.Kind))
	}
	return errs
}

func (vf *VaultFile) feePackageName() string {
	if vf.FeePackage == "" {
		return DefaultFeePackageName
	}
	return vf.FeePackage
}

// DeploymentSalt is the explicit salt, or keccak256 of the name.
func (vf *VaultFile) DeploymentSalt() [32]byte {
	if vf.Salt != "" {
		return common.BytesToHash(common.FromHex(vf.Salt))
	}
	return crypto.Keccak256Hash([]byte(vf.Name))
}

// Offset returns the configured decimals offset or the default.
func (vf *VaultFile) Offset() uint64 {
	if vf.DecimalsOffset == nil {
		return DefaultDecimalsOffset
	}
	return *vf.DecimalsOffset
}

// ResolveFeePackage resolves the fee package: the inline one if present, otherwise the named default paid to
// the treasury.
func (vf *VaultFile) ResolveFeePackage() (types.FeePackage, error) {
	if vf.Fees != nil {
		return *vf.Fees, nil
	}
	pkg, ok := FeePackageFor(vf.feePackageName(), vf.Treasury)
	if !ok {
		return types.FeePackage{}, fmt.Errorf("%w: %s", ErrUnknownFeePack, vf.FeePackage)
	}
	return pkg, nil
}

// WithdrawParameters returns the configured parameters or the defaults.
func (vf *VaultFile) WithdrawParameters() types.WithdrawParameters {
	if vf.Withdraw == nil {
		return DefaultWithdrawParameters
	}
	return *vf.Withdraw
}

// SupplyCapAmount parses the supply cap in base units. Empty means unlimited.
func (vf *VaultFile) SupplyCapAmount() (sdkmath.Int, error) {
	if vf.SupplyCap == "" {
		return sdkmath.ZeroInt(), nil
	}
	return utils.ParseUnits(vf.SupplyCap, vf.Asset.Decimals)
}

// TokenDecimals maps every non-underlying token to its decimals.
func (vf *VaultFile) TokenDecimals() map[common.Address]uint64 {
	out := make(map[common.Address]uint64, len(vf.Tokens))
	for _, t := range vf.Tokens {
		out[t.Address] = t.Decimals
	}
	return out
}

// RoleAssignments returns the roles in a stable order so grants are logged deterministically.
func (vf *VaultFile) RoleAssignments() []RoleAssignment {
	var out []RoleAssignment
	for _, c := range access.AllCapabilities {
		for _, addr := range vf.Roles[string(c)] {
			out = append(out, RoleAssignment{Capability: c, Account: addr})
		}
	}
	return out
}

// RoleAssignment grants one capability to one account.
type RoleAssignment struct {
	Capability access.Capability
	Account    common.Address
}

// HasRole reports whether the file grants c to account.
func (vf *VaultFile) HasRole(c access.Capability, account common.Address) bool {
	return slices.Contains(vf.Roles[string(c)], account)
}
