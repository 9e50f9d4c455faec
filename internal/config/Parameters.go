/*

This file contains the default parameters for new vaults and for the operator.

They are calibrated for a vault holding a stablecoin underlying in a production environment.
A vault file can pick a different package by name or override every value inline.

*/

package config

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/plasmavault/internal/types"
)

// DefaultOperatorInterval is the pause between operator cycles.
// Rationale: market balances drift with interest accrual and prices. Five minutes keeps cached
// balances (and therefore the share price) fresh without hammering price sources.
const DefaultOperatorInterval = 5 * time.Minute

// DefaultDecimalsOffset is the virtual share offset used when a vault file does not set one.
// Rationale: an offset of 2 makes the classic first-depositor donation attack cost 100x the
// amount it can steal while keeping share amounts readable.
const DefaultDecimalsOffset uint64 = 2

// DefaultFeePackageName is selected when a vault file names no package.
const DefaultFeePackageName = "standard"

// DefaultFeePackages are the named fee bundles selectable at vault creation. Recipients are left
// empty: the vault file fills them in with its own treasury accounts.
var DefaultFeePackages = map[string]types.FeePackage{
	"none": {
		Name: "none",
		// Rationale: for internal or seeded vaults where fees would only move value between
		// accounts the operator already controls.
	},
	"standard": {
		Name:        "standard",
		Management:  []types.FeeRecipient{{Bps: 100}}, // 1% per year of total assets.
		Performance: []types.FeeRecipient{{Bps: 1000}}, // 10% of gains above the high-water mark.
		// Rationale: comparable to established curated vaults. The management fee covers
		// operating costs; the performance fee only bites on new highs, so depositors never pay
		// twice for recovering a loss.
	},
	"performance-only": {
		Name:        "performance-only",
		Performance: []types.FeeRecipient{{Bps: 2000}}, // 20% of gains above the high-water mark.
		// Rationale: aligns the curator entirely with depositor returns; nothing is charged
		// while the vault is flat or under water.
	},
}

// DefaultWithdrawParameters configure redemptions when the vault file leaves them out.
var DefaultWithdrawParameters = types.WithdrawParameters{
	RedemptionDelay: 0, // Redeem immediately after depositing.
	// Rationale: the vault prices deposits after refreshing stale markets, so there is no
	// stale-price sandwich to defend against by default. Vaults holding markets that can only
	// be refreshed slowly should raise this.

	WithdrawWindow: 72 * time.Hour, // Queued requests stay fulfillable for three days.
	// Rationale: long enough for the alpha to unwind positions across a weekend, short enough
	// that escrowed shares do not sit forgotten.

	QueueEnabled: true, // Queue redemptions that idle liquidity and instant-withdraw fuses cannot cover.
	// Rationale: failing redemptions outright during a liquidity crunch pushes depositors to
	// race each other; a FIFO queue settles them fairly as liquidity returns.
}

// FeePackageFor returns a copy of the named default package with every recipient slot pointed at
// treasury. ok is false for unknown names.
func FeePackageFor(name string, treasury common.Address) (types.FeePackage, bool) {
	base, ok := DefaultFeePackages[name]
	if !ok {
		return types.FeePackage{}, false
	}
	pkg := types.FeePackage{Name: base.Name}
	for _, r := range base.Management {
		pkg.Management = append(pkg.Management, types.FeeRecipient{Recipient: treasury, Bps: r.Bps})
	}
	for _, r := range base.Performance {
		pkg.Performance = append(pkg.Performance, types.FeeRecipient{Recipient: treasury, Bps: r.Bps})
	}
	return pkg, true
}
