package vault

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/plasmavault/internal/access"
	"github.com/elys-network/plasmavault/internal/types"
	"github.com/elys-network/plasmavault/internal/utils"
)

const (
	bpsDenominator = 10_000
	// MaxManagementFeeBps caps the yearly management rate.
	MaxManagementFeeBps = 500
	// MaxPerformanceFeeBps caps the performance rate.
	MaxPerformanceFeeBps = 5_000
)

var secondsPerYear = sdkmath.NewInt(int64(365 * 24 * time.Hour / time.Second))

func validateFeePackage(p types.FeePackage) error {
	for _, r := range append(append([]types.FeeRecipient{}, p.Management...), p.Performance...) {
		if r.Recipient == (common.Address{}) {
			return fmt.Errorf("%w: %s: zero recipient", ErrInvalidFeePackage, p.Name)
		}
		if r.Bps == 0 {
			return fmt.Errorf("%w: %s: recipient %s has zero bps", ErrInvalidFeePackage, p.Name, r.Recipient.Hex())
		}
	}
	if p.ManagementBps() > MaxManagementFeeBps {
		return fmt.Errorf("%w: %s: management %d bps exceeds %d", ErrInvalidFeePackage, p.Name, p.ManagementBps(), MaxManagementFeeBps)
	}
	if p.PerformanceBps() > MaxPerformanceFeeBps {
		return fmt.Errorf("%w: %s: performance %d bps exceeds %d", ErrInvalidFeePackage, p.Name, p.PerformanceBps(), MaxPerformanceFeeBps)
	}
	return nil
}

// Fees returns the fee account.
func (v *Vault) Fees() types.FeeAccount {
	return v.state.Fees
}

// PendingFees previews the management and performance fees, in underlying units, that the next
// realization would charge.
func (v *Vault) PendingFees() (management, performance sdkmath.Int) {
	return v.accruedFees(v.now())
}

// RealizeFees is the explicit fee tick. Requires Alpha.
func (v *Vault) RealizeFees(caller common.Address) error {
	if err := v.require(caller, access.Alpha); err != nil {
		return err
	}
	return v.atomically("realize_fees", func(b *batch) error {
		if err := v.refreshStale(b); err != nil {
			return err
		}
		return v.realizeFees(b)
	})
}

// accruedFees computes fees owed since the last realization:
//
//	management  = bps * totalAssets * elapsed / (10000 * year)
//	performance = max(0, pricePerShare - highWaterMark) * totalSupply * bps / (10000 * WAD)
func (v *Vault) accruedFees(now time.Time) (sdkmath.Int, sdkmath.Int) {
	total := v.TotalAssets()
	supply := v.state.TotalSupply
	acct := v.state.Fees

	management := sdkmath.ZeroInt()
	if elapsed := now.Sub(acct.LastRealized); elapsed > 0 && v.feePkg.ManagementBps() > 0 {
		seconds := sdkmath.NewInt(int64(elapsed / time.Second))
		management = total.Mul(sdkmath.NewIntFromUint64(v.feePkg.ManagementBps())).Mul(seconds).
			Quo(secondsPerYear.MulRaw(bpsDenominator))
	}

	performance := sdkmath.ZeroInt()
	if pps := v.pricePerShare(); pps.GT(acct.HighWaterMark) && supply.IsPositive() && v.feePkg.PerformanceBps() > 0 {
		gain := pps.Sub(acct.HighWaterMark).Mul(supply)
		performance = gain.Mul(sdkmath.NewIntFromUint64(v.feePkg.PerformanceBps())).
			Quo(utils.Wad().MulRaw(bpsDenominator))
	}
	return management, performance
}

// realizeFees mints fee shares for everything accrued since the last realization so that the
// fee value is diluted out of the current price per share, then raises the high-water mark to
// the post-fee price if it is a new high.
func (v *Vault) realizeFees(b *batch) error {
	now := v.now()
	management, performance := v.accruedFees(now)
	acct := &v.state.Fees
	if now.After(acct.LastRealized) {
		acct.LastRealized = now
	}

	fee := management.Add(performance)
	if fee.IsPositive() {
		total := v.TotalAssets()
		// never dilute holders by more than half in one step
		if limit := total.QuoRaw(2); fee.GT(limit) {
			management = utils.MulDivOrZero(management, limit, fee)
			performance = limit.Sub(management)
			fee = limit
		}
		virtualSupply := v.state.TotalSupply.Add(v.virtualShares())
		remaining := total.AddRaw(1).Sub(fee)
		shares, err := utils.MulDiv(fee, virtualSupply, remaining)
		if err != nil {
			return fmt.Errorf("fee shares: %w", err)
		}
		if shares.IsPositive() {
			managementShares := utils.MulDivOrZero(shares, management, fee)
			performanceShares := shares.Sub(managementShares)

			v.state.TotalSupply = v.state.TotalSupply.Add(shares)
			acct.ClaimableManagementShares = acct.ClaimableManagementShares.Add(managementShares)
			acct.ClaimablePerformanceShares = acct.ClaimablePerformanceShares.Add(performanceShares)
			acct.TotalManagementAssets = acct.TotalManagementAssets.Add(management)
			acct.TotalPerformanceAssets = acct.TotalPerformanceAssets.Add(performance)

			b.Emit(types.Event{
				Kind: types.EventFeesRealized,
				Fields: map[string]string{
					"management_assets":  management.String(),
					"performance_assets": performance.String(),
					"management_shares":  managementShares.String(),
					"performance_shares": performanceShares.String(),
				},
			})
			v.logger.Info().
				Str("management", management.String()).
				Str("performance", performance.String()).
				Str("shares", shares.String()).
				Msg("Fees realized")
		}
	}

	if pps := v.pricePerShare(); pps.GT(acct.HighWaterMark) {
		acct.HighWaterMark = pps
	}
	return nil
}

// ClaimFees distributes claimable fee shares to the active package's recipients pro rata to
// their bps. Requires Claimer.
func (v *Vault) ClaimFees(caller common.Address) (map[common.Address]sdkmath.Int, error) {
	if err := v.require(caller, access.Claimer); err != nil {
		return nil, err
	}
	var paid map[common.Address]sdkmath.Int
	err := v.atomically("claim_fees", func(b *batch) error {
		if err := v.refreshStale(b); err != nil {
			return err
		}
		if err := v.realizeFees(b); err != nil {
			return err
		}
		paid = v.distributeFees(b)
		return nil
	})
	return paid, err
}

func (v *Vault) distributeFees(b *batch) map[common.Address]sdkmath.Int {
	acct := &v.state.Fees
	paid := make(map[common.Address]sdkmath.Int)
	pay := func(recipients []types.FeeRecipient, amount sdkmath.Int) sdkmath.Int {
		if !amount.IsPositive() || len(recipients) == 0 {
			return amount
		}
		var totalBps uint64
		for _, r := range recipients {
			totalBps += r.Bps
		}
		left := amount
		for i, r := range recipients {
			portion := amount.Mul(sdkmath.NewIntFromUint64(r.Bps)).Quo(sdkmath.NewIntFromUint64(totalBps))
			if i == len(recipients)-1 {
				portion = left
			}
			left = left.Sub(portion)
			v.state.Shares[r.Recipient] = v.state.shares(r.Recipient).Add(portion)
			if prev, ok := paid[r.Recipient]; ok {
				paid[r.Recipient] = prev.Add(portion)
			} else {
				paid[r.Recipient] = portion
			}
		}
		return left
	}
	acct.ClaimableManagementShares = pay(v.feePkg.Management, acct.ClaimableManagementShares)
	acct.ClaimablePerformanceShares = pay(v.feePkg.Performance, acct.ClaimablePerformanceShares)

	for recipient, shares := range paid {
		b.Emit(types.Event{
			Kind: types.EventFeesClaimed,
			Fields: map[string]string{
				"recipient": recipient.Hex(),
				"shares":    shares.String(),
			},
		})
	}
	return paid
}

// SetFeePackage switches the active fee package. Fees accrued under the old package are
// realized and paid to its recipients first. Requires Atomist.
func (v *Vault) SetFeePackage(caller common.Address, pkg types.FeePackage) error {
	if err := v.require(caller, access.Atomist); err != nil {
		return err
	}
	if err := validateFeePackage(pkg); err != nil {
		return err
	}
	return v.atomically("set_fee_package", func(b *batch) error {
		if err := v.refreshStale(b); err != nil {
			return err
		}
		if err := v.realizeFees(b); err != nil {
			return err
		}
		v.distributeFees(b)
		v.feePkg = pkg
		v.logger.Info().Str("fee_package", pkg.Name).Msg("Fee package switched")
		return nil
	})
}
