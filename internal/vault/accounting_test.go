package vault

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/plasmavault/internal/access"
	"github.com/elys-network/plasmavault/internal/types"
)

func TestDepositAndMint(t *testing.T) {
	e := newEnv(t)

	shares := e.deposit(t, alice, usd(1000))
	assert.Equal(t, usd(1000).String(), shares.String())
	assert.Equal(t, usd(1000).String(), e.v.BalanceOf(alice).String())

	shares = e.deposit(t, bob, usd(500))
	assert.Equal(t, usd(500).String(), shares.String())

	assets, err := e.v.Mint(bob, bob, usd(100))
	require.NoError(t, err)
	assert.Equal(t, usd(100).String(), assets.String())
	assert.Equal(t, usd(1600).String(), e.v.TotalAssets().String())
	assert.Equal(t, usd(1600).String(), e.v.TotalSupply().String())

	_, err = e.v.Deposit(alice, alice, sdkmath.ZeroInt())
	require.ErrorIs(t, err, ErrZeroAmount)
	_, err = e.v.Mint(alice, alice, sdkmath.ZeroInt())
	require.ErrorIs(t, err, ErrZeroShares)

	require.Len(t, e.sink.batches, 3)
	assert.Equal(t, types.EventDeposit, e.sink.batches[0][0].Kind)
	assert.Equal(t, alice.Hex(), e.sink.batches[0][0].Fields["receiver"])
}

func TestVaultAccountCannotReceiveShares(t *testing.T) {
	e := newEnv(t)
	e.illiquid(t, map[common.Address]sdkmath.Int{alice: usd(1000)})
	_, err := e.v.Redeem(alice, alice, alice, usd(300))
	require.NoError(t, err)
	require.Equal(t, usd(300).String(), e.v.BalanceOf(vaultAddr).String())

	_, err = e.v.Deposit(alice, vaultAddr, usd(10))
	require.ErrorIs(t, err, ErrVaultAccount)
	_, err = e.v.Mint(alice, vaultAddr, usd(10))
	require.ErrorIs(t, err, ErrVaultAccount)
	_, err = e.v.Redeem(vaultAddr, vaultAddr, alice, usd(300))
	require.ErrorIs(t, err, ErrVaultAccount)

	assert.Equal(t, usd(300).String(), e.v.BalanceOf(vaultAddr).String(), "escrow only holds queued shares")
	assert.Len(t, e.v.PendingRequests(), 1)
}

func TestDecimalsOffset(t *testing.T) {
	e := newEnv(t, func(c *Config) { c.DecimalsOffset = 6 })
	assert.Equal(t, uint64(12), e.v.ShareDecimals())

	shares := e.deposit(t, alice, usd(1))
	assert.Equal(t, "1000000000000", shares.String())
	assert.Equal(t, shares.String(), e.v.ConvertToShares(usd(1)).String())
	assert.Equal(t, usd(1).String(), e.v.ConvertToAssets(shares).String())
}

func TestGainsRaiseSharePrice(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, alice, usd(1000))
	_, err := e.v.Execute(alpha, []types.FuseAction{e.supplyAction(t, usd(1000))})
	require.NoError(t, err)

	e.pool.AccrueInterest(vaultAddr, usdc, usd(100))
	require.NoError(t, e.v.UpdateMarketsBalances(alpha, []types.MarketID{lendingMarket}))
	assert.Equal(t, usd(1100).String(), e.v.TotalAssets().String())

	// bob pays the higher price
	shares := e.deposit(t, bob, usd(110))
	assert.InDelta(t, float64(usd(100).Int64()), float64(shares.Int64()), 1)
}

func TestSupplyCap(t *testing.T) {
	e := newEnv(t)
	require.ErrorIs(t, e.v.SetSupplyCap(alpha, usd(1)), access.ErrUnauthorized)
	require.NoError(t, e.v.SetSupplyCap(admin, usd(1500)))

	e.deposit(t, alice, usd(1000))
	_, err := e.v.Deposit(bob, bob, usd(600))
	require.ErrorIs(t, err, ErrSupplyCapExceeded)
	assert.True(t, e.v.BalanceOf(bob).IsZero())
	assert.Equal(t, usd(1000).String(), e.v.IdleBalance().String())

	e.deposit(t, bob, usd(500))
}

func TestReceiveRewards(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, alice, usd(1000))

	require.ErrorIs(t, e.v.ReceiveRewards(alpha, usd(10)), access.ErrUnauthorized)
	require.NoError(t, e.v.ReceiveRewards(admin, usd(100)))
	assert.Equal(t, usd(1100).String(), e.v.TotalAssets().String())
	assert.Equal(t, usd(1000).String(), e.v.TotalSupply().String())
	assert.InDelta(t, float64(usd(1100).Int64()), float64(e.v.ConvertToAssets(e.v.BalanceOf(alice)).Int64()), 1)
}

func managementPackage(bps uint64) func(*Config) {
	return func(c *Config) {
		c.FeePackage = types.FeePackage{Name: "management", Management: []types.FeeRecipient{{Recipient: treasury, Bps: bps}}}
	}
}

func TestManagementFeeAccrues(t *testing.T) {
	e := newEnv(t, managementPackage(200))
	e.deposit(t, alice, usd(1000))

	e.clock.Advance(365 * 24 * time.Hour)
	management, performance := e.v.PendingFees()
	assert.Equal(t, usd(20).String(), management.String())
	assert.True(t, performance.IsZero())

	require.ErrorIs(t, e.v.RealizeFees(alice), access.ErrUnauthorized)
	require.NoError(t, e.v.RealizeFees(alpha))

	fees := e.v.Fees()
	assert.Equal(t, usd(20).String(), fees.TotalManagementAssets.String())
	assert.Equal(t, e.clock.now, fees.LastRealized)
	claimable := fees.ClaimableManagementShares
	require.True(t, claimable.IsPositive())
	assert.InDelta(t, float64(usd(20).Int64()), float64(e.v.ConvertToAssets(claimable).Int64()), 2)
	assert.Equal(t, usd(1000).String(), e.v.TotalAssets().String(), "fees dilute, they do not move assets")

	// realizing again immediately accrues nothing
	require.NoError(t, e.v.RealizeFees(alpha))
	assert.Equal(t, claimable.String(), e.v.Fees().ClaimableManagementShares.String())

	paid, err := e.v.ClaimFees(admin)
	require.NoError(t, err)
	assert.Equal(t, claimable.String(), paid[treasury].String())
	assert.Equal(t, claimable.String(), e.v.BalanceOf(treasury).String())
	assert.True(t, e.v.Fees().ClaimableManagementShares.IsZero())
}

func TestPerformanceFeeHighWaterMark(t *testing.T) {
	e := newEnv(t, func(c *Config) {
		c.FeePackage = types.FeePackage{Name: "performance", Performance: []types.FeeRecipient{{Recipient: treasury, Bps: 1000}}}
	})
	e.deposit(t, alice, usd(1000))
	_, err := e.v.Execute(alpha, []types.FuseAction{e.supplyAction(t, usd(1000))})
	require.NoError(t, err)
	assert.True(t, e.v.Fees().TotalPerformanceAssets.IsZero())

	e.pool.AccrueInterest(vaultAddr, usdc, usd(100))
	require.NoError(t, e.v.UpdateMarketsBalances(alpha, []types.MarketID{lendingMarket}))
	fees := e.v.Fees()
	assert.InDelta(t, float64(usd(10).Int64()), float64(fees.TotalPerformanceAssets.Int64()), 2)
	assert.Equal(t, e.v.PricePerShare().String(), fees.HighWaterMark.String(), "high-water mark is the post-fee price")
	hwm := fees.HighWaterMark
	charged := fees.TotalPerformanceAssets

	// a loss and a recovery back to the mark charge nothing
	e.pool.AccrueInterest(vaultAddr, usdc, usd(-50))
	require.NoError(t, e.v.UpdateMarketsBalances(alpha, []types.MarketID{lendingMarket}))
	assert.Equal(t, hwm.String(), e.v.Fees().HighWaterMark.String())

	e.pool.AccrueInterest(vaultAddr, usdc, usd(50))
	require.NoError(t, e.v.UpdateMarketsBalances(alpha, []types.MarketID{lendingMarket}))
	assert.Equal(t, charged.String(), e.v.Fees().TotalPerformanceAssets.String())
	assert.Equal(t, hwm.String(), e.v.Fees().HighWaterMark.String())
}

func TestSetFeePackageSettlesOldRecipients(t *testing.T) {
	e := newEnv(t, managementPackage(100))
	e.deposit(t, alice, usd(1000))
	e.clock.Advance(365 * 24 * time.Hour)

	next := types.FeePackage{Name: "next", Management: []types.FeeRecipient{{Recipient: bob, Bps: 50}}}
	require.ErrorIs(t, e.v.SetFeePackage(alpha, next), access.ErrUnauthorized)
	require.ErrorIs(t, e.v.SetFeePackage(admin, types.FeePackage{Name: "bad", Performance: []types.FeeRecipient{{Recipient: bob}}}), ErrInvalidFeePackage)
	require.NoError(t, e.v.SetFeePackage(admin, next))

	assert.Equal(t, "next", e.v.FeePackage().Name)
	assert.True(t, e.v.BalanceOf(treasury).IsPositive(), "old recipient was paid")
	assert.True(t, e.v.BalanceOf(bob).IsZero())
	assert.True(t, e.v.Fees().ClaimableManagementShares.IsZero())
}
