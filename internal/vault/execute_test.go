package vault

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/plasmavault/internal/access"
	"github.com/elys-network/plasmavault/internal/fuse"
	"github.com/elys-network/plasmavault/internal/fuse/flashloan"
	"github.com/elys-network/plasmavault/internal/substrate"
	"github.com/elys-network/plasmavault/internal/types"
)

const flashMarket types.MarketID = 5

var (
	flashFuseAddr = common.HexToAddress("0xf5")
	lenderAddr    = common.HexToAddress("0x1e")
)

func TestExecuteSupply(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, alice, usd(1000))

	receipt, err := e.v.Execute(alpha, []types.FuseAction{e.supplyAction(t, usd(600))})
	require.NoError(t, err)

	assert.NotEmpty(t, receipt.BatchID)
	assert.Equal(t, []types.MarketID{lendingMarket}, receipt.TouchedMarkets)
	assert.Equal(t, usd(1000).String(), receipt.TotalAssetsBefore.String())
	assert.Equal(t, usd(1000).String(), receipt.TotalAssetsAfter.String(), "moving funds into a market conserves value")
	assert.Equal(t, usd(600).String(), receipt.MarketBalances[lendingMarket].String())
	assert.Equal(t, usd(400).String(), e.v.IdleBalance().String())
	assert.Equal(t, usd(600).String(), e.pool.Supplied(vaultAddr, usdc).String())
	assert.Equal(t, uint64(1), e.v.BatchesApplied())

	require.Len(t, e.sink.batches, 2)
	kinds := make([]types.EventKind, 0, len(receipt.Events))
	for _, ev := range receipt.Events {
		kinds = append(kinds, ev.Kind)
		assert.Equal(t, vaultAddr, ev.Vault)
	}
	assert.Equal(t, []types.EventKind{types.EventFuseEnter, types.EventMarketBalance}, kinds)
}

func TestExecuteRejectsInvalidBatches(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, alice, usd(100))

	_, err := e.v.Execute(alpha, nil)
	require.ErrorIs(t, err, ErrEmptyBatch)

	_, err = e.v.Execute(alice, []types.FuseAction{e.supplyAction(t, usd(1))})
	require.ErrorIs(t, err, access.ErrUnauthorized)

	unknown := common.HexToAddress("0xdead")
	_, err = e.v.Execute(alpha, []types.FuseAction{e.supplyAction(t, usd(1)), types.NewEnterAction(unknown, nil)})
	require.ErrorIs(t, err, ErrUnsupportedFuse)
	var actionErr *ActionError
	require.True(t, errors.As(err, &actionErr))
	assert.Equal(t, 1, actionErr.Index)
	assert.Equal(t, unknown, actionErr.Fuse)

	_, err = e.v.Execute(alpha, []types.FuseAction{{Fuse: supplyFuseAddr, Data: []byte{0x01, 0x02}}})
	require.ErrorIs(t, err, ErrInvalidAction)

	_, err = e.v.Execute(alpha, []types.FuseAction{{Fuse: supplyFuseAddr, Data: []byte{0xde, 0xad, 0xbe, 0xef}}})
	require.ErrorIs(t, err, ErrUnknownSelector)

	assert.True(t, e.pool.Supplied(vaultAddr, usdc).IsZero())
	assert.Equal(t, usd(100).String(), e.v.IdleBalance().String())
	assert.Zero(t, e.v.BatchesApplied())
}

func TestExecuteIsAtomic(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, alice, usd(1000))
	failing := &testFuse{addr: common.HexToAddress("0xfa"), market: 2, enter: func(ctx fuse.Context) error {
		ctx.Credit(usdc, usd(5))
		return errBoom
	}}
	require.NoError(t, e.v.AddFuses(admin, failing))
	before := e.v.Snapshot()

	_, err := e.v.Execute(alpha, []types.FuseAction{
		e.supplyAction(t, usd(600)),
		types.NewEnterAction(failing.addr, nil),
	})
	require.ErrorIs(t, err, errBoom)

	assert.True(t, e.pool.Supplied(vaultAddr, usdc).IsZero(), "external supply is undone")
	assert.True(t, e.pool.Available(usdc).IsZero())
	after := e.v.Snapshot()
	assert.Equal(t, before.TotalAssets.String(), after.TotalAssets.String())
	assert.Equal(t, before.IdleBalance.String(), after.IdleBalance.String())
	assert.Equal(t, before.Markets[0].Balance.String(), after.Markets[0].Balance.String())
	assert.Len(t, e.sink.batches, 1, "events of a reverted batch are not published")
	assert.Equal(t, PhaseIdle, e.v.Phase())
}

func TestExecuteMaintenance(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, alice, usd(1000))

	_, err := e.v.ExecuteMaintenance(alpha, []types.FuseAction{e.supplyAction(t, usd(1))})
	require.ErrorIs(t, err, access.ErrUnauthorized)

	receipt, err := e.v.ExecuteMaintenance(admin, []types.FuseAction{e.supplyAction(t, usd(10))})
	require.NoError(t, err)
	assert.True(t, receipt.Maintenance)
	assert.Equal(t, usd(10).String(), e.v.MarketBalance(lendingMarket).String())
}

func TestNegativeMarketBalanceIsFatal(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, alice, usd(1000))
	_, err := e.v.Execute(alpha, []types.FuseAction{
		e.supplyAction(t, usd(1000)),
		types.NewEnterAction(borrowFuseAddr, assetPayload(t, usdc, usd(900))),
	})
	require.NoError(t, err)
	assert.Equal(t, usd(100).String(), e.v.MarketBalance(lendingMarket).String())
	assert.Equal(t, usd(1000).String(), e.v.TotalAssets().String())

	e.pool.AccrueDebt(vaultAddr, usdc, usd(300))
	err = e.v.UpdateMarketsBalances(alpha, []types.MarketID{lendingMarket})
	require.ErrorIs(t, err, fuse.ErrNegativeBalance)
	var nb *fuse.NegativeBalanceError
	require.True(t, errors.As(err, &nb))
	assert.Equal(t, lendingMarket, nb.MarketID)
	assert.Equal(t, usd(100).String(), e.v.MarketBalance(lendingMarket).String(), "cached balance is kept")
}

func TestMarketValuedAtBatchEnd(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, alice, usd(1000))
	_, err := e.v.Execute(alpha, []types.FuseAction{e.supplyAction(t, usd(500))})
	require.NoError(t, err)

	underwater := &testFuse{addr: common.HexToAddress("0xfc"), market: lendingMarket, enter: func(fuse.Context) error {
		e.pool.AccrueDebt(vaultAddr, usdc, usd(2000))
		return nil
	}}
	restore := &testFuse{addr: common.HexToAddress("0xfd"), market: lendingMarket, enter: func(fuse.Context) error {
		return e.pool.Repay(vaultAddr, usdc, usd(2000))
	}}
	require.NoError(t, e.v.AddFuses(admin, underwater, restore))

	// the market is under water between the two actions only
	_, err = e.v.Execute(alpha, []types.FuseAction{
		types.NewEnterAction(underwater.addr, nil),
		types.NewEnterAction(restore.addr, nil),
	})
	require.NoError(t, err)
	assert.Equal(t, usd(500).String(), e.v.MarketBalance(lendingMarket).String())

	_, err = e.v.Execute(alpha, []types.FuseAction{types.NewEnterAction(underwater.addr, nil)})
	require.ErrorIs(t, err, fuse.ErrNegativeBalance)
	assert.Equal(t, usd(500).String(), e.v.MarketBalance(lendingMarket).String())
}

func loanAction(t *testing.T, amount sdkmath.Int, nested []types.FuseAction) types.FuseAction {
	t.Helper()
	callback, err := fuse.EncodeActions(nested)
	require.NoError(t, err)
	payload, err := fuse.EncodeFlashLoan(usdc, amount, callback)
	require.NoError(t, err)
	return types.NewEnterAction(flashFuseAddr, payload)
}

func withFlashLoans(t *testing.T, e *env, feeBps uint64) *flashloan.MemoryLender {
	t.Helper()
	lender := flashloan.NewMemoryLender(lenderAddr, feeBps)
	lender.Fund(usdc, usd(1_000_000))
	require.NoError(t, e.v.AddFuses(admin, flashloan.NewFuse(flashFuseAddr, flashMarket, lender)))
	require.NoError(t, e.v.GrantSubstrates(admin, flashMarket, []substrate.Substrate{substrate.Encode(usdc, substrate.Asset)}))
	return lender
}

func TestFlashLoanCallback(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, alice, usd(1000))
	lender := withFlashLoans(t, e, 10)
	require.NoError(t, e.v.RegisterCallbackHandler(admin, lenderAddr, flashloan.CallbackSelector, flashloan.Handler{}))

	// borrow 1000, supply 1500 of idle+loan, pull 1000 back out to repay
	receipt, err := e.v.Execute(alpha, []types.FuseAction{loanAction(t, usd(1000), []types.FuseAction{
		e.supplyAction(t, usd(1500)),
		e.exitAction(t, usd(1000)),
	})})
	require.NoError(t, err)

	assert.ElementsMatch(t, []types.MarketID{lendingMarket, flashMarket}, receipt.TouchedMarkets)
	assert.Equal(t, usd(500).String(), e.v.MarketBalance(lendingMarket).String())
	assert.Equal(t, usd(499).String(), e.v.IdleBalance().String(), "1 paid as flash loan fee")
	assert.Equal(t, usd(1_000_001).String(), lender.Available(usdc).String())
}

func TestCallbackWithoutHandlerReverts(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, alice, usd(1000))
	lender := withFlashLoans(t, e, 10)

	_, err := e.v.Execute(alpha, []types.FuseAction{loanAction(t, usd(1000), nil)})
	require.ErrorIs(t, err, ErrHandlerNotFound)
	assert.Equal(t, usd(1_000_000).String(), lender.Available(usdc).String())
	assert.Equal(t, usd(1000).String(), e.v.IdleBalance().String())
}

func TestCallbackDepthIsBounded(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, alice, usd(1000))
	withFlashLoans(t, e, 0)

	again := fuse.CallbackHandlerFunc(func(fuse.View, []byte) ([]types.FuseAction, error) {
		return []types.FuseAction{loanAction(t, usd(1), nil)}, nil
	})
	require.NoError(t, e.v.RegisterCallbackHandler(admin, lenderAddr, flashloan.CallbackSelector, again))

	_, err := e.v.Execute(alpha, []types.FuseAction{loanAction(t, usd(1), nil)})
	require.ErrorIs(t, err, ErrCallbackDepth)
}

func TestCallbackOutsideExecution(t *testing.T) {
	e := newEnv(t)
	err := e.v.Callback(lenderAddr, flashloan.CallbackSelector, nil)
	require.ErrorIs(t, err, ErrCallbackOutsideExecution)
}

func TestReentrantCallIsRejected(t *testing.T) {
	e := newEnv(t)
	e.deposit(t, alice, usd(1000))
	reentrant := &testFuse{addr: common.HexToAddress("0xfb"), market: 2, enter: func(fuse.Context) error {
		_, err := e.v.Deposit(bob, bob, usd(1))
		return err
	}}
	require.NoError(t, e.v.AddFuses(admin, reentrant))

	_, err := e.v.Execute(alpha, []types.FuseAction{types.NewEnterAction(reentrant.addr, nil)})
	require.ErrorIs(t, err, ErrReentrantCall)
	assert.True(t, e.v.BalanceOf(bob).IsZero())

	// the guard is released after the failed batch
	e.deposit(t, bob, usd(1))
}
