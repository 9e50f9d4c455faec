package lending

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/plasmavault/internal/access"
	"github.com/elys-network/plasmavault/internal/fuse"
	"github.com/elys-network/plasmavault/internal/fuse/fusetest"
	"github.com/elys-network/plasmavault/internal/pricing"
	"github.com/elys-network/plasmavault/internal/substrate"
	"github.com/elys-network/plasmavault/internal/types"
)

const market types.MarketID = 3

var (
	admin    = common.HexToAddress("0xad")
	vault    = common.HexToAddress("0x7a")
	usdc     = common.HexToAddress("0x01")
	dai      = common.HexToAddress("0x02")
	poolAddr = common.HexToAddress("0x9001")
)

type env struct {
	ctx     *fusetest.Context
	pool    *MemoryPool
	supply  *SupplyFuse
	borrow  *BorrowFuse
	balance *BalanceFuse
}

func newEnv(t *testing.T) env {
	t.Helper()
	am, err := access.NewManager(admin)
	require.NoError(t, err)
	require.NoError(t, am.Grant(admin, access.PriceManager, admin))
	prices := pricing.NewManager(am)
	require.NoError(t, prices.SetFeed(admin, usdc, pricing.NewStaticFeed(sdkmath.NewInt(100_000_000), 8)))
	require.NoError(t, prices.SetFeed(admin, dai, pricing.NewStaticFeed(sdkmath.NewInt(100_000_000), 8)))

	ctx := fusetest.NewContext(vault, usdc, 6, prices)
	ctx.Decimals[dai] = 18
	ctx.Grant(market, usdc, dai)

	pool := NewMemoryPool(poolAddr)
	return env{
		ctx:     ctx,
		pool:    pool,
		supply:  NewSupplyFuse(common.HexToAddress("0xf1"), market, pool),
		borrow:  NewBorrowFuse(common.HexToAddress("0xf2"), market, pool),
		balance: NewBalanceFuse(common.HexToAddress("0xf3"), market, pool),
	}
}

func payload(t *testing.T, asset common.Address, amount int64) []byte {
	t.Helper()
	p, err := fuse.EncodeAssetAmount(asset, sdkmath.NewInt(amount))
	require.NoError(t, err)
	return p
}

func TestSupplyAndExit(t *testing.T) {
	e := newEnv(t)
	e.ctx.Credit(usdc, sdkmath.NewInt(1_000_000))

	require.NoError(t, e.supply.Enter(e.ctx, payload(t, usdc, 600_000)))
	assert.Equal(t, int64(400_000), e.ctx.TokenBalance(usdc).Int64())
	assert.Equal(t, int64(600_000), e.pool.Supplied(vault, usdc).Int64())

	balance, err := e.balance.BalanceOf(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewIntWithDecimal(6, 17).String(), balance.String()) // $0.60

	// exiting more than supplied withdraws everything
	require.NoError(t, e.supply.Exit(e.ctx, payload(t, usdc, 5_000_000)))
	assert.Equal(t, int64(1_000_000), e.ctx.TokenBalance(usdc).Int64())
	assert.True(t, e.pool.Supplied(vault, usdc).IsZero())
	require.Len(t, e.ctx.Events, 2)
	assert.Equal(t, types.EventFuseEnter, e.ctx.Events[0].Kind)
	assert.Equal(t, "withdraw", e.ctx.Events[1].Fields["action"])
}

func TestSupplyRequiresGrantedAsset(t *testing.T) {
	e := newEnv(t)
	other := common.HexToAddress("0x0bad")
	e.ctx.Credit(other, sdkmath.NewInt(10))

	err := e.supply.Enter(e.ctx, payload(t, other, 10))
	require.ErrorIs(t, err, fuse.ErrSubstrateNotGranted)
	assert.Empty(t, e.ctx.Undo)
}

func TestSupplyInsufficientVaultBalance(t *testing.T) {
	e := newEnv(t)
	err := e.supply.Enter(e.ctx, payload(t, usdc, 1))
	require.ErrorIs(t, err, fuse.ErrInsufficientBalance)
}

func TestUndoRestoresPool(t *testing.T) {
	e := newEnv(t)
	e.ctx.Credit(usdc, sdkmath.NewInt(1_000_000))
	require.NoError(t, e.supply.Enter(e.ctx, payload(t, usdc, 1_000_000)))
	require.NoError(t, e.borrow.Enter(e.ctx, payload(t, usdc, 250_000)))

	e.ctx.Revert()
	assert.True(t, e.pool.Supplied(vault, usdc).IsZero())
	assert.True(t, e.pool.Borrowed(vault, usdc).IsZero())
	assert.True(t, e.pool.Available(usdc).IsZero())
}

func TestBalanceNegativeIsFatal(t *testing.T) {
	e := newEnv(t)
	e.ctx.Credit(usdc, sdkmath.NewInt(1_000_000))
	require.NoError(t, e.supply.Enter(e.ctx, payload(t, usdc, 1_000_000)))
	require.NoError(t, e.borrow.Enter(e.ctx, payload(t, usdc, 900_000)))

	balance, err := e.balance.BalanceOf(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewIntWithDecimal(1, 17).String(), balance.String())

	// debt grows past collateral
	e.pool.AccrueDebt(vault, usdc, sdkmath.NewInt(300_000))
	_, err = e.balance.BalanceOf(e.ctx)
	require.ErrorIs(t, err, fuse.ErrNegativeBalance)

	var nb *fuse.NegativeBalanceError
	require.True(t, errors.As(err, &nb))
	assert.Equal(t, market, nb.MarketID)
	assert.Equal(t, sdkmath.NewIntWithDecimal(-2, 17).String(), nb.Delta.String())
}

func TestRepayCapsAtDebt(t *testing.T) {
	e := newEnv(t)
	e.ctx.Credit(usdc, sdkmath.NewInt(1_000_000))
	require.NoError(t, e.supply.Enter(e.ctx, payload(t, usdc, 500_000)))
	require.NoError(t, e.borrow.Enter(e.ctx, payload(t, usdc, 100_000)))

	require.NoError(t, e.borrow.Exit(e.ctx, payload(t, usdc, 1_000_000)))
	assert.True(t, e.pool.Borrowed(vault, usdc).IsZero())
	assert.Equal(t, int64(500_000), e.ctx.TokenBalance(usdc).Int64())
}

func TestInstantWithdraw(t *testing.T) {
	e := newEnv(t)
	e.ctx.Credit(usdc, sdkmath.NewInt(1_000_000))
	require.NoError(t, e.supply.Enter(e.ctx, payload(t, usdc, 1_000_000)))
	e.pool.Drain(usdc, sdkmath.NewInt(700_000))

	params := []substrate.Substrate{substrate.Encode(usdc, substrate.Asset)}
	require.NoError(t, e.supply.InstantWithdraw(e.ctx, sdkmath.NewInt(800_000), params))
	assert.Equal(t, int64(300_000), e.ctx.TokenBalance(usdc).Int64(), "limited by pool liquidity")

	err := e.supply.InstantWithdraw(e.ctx, sdkmath.NewInt(1), nil)
	require.ErrorIs(t, err, fuse.ErrNothingToWithdraw)

	err = e.supply.InstantWithdraw(e.ctx, sdkmath.NewInt(1), []substrate.Substrate{substrate.Encode(dai, substrate.Asset)})
	require.ErrorIs(t, err, fuse.ErrInvalidPayload)
}
