package erc20

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/plasmavault/internal/access"
	"github.com/elys-network/plasmavault/internal/fuse/fusetest"
	"github.com/elys-network/plasmavault/internal/pricing"
)

var (
	admin = common.HexToAddress("0xad")
	vault = common.HexToAddress("0x7a")
	usdc  = common.HexToAddress("0x01")
	weth  = common.HexToAddress("0x02")
)

func setup(t *testing.T) (*fusetest.Context, *pricing.Manager) {
	t.Helper()
	am, err := access.NewManager(admin)
	require.NoError(t, err)
	require.NoError(t, am.Grant(admin, access.PriceManager, admin))
	prices := pricing.NewManager(am)
	require.NoError(t, prices.SetFeed(admin, usdc, pricing.NewStaticFeed(sdkmath.NewInt(100_000_000), 8)))
	require.NoError(t, prices.SetFeed(admin, weth, pricing.NewStaticFeed(sdkmath.NewInt(3000_00000000), 8)))

	ctx := fusetest.NewContext(vault, usdc, 6, prices)
	ctx.Decimals[weth] = 18
	return ctx, prices
}

func TestBalanceSkipsUnderlying(t *testing.T) {
	ctx, _ := setup(t)
	ctx.Grant(1, usdc, weth)
	ctx.Credit(usdc, sdkmath.NewInt(5_000_000))
	ctx.Credit(weth, sdkmath.NewIntWithDecimal(2, 18))

	balance, err := NewBalanceFuse(common.HexToAddress("0xf1"), 1).BalanceOf(ctx)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewIntWithDecimal(6000, 18).String(), balance.String())
}

func TestBalanceWithoutSubstratesIsZero(t *testing.T) {
	ctx, _ := setup(t)
	ctx.Credit(weth, sdkmath.NewIntWithDecimal(2, 18))

	balance, err := NewBalanceFuse(common.HexToAddress("0xf1"), 1).BalanceOf(ctx)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestBalanceFailsOnZeroPrice(t *testing.T) {
	ctx, prices := setup(t)
	ctx.Grant(1, weth)
	ctx.Credit(weth, sdkmath.NewIntWithDecimal(1, 18))
	require.NoError(t, prices.SetFeed(admin, weth, pricing.NewStaticFeed(sdkmath.ZeroInt(), 8)))

	_, err := NewBalanceFuse(common.HexToAddress("0xf1"), 1).BalanceOf(ctx)
	require.ErrorIs(t, err, pricing.ErrInvalidPrice)
}
