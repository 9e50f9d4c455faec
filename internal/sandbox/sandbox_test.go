package sandbox

import (
	"path/filepath"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/plasmavault/internal/access"
	"github.com/elys-network/plasmavault/internal/config"
	"github.com/elys-network/plasmavault/internal/factory"
	"github.com/elys-network/plasmavault/internal/fuse"
	"github.com/elys-network/plasmavault/internal/types"
)

const testVault = `
name: sandbox-test
admin: "0x00000000000000000000000000000000000000ad"
asset: { address: "0x0000000000000000000000000000000000000001", decimals: 6, price: "1" }
tokens:
  - { address: "0x0000000000000000000000000000000000000002", decimals: 18, price: "3000" }
fee_package: none
withdraw: { withdraw_window: 24h, queue_enabled: true }
roles:
  ALPHA: ["0x00000000000000000000000000000000000000a1"]
markets:
  - id: 1
    kind: lending
    protocol: "0x0000000000000000000000000000000000009001"
    liquidity: "100"
    instant_withdraw: true
    dependencies: [2]
    substrates: [{ address: "0x0000000000000000000000000000000000000001", type: asset }]
    fuses:
      supply: "0x00000000000000000000000000000000000000f1"
      borrow: "0x00000000000000000000000000000000000000f2"
      balance: "0x00000000000000000000000000000000000000b1"
  - id: 2
    kind: erc20
    substrates: [{ address: "0x0000000000000000000000000000000000000002", type: asset }]
    fuses: { balance: "0x00000000000000000000000000000000000000b2" }
  - id: 3
    kind: flashloan
    protocol: "0x0000000000000000000000000000000000009002"
    liquidity: "5000"
    fee_bps: 10
    substrates: [{ address: "0x0000000000000000000000000000000000000001", type: asset }]
    fuses: { flashloan: "0x00000000000000000000000000000000000000f3" }
`

var (
	factoryAddr = common.HexToAddress("0xfac")
	admin       = common.HexToAddress("0xad")
	alpha       = common.HexToAddress("0xa1")
	alice       = common.HexToAddress("0xa11ce")
	usdc        = common.HexToAddress("0x01")
	weth        = common.HexToAddress("0x02")
)

func usd(n int64) sdkmath.Int { return sdkmath.NewInt(n * 1_000_000) }

func deploy(t *testing.T, raw string) (*Deployment, *factory.Factory) {
	t.Helper()
	vf, err := config.ParseVaultFile([]byte(raw))
	require.NoError(t, err)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f := factory.New(factoryAddr, func() time.Time { return now })
	d, err := Deploy(f, vf, nil)
	require.NoError(t, err)
	return d, f
}

func assetAmount(t *testing.T, amount sdkmath.Int) []byte {
	t.Helper()
	p, err := fuse.EncodeAssetAmount(usdc, amount)
	require.NoError(t, err)
	return p
}

func TestDeployWiresEverything(t *testing.T) {
	d, f := deploy(t, testVault)
	v := d.Vault()
	am := d.Instance.Access

	assert.False(t, am.HasCapability(factoryAddr, access.Admin), "factory renounced admin")
	assert.True(t, am.HasCapability(admin, access.Admin))
	assert.False(t, am.HasCapability(admin, access.FuseManager), "bootstrap rights dropped")
	assert.True(t, am.HasCapability(alpha, access.Alpha))
	assert.True(t, d.Instance.Deployed(factory.ComponentRewardsManager))
	assert.True(t, d.Instance.Deployed(factory.ComponentContextManager))
	assert.True(t, f.HasCode(d.Instance.Addresses[factory.ComponentContextManager]))

	assert.Equal(t, []types.MarketID{1, 2, 3}, v.Markets())
	assert.Equal(t, []types.MarketID{2}, v.Dependencies(1))
	require.Len(t, v.InstantWithdrawFuses(), 1)
	assert.Equal(t, common.HexToAddress("0xf1"), v.InstantWithdrawFuses()[0].Fuse)
	assert.Len(t, v.Fuses(), 3)

	require.Len(t, d.Feeds, 2)
	price, decimals, err := d.Feeds[weth].LatestPrice()
	require.NoError(t, err)
	assert.Equal(t, "300000000000", price.String())
	assert.Equal(t, uint64(config.PriceDecimals), decimals)
	assert.Equal(t, usd(100).String(), d.Pools[1].Available(usdc).String())
	assert.Equal(t, usd(5000).String(), d.Lenders[3].Available(usdc).String())
}

func TestSandboxFlows(t *testing.T) {
	d, _ := deploy(t, testVault)
	v := d.Vault()

	_, err := v.Deposit(alice, alice, usd(1000))
	require.NoError(t, err)

	_, err = v.Execute(alpha, []types.FuseAction{types.NewEnterAction(common.HexToAddress("0xf1"), assetAmount(t, usd(600)))})
	require.NoError(t, err)
	assert.Equal(t, usd(600).String(), v.MarketBalance(1).String())
	assert.Equal(t, usd(600).String(), d.Pools[1].Supplied(v.Address(), usdc).String())

	// a flash loan with no nested actions only costs the fee
	nested, err := fuse.EncodeActions(nil)
	require.NoError(t, err)
	loan, err := fuse.EncodeFlashLoan(usdc, usd(1000), nested)
	require.NoError(t, err)
	_, err = v.Execute(alpha, []types.FuseAction{types.NewEnterAction(common.HexToAddress("0xf3"), loan)})
	require.NoError(t, err)
	assert.Equal(t, usd(399).String(), v.IdleBalance().String())
	assert.Equal(t, usd(5001).String(), d.Lenders[3].Available(usdc).String())

	res, err := v.Withdraw(alice, alice, alice, usd(500))
	require.NoError(t, err)
	assert.True(t, res.Instant)
	assert.Equal(t, usd(101).String(), res.Pulled.String())
	assert.Equal(t, usd(499).String(), v.MarketBalance(1).String())
	assert.True(t, v.IdleBalance().IsZero())
}

func TestDeployExampleFile(t *testing.T) {
	vf, err := config.LoadVaultFile(filepath.Join("..", "..", "configs", "vault.example.yaml"))
	require.NoError(t, err)
	f := factory.New(factoryAddr, nil)
	d, err := Deploy(f, vf, nil)
	require.NoError(t, err)

	assert.True(t, d.Instance.Access.HasCapability(vf.Admin, access.FuseManager), "kept because the file assigns it")
	assert.Equal(t, uint64(8), d.Vault().ShareDecimals())
	assert.Equal(t, "standard", d.Vault().FeePackage().Name)

	_, err = Deploy(f, vf, nil)
	require.ErrorIs(t, err, factory.ErrVaultExists)
}
