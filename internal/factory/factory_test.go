package factory

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/plasmavault/internal/access"
	"github.com/elys-network/plasmavault/internal/pricing"
	"github.com/elys-network/plasmavault/internal/types"
)

var (
	factoryAddr = common.HexToAddress("0xfac")
	admin       = common.HexToAddress("0xad")
	alpha       = common.HexToAddress("0xa1")
	alice       = common.HexToAddress("0xa11ce")
	router      = common.HexToAddress("0x5a")
	usdc        = common.HexToAddress("0x01")
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func salt(b byte) [32]byte {
	var s [32]byte
	s[31] = b
	return s
}

func params(s [32]byte) VaultParams {
	return VaultParams{
		Salt:          s,
		Admin:         admin,
		Asset:         usdc,
		AssetDecimals: 6,
		FeePackage:    types.FeePackage{Name: "none"},
		Withdraw:      types.WithdrawParameters{WithdrawWindow: 24 * time.Hour, QueueEnabled: true},
	}
}

func newFactory(t *testing.T) (*Factory, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(factoryAddr, clk.Now), clk
}

// setupRoles gives admin the operational capabilities and alpha its own.
func setupRoles(t *testing.T, inst *Instance) {
	t.Helper()
	for _, c := range []access.Capability{access.Atomist, access.PriceManager} {
		require.NoError(t, inst.Access.Grant(admin, c, admin))
	}
	require.NoError(t, inst.Access.Grant(admin, access.Alpha, alpha))
	require.NoError(t, inst.Prices.SetFeed(admin, usdc, pricing.NewStaticFeed(sdkmath.NewInt(100_000_000), 8)))
}

func TestAddressesAreDeterministic(t *testing.T) {
	f, _ := newFactory(t)
	a := f.PredictAddresses(salt(1))
	assert.Equal(t, a, f.PredictAddresses(salt(1)))
	assert.Len(t, a, len(PhaseOne)+len(PhaseTwo))

	b := f.PredictAddresses(salt(2))
	assert.NotEqual(t, a[ComponentVault], b[ComponentVault])

	seen := map[common.Address]Component{}
	for c, addr := range a {
		_, dup := seen[addr]
		assert.False(t, dup, "%s collides", c)
		seen[addr] = c
	}

	other := New(common.HexToAddress("0xfad"), nil)
	assert.NotEqual(t, a[ComponentVault], other.ComputeAddress(salt(1), ComponentVault))
}

func TestCreateVault(t *testing.T) {
	f, _ := newFactory(t)
	inst, err := f.CreateVault(params(salt(1)))
	require.NoError(t, err)

	predicted := f.PredictAddresses(salt(1))
	assert.Equal(t, predicted[ComponentVault], inst.Vault.Address())
	for _, c := range PhaseOne {
		assert.True(t, inst.Deployed(c), c)
		assert.True(t, f.HasCode(predicted[c]), c)
	}
	for _, c := range PhaseTwo {
		assert.False(t, inst.Deployed(c), c)
		assert.False(t, f.HasCode(predicted[c]), c)
	}
	assert.Nil(t, inst.Rewards)
	assert.Nil(t, inst.Context)

	assert.True(t, inst.Access.HasCapability(factoryAddr, access.Admin))
	assert.True(t, inst.Access.HasCapability(admin, access.Admin))

	got, err := f.Instance(inst.Vault.Address())
	require.NoError(t, err)
	assert.Same(t, inst, got)
	assert.Equal(t, []common.Address{inst.Vault.Address()}, f.Vaults())

	_, err = f.CreateVault(params(salt(1)))
	require.ErrorIs(t, err, ErrVaultExists)
}

func TestCreateVaultValidates(t *testing.T) {
	f, _ := newFactory(t)
	p := params(salt(1))
	p.Admin = common.Address{}
	_, err := f.CreateVault(p)
	require.ErrorIs(t, err, ErrInvalidParams)

	p = params(salt(1))
	p.Admin = factoryAddr
	_, err = f.CreateVault(p)
	require.ErrorIs(t, err, ErrInvalidParams)
	assert.Empty(t, f.Vaults())
}

func TestDeployComponent(t *testing.T) {
	f, _ := newFactory(t)
	inst, err := f.CreateVault(params(salt(1)))
	require.NoError(t, err)
	vaultAddr := inst.Vault.Address()

	_, err = f.DeployComponent(common.HexToAddress("0xdead"), ComponentRewardsManager)
	require.ErrorIs(t, err, ErrVaultNotRegistered)
	_, err = f.DeployComponent(vaultAddr, Component("ORACLE"))
	require.ErrorIs(t, err, ErrUnknownComponent)
	_, err = f.DeployComponent(vaultAddr, ComponentFeeManager)
	require.ErrorIs(t, err, ErrComponentAlreadyDeployed)

	addr, err := f.DeployComponent(vaultAddr, ComponentRewardsManager)
	require.NoError(t, err)
	assert.Equal(t, inst.Addresses[ComponentRewardsManager], addr)
	assert.True(t, f.HasCode(addr))
	require.NotNil(t, inst.Rewards)
	assert.True(t, inst.Access.HasCapability(addr, access.Claimer))
	assert.True(t, inst.Access.HasCapability(factoryAddr, access.Admin), "factory stays admin until phase two is complete")

	_, err = f.DeployComponent(vaultAddr, ComponentRewardsManager)
	require.ErrorIs(t, err, ErrComponentAlreadyDeployed)

	addr, err = f.DeployComponent(vaultAddr, ComponentContextManager)
	require.NoError(t, err)
	assert.Equal(t, inst.Addresses[ComponentContextManager], addr)
	require.NotNil(t, inst.Context)
	assert.False(t, inst.Access.HasCapability(factoryAddr, access.Admin))
	assert.True(t, inst.Access.HasCapability(admin, access.Admin))

	_, err = f.DeployComponent(vaultAddr, ComponentContextManager)
	require.ErrorIs(t, err, ErrComponentAlreadyDeployed)
}

func TestRewardsVesting(t *testing.T) {
	f, clk := newFactory(t)
	inst, err := f.CreateVault(params(salt(1)))
	require.NoError(t, err)
	setupRoles(t, inst)
	_, err = f.DeployComponent(inst.Vault.Address(), ComponentRewardsManager)
	require.NoError(t, err)
	rm := inst.Rewards

	_, err = inst.Vault.Deposit(alice, alice, sdkmath.NewInt(1_000_000_000))
	require.NoError(t, err)

	require.NoError(t, rm.Fund(sdkmath.NewInt(100_000_000)))
	require.ErrorIs(t, rm.StartVesting(alpha, time.Hour), access.ErrUnauthorized)
	require.NoError(t, rm.StartVesting(admin, 10*time.Hour))
	assert.True(t, rm.Vested().IsZero())
	_, err = rm.Release(alpha)
	require.ErrorIs(t, err, ErrNothingVested)

	clk.now = clk.now.Add(5 * time.Hour)
	assert.Equal(t, "50000000", rm.Releasable().String())
	_, err = rm.Release(alice)
	require.ErrorIs(t, err, access.ErrUnauthorized)
	released, err := rm.Release(alpha)
	require.NoError(t, err)
	assert.Equal(t, "50000000", released.String())
	assert.Equal(t, "1050000000", inst.Vault.TotalAssets().String())
	assert.Equal(t, "50000000", rm.Balance().String())
	assert.True(t, rm.Releasable().IsZero())

	clk.now = clk.now.Add(24 * time.Hour)
	assert.Equal(t, "100000000", rm.Vested().String())
	released, err = rm.Release(alpha)
	require.NoError(t, err)
	assert.Equal(t, "50000000", released.String())
	assert.True(t, rm.Balance().IsZero())
	assert.Equal(t, "1100000000", inst.Vault.TotalAssets().String())
}

func TestContextDelegation(t *testing.T) {
	f, _ := newFactory(t)
	inst, err := f.CreateVault(params(salt(1)))
	require.NoError(t, err)
	setupRoles(t, inst)
	_, err = f.DeployComponent(inst.Vault.Address(), ComponentContextManager)
	require.NoError(t, err)
	cm := inst.Context

	_, err = inst.Vault.Deposit(alice, alice, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	_, err = inst.Vault.Redeem(router, alice, router, sdkmath.NewInt(1))
	require.ErrorIs(t, err, access.ErrUnauthorized)

	require.ErrorIs(t, cm.SetContext(alice, router, true), ErrNotApproved)
	require.ErrorIs(t, cm.AddApprovedAddresses(alpha, router), access.ErrUnauthorized)
	require.NoError(t, cm.AddApprovedAddresses(admin, router))
	assert.True(t, cm.IsApproved(router))
	assert.False(t, cm.CanActFor(router, alice), "approval alone is not enough")

	require.NoError(t, cm.SetContext(alice, router, true))
	assert.True(t, cm.CanActFor(router, alice))
	res, err := inst.Vault.Redeem(router, alice, router, sdkmath.NewInt(1))
	require.NoError(t, err)
	assert.True(t, res.Instant)

	require.NoError(t, cm.RemoveApprovedAddresses(admin, router))
	assert.False(t, cm.CanActFor(router, alice))
	_, err = inst.Vault.Redeem(router, alice, router, sdkmath.NewInt(1))
	require.ErrorIs(t, err, access.ErrUnauthorized)
}
