package state

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/plasmavault/internal/types"
)

func point(day int, pps int64) types.VaultSnapshot {
	return types.VaultSnapshot{
		Timestamp:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(day) * 24 * time.Hour),
		PricePerShare: sdkmath.NewInt(pps),
	}
}

func TestComputePerformance(t *testing.T) {
	m := ComputePerformance([]types.VaultSnapshot{
		point(0, 1000),
		point(73, 1100),
		point(146, 990),
		point(365, 1050),
	})
	assert.Equal(t, 4, m.Snapshots)
	assert.Equal(t, "1000", m.FirstPricePerShare.String())
	assert.Equal(t, "1050", m.LatestPricePerShare.String())
	assert.Equal(t, "5", m.ReturnPercent.String())
	assert.Equal(t, "5", m.AnnualizedPercent.String())
	assert.Equal(t, "10", m.MaxDrawdownPercent.String())
}

func TestComputePerformanceEdgeCases(t *testing.T) {
	empty := ComputePerformance(nil)
	assert.Zero(t, empty.Snapshots)
	assert.True(t, empty.ReturnPercent.IsZero())

	single := ComputePerformance([]types.VaultSnapshot{point(0, 1000)})
	assert.True(t, single.ReturnPercent.IsZero())
	assert.True(t, single.AnnualizedPercent.IsZero())

	zeroStart := ComputePerformance([]types.VaultSnapshot{point(0, 0), point(1, 10)})
	assert.True(t, zeroStart.ReturnPercent.IsZero())
}

func TestNumericColumns(t *testing.T) {
	assert.Equal(t, "0", numeric(sdkmath.Int{}))
	huge, ok := sdkmath.NewIntFromString("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.True(t, ok)
	assert.Equal(t, huge.String(), numeric(huge))

	v, err := parseNumeric("total_assets", "42")
	require.NoError(t, err)
	assert.Equal(t, "42", v.String())

	_, err = parseNumeric("total_assets", "4.2")
	require.ErrorIs(t, err, ErrInvalidNumeric)
}

func TestStoreRequiresDB(t *testing.T) {
	DB = nil
	_, err := SaveVaultSnapshot(types.VaultSnapshot{})
	require.ErrorIs(t, err, ErrDBNotInitialized)
	_, err = BeginCycle(common.HexToAddress("0x1"), "4b3e1f7a-2c1d-4e5f-9a8b-0c1d2e3f4a5b", time.Now())
	require.ErrorIs(t, err, ErrDBNotInitialized)
	_, err = GetCycleState(common.HexToAddress("0x1"))
	require.ErrorIs(t, err, ErrDBNotInitialized)
	_, err = LoadActiveVaultParameters(common.HexToAddress("0x1"))
	require.ErrorIs(t, err, ErrDBNotInitialized)
	require.ErrorIs(t, CheckDBConnection(), ErrDBNotInitialized)
}

func TestDSN(t *testing.T) {
	cfg := DBConfig{Host: "localhost", Port: 5432, User: "vault", Password: "secret", DBName: "plasma", SSLMode: "disable"}
	assert.Equal(t, "host=localhost port=5432 user=vault password=secret dbname=plasma sslmode=disable", cfg.DSN())
}

func TestCycleInputValidation(t *testing.T) {
	DB = nil
	vault := common.HexToAddress("0x1")

	_, err := BeginCycle(vault, "cycle-7", time.Now())
	require.ErrorIs(t, err, ErrInvalidCycle)

	tests := []struct {
		name     string
		outcome  string
		cycleErr string
	}{
		{name: "running is not an outcome", outcome: CycleRunning},
		{name: "unknown outcome", outcome: "partial"},
		{name: "failure without error", outcome: CycleFailure},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := FinishCycle(vault, "4b3e1f7a-2c1d-4e5f-9a8b-0c1d2e3f4a5b", tc.outcome, tc.cycleErr, time.Now())
			require.ErrorIs(t, err, ErrInvalidCycle)
		})
	}
	require.ErrorIs(t, FinishCycle(vault, "4b3e1f7a-2c1d-4e5f-9a8b-0c1d2e3f4a5b", CycleFailure, "boom", time.Now()), ErrDBNotInitialized)
	require.ErrorIs(t, ResetCycleNumber(vault, -1), ErrInvalidCycle)
}

func TestCycleStateInterrupted(t *testing.T) {
	assert.True(t, CycleState{LastOutcome: CycleRunning}.Interrupted())
	assert.False(t, CycleState{LastOutcome: CycleSuccess}.Interrupted())
	assert.False(t, CycleState{}.Interrupted())
}
