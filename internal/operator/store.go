package operator

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/plasmavault/internal/state"
	"github.com/elys-network/plasmavault/internal/types"
)

// PostgresStore persists through the global state.DB.
type PostgresStore struct{}

var _ Store = PostgresStore{}

func (PostgresStore) BeginCycle(vault common.Address, cycleID string, startedAt time.Time) (int, error) {
	return state.BeginCycle(vault, cycleID, startedAt)
}

func (PostgresStore) FinishCycle(vault common.Address, report CycleReport) error {
	outcome := state.CycleSuccess
	if report.Error != "" {
		outcome = state.CycleFailure
	}
	return state.FinishCycle(vault, report.CycleID, outcome, report.Error, report.StartedAt.Add(report.Duration))
}

func (PostgresStore) SaveSnapshot(snapshot types.VaultSnapshot) (int64, error) {
	return state.SaveVaultSnapshot(snapshot)
}

func (PostgresStore) SaveReceipt(vault common.Address, receipt types.ExecutionReceipt) (int64, error) {
	return state.SaveExecutionReceipt(vault, receipt)
}
