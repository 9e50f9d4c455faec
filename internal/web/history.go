package web

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/plasmavault/internal/state"
	"github.com/elys-network/plasmavault/internal/types"
)

// PostgresHistory reads through the global state.DB.
type PostgresHistory struct{}

var _ History = PostgresHistory{}

func (PostgresHistory) RecentSnapshots(vault common.Address, limit int) ([]types.VaultSnapshot, error) {
	return state.GetRecentSnapshots(vault, limit)
}

func (PostgresHistory) SnapshotByID(id int64) (*types.VaultSnapshot, error) {
	return state.GetSnapshotByID(id)
}

func (PostgresHistory) RecentReceipts(vault common.Address, limit int) ([]types.ExecutionReceipt, error) {
	return state.GetRecentReceipts(vault, limit)
}

func (PostgresHistory) Summary(vault common.Address) (*state.VaultSummary, error) {
	return state.GetVaultSummary(vault)
}

func (PostgresHistory) Performance(vault common.Address) (*state.PerformanceMetrics, error) {
	return state.GetPerformanceMetrics(vault)
}

func (PostgresHistory) Healthy() error {
	return state.CheckDBConnection()
}
