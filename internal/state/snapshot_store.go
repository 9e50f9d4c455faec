// ./internal/state/snapshot_store.go
package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/plasmavault/internal/types"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

const snapshotColumns = `
	snapshot_id, cycle_number, vault_address, snapshot_timestamp,
	total_assets::TEXT, idle_balance::TEXT, total_supply::TEXT, price_per_share::TEXT,
	batches_applied, markets, fees, pending_queue`

// SaveVaultSnapshot saves a complete vault snapshot to the database.
func SaveVaultSnapshot(snapshot types.VaultSnapshot) (int64, error) {
	if DB == nil {
		return 0, ErrDBNotInitialized
	}

	marketsJSON, err := json.Marshal(snapshot.Markets)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal markets: %w", err)
	}
	feesJSON, err := json.Marshal(snapshot.Fees)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal fees: %w", err)
	}
	queueJSON, err := json.Marshal(snapshot.PendingQueue)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal pending_queue: %w", err)
	}

	query := `
		INSERT INTO vault_snapshots (
			cycle_number, vault_address, snapshot_timestamp,
			total_assets, idle_balance, total_supply, price_per_share,
			batches_applied, markets, fees, pending_queue
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING snapshot_id;`

	var snapshotID int64
	err = DB.QueryRow(query,
		snapshot.CycleNumber, snapshot.Vault.Hex(), snapshot.Timestamp,
		numeric(snapshot.TotalAssets), numeric(snapshot.IdleBalance), numeric(snapshot.TotalSupply), numeric(snapshot.PricePerShare),
		snapshot.BatchesApplied, marketsJSON, feesJSON, queueJSON,
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to save vault snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Int("cycle_number", snapshot.CycleNumber).
		Str("total_assets", numeric(snapshot.TotalAssets)).
		Msg("Vault snapshot saved to database")
	return snapshotID, nil
}

// GetRecentSnapshots returns the newest snapshots of a vault, newest first.
func GetRecentSnapshots(vault common.Address, limit int) ([]types.VaultSnapshot, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	rows, err := DB.Query(`SELECT `+snapshotColumns+`
		FROM vault_snapshots
		WHERE vault_address = $1
		ORDER BY snapshot_timestamp DESC
		LIMIT $2`, vault.Hex(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []types.VaultSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			log.Error().Err(err).Msg("Failed to scan snapshot row")
			continue
		}
		snapshots = append(snapshots, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return snapshots, nil
}

// GetSnapshotByID retrieves one snapshot.
func GetSnapshotByID(snapshotID int64) (*types.VaultSnapshot, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}
	row := DB.QueryRow(`SELECT `+snapshotColumns+` FROM vault_snapshots WHERE snapshot_id = $1`, snapshotID)
	s, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrSnapshotNotFound, snapshotID)
		}
		return nil, err
	}
	return s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*types.VaultSnapshot, error) {
	var (
		s                                types.VaultSnapshot
		vaultHex                         string
		totalAssets, idle, supply, pps   string
		marketsJSON, feesJSON, queueJSON []byte
	)
	err := row.Scan(
		&s.SnapshotID, &s.CycleNumber, &vaultHex, &s.Timestamp,
		&totalAssets, &idle, &supply, &pps,
		&s.BatchesApplied, &marketsJSON, &feesJSON, &queueJSON,
	)
	if err != nil {
		return nil, err
	}
	s.Vault = common.HexToAddress(vaultHex)

	if s.TotalAssets, err = parseNumeric("total_assets", totalAssets); err != nil {
		return nil, err
	}
	if s.IdleBalance, err = parseNumeric("idle_balance", idle); err != nil {
		return nil, err
	}
	if s.TotalSupply, err = parseNumeric("total_supply", supply); err != nil {
		return nil, err
	}
	if s.PricePerShare, err = parseNumeric("price_per_share", pps); err != nil {
		return nil, err
	}
	if err := unmarshalJSONFields(&s, marketsJSON, feesJSON, queueJSON); err != nil {
		return nil, err
	}
	return &s, nil
}

// unmarshalJSONFields unmarshals the JSONB columns of a snapshot row.
func unmarshalJSONFields(s *types.VaultSnapshot, marketsJSON, feesJSON, queueJSON []byte) error {
	if len(marketsJSON) > 0 {
		if err := json.Unmarshal(marketsJSON, &s.Markets); err != nil {
			return fmt.Errorf("failed to unmarshal markets: %w", err)
		}
	}
	if len(feesJSON) > 0 {
		if err := json.Unmarshal(feesJSON, &s.Fees); err != nil {
			return fmt.Errorf("failed to unmarshal fees: %w", err)
		}
	}
	if len(queueJSON) > 0 {
		if err := json.Unmarshal(queueJSON, &s.PendingQueue); err != nil {
			return fmt.Errorf("failed to unmarshal pending queue: %w", err)
		}
	}
	return nil
}
