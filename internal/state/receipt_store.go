// ./internal/state/receipt_store.go
package state

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"

	"github.com/elys-network/plasmavault/internal/types"
)

// SaveExecutionReceipt records a committed batch.
func SaveExecutionReceipt(vault common.Address, receipt types.ExecutionReceipt) (int64, error) {
	if DB == nil {
		return 0, ErrDBNotInitialized
	}

	eventsJSON, err := json.Marshal(receipt.Events)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal events: %w", err)
	}
	touched := make([]int64, len(receipt.TouchedMarkets))
	for i, m := range receipt.TouchedMarkets {
		touched[i] = int64(m)
	}

	query := `
		INSERT INTO execution_receipts (
			batch_id, vault_address, caller, maintenance, action_count,
			touched_markets, fulfilled_requests,
			total_assets_before, total_assets_after, events, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING receipt_id;`

	var receiptID int64
	err = DB.QueryRow(query,
		receipt.BatchID, vault.Hex(), receipt.Caller.Hex(), receipt.Maintenance, receipt.Actions,
		pq.Array(touched), pq.Array(receipt.Fulfilled),
		numeric(receipt.TotalAssetsBefore), numeric(receipt.TotalAssetsAfter), eventsJSON, receipt.Timestamp,
	).Scan(&receiptID)
	if err != nil {
		return 0, fmt.Errorf("failed to save execution receipt: %w", err)
	}

	log.Debug().Int64("receipt_id", receiptID).Str("batch_id", receipt.BatchID).Msg("Execution receipt saved")
	return receiptID, nil
}

// GetRecentReceipts returns the newest receipts of a vault without their event payloads.
func GetRecentReceipts(vault common.Address, limit int) ([]types.ExecutionReceipt, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := DB.Query(`
		SELECT batch_id, caller, maintenance, action_count, touched_markets, fulfilled_requests,
			total_assets_before::TEXT, total_assets_after::TEXT, executed_at
		FROM execution_receipts
		WHERE vault_address = $1
		ORDER BY executed_at DESC
		LIMIT $2`, vault.Hex(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []types.ExecutionReceipt
	for rows.Next() {
		var (
			r             types.ExecutionReceipt
			caller        string
			touched       []int64
			before, after string
		)
		if err := rows.Scan(&r.BatchID, &caller, &r.Maintenance, &r.Actions, pq.Array(&touched), pq.Array(&r.Fulfilled),
			&before, &after, &r.Timestamp); err != nil {
			log.Error().Err(err).Msg("Failed to scan receipt row")
			continue
		}
		r.Caller = common.HexToAddress(caller)
		for _, m := range touched {
			r.TouchedMarkets = append(r.TouchedMarkets, types.MarketID(m))
		}
		if r.TotalAssetsBefore, err = parseNumeric("total_assets_before", before); err != nil {
			return nil, err
		}
		if r.TotalAssetsAfter, err = parseNumeric("total_assets_after", after); err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return receipts, nil
}
