// ./internal/state/parameters_store.go
package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/plasmavault/internal/types"
)

var ErrNoActiveParameters = errors.New("no active vault parameters")

// SaveVaultParameters stores a new version of the tunable vault settings. When makeActive is set,
// every earlier version of the same vault is deactivated in the same transaction.
func SaveVaultParameters(params types.VaultParameters, makeActive bool) (paramsID int64, err error) {
	if DB == nil {
		return 0, ErrDBNotInitialized
	}

	feeJSON, err := json.Marshal(params.FeePackage)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal fee_package: %w", err)
	}
	withdrawJSON, err := json.Marshal(params.Withdraw)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal withdraw_parameters: %w", err)
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	vaultHex := params.Vault.Hex()
	if makeActive {
		stmtDeactivate := `UPDATE vault_parameters SET is_active = FALSE WHERE vault_address = $1 AND is_active = TRUE;`
		if _, err = tx.Exec(stmtDeactivate, vaultHex); err != nil {
			return 0, fmt.Errorf("failed to deactivate existing parameters for %s: %w", vaultHex, err)
		}
	}

	stmt := `
		INSERT INTO vault_parameters (
			vault_address, version, is_active, activated_at, created_at,
			fee_package, withdraw_parameters, supply_cap
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING params_id;`

	now := time.Now()
	err = tx.QueryRow(stmt,
		vaultHex, params.Version, makeActive, now, now,
		feeJSON, withdrawJSON, numeric(params.SupplyCap),
	).Scan(&paramsID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert vault parameters: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Str("vault", vaultHex).
		Int("version", params.Version).
		Int64("params_id", paramsID).
		Bool("active", makeActive).
		Msg("Saved vault parameters")
	return paramsID, nil
}

// LoadActiveVaultParameters loads the active settings of a vault. It returns ErrNoActiveParameters
// when none were ever activated.
func LoadActiveVaultParameters(vault common.Address) (*types.VaultParameters, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}

	query := `
		SELECT params_id, version, is_active, activated_at, fee_package, withdraw_parameters, supply_cap
		FROM vault_parameters
		WHERE vault_address = $1 AND is_active = TRUE
		ORDER BY activated_at DESC
		LIMIT 1;`

	p := &types.VaultParameters{Vault: vault}
	var feeJSON, withdrawJSON []byte
	var supplyCap string
	err := DB.QueryRow(query, vault.Hex()).Scan(
		&p.ParamsID, &p.Version, &p.IsActive, &p.ActivatedAt, &feeJSON, &withdrawJSON, &supplyCap,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNoActiveParameters, vault.Hex())
		}
		return nil, fmt.Errorf("failed to scan active parameters for %s: %w", vault.Hex(), err)
	}

	if err := json.Unmarshal(feeJSON, &p.FeePackage); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fee_package: %w", err)
	}
	if err := json.Unmarshal(withdrawJSON, &p.Withdraw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal withdraw_parameters: %w", err)
	}
	if p.SupplyCap, err = parseNumeric("supply_cap", supplyCap); err != nil {
		return nil, err
	}

	log.Info().Str("vault", vault.Hex()).Int("version", p.Version).Msg("Loaded active vault parameters")
	return p, nil
}

// LatestParametersVersion returns the highest stored version for a vault, zero when none exist.
func LatestParametersVersion(vault common.Address) (int, error) {
	if DB == nil {
		return 0, ErrDBNotInitialized
	}
	var version int
	err := DB.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM vault_parameters WHERE vault_address = $1;`, vault.Hex()).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest parameters version: %w", err)
	}
	return version, nil
}
