// ./internal/state/cycle_log.go
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidCycle    = errors.New("invalid operator cycle")
	ErrCycleNotRunning = errors.New("cycle is not the vault's latest cycle")
)

// Cycle outcomes recorded by FinishCycle.
const (
	CycleRunning = "running"
	CycleSuccess = "success"
	CycleFailure = "failure"
)

// CycleState is the operator's cycle bookkeeping for one vault.
type CycleState struct {
	Vault          common.Address `json:"vault"`
	CurrentCycle   int            `json:"current_cycle"`
	LastCycleID    string         `json:"last_cycle_id,omitempty"`
	LastStartedAt  *time.Time     `json:"last_started_at,omitempty"`
	LastFinishedAt *time.Time     `json:"last_finished_at,omitempty"`
	LastOutcome    string         `json:"last_outcome,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
}

// Interrupted reports whether the latest cycle started but never finished, as after a crash.
func (s CycleState) Interrupted() bool {
	return s.LastOutcome == CycleRunning
}

// BeginCycle allocates the next cycle number of a vault and marks cycleID as running.
// Numbers keep increasing across restarts.
func BeginCycle(vault common.Address, cycleID string, startedAt time.Time) (int, error) {
	if _, err := uuid.Parse(cycleID); err != nil {
		return 0, errors.Join(ErrInvalidCycle, fmt.Errorf("cycle id %q: %w", cycleID, err))
	}
	if DB == nil {
		return 0, ErrDBNotInitialized
	}

	query := `
		INSERT INTO operator_cycles (vault_address, current_cycle, last_cycle_id, last_started_at, last_finished_at, last_outcome, last_error, updated_at)
		VALUES ($1, 1, $2, $3, NULL, $4, NULL, CURRENT_TIMESTAMP)
		ON CONFLICT (vault_address) DO UPDATE SET
			current_cycle = operator_cycles.current_cycle + 1,
			last_cycle_id = EXCLUDED.last_cycle_id,
			last_started_at = EXCLUDED.last_started_at,
			last_finished_at = NULL,
			last_outcome = EXCLUDED.last_outcome,
			last_error = NULL,
			updated_at = CURRENT_TIMESTAMP
		RETURNING current_cycle;`

	var cycle int
	if err := DB.QueryRow(query, vault.Hex(), cycleID, startedAt.UTC(), CycleRunning).Scan(&cycle); err != nil {
		return 0, fmt.Errorf("failed to begin cycle: %w", err)
	}
	log.Debug().Str("vault", vault.Hex()).Str("cycle_id", cycleID).Int("cycle", cycle).Msg("Cycle started")
	return cycle, nil
}

// FinishCycle records the outcome of the vault's running cycle. Only the latest cycle can be
// finished; a stale cycleID returns ErrCycleNotRunning.
func FinishCycle(vault common.Address, cycleID, outcome, cycleErr string, finishedAt time.Time) error {
	if outcome != CycleSuccess && outcome != CycleFailure {
		return fmt.Errorf("%w: outcome %q", ErrInvalidCycle, outcome)
	}
	if outcome == CycleFailure && cycleErr == "" {
		return fmt.Errorf("%w: failed cycle without an error", ErrInvalidCycle)
	}
	if DB == nil {
		return ErrDBNotInitialized
	}

	var errText sql.NullString
	if cycleErr != "" {
		errText = sql.NullString{String: cycleErr, Valid: true}
	}
	result, err := DB.Exec(`
		UPDATE operator_cycles
		SET last_finished_at = $3, last_outcome = $4, last_error = $5, updated_at = CURRENT_TIMESTAMP
		WHERE vault_address = $1 AND last_cycle_id = $2;`,
		vault.Hex(), cycleID, finishedAt.UTC(), outcome, errText)
	if err != nil {
		return fmt.Errorf("failed to finish cycle: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrCycleNotRunning, cycleID)
	}
	return nil
}

// GetCycleState loads the cycle bookkeeping of a vault. A vault that never ran a cycle gets a
// zero state.
func GetCycleState(vault common.Address) (*CycleState, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}

	s := &CycleState{Vault: vault}
	var (
		cycleID, outcome, lastErr sql.NullString
		started, finished         sql.NullTime
	)
	err := DB.QueryRow(`
		SELECT current_cycle, last_cycle_id, last_started_at, last_finished_at, last_outcome, last_error
		FROM operator_cycles WHERE vault_address = $1;`, vault.Hex()).
		Scan(&s.CurrentCycle, &cycleID, &started, &finished, &outcome, &lastErr)
	if errors.Is(err, sql.ErrNoRows) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cycle state: %w", err)
	}
	s.LastCycleID = cycleID.String
	s.LastOutcome = outcome.String
	s.LastError = lastErr.String
	if started.Valid {
		s.LastStartedAt = &started.Time
	}
	if finished.Valid {
		s.LastFinishedAt = &finished.Time
	}
	return s, nil
}

// ResetCycleNumber sets the vault's counter so the next cycle is cycle+1.
func ResetCycleNumber(vault common.Address, cycle int) error {
	if cycle < 0 {
		return fmt.Errorf("%w: cycle number cannot be negative: %d", ErrInvalidCycle, cycle)
	}
	if DB == nil {
		return ErrDBNotInitialized
	}

	_, err := DB.Exec(`
		INSERT INTO operator_cycles (vault_address, current_cycle, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (vault_address) DO UPDATE SET current_cycle = EXCLUDED.current_cycle, updated_at = CURRENT_TIMESTAMP;`,
		vault.Hex(), cycle)
	if err != nil {
		return fmt.Errorf("failed to reset cycle number to %d: %w", cycle, err)
	}
	log.Warn().Str("vault", vault.Hex()).Int("cycle", cycle).Msg("Reset cycle counter")
	return nil
}
