/*
Package operator drives a vault on a fixed cadence.

Each cycle refreshes every market (which also realizes fees), settles the withdrawal queue,
optionally distributes fee shares, then snapshots the vault into metrics and the store. The
vault itself is not safe for concurrent use; the operator owns it and serializes every access,
including the reads served by the web API.
*/
package operator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/elys-network/plasmavault/internal/logger"
	"github.com/elys-network/plasmavault/internal/metrics"
	"github.com/elys-network/plasmavault/internal/types"
	"github.com/elys-network/plasmavault/internal/vault"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNoEngine     = errors.New("operator needs a vault engine")
	ErrNoCaller     = errors.New("operator needs a caller address")
	ErrCycleAborted = errors.New("cycle aborted")
)

// Store persists what the operator produces. A nil Store disables persistence.
type Store interface {
	// BeginCycle allocates the next cycle number for vault.
	BeginCycle(vault common.Address, cycleID string, startedAt time.Time) (int, error)
	// FinishCycle records how a begun cycle ended.
	FinishCycle(vault common.Address, report CycleReport) error
	SaveSnapshot(snapshot types.VaultSnapshot) (int64, error)
	SaveReceipt(vault common.Address, receipt types.ExecutionReceipt) (int64, error)
}

// Config holds the configuration for creating a new Operator
type Config struct {
	Engine vault.Engine
	// Caller must hold Alpha, and Claimer when ClaimFees is set.
	Caller        common.Address
	Store         Store
	ClaimFees     bool
	ShareDecimals uint64
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	CycleID     string                         `json:"cycle_id"`
	CycleNumber int                            `json:"cycle_number"`
	StartedAt   time.Time                      `json:"started_at"`
	Duration    time.Duration                  `json:"duration"`
	Refreshed   []types.MarketID               `json:"refreshed_markets"`
	Fulfilled   []string                       `json:"fulfilled_requests"`
	FeesPaid    map[common.Address]sdkmath.Int `json:"fees_paid,omitempty"`
	SnapshotID  int64                          `json:"snapshot_id,omitempty"`
	Error       string                         `json:"error,omitempty"`
}

// Operator serializes access to a vault engine and runs the maintenance cycle.
type Operator struct {
	mu     sync.Mutex
	logger zerolog.Logger

	engine        vault.Engine
	vault         common.Address
	caller        common.Address
	store         Store
	claimFees     bool
	shareDecimals uint64

	cycleCount int
	last       *CycleReport
}

// New creates an operator for the engine in cfg.
func New(cfg Config) (*Operator, error) {
	if cfg.Engine == nil {
		return nil, ErrNoEngine
	}
	if cfg.Caller == (common.Address{}) {
		return nil, ErrNoCaller
	}
	o := &Operator{
		logger:        logger.GetForComponent("vault_operator"),
		engine:        cfg.Engine,
		vault:         cfg.Engine.Snapshot().Vault,
		caller:        cfg.Caller,
		store:         cfg.Store,
		claimFees:     cfg.ClaimFees,
		shareDecimals: cfg.ShareDecimals,
	}
	o.logger.Info().
		Str("vault", o.vault.Hex()).
		Str("caller", o.caller.Hex()).
		Bool("persistence", o.store != nil).
		Bool("claimFees", o.claimFees).
		Msg("Operator created")
	return o, nil
}

// RunLoop runs a cycle immediately and then once per interval until ctx is cancelled.
func (o *Operator) RunLoop(ctx context.Context, interval time.Duration) {
	o.logger.Info().Dur("interval", interval).Msg("Starting operator loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Msg("Operator loop stopped due to context cancellation")
			return
		case <-ticker.C:
			o.runLogged(ctx)
		}
	}
}

func (o *Operator) runLogged(ctx context.Context) {
	if _, err := o.RunCycle(ctx); err != nil {
		o.logger.Error().Err(err).Msg("Operator cycle failed")
	}
}

// RunCycle executes one maintenance cycle. The report is returned even when a step fails.
func (o *Operator) RunCycle(ctx context.Context) (*CycleReport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	report := &CycleReport{
		CycleID:   uuid.New().String(),
		StartedAt: time.Now(),
	}
	persisted := o.beginCycle(report)
	cycleLogger := o.logger.With().Str("cycle_id", report.CycleID).Int("cycle", report.CycleNumber).Logger()
	cycleLogger.Info().Msg("--- Starting operator cycle ---")

	err := o.runSteps(ctx, report, cycleLogger)

	report.Duration = time.Since(report.StartedAt)
	metrics.CycleDuration.WithLabelValues(o.vault.Hex()).Observe(report.Duration.Seconds())
	outcome := "success"
	if err != nil {
		outcome = "failure"
		report.Error = err.Error()
		cycleLogger.Error().Err(err).Msg("Cycle aborted")
	} else {
		cycleLogger.Info().Str("cycleDuration", report.Duration.String()).Msg("--- Operator cycle completed ---")
	}
	metrics.CyclesTotal.WithLabelValues(o.vault.Hex(), outcome).Inc()
	if persisted {
		if ferr := o.store.FinishCycle(o.vault, *report); ferr != nil {
			cycleLogger.Error().Err(ferr).Msg("Failed to record cycle outcome")
		}
	}
	o.last = report
	return report, err
}

func (o *Operator) runSteps(ctx context.Context, report *CycleReport, cycleLogger zerolog.Logger) error {
	checkpoint := func(step string) error {
		if err := ctx.Err(); err != nil {
			return errors.Join(ErrCycleAborted, fmt.Errorf("before %s: %w", step, err))
		}
		return nil
	}

	if err := checkpoint("refresh"); err != nil {
		return err
	}
	markets := o.engine.Markets()
	if len(markets) > 0 {
		cycleLogger.Info().Int("markets", len(markets)).Msg("Step 1: Refreshing market balances...")
		if err := o.engine.UpdateMarketsBalances(o.caller, markets); err != nil {
			return fmt.Errorf("refresh markets: %w", err)
		}
		report.Refreshed = markets
	} else {
		cycleLogger.Info().Msg("Step 1: No markets configured, realizing fees only...")
		if err := o.engine.RealizeFees(o.caller); err != nil {
			return fmt.Errorf("realize fees: %w", err)
		}
	}

	if err := checkpoint("queue"); err != nil {
		return err
	}
	cycleLogger.Info().Msg("Step 2: Processing withdrawal queue...")
	fulfilled, err := o.engine.ProcessWithdrawalQueue(o.caller)
	if err != nil {
		return fmt.Errorf("process withdrawal queue: %w", err)
	}
	report.Fulfilled = fulfilled
	if len(fulfilled) > 0 {
		metrics.RequestsFulfilled.WithLabelValues(o.vault.Hex()).Add(float64(len(fulfilled)))
	}
	cycleLogger.Info().Int("fulfilled", len(fulfilled)).Int("pending", len(o.engine.PendingRequests())).Msg("Step 2: Withdrawal queue processed.")

	if o.claimFees {
		if err := checkpoint("fee claim"); err != nil {
			return err
		}
		cycleLogger.Info().Msg("Step 3: Distributing fee shares...")
		paid, err := o.engine.ClaimFees(o.caller)
		if err != nil {
			return fmt.Errorf("claim fees: %w", err)
		}
		report.FeesPaid = paid
	}

	cycleLogger.Info().Msg("Step 4: Capturing vault snapshot...")
	snapshot := o.engine.Snapshot()
	snapshot.CycleNumber = report.CycleNumber
	metrics.ObserveSnapshot(snapshot, o.shareDecimals)
	if o.store != nil {
		id, err := o.store.SaveSnapshot(snapshot)
		if err != nil {
			// the vault already moved on; a lost snapshot does not undo the cycle
			cycleLogger.Error().Err(err).Msg("Failed to save vault snapshot to database")
		} else {
			report.SnapshotID = id
		}
	}

	cycleLogger.Info().
		Str("totalAssets", snapshot.TotalAssets.String()).
		Str("idleBalance", snapshot.IdleBalance.String()).
		Str("totalSupply", snapshot.TotalSupply.String()).
		Str("pricePerShare", snapshot.PricePerShare.String()).
		Int("pendingRequests", len(snapshot.PendingQueue)).
		Msg("End of Cycle State")
	return nil
}

// beginCycle numbers the cycle from the store, falling back to the in-memory count. It reports
// whether the store knows about the cycle and expects it to be finished.
func (o *Operator) beginCycle(report *CycleReport) bool {
	o.cycleCount++
	report.CycleNumber = o.cycleCount
	if o.store == nil {
		return false
	}
	n, err := o.store.BeginCycle(o.vault, report.CycleID, report.StartedAt)
	if err != nil {
		o.logger.Error().Err(err).Msg("Failed to begin cycle in store, using in-memory counter")
		return false
	}
	o.cycleCount = n
	report.CycleNumber = n
	return true
}

// LastCycle returns the report of the most recent cycle, if any.
func (o *Operator) LastCycle() (CycleReport, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return CycleReport{}, false
	}
	return *o.last, true
}

// Execute submits a batch as the operator's caller and records its receipt.
func (o *Operator) Execute(actions []types.FuseAction) (*types.ExecutionReceipt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	receipt, err := o.engine.Execute(o.caller, actions)
	if err != nil {
		metrics.BatchesTotal.WithLabelValues(o.vault.Hex(), "reverted").Inc()
		return nil, err
	}
	metrics.BatchesTotal.WithLabelValues(o.vault.Hex(), "committed").Inc()
	if len(receipt.Fulfilled) > 0 {
		metrics.RequestsFulfilled.WithLabelValues(o.vault.Hex()).Add(float64(len(receipt.Fulfilled)))
	}
	if o.store != nil {
		if _, err := o.store.SaveReceipt(o.vault, *receipt); err != nil {
			o.logger.Error().Err(err).Str("batch_id", receipt.BatchID).Msg("Failed to save execution receipt")
		}
	}
	return receipt, nil
}

// Vault is the address of the operated vault.
func (o *Operator) Vault() common.Address { return o.vault }

// Snapshot reads the vault under the operator lock.
func (o *Operator) Snapshot() types.VaultSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.engine.Snapshot()
}

func (o *Operator) PendingRequests() []types.WithdrawalRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.engine.PendingRequests()
}

func (o *Operator) Request(id string) (types.WithdrawalRequest, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.engine.Request(id)
}

// Do runs fn with exclusive access to the engine, for callers that need several operations to
// see a consistent vault.
func (o *Operator) Do(fn func(vault.Engine) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return fn(o.engine)
}
