package vault

import (
	"fmt"
	"slices"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/elys-network/plasmavault/internal/access"
	"github.com/elys-network/plasmavault/internal/types"
)

// Execute runs a batch of fuse actions atomically. Requires Alpha.
//
// Each action must target an allow-listed fuse; its market is recorded as touched. After the
// last action every touched market is re-valued (dependencies first), fees are realized and
// the withdrawal queue is processed. Valuation is checked at batch end only, so an action may
// leave a market temporarily under water as long as a later action restores it. Any failure
// restores the vault to its pre-call state and replays the undo journal of external effects.
func (v *Vault) Execute(caller common.Address, actions []types.FuseAction) (*types.ExecutionReceipt, error) {
	if err := v.require(caller, access.Alpha); err != nil {
		return nil, err
	}
	return v.executeBatch(caller, actions, false)
}

// ExecuteMaintenance runs a restricted batch under the Maintenance capability instead of Alpha.
// The fuse allow-list and atomicity rules are the same as for Execute.
func (v *Vault) ExecuteMaintenance(caller common.Address, actions []types.FuseAction) (*types.ExecutionReceipt, error) {
	if err := v.require(caller, access.Maintenance); err != nil {
		return nil, err
	}
	return v.executeBatch(caller, actions, true)
}

func (v *Vault) executeBatch(caller common.Address, actions []types.FuseAction, maintenance bool) (*types.ExecutionReceipt, error) {
	if len(actions) == 0 {
		return nil, ErrEmptyBatch
	}
	if err := v.enter(); err != nil {
		return nil, err
	}
	defer v.leave()

	batchID := uuid.New().String()
	log := v.logger.With().Str("batch_id", batchID).Bool("maintenance", maintenance).Logger()
	log.Info().Str("caller", caller.Hex()).Int("actions", len(actions)).Msg("Executing batch")

	b := v.begin("execute", true)
	before := v.TotalAssets()

	fulfilled, err := v.runBatch(b, actions)
	if err != nil {
		v.rollback(b)
		log.Error().Err(err).Msg("Batch reverted")
		return nil, err
	}

	v.state.Batches++
	touched := slices.Clone(b.touched)
	slices.Sort(touched)
	receipt := &types.ExecutionReceipt{
		BatchID:           batchID,
		Caller:            caller,
		Maintenance:       maintenance,
		Actions:           len(actions),
		TouchedMarkets:    touched,
		TotalAssetsBefore: before,
		TotalAssetsAfter:  v.TotalAssets(),
		MarketBalances:    make(map[types.MarketID]sdkmath.Int, len(touched)),
		Fulfilled:         fulfilled,
		Timestamp:         v.now(),
	}
	for _, id := range touched {
		receipt.MarketBalances[id] = v.MarketBalance(id)
	}
	receipt.Events = v.commit(b)

	log.Info().
		Str("total_assets_before", before.String()).
		Str("total_assets_after", receipt.TotalAssetsAfter.String()).
		Interface("touched_markets", touched).
		Msg("Batch committed")
	return receipt, nil
}

func (v *Vault) runBatch(b *batch, actions []types.FuseAction) ([]string, error) {
	if err := v.runActions(b, actions); err != nil {
		return nil, err
	}
	b.phase = PhaseSettling
	b.callbacks = false
	if err := v.refreshMarkets(b, b.touched); err != nil {
		return nil, err
	}
	if err := v.realizeFees(b); err != nil {
		return nil, err
	}
	return v.processQueue(b)
}

// runActions dispatches actions in order: Validating(i) checks the allow-list and selector,
// Executing(i) calls the fuse with the batch as its context.
func (v *Vault) runActions(b *batch, actions []types.FuseAction) error {
	for i, action := range actions {
		b.phase = PhaseValidating
		fail := func(err error) error {
			return &ActionError{Index: i, Depth: b.depth, Fuse: action.Fuse, Err: err}
		}

		f, ok := v.fuses[action.Fuse]
		if !ok {
			return fail(ErrUnsupportedFuse)
		}
		selector, payload, ok := action.Split()
		if !ok {
			return fail(fmt.Errorf("%w: data shorter than a selector", ErrInvalidAction))
		}

		b.phase = PhaseExecuting
		var err error
		switch selector {
		case types.EnterSelector:
			err = f.Enter(b, payload)
		case types.ExitSelector:
			err = f.Exit(b, payload)
		default:
			err = fmt.Errorf("%w: %s", ErrUnknownSelector, selector)
		}
		if err != nil {
			return fail(err)
		}
		b.touch(f.MarketID())
	}
	return nil
}

// Callback is the entry point external protocols use to call back into the vault while a
// batch is executing, for example from inside a flash loan.
func (v *Vault) Callback(origin common.Address, selector types.Selector, data []byte) error {
	if v.current == nil {
		return ErrCallbackOutsideExecution
	}
	return v.dispatchCallback(v.current, origin, selector, data)
}

func (v *Vault) dispatchCallback(b *batch, origin common.Address, selector types.Selector, data []byte) error {
	if !b.callbacks || v.current != b {
		return ErrCallbackOutsideExecution
	}
	handler, ok := v.handlers[callbackKey{origin: origin, selector: selector}]
	if !ok {
		return fmt.Errorf("%w: origin %s selector %s", ErrHandlerNotFound, origin.Hex(), selector)
	}
	if b.depth >= MaxCallbackDepth {
		return fmt.Errorf("%w: %d", ErrCallbackDepth, b.depth)
	}

	actions, err := handler.HandleCallback(b, data)
	if err != nil {
		return fmt.Errorf("callback handler %s/%s: %w", origin.Hex(), selector, err)
	}
	v.logger.Debug().Str("origin", origin.Hex()).Int("actions", len(actions)).Int("depth", b.depth+1).Msg("Running callback actions")

	phase := b.phase
	b.depth++
	err = v.runActions(b, actions)
	b.depth--
	b.phase = phase
	return err
}
