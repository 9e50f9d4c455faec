package vault

import (
	"fmt"
	"slices"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/plasmavault/internal/fuse"
	"github.com/elys-network/plasmavault/internal/pricing"
	"github.com/elys-network/plasmavault/internal/substrate"
	"github.com/elys-network/plasmavault/internal/types"
)

// Phase is where a batch is in its state machine.
type Phase string

const (
	PhaseIdle       Phase = "IDLE"
	PhaseValidating Phase = "VALIDATING"
	PhaseExecuting  Phase = "EXECUTING"
	PhaseSettling   Phase = "SETTLING"
)

// batch is the unit of atomicity. Every mutating vault operation runs inside one; on failure
// the vault state is restored from the snapshot and the undo journal is replayed backwards.
// It is also the fuse.Context handed to fuses, valid only while the call lasts.
type batch struct {
	v         *Vault
	op        string
	base      savepoint
	undo      []func()
	events    []types.Event
	touched   []types.MarketID
	callbacks bool // callbacks may re-enter only during fuse execution
	depth     int
	phase     Phase
}

type savepoint struct {
	state   *State
	undo    int
	events  int
	touched int
}

func (v *Vault) begin(op string, callbacks bool) *batch {
	b := &batch{v: v, op: op, callbacks: callbacks, phase: PhaseValidating}
	b.base = b.savepoint()
	v.current = b
	return b
}

func (b *batch) savepoint() savepoint {
	return savepoint{state: b.v.state.Clone(), undo: len(b.undo), events: len(b.events), touched: len(b.touched)}
}

// rollbackTo undoes everything recorded after sp.
func (b *batch) rollbackTo(sp savepoint) {
	for i := len(b.undo) - 1; i >= sp.undo; i-- {
		b.undo[i]()
	}
	b.undo = b.undo[:sp.undo]
	b.events = b.events[:sp.events]
	b.touched = b.touched[:sp.touched]
	b.v.state = sp.state.Clone()
}

func (v *Vault) rollback(b *batch) {
	b.rollbackTo(b.base)
	b.phase = PhaseIdle
	v.current = nil
}

func (v *Vault) commit(b *batch) []types.Event {
	events := b.events
	b.phase = PhaseIdle
	v.current = nil
	if v.sink != nil && len(events) > 0 {
		v.sink.Publish(events)
	}
	return events
}

// atomically runs fn inside a batch guarded against re-entry.
func (v *Vault) atomically(op string, fn func(b *batch) error) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.leave()

	b := v.begin(op, false)
	if err := fn(b); err != nil {
		v.rollback(b)
		v.logger.Warn().Err(err).Str("op", op).Msg("Operation reverted")
		return err
	}
	v.commit(b)
	return nil
}

func (b *batch) touch(id types.MarketID) {
	if !slices.Contains(b.touched, id) {
		b.touched = append(b.touched, id)
	}
}

// fuse.View

func (b *batch) Vault() common.Address { return b.v.address }
func (b *batch) Asset() common.Address { return b.v.asset }
func (b *batch) AssetDecimals() uint64 { return b.v.decimals }
func (b *batch) Prices() pricing.Resolver {
	return b.v.prices
}

func (b *batch) TokenDecimals(token common.Address) (uint64, error) {
	return b.v.TokenDecimals(token)
}

func (b *batch) TokenBalance(token common.Address) sdkmath.Int {
	return b.v.state.token(token)
}

func (b *batch) IsGranted(market types.MarketID, s substrate.Substrate) bool {
	return b.v.IsGranted(market, s)
}

func (b *batch) Substrates(market types.MarketID) []substrate.Substrate {
	return b.v.ListSubstrates(market)
}

func (b *batch) MarketBalance(market types.MarketID) sdkmath.Int {
	return b.v.MarketBalance(market)
}

// fuse.Context

func (b *batch) Credit(token common.Address, amount sdkmath.Int) {
	if amount.IsNil() || !amount.IsPositive() {
		return
	}
	b.v.state.Tokens[token] = b.v.state.token(token).Add(amount)
}

func (b *batch) Debit(token common.Address, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: debit of %v", ErrZeroAmount, amount)
	}
	balance := b.v.state.token(token)
	if balance.LT(amount) {
		return fmt.Errorf("%w: token %s has %s, need %s", fuse.ErrInsufficientBalance, token.Hex(), balance, amount)
	}
	b.v.state.Tokens[token] = balance.Sub(amount)
	return nil
}

func (b *batch) Emit(event types.Event) {
	if event.Vault == (common.Address{}) {
		event.Vault = b.v.address
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = b.v.now()
	}
	b.events = append(b.events, event)
}

func (b *batch) OnRevert(undo func()) {
	if undo != nil {
		b.undo = append(b.undo, undo)
	}
}

func (b *batch) Callback(origin common.Address, selector types.Selector, data []byte) error {
	return b.v.dispatchCallback(b, origin, selector, data)
}

var _ fuse.Context = (*batch)(nil)
