package vault

import (
	"errors"
	"fmt"
	"slices"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/elys-network/plasmavault/internal/access"
	"github.com/elys-network/plasmavault/internal/fuse"
	"github.com/elys-network/plasmavault/internal/types"
)

// RedeemResult describes how a redemption was settled.
type RedeemResult struct {
	Shares sdkmath.Int
	// Assets is what was paid out; zero when the redemption was queued.
	Assets sdkmath.Int
	// Pulled is the liquidity recovered from markets by instant-withdraw fuses.
	Pulled sdkmath.Int
	// Queued is the share remainder escrowed in RequestID when liquidity fell short.
	Queued    sdkmath.Int
	Instant   bool
	RequestID string
}

// Redeem burns shares of owner and pays the underlying to receiver. When idle liquidity and
// the instant-withdraw fuses cannot cover it, the covered part is paid and the remaining
// shares are escrowed in a queued request, unless queuing is disabled (ErrInsufficientLiquidity).
func (v *Vault) Redeem(caller, owner, receiver common.Address, shares sdkmath.Int) (*RedeemResult, error) {
	if shares.IsNil() || !shares.IsPositive() {
		return nil, ErrZeroShares
	}
	if err := v.checkRedeemer(caller, owner, receiver); err != nil {
		return nil, err
	}
	var result *RedeemResult
	err := v.atomically("redeem", func(b *batch) error {
		if err := v.prepare(b); err != nil {
			return err
		}
		var err error
		result, err = v.redeem(b, owner, receiver, shares)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Withdraw pays exactly assets to receiver, burning the shares they are worth rounded up.
func (v *Vault) Withdraw(caller, owner, receiver common.Address, assets sdkmath.Int) (*RedeemResult, error) {
	if assets.IsNil() || !assets.IsPositive() {
		return nil, ErrZeroAmount
	}
	if err := v.checkRedeemer(caller, owner, receiver); err != nil {
		return nil, err
	}
	var result *RedeemResult
	err := v.atomically("withdraw", func(b *batch) error {
		if err := v.prepare(b); err != nil {
			return err
		}
		var err error
		result, err = v.redeem(b, owner, receiver, v.toShares(assets, true))
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (v *Vault) checkRedeemer(caller, owner, receiver common.Address) error {
	if owner == (common.Address{}) || receiver == (common.Address{}) {
		return fmt.Errorf("%w: owner or receiver", ErrZeroAddress)
	}
	if owner == v.address {
		return fmt.Errorf("%w: owner %s", ErrVaultAccount, owner.Hex())
	}
	if !v.canActFor(caller, owner) {
		return fmt.Errorf("%w: %s cannot act for %s", access.ErrUnauthorized, caller.Hex(), owner.Hex())
	}
	if last, ok := v.state.LastDeposit[owner]; ok {
		if unlock := last.Add(v.withdraw.RedemptionDelay); v.now().Before(unlock) {
			return fmt.Errorf("%w: until %s", ErrRedemptionLocked, unlock.UTC().Format("2006-01-02T15:04:05Z"))
		}
	}
	return nil
}

func (v *Vault) redeem(b *batch, owner, receiver common.Address, shares sdkmath.Int) (*RedeemResult, error) {
	if balance := v.state.shares(owner); balance.LT(shares) {
		return nil, fmt.Errorf("%w: have %s, redeeming %s", ErrInsufficientShares, balance, shares)
	}
	assets := v.toAssets(shares, false)
	if !assets.IsPositive() {
		return nil, ErrZeroAmount
	}
	result := &RedeemResult{Shares: shares, Assets: sdkmath.ZeroInt(), Pulled: sdkmath.ZeroInt(), Queued: sdkmath.ZeroInt()}

	if idle := v.IdleBalance(); idle.LT(assets) {
		result.Pulled = v.pullLiquidity(b, assets.Sub(idle))
	}

	if v.IdleBalance().GTE(assets) {
		if err := v.payOut(b, owner, receiver, shares, assets); err != nil {
			return nil, err
		}
		result.Assets = assets
		result.Instant = true
		return result, nil
	}

	if !v.withdraw.QueueEnabled {
		return nil, fmt.Errorf("%w: need %s, idle %s", ErrInsufficientLiquidity, assets, v.IdleBalance())
	}

	// pay out the part idle liquidity covers, the remainder waits in the queue
	remaining := shares
	if covered := sdkmath.MinInt(v.toShares(v.IdleBalance(), false), shares); covered.IsPositive() {
		if paid := v.toAssets(covered, false); paid.IsPositive() {
			if err := v.payOut(b, owner, receiver, covered, paid); err != nil {
				return nil, err
			}
			result.Assets = paid
			remaining = shares.Sub(covered)
		}
	}
	req, err := v.enqueue(b, owner, receiver, remaining)
	if err != nil {
		return nil, err
	}
	result.Queued = remaining
	result.RequestID = req.ID
	return result, nil
}

func (v *Vault) payOut(b *batch, owner, receiver common.Address, shares, assets sdkmath.Int) error {
	if err := v.burn(owner, shares); err != nil {
		return err
	}
	if err := b.Debit(v.asset, assets); err != nil {
		return err
	}
	b.Emit(types.Event{
		Kind: types.EventWithdraw,
		Fields: map[string]string{
			"owner":    owner.Hex(),
			"receiver": receiver.Hex(),
			"assets":   assets.String(),
			"shares":   shares.String(),
		},
	})
	return nil
}

// pullLiquidity walks the instant-withdraw list until shortfall is covered. A fuse that fails,
// or whose market cannot be re-valued afterwards, has only its own effects reverted and the
// next fuse is tried.
func (v *Vault) pullLiquidity(b *batch, shortfall sdkmath.Int) sdkmath.Int {
	pulled := sdkmath.ZeroInt()
	for _, cfg := range v.instantWithdraw {
		remaining := shortfall.Sub(pulled)
		if !remaining.IsPositive() {
			break
		}
		f, ok := v.fuses[cfg.Fuse].(fuse.InstantWithdrawFuse)
		if !ok {
			continue
		}

		sp := b.savepoint()
		before := v.IdleBalance()
		err := f.InstantWithdraw(b, remaining, cfg.Params)
		if err == nil {
			b.touch(f.MarketID())
			err = v.refreshMarkets(b, []types.MarketID{f.MarketID()})
		}
		if err != nil {
			b.rollbackTo(sp)
			level := v.logger.Warn()
			if errors.Is(err, fuse.ErrNothingToWithdraw) {
				level = v.logger.Debug()
			}
			level.Err(err).Str("fuse", cfg.Fuse.Hex()).Msg("Instant withdraw fuse skipped")
			continue
		}
		if got := v.IdleBalance().Sub(before); got.IsPositive() {
			pulled = pulled.Add(got)
		}
	}
	return pulled
}

func (v *Vault) enqueue(b *batch, owner, receiver common.Address, shares sdkmath.Int) (*types.WithdrawalRequest, error) {
	if err := v.moveShares(owner, v.address, shares); err != nil {
		return nil, err
	}
	now := v.now()
	req := &types.WithdrawalRequest{
		ID:          uuid.New().String(),
		Owner:       owner,
		Receiver:    receiver,
		Shares:      shares,
		RequestedAt: now,
		EligibleAt:  now,
		ExpiresAt:   now.Add(v.withdraw.WithdrawWindow),
		Status:      types.RequestPending,
		Assets:      sdkmath.ZeroInt(),
	}
	v.state.Requests[req.ID] = req
	v.state.Queue = append(v.state.Queue, req.ID)

	b.Emit(types.Event{
		Kind: types.EventRequestQueued,
		Fields: map[string]string{
			"request_id": req.ID,
			"owner":      owner.Hex(),
			"shares":     shares.String(),
			"expires_at": req.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"),
		},
	})
	v.logger.Info().Str("request_id", req.ID).Str("owner", owner.Hex()).Str("shares", shares.String()).Msg("Withdrawal queued")
	return req, nil
}

// ProcessWithdrawalQueue fulfils pending requests in FIFO order. Requires Alpha.
func (v *Vault) ProcessWithdrawalQueue(caller common.Address) ([]string, error) {
	if err := v.require(caller, access.Alpha); err != nil {
		return nil, err
	}
	var fulfilled []string
	err := v.atomically("process_withdrawal_queue", func(b *batch) error {
		if err := v.prepare(b); err != nil {
			return err
		}
		var err error
		fulfilled, err = v.processQueue(b)
		return err
	})
	return fulfilled, err
}

// processQueue expires requests past their window, then pays eligible requests front to back.
// A request is paid in full or not at all; the first one that idle liquidity cannot cover
// blocks every request behind it.
func (v *Vault) processQueue(b *batch) ([]string, error) {
	now := v.now()
	var fulfilled []string
	kept := v.state.Queue[:0:0]
	blocked := false

	for _, id := range v.state.Queue {
		req, ok := v.state.Requests[id]
		if !ok || req.Status != types.RequestPending {
			continue
		}
		if !now.Before(req.ExpiresAt) {
			if err := v.closeRequest(b, req, types.RequestExpired, types.EventRequestExpired); err != nil {
				return nil, err
			}
			continue
		}
		if blocked || now.Before(req.EligibleAt) {
			kept = append(kept, id)
			continue
		}
		assets := v.toAssets(req.Shares, false)
		if v.IdleBalance().LT(assets) {
			blocked = true
			kept = append(kept, id)
			continue
		}
		if err := v.payOut(b, v.address, req.Receiver, req.Shares, assets); err != nil {
			return nil, err
		}
		req.Status = types.RequestFulfilled
		req.Assets = assets
		b.Emit(types.Event{
			Kind: types.EventRequestFulfilled,
			Fields: map[string]string{
				"request_id": req.ID,
				"owner":      req.Owner.Hex(),
				"assets":     assets.String(),
			},
		})
		fulfilled = append(fulfilled, id)
	}
	v.state.Queue = kept
	if len(fulfilled) > 0 {
		v.logger.Info().Int("fulfilled", len(fulfilled)).Int("pending", len(kept)).Msg("Withdrawal queue processed")
	}
	return fulfilled, nil
}

// CancelRequest returns the escrowed shares of a pending request to its owner.
func (v *Vault) CancelRequest(caller common.Address, id string) error {
	return v.atomically("cancel_request", func(b *batch) error {
		req, ok := v.state.Requests[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrRequestNotFound, id)
		}
		if !v.canActFor(caller, req.Owner) {
			return fmt.Errorf("%w: %s", ErrNotRequestOwner, caller.Hex())
		}
		if req.Status != types.RequestPending {
			return fmt.Errorf("%w: %s is %s", ErrRequestNotPending, id, req.Status)
		}
		if err := v.closeRequest(b, req, types.RequestCancelled, types.EventRequestCancelled); err != nil {
			return err
		}
		v.state.Queue = slices.DeleteFunc(v.state.Queue, func(q string) bool { return q == id })
		return nil
	})
}

func (v *Vault) closeRequest(b *batch, req *types.WithdrawalRequest, status types.RequestStatus, kind types.EventKind) error {
	if err := v.moveShares(v.address, req.Owner, req.Shares); err != nil {
		return err
	}
	req.Status = status
	b.Emit(types.Event{
		Kind: kind,
		Fields: map[string]string{
			"request_id": req.ID,
			"owner":      req.Owner.Hex(),
			"shares":     req.Shares.String(),
		},
	})
	return nil
}

// Request returns a copy of a withdrawal request in any status.
func (v *Vault) Request(id string) (types.WithdrawalRequest, bool) {
	req, ok := v.state.Requests[id]
	if !ok {
		return types.WithdrawalRequest{}, false
	}
	return *req, true
}

// PendingRequests returns the queue in FIFO order.
func (v *Vault) PendingRequests() []types.WithdrawalRequest {
	out := make([]types.WithdrawalRequest, 0, len(v.state.Queue))
	for _, id := range v.state.Queue {
		if req, ok := v.state.Requests[id]; ok && req.Status == types.RequestPending {
			out = append(out, *req)
		}
	}
	return out
}
