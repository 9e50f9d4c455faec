package factory

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/elys-network/plasmavault/internal/access"
	"github.com/elys-network/plasmavault/internal/logger"
)

var (
	ErrNothingVested       = errors.New("nothing vested")
	ErrInvalidVestingSetup = errors.New("invalid vesting setup")
)

// RewardsReceiver accepts vested underlying without minting shares.
type RewardsReceiver interface {
	ReceiveRewards(caller common.Address, assets sdkmath.Int) error
}

// RewardsManager holds claimed protocol rewards (already swapped to the underlying) and streams
// them into the vault linearly so the share price rises smoothly instead of jumping.
type RewardsManager struct {
	mu       sync.Mutex
	address  common.Address
	vault    RewardsReceiver
	auth     access.Authorizer
	now      func() time.Time
	logger   zerolog.Logger
	balance  sdkmath.Int
	schedule vesting
}

type vesting struct {
	amount   sdkmath.Int
	start    time.Time
	duration time.Duration
	released sdkmath.Int
}

// NewRewardsManager creates a manager living at address and paying into v.
func NewRewardsManager(address common.Address, v RewardsReceiver, auth access.Authorizer, now func() time.Time) *RewardsManager {
	if now == nil {
		now = time.Now
	}
	return &RewardsManager{
		address:  address,
		vault:    v,
		auth:     auth,
		now:      now,
		logger:   logger.GetForComponent("rewards_manager"),
		balance:  sdkmath.ZeroInt(),
		schedule: vesting{amount: sdkmath.ZeroInt(), released: sdkmath.ZeroInt()},
	}
}

// Address is where the manager lives.
func (r *RewardsManager) Address() common.Address { return r.address }

// Fund records underlying arriving at the manager.
func (r *RewardsManager) Fund(amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: fund amount must be positive", ErrInvalidVestingSetup)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balance = r.balance.Add(amount)
	return nil
}

// Balance is the underlying held and not yet released.
func (r *RewardsManager) Balance() sdkmath.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balance
}

// StartVesting restarts the schedule over everything currently held. Whatever had vested but
// was not released is re-vested. Requires Atomist.
func (r *RewardsManager) StartVesting(caller common.Address, duration time.Duration) error {
	if err := access.Require(r.auth, caller, access.Atomist); err != nil {
		return err
	}
	if duration < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidVestingSetup)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedule = vesting{
		amount:   r.balance,
		start:    r.now(),
		duration: duration,
		released: sdkmath.ZeroInt(),
	}
	r.logger.Info().Str("amount", r.balance.String()).Dur("duration", duration).Msg("Vesting started")
	return nil
}

// Vested is the part of the current schedule unlocked so far, released or not.
func (r *RewardsManager) Vested() sdkmath.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vested()
}

func (r *RewardsManager) vested() sdkmath.Int {
	s := r.schedule
	if s.amount.IsZero() {
		return sdkmath.ZeroInt()
	}
	elapsed := r.now().Sub(s.start)
	if s.duration == 0 || elapsed >= s.duration {
		return s.amount
	}
	if elapsed <= 0 {
		return sdkmath.ZeroInt()
	}
	return s.amount.Mul(sdkmath.NewInt(int64(elapsed))).Quo(sdkmath.NewInt(int64(s.duration)))
}

// Releasable is vested minus already released.
func (r *RewardsManager) Releasable() sdkmath.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vested().Sub(r.schedule.released)
}

// Release transfers the releasable amount into the vault. Requires Alpha.
func (r *RewardsManager) Release(caller common.Address) (sdkmath.Int, error) {
	if err := access.Require(r.auth, caller, access.Alpha); err != nil {
		return sdkmath.Int{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	amount := r.vested().Sub(r.schedule.released)
	if !amount.IsPositive() {
		return sdkmath.ZeroInt(), ErrNothingVested
	}
	if err := r.vault.ReceiveRewards(r.address, amount); err != nil {
		return sdkmath.Int{}, fmt.Errorf("release rewards: %w", err)
	}
	r.schedule.released = r.schedule.released.Add(amount)
	r.balance = r.balance.Sub(amount)
	r.logger.Info().Str("amount", amount.String()).Msg("Rewards released to vault")
	return amount, nil
}
