/*
Package lending integrates supply/borrow money markets. The fuses only rely on the Protocol
interface; MemoryPool is an in-process money market used by the sandbox vault and by tests.
*/
package lending

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientLiquidity  = errors.New("insufficient pool liquidity")
	ErrInsufficientSupply     = errors.New("withdraw exceeds supplied amount")
	ErrInsufficientCollateral = errors.New("borrow exceeds supplied amount")
	ErrInvalidAmount          = errors.New("amount must be positive")
)

// Protocol is the part of a money market the lending fuses use.
type Protocol interface {
	Address() common.Address
	Supply(account, asset common.Address, amount sdkmath.Int) error
	Withdraw(account, asset common.Address, amount sdkmath.Int) error
	Borrow(account, asset common.Address, amount sdkmath.Int) error
	Repay(account, asset common.Address, amount sdkmath.Int) error
	Supplied(account, asset common.Address) sdkmath.Int
	Borrowed(account, asset common.Address) sdkmath.Int
	Available(asset common.Address) sdkmath.Int
}

type position struct {
	account common.Address
	asset   common.Address
}

// MemoryPool keeps positions in memory. Borrowing is capped per account and asset by the
// amount supplied, which is enough for the vault to carry real debt without liquidations.
type MemoryPool struct {
	mu       sync.RWMutex
	address  common.Address
	supplied map[position]sdkmath.Int
	borrowed map[position]sdkmath.Int
	cash     map[common.Address]sdkmath.Int
}

func NewMemoryPool(address common.Address) *MemoryPool {
	return &MemoryPool{
		address:  address,
		supplied: make(map[position]sdkmath.Int),
		borrowed: make(map[position]sdkmath.Int),
		cash:     make(map[common.Address]sdkmath.Int),
	}
}

func (p *MemoryPool) Address() common.Address { return p.address }

// Fund adds liquidity supplied by third parties.
func (p *MemoryPool) Fund(asset common.Address, amount sdkmath.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cash[asset] = get(p.cash, asset).Add(amount)
}

// Drain removes up to amount of liquidity, as if third parties borrowed it.
func (p *MemoryPool) Drain(asset common.Address, amount sdkmath.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cash[asset] = sdkmath.MaxInt(get(p.cash, asset).Sub(amount), sdkmath.ZeroInt())
}

// AccrueInterest changes a supplied position by delta, which may be negative.
func (p *MemoryPool) AccrueInterest(account, asset common.Address, delta sdkmath.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := position{account, asset}
	p.supplied[key] = sdkmath.MaxInt(get(p.supplied, key).Add(delta), sdkmath.ZeroInt())
}

// AccrueDebt grows a borrowed position by delta without the collateral check.
func (p *MemoryPool) AccrueDebt(account, asset common.Address, delta sdkmath.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := position{account, asset}
	p.borrowed[key] = get(p.borrowed, key).Add(delta)
}

func (p *MemoryPool) Supply(account, asset common.Address, amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := position{account, asset}
	p.supplied[key] = get(p.supplied, key).Add(amount)
	p.cash[asset] = get(p.cash, asset).Add(amount)
	return nil
}

func (p *MemoryPool) Withdraw(account, asset common.Address, amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := position{account, asset}
	supplied := get(p.supplied, key)
	if supplied.LT(amount) {
		return fmt.Errorf("%w: supplied %s, requested %s", ErrInsufficientSupply, supplied, amount)
	}
	if cash := get(p.cash, asset); cash.LT(amount) {
		return fmt.Errorf("%w: available %s, requested %s", ErrInsufficientLiquidity, cash, amount)
	}
	p.supplied[key] = supplied.Sub(amount)
	p.cash[asset] = get(p.cash, asset).Sub(amount)
	return nil
}

func (p *MemoryPool) Borrow(account, asset common.Address, amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := position{account, asset}
	debt := get(p.borrowed, key).Add(amount)
	if debt.GT(p.totalSupplied(account)) {
		return fmt.Errorf("%w: debt would be %s", ErrInsufficientCollateral, debt)
	}
	if cash := get(p.cash, asset); cash.LT(amount) {
		return fmt.Errorf("%w: available %s, requested %s", ErrInsufficientLiquidity, cash, amount)
	}
	p.borrowed[key] = debt
	p.cash[asset] = get(p.cash, asset).Sub(amount)
	return nil
}

func (p *MemoryPool) Repay(account, asset common.Address, amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := position{account, asset}
	debt := get(p.borrowed, key)
	repaid := sdkmath.MinInt(debt, amount)
	p.borrowed[key] = debt.Sub(repaid)
	p.cash[asset] = get(p.cash, asset).Add(repaid)
	return nil
}

func (p *MemoryPool) Supplied(account, asset common.Address) sdkmath.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return get(p.supplied, position{account, asset})
}

func (p *MemoryPool) Borrowed(account, asset common.Address) sdkmath.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return get(p.borrowed, position{account, asset})
}

func (p *MemoryPool) Available(asset common.Address) sdkmath.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return get(p.cash, asset)
}

// totalSupplied sums raw amounts across assets; the pool has no oracle of its own.
func (p *MemoryPool) totalSupplied(account common.Address) sdkmath.Int {
	total := sdkmath.ZeroInt()
	for key, amount := range p.supplied {
		if key.account == account {
			total = total.Add(amount)
		}
	}
	return total
}

func get[K comparable](m map[K]sdkmath.Int, key K) sdkmath.Int {
	if v, ok := m[key]; ok {
		return v
	}
	return sdkmath.ZeroInt()
}
