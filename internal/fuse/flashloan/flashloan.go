/*
Package flashloan borrows liquidity for the duration of one fuse call. The lender calls back into
the vault through the callback-handler registry; the registered Handler turns the callback data
into nested fuse actions that run inside the same batch.
*/
package flashloan

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/plasmavault/internal/fuse"
	"github.com/elys-network/plasmavault/internal/types"
	"github.com/elys-network/plasmavault/internal/utils"
)

// CallbackSelector is the selector a lender uses when calling the borrower back.
var CallbackSelector = types.NewSelector("onFlashLoan(address,uint256,uint256,bytes)")

var (
	ErrInsufficientLiquidity = errors.New("flash loan exceeds lender liquidity")
	ErrNotRepaid             = errors.New("flash loan not repaid")
)

// Borrower receives the loan. It must repay amount plus fee before returning.
type Borrower interface {
	OnFlashLoan(origin, asset common.Address, amount, fee sdkmath.Int, data []byte) error
}

// Lender is a protocol offering flash loans. FlashLoan returns the fee charged.
type Lender interface {
	Address() common.Address
	FlashLoan(borrower Borrower, asset common.Address, amount sdkmath.Int, data []byte) (sdkmath.Int, error)
	Repay(asset common.Address, amount sdkmath.Int)
	Refund(asset common.Address, fee sdkmath.Int)
}

// MemoryLender is an in-process lender with a flat fee in basis points.
type MemoryLender struct {
	mu      sync.Mutex
	address common.Address
	feeBps  uint64
	cash    map[common.Address]sdkmath.Int
}

func NewMemoryLender(address common.Address, feeBps uint64) *MemoryLender {
	return &MemoryLender{address: address, feeBps: feeBps, cash: make(map[common.Address]sdkmath.Int)}
}

func (l *MemoryLender) Address() common.Address { return l.address }

func (l *MemoryLender) Fund(asset common.Address, amount sdkmath.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash[asset] = l.available(asset).Add(amount)
}

func (l *MemoryLender) Available(asset common.Address) sdkmath.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available(asset)
}

func (l *MemoryLender) available(asset common.Address) sdkmath.Int {
	if c, ok := l.cash[asset]; ok {
		return c
	}
	return sdkmath.ZeroInt()
}

// Repay is called by the borrower from inside OnFlashLoan.
func (l *MemoryLender) Repay(asset common.Address, amount sdkmath.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash[asset] = l.available(asset).Add(amount)
}

// Refund reverses a fee the lender earned, used when the borrowing batch is rolled back.
func (l *MemoryLender) Refund(asset common.Address, fee sdkmath.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash[asset] = l.available(asset).Sub(fee)
}

// FlashLoan lends amount and requires amount plus fee back before returning. The lock is not
// held during the callback.
func (l *MemoryLender) FlashLoan(borrower Borrower, asset common.Address, amount sdkmath.Int, data []byte) (sdkmath.Int, error) {
	l.mu.Lock()
	before := l.available(asset)
	if before.LT(amount) {
		l.mu.Unlock()
		return sdkmath.ZeroInt(), fmt.Errorf("%w: available %s, requested %s", ErrInsufficientLiquidity, before, amount)
	}
	fee := utils.BpsOf(amount, l.feeBps)
	l.cash[asset] = before.Sub(amount)
	l.mu.Unlock()

	if err := borrower.OnFlashLoan(l.address, asset, amount, fee, data); err != nil {
		l.mu.Lock()
		l.cash[asset] = l.available(asset).Add(amount)
		l.mu.Unlock()
		return sdkmath.ZeroInt(), err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if after := l.available(asset); after.LT(before.Add(fee)) {
		l.cash[asset] = before
		return sdkmath.ZeroInt(), fmt.Errorf("%w: expected %s, have %s", ErrNotRepaid, before.Add(fee), after)
	}
	return fee, nil
}

// Fuse takes a flash loan and forwards the lender's callback into the vault.
// Enter payload: (address asset, uint256 amount, bytes callback). Exit is not supported.
type Fuse struct {
	address  common.Address
	marketID types.MarketID
	lender   Lender
}

func NewFuse(address common.Address, marketID types.MarketID, lender Lender) *Fuse {
	return &Fuse{address: address, marketID: marketID, lender: lender}
}

func (f *Fuse) Address() common.Address  { return f.address }
func (f *Fuse) MarketID() types.MarketID { return f.marketID }

func (f *Fuse) Enter(ctx fuse.Context, payload []byte) error {
	asset, amount, callback, err := fuse.DecodeFlashLoan(payload)
	if err != nil {
		return err
	}
	if err := fuse.RequireGranted(ctx, f.marketID, asset); err != nil {
		return err
	}
	fee, err := f.lender.FlashLoan(&borrower{ctx: ctx, lender: f.lender}, asset, amount, callback)
	if err != nil {
		return err
	}
	if fee.IsPositive() {
		ctx.OnRevert(func() { f.lender.Refund(asset, fee) })
	}
	ctx.Emit(types.Event{
		Kind:     types.EventFuseEnter,
		Vault:    ctx.Vault(),
		Fuse:     f.address,
		MarketID: f.marketID,
		Protocol: "flashloan",
		Fields: map[string]string{
			"lender": f.lender.Address().Hex(),
			"asset":  asset.Hex(),
			"amount": amount.String(),
			"fee":    fee.String(),
		},
	})
	return nil
}

func (f *Fuse) Exit(fuse.Context, []byte) error {
	return fmt.Errorf("%w: flash loan fuse has no exit", fuse.ErrInvalidPayload)
}

// borrower bridges the lender callback to the vault context for one loan.
type borrower struct {
	ctx    fuse.Context
	lender Lender
}

func (b *borrower) OnFlashLoan(origin, asset common.Address, amount, fee sdkmath.Int, data []byte) error {
	b.ctx.Credit(asset, amount)
	if err := b.ctx.Callback(origin, CallbackSelector, data); err != nil {
		return err
	}
	if err := b.ctx.Debit(asset, amount.Add(fee)); err != nil {
		return fmt.Errorf("%w: %v", ErrNotRepaid, err)
	}
	b.lender.Repay(asset, amount.Add(fee))
	return nil
}

// Handler decodes callback data into the nested actions to run while the loan is outstanding.
type Handler struct{}

func (Handler) HandleCallback(_ fuse.View, data []byte) ([]types.FuseAction, error) {
	return fuse.DecodeActions(data)
}
