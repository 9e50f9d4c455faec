package vault

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Error definitions for zero-tolerance error handling
var (
	// configuration
	ErrInvalidConfig      = errors.New("vault configuration is invalid")
	ErrZeroAddress        = errors.New("zero address")
	ErrVaultAccount       = errors.New("vault escrow account cannot hold user shares")
	ErrUndefinedSubstrate = errors.New("substrate type is undefined")
	ErrDependencyCycle    = errors.New("market dependency cycle")
	ErrInvalidFeePackage  = errors.New("fee package is invalid")
	ErrFuseInUse          = errors.New("fuse is referenced by the instant withdraw list")
	ErrMarketNotEmpty     = errors.New("market still holds a balance")
	ErrDuplicateFuse      = errors.New("fuse already registered")

	// authorization
	ErrUnsupportedFuse = errors.New("fuse is not in the allow-list")
	ErrUnknownSelector = errors.New("unknown fuse selector")
	ErrInvalidAction   = errors.New("fuse action is malformed")
	ErrEmptyBatch      = errors.New("batch has no actions")
	ErrNotRequestOwner = errors.New("caller does not own the withdrawal request")

	// re-entrancy and callbacks
	ErrReentrantCall            = errors.New("reentrant call")
	ErrHandlerNotFound          = errors.New("callback handler not found")
	ErrCallbackOutsideExecution = errors.New("callback outside of batch execution")
	ErrCallbackDepth            = errors.New("callback nesting too deep")

	// accounting and liquidity
	ErrZeroAmount            = errors.New("amount must be positive")
	ErrZeroShares            = errors.New("operation would mint or burn zero shares")
	ErrInsufficientShares    = errors.New("insufficient shares")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrSupplyCapExceeded     = errors.New("supply cap exceeded")
	ErrRedemptionLocked      = errors.New("redemption delay has not elapsed")
	ErrRequestNotFound       = errors.New("withdrawal request not found")
	ErrRequestNotPending     = errors.New("withdrawal request is not pending")
)

// ActionError reports which action of a batch failed. Depth is zero for top-level actions
// and grows for actions injected by callbacks.
type ActionError struct {
	Index int
	Depth int
	Fuse  common.Address
	Err   error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %d (depth %d, fuse %s): %v", e.Index, e.Depth, e.Fuse.Hex(), e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}
