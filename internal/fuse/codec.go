package fuse

import (
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/plasmavault/internal/types"
)

// mustNewType creates a new ABI type, panicking on error (for use in package-level values)
func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("failed to create ABI type %s: %v", t, err))
	}
	return typ
}

var (
	assetAmountArgs = abi.Arguments{
		{Name: "asset", Type: mustNewType("address")},
		{Name: "amount", Type: mustNewType("uint256")},
	}
	actionsArgs = abi.Arguments{
		{Name: "fuses", Type: mustNewType("address[]")},
		{Name: "data", Type: mustNewType("bytes[]")},
	}
	flashLoanArgs = abi.Arguments{
		{Name: "asset", Type: mustNewType("address")},
		{Name: "amount", Type: mustNewType("uint256")},
		{Name: "callback", Type: mustNewType("bytes")},
	}
)

// EncodeAssetAmount ABI-encodes the (address asset, uint256 amount) payload used by most fuses.
func EncodeAssetAmount(asset common.Address, amount sdkmath.Int) ([]byte, error) {
	if amount.IsNil() || amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount", ErrInvalidPayload)
	}
	return assetAmountArgs.Pack(asset, amount.BigInt())
}

// DecodeAssetAmount is the inverse of EncodeAssetAmount. A zero amount is rejected.
func DecodeAssetAmount(payload []byte) (common.Address, sdkmath.Int, error) {
	values, err := assetAmountArgs.Unpack(payload)
	if err != nil {
		return common.Address{}, sdkmath.ZeroInt(), fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	asset, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, sdkmath.ZeroInt(), fmt.Errorf("%w: asset", ErrInvalidPayload)
	}
	raw, ok := values[1].(*big.Int)
	if !ok || raw.Sign() <= 0 {
		return common.Address{}, sdkmath.ZeroInt(), fmt.Errorf("%w: amount", ErrInvalidPayload)
	}
	return asset, sdkmath.NewIntFromBigInt(raw), nil
}

// EncodeActions packs nested actions as (address[] fuses, bytes[] data), the format callback
// payloads carry back into the vault.
func EncodeActions(actions []types.FuseAction) ([]byte, error) {
	fuses := make([]common.Address, len(actions))
	data := make([][]byte, len(actions))
	for i, a := range actions {
		fuses[i] = a.Fuse
		data[i] = a.Data
	}
	return actionsArgs.Pack(fuses, data)
}

// DecodeActions is the inverse of EncodeActions.
func DecodeActions(payload []byte) ([]types.FuseAction, error) {
	values, err := actionsArgs.Unpack(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	fuses, ok := values[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("%w: fuses", ErrInvalidPayload)
	}
	data, ok := values[1].([][]byte)
	if !ok || len(data) != len(fuses) {
		return nil, fmt.Errorf("%w: data", ErrInvalidPayload)
	}
	actions := make([]types.FuseAction, len(fuses))
	for i := range fuses {
		actions[i] = types.FuseAction{Fuse: fuses[i], Data: data[i]}
	}
	return actions, nil
}

// EncodeFlashLoan packs (address asset, uint256 amount, bytes callback).
func EncodeFlashLoan(asset common.Address, amount sdkmath.Int, callback []byte) ([]byte, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount", ErrInvalidPayload)
	}
	return flashLoanArgs.Pack(asset, amount.BigInt(), callback)
}

// DecodeFlashLoan is the inverse of EncodeFlashLoan.
func DecodeFlashLoan(payload []byte) (common.Address, sdkmath.Int, []byte, error) {
	values, err := flashLoanArgs.Unpack(payload)
	if err != nil {
		return common.Address{}, sdkmath.ZeroInt(), nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	asset, okAsset := values[0].(common.Address)
	raw, okAmount := values[1].(*big.Int)
	callback, okCallback := values[2].([]byte)
	if !okAsset || !okAmount || !okCallback || raw.Sign() <= 0 {
		return common.Address{}, sdkmath.ZeroInt(), nil, ErrInvalidPayload
	}
	return asset, sdkmath.NewIntFromBigInt(raw), callback, nil
}
