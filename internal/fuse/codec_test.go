package fuse

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/plasmavault/internal/types"
)

func TestAssetAmountPayload(t *testing.T) {
	asset := common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	payload, err := EncodeAssetAmount(asset, sdkmath.NewInt(1_500_000))
	require.NoError(t, err)

	gotAsset, amount, err := DecodeAssetAmount(payload)
	require.NoError(t, err)
	assert.Equal(t, asset, gotAsset)
	assert.Equal(t, int64(1_500_000), amount.Int64())

	zero, err := EncodeAssetAmount(asset, sdkmath.ZeroInt())
	require.NoError(t, err)
	_, _, err = DecodeAssetAmount(zero)
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, _, err = DecodeAssetAmount([]byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestActionsPayload(t *testing.T) {
	actions := []types.FuseAction{
		types.NewEnterAction(common.HexToAddress("0x01"), []byte{0xaa}),
		types.NewExitAction(common.HexToAddress("0x02"), nil),
	}
	payload, err := EncodeActions(actions)
	require.NoError(t, err)

	decoded, err := DecodeActions(payload)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, actions[0].Fuse, decoded[0].Fuse)
	assert.Equal(t, actions[0].Data, decoded[0].Data)
	assert.Equal(t, actions[1].Fuse, decoded[1].Fuse)
	assert.Equal(t, actions[1].Data, decoded[1].Data)
}

func TestFlashLoanPayload(t *testing.T) {
	asset := common.HexToAddress("0x03")
	payload, err := EncodeFlashLoan(asset, sdkmath.NewInt(42), []byte("inner"))
	require.NoError(t, err)

	gotAsset, amount, callback, err := DecodeFlashLoan(payload)
	require.NoError(t, err)
	assert.Equal(t, asset, gotAsset)
	assert.Equal(t, int64(42), amount.Int64())
	assert.Equal(t, []byte("inner"), callback)

	_, err = EncodeFlashLoan(asset, sdkmath.ZeroInt(), nil)
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestNegativeBalanceError(t *testing.T) {
	var err error = &NegativeBalanceError{MarketID: 7, Delta: sdkmath.NewInt(-250)}
	require.ErrorIs(t, err, ErrNegativeBalance)

	var nb *NegativeBalanceError
	require.True(t, errors.As(err, &nb))
	assert.Equal(t, types.MarketID(7), nb.MarketID)
	assert.Equal(t, "-250", nb.Delta.String())
	assert.Contains(t, err.Error(), "market 7")
}
