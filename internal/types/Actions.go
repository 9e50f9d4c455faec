/*

This file contains the types describing what an operator asks the vault to do: fuse actions,
their selectors, and the receipts produced by a batch.

*/

package types

import (
	"encoding/binary"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/elys-network/plasmavault/internal/substrate"
)

// MarketID identifies one external protocol integration inside a vault.
type MarketID uint64

// Selector is a 4-byte function selector (keccak256 of the signature, truncated).
type Selector [4]byte

// NewSelector hashes a function signature such as "enter(bytes)".
func NewSelector(signature string) Selector {
	var s Selector
	copy(s[:], crypto.Keccak256([]byte(signature))[:4])
	return s
}

func (s Selector) Uint32() uint32 {
	return binary.BigEndian.Uint32(s[:])
}

func (s Selector) String() string {
	return common.Bytes2Hex(s[:])
}

var (
	// EnterSelector routes an action to Fuse.Enter.
	EnterSelector = NewSelector("enter(bytes)")
	// ExitSelector routes an action to Fuse.Exit.
	ExitSelector = NewSelector("exit(bytes)")
)

// FuseAction is a single requested operation: which fuse to call and with what calldata.
// Data starts with the 4-byte selector followed by the fuse-specific payload.
type FuseAction struct {
	Fuse common.Address `json:"fuse"`
	Data []byte         `json:"data"`
}

// NewEnterAction builds an action calling Enter on the fuse with the given payload.
func NewEnterAction(fuse common.Address, payload []byte) FuseAction {
	return FuseAction{Fuse: fuse, Data: append(EnterSelector[:], payload...)}
}

// NewExitAction builds an action calling Exit on the fuse with the given payload.
func NewExitAction(fuse common.Address, payload []byte) FuseAction {
	return FuseAction{Fuse: fuse, Data: append(ExitSelector[:], payload...)}
}

// Split returns the selector and payload of the action. ok is false when Data is shorter than a selector.
func (a FuseAction) Split() (Selector, []byte, bool) {
	var s Selector
	if len(a.Data) < len(s) {
		return s, nil, false
	}
	copy(s[:], a.Data[:4])
	return s, a.Data[4:], true
}

// InstantWithdrawConfig is one entry of the ordered list of fuses tried when idle liquidity
// does not cover a redemption. Params are passed to the fuse untouched.
type InstantWithdrawConfig struct {
	Fuse   common.Address        `json:"fuse" yaml:"fuse"`
	Params []substrate.Substrate `json:"params,omitempty" yaml:"params"`
}

// ExecutionReceipt summarizes one committed batch.
type ExecutionReceipt struct {
	BatchID           string                   `json:"batch_id"`
	Caller            common.Address           `json:"caller"`
	Maintenance       bool                     `json:"maintenance"`
	Actions           int                      `json:"actions"`
	TouchedMarkets    []MarketID               `json:"touched_markets"`
	TotalAssetsBefore sdkmath.Int              `json:"total_assets_before"`
	TotalAssetsAfter  sdkmath.Int              `json:"total_assets_after"`
	MarketBalances    map[MarketID]sdkmath.Int `json:"market_balances"`
	Events            []Event                  `json:"events,omitempty"`
	Fulfilled         []string                 `json:"fulfilled_requests,omitempty"`
	Timestamp         time.Time                `json:"timestamp"`
}
