/*

This file contains the structured events emitted by fuses and by the vault itself. They are
buffered during a batch and only published once the batch commits.

*/

package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names what happened.
type EventKind string

const (
	EventFuseEnter        EventKind = "FUSE_ENTER"
	EventFuseExit         EventKind = "FUSE_EXIT"
	EventInstantWithdraw  EventKind = "INSTANT_WITHDRAW"
	EventMarketBalance    EventKind = "MARKET_BALANCE_UPDATED"
	EventDeposit          EventKind = "DEPOSIT"
	EventWithdraw         EventKind = "WITHDRAW"
	EventRequestQueued    EventKind = "WITHDRAWAL_REQUESTED"
	EventRequestFulfilled EventKind = "WITHDRAWAL_FULFILLED"
	EventRequestCancelled EventKind = "WITHDRAWAL_CANCELLED"
	EventRequestExpired   EventKind = "WITHDRAWAL_EXPIRED"
	EventFeesRealized     EventKind = "FEES_REALIZED"
	EventFeesClaimed      EventKind = "FEES_CLAIMED"
)

// Event is a flat, serializable record for off-chain observability.
type Event struct {
	Kind      EventKind         `json:"kind"`
	Vault     common.Address    `json:"vault"`
	Fuse      common.Address    `json:"fuse,omitempty"`
	MarketID  MarketID          `json:"market_id,omitempty"`
	Protocol  string            `json:"protocol,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
