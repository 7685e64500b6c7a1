package audit

import (
	"time"

	"provenance/pkg/domain"
)

// Action names a committed ledger mutation.
type Action string

const (
	ActionMint     Action = "mint"
	ActionTransfer Action = "transfer"
)

// Event records a committed mint or transfer for the off-chain journal. The
// ledger remains authoritative; events are a convenience copy for listing
// and streaming.
type Event struct {
	ID        string
	ProductID domain.ProductID
	Action    Action
	Actor     domain.Account
	NewOwner  domain.Account // transfer only
	TxHash    string
	RequestID string
	Timestamp time.Time
}
