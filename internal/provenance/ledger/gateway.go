// Package ledger declares the capability boundary between the registry and
// the ledger runtime. Implementations build, sign and submit operations, wait
// for finality and answer read-only views. They never retry or sequence.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"provenance/pkg/domain"
)

//go:generate mockgen -source=gateway.go -destination=mocks/mocks.go -package=mocks Gateway

// Gateway is the only component that talks to the ledger.
type Gateway interface {
	// Submit hands a signed operation to the ledger. It fails with
	// ErrSubmissionRejected when the ledger refuses it before execution.
	Submit(ctx context.Context, signer domain.Account, op Operation) (Handle, error)
	// AwaitFinality blocks until the operation is final or ctx is done, in
	// which case the outcome is StatusTimedOut rather than an error.
	AwaitFinality(ctx context.Context, h Handle) (Outcome, error)
	// View is a side-effect-free read. It returns ErrNotFound for unknown
	// products and ErrUnavailable for transient transport failures.
	View(ctx context.Context, q Query) (*RawResult, error)
}

var (
	ErrSubmissionRejected = errors.New("ledger rejected submission")
	// ErrBadNonce is a submission rejection caused by an out-of-sequence nonce.
	ErrBadNonce    = fmt.Errorf("%w: unexpected nonce", ErrSubmissionRejected)
	ErrNotFound    = errors.New("ledger record not found")
	ErrUnavailable = errors.New("ledger unavailable")
)

type OpKind string

const (
	OpMint     OpKind = "mint"
	OpTransfer OpKind = "transfer"
)

// Operation is a state transition submitted on behalf of a signer.
type Operation struct {
	Kind      OpKind
	ProductID domain.ProductID
	Metadata  []byte         // mint only
	NewOwner  domain.Account // transfer only
	Nonce     uint64
}

// Handle identifies a pending transaction.
type Handle struct {
	TxHash string
}

type Status string

const (
	StatusCommitted Status = "committed"
	StatusAborted   Status = "aborted"
	StatusTimedOut  Status = "timed_out"
)

// AbortReason explains why an operation failed during execution.
type AbortReason string

const (
	AbortAlreadyExists AbortReason = "already_exists"
	AbortNotOwner      AbortReason = "not_owner"
	AbortNotFound      AbortReason = "not_found"
)

type Outcome struct {
	Status Status
	Reason AbortReason
	TxHash string
}

type QueryKind string

const (
	QueryProduct QueryKind = "product"
	QueryNonce   QueryKind = "nonce"
)

// Query selects a product by id or the next nonce of an account.
type Query struct {
	Kind      QueryKind
	ProductID domain.ProductID
	Account   domain.Account
}

// RawProduct is the product record as stored on the ledger, metadata still encoded.
type RawProduct struct {
	ID           domain.ProductID
	Manufacturer domain.Account
	CurrentOwner domain.Account
	Metadata     []byte
	History      []domain.Account
}

type RawResult struct {
	Product *RawProduct
	Nonce   uint64
}
