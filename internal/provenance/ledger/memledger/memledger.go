// Package memledger is an in-process ledger implementing ledger.Gateway.
//
// It enforces the same rules a deployed ledger enforces: product ids are
// unique, only the current owner may transfer, history is append-only, and
// every account submits with a strictly increasing nonce. Operations execute
// in submission order once they reach finality.
package memledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/sha3"

	"provenance/internal/provenance/ledger"
	"provenance/pkg/domain"
)

type record struct {
	manufacturer domain.Account
	owner        domain.Account
	metadata     []byte
	history      []domain.Account
}

type tx struct {
	signer  domain.Account
	op      ledger.Operation
	hash    string
	outcome ledger.Outcome
	done    chan struct{}
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	products map[domain.ProductID]*record
	nonces   map[domain.Account]uint64
	txs      map[string]*tx
	pending  []*tx

	finalityDelay time.Duration
	viewFailures  int
	logger        *slog.Logger
}

type Option func(*Ledger)

// WithFinalityDelay defers execution of each operation by d after submission.
// Zero executes operations during Submit.
func WithFinalityDelay(d time.Duration) Option {
	return func(l *Ledger) {
		l.finalityDelay = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		products: make(map[domain.ProductID]*record),
		nonces:   make(map[domain.Account]uint64),
		txs:      make(map[string]*tx),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FailNextViews makes the next n View calls return ledger.ErrUnavailable.
func (l *Ledger) FailNextViews(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.viewFailures = n
}

func (l *Ledger) Submit(ctx context.Context, signer domain.Account, op ledger.Operation) (ledger.Handle, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Handle{}, err
	}
	if err := checkOperation(signer, op); err != nil {
		return ledger.Handle{}, err
	}

	l.mu.Lock()
	expected := l.nonces[signer]
	if op.Nonce != expected {
		l.mu.Unlock()
		return ledger.Handle{}, fmt.Errorf("%w: account %s expected %d, got %d", ledger.ErrBadNonce, signer, expected, op.Nonce)
	}
	l.nonces[signer] = expected + 1

	t := &tx{
		signer: signer,
		op:     cloneOperation(op),
		hash:   txHash(signer, op),
		done:   make(chan struct{}),
	}
	l.txs[t.hash] = t
	l.pending = append(l.pending, t)
	if l.finalityDelay == 0 {
		l.finalizeThroughLocked(t)
	}
	l.mu.Unlock()

	if l.finalityDelay > 0 {
		time.AfterFunc(l.finalityDelay, func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.finalizeThroughLocked(t)
		})
	}
	return ledger.Handle{TxHash: t.hash}, nil
}

func (l *Ledger) AwaitFinality(ctx context.Context, h ledger.Handle) (ledger.Outcome, error) {
	l.mu.Lock()
	t, ok := l.txs[h.TxHash]
	l.mu.Unlock()
	if !ok {
		return ledger.Outcome{}, fmt.Errorf("unknown transaction %s", h.TxHash)
	}

	select {
	case <-t.done:
		return t.outcome, nil
	case <-ctx.Done():
		return ledger.Outcome{Status: ledger.StatusTimedOut, TxHash: t.hash}, nil
	}
}

func (l *Ledger) View(ctx context.Context, q ledger.Query) (*ledger.RawResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.viewFailures > 0 {
		l.viewFailures--
		return nil, ledger.ErrUnavailable
	}

	switch q.Kind {
	case ledger.QueryNonce:
		return &ledger.RawResult{Nonce: l.nonces[q.Account]}, nil
	case ledger.QueryProduct:
		rec, ok := l.products[q.ProductID]
		if !ok {
			return nil, ledger.ErrNotFound
		}
		return &ledger.RawResult{Product: &ledger.RawProduct{
			ID:           q.ProductID,
			Manufacturer: rec.manufacturer,
			CurrentOwner: rec.owner,
			Metadata:     append([]byte(nil), rec.metadata...),
			History:      append([]domain.Account{}, rec.history...),
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported query kind %q", q.Kind)
	}
}

// finalizeThroughLocked executes pending transactions in submission order up
// to and including t. Callers hold l.mu.
func (l *Ledger) finalizeThroughLocked(t *tx) {
	for len(l.pending) > 0 {
		select {
		case <-t.done:
			return
		default:
		}
		next := l.pending[0]
		l.pending = l.pending[1:]
		next.outcome = l.execute(next)
		close(next.done)
		l.logger.Debug("ledger transaction final",
			"tx_hash", next.hash,
			"kind", next.op.Kind,
			"product_id", next.op.ProductID,
			"status", next.outcome.Status,
			"reason", next.outcome.Reason,
		)
	}
}

func (l *Ledger) execute(t *tx) ledger.Outcome {
	aborted := func(reason ledger.AbortReason) ledger.Outcome {
		return ledger.Outcome{Status: ledger.StatusAborted, Reason: reason, TxHash: t.hash}
	}

	rec, exists := l.products[t.op.ProductID]
	switch t.op.Kind {
	case ledger.OpMint:
		if exists {
			return aborted(ledger.AbortAlreadyExists)
		}
		l.products[t.op.ProductID] = &record{
			manufacturer: t.signer,
			owner:        t.signer,
			metadata:     t.op.Metadata,
			history:      []domain.Account{},
		}
	case ledger.OpTransfer:
		if !exists {
			return aborted(ledger.AbortNotFound)
		}
		if rec.owner != t.signer {
			return aborted(ledger.AbortNotOwner)
		}
		rec.history = append(rec.history, t.op.NewOwner)
		rec.owner = t.op.NewOwner
	}
	return ledger.Outcome{Status: ledger.StatusCommitted, TxHash: t.hash}
}

func checkOperation(signer domain.Account, op ledger.Operation) error {
	if signer.IsZero() {
		return fmt.Errorf("%w: missing signer", ledger.ErrSubmissionRejected)
	}
	if op.ProductID == "" {
		return fmt.Errorf("%w: missing product id", ledger.ErrSubmissionRejected)
	}
	switch op.Kind {
	case ledger.OpMint:
		if len(op.Metadata) == 0 {
			return fmt.Errorf("%w: mint without metadata", ledger.ErrSubmissionRejected)
		}
	case ledger.OpTransfer:
		if op.NewOwner.IsZero() {
			return fmt.Errorf("%w: transfer without new owner", ledger.ErrSubmissionRejected)
		}
	default:
		return fmt.Errorf("%w: unknown operation %q", ledger.ErrSubmissionRejected, op.Kind)
	}
	return nil
}

func cloneOperation(op ledger.Operation) ledger.Operation {
	op.Metadata = append([]byte(nil), op.Metadata...)
	return op
}

// txHash is keccak256 over the signer, nonce and operation body. A signer
// never reuses a nonce, so hashes are unique.
func txHash(signer domain.Account, op ledger.Operation) string {
	h := sha3.NewLegacyKeccak256()
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], op.Nonce)
	h.Write([]byte(signer))
	h.Write(nonce[:])
	h.Write([]byte(op.Kind))
	h.Write([]byte(op.ProductID))
	h.Write([]byte(op.NewOwner))
	h.Write(op.Metadata)
	return hexutil.Encode(h.Sum(nil))
}
