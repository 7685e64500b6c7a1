package registry

import (
	"context"
	"sync"

	"provenance/pkg/domain"
)

// NonceLoader reads the next nonce the ledger expects from an account.
type NonceLoader func(ctx context.Context, account domain.Account) (uint64, error)

// Sequencer serializes submissions per signer account and hands out
// consecutive nonces. Each account has its own slot, so unrelated accounts
// never wait on each other.
type Sequencer struct {
	mu    sync.RWMutex
	slots map[domain.Account]*slot
	load  NonceLoader
}

type slot struct {
	// sem is a one-token semaphore so waiters can give up on ctx.
	sem    chan struct{}
	next   uint64
	synced bool
}

func NewSequencer(load NonceLoader) *Sequencer {
	return &Sequencer{
		slots: make(map[domain.Account]*slot),
		load:  load,
	}
}

func (s *Sequencer) slotFor(account domain.Account) *slot {
	s.mu.RLock()
	sl, ok := s.slots[account]
	s.mu.RUnlock()
	if ok {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok = s.slots[account]; !ok {
		sl = &slot{sem: make(chan struct{}, 1)}
		s.slots[account] = sl
	}
	return sl
}

// Do runs submit with the account's next nonce while no other submission of
// that account is in flight. A successful submit consumes the nonce; any
// failure makes the next call reload the nonce from the ledger.
func (s *Sequencer) Do(ctx context.Context, account domain.Account, submit func(nonce uint64) error) error {
	sl := s.slotFor(account)
	select {
	case sl.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sl.sem }()

	if !sl.synced {
		n, err := s.load(ctx, account)
		if err != nil {
			return &nonceLoadError{err: err}
		}
		sl.next = n
		sl.synced = true
	}

	if err := submit(sl.next); err != nil {
		sl.synced = false
		return err
	}
	sl.next++
	return nil
}

type nonceLoadError struct {
	err error
}

func (e *nonceLoadError) Error() string { return "load signer nonce: " + e.err.Error() }
func (e *nonceLoadError) Unwrap() error { return e.err }
