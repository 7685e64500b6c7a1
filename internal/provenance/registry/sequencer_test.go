package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"provenance/pkg/domain"
)

func TestSequencerHandsOutConsecutiveNonces(t *testing.T) {
	var loads atomic.Int32
	seq := NewSequencer(func(context.Context, domain.Account) (uint64, error) {
		loads.Add(1)
		return 10, nil
	})

	var mu sync.Mutex
	var seen []uint64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := seq.Do(context.Background(), alice, func(n uint64) error {
				mu.Lock()
				seen = append(seen, n)
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, seen, 50)
	for i, n := range seen {
		assert.Equal(t, uint64(10+i), n)
	}
	assert.Equal(t, int32(1), loads.Load())
}

func TestSequencerResyncsAfterFailure(t *testing.T) {
	ledgerNonce := uint64(0)
	seq := NewSequencer(func(context.Context, domain.Account) (uint64, error) {
		return ledgerNonce, nil
	})
	ctx := context.Background()

	require.NoError(t, seq.Do(ctx, alice, func(uint64) error { return nil }))
	ledgerNonce = 7
	require.Error(t, seq.Do(ctx, alice, func(uint64) error { return errors.New("rejected") }))

	var got uint64
	require.NoError(t, seq.Do(ctx, alice, func(n uint64) error { got = n; return nil }))
	assert.Equal(t, uint64(7), got)
}

func TestSequencerLoadFailure(t *testing.T) {
	seq := NewSequencer(func(context.Context, domain.Account) (uint64, error) {
		return 0, errors.New("ledger down")
	})
	called := false
	err := seq.Do(context.Background(), alice, func(uint64) error { called = true; return nil })

	var loadErr *nonceLoadError
	assert.ErrorAs(t, err, &loadErr)
	assert.False(t, called)
}

func TestSequencerAccountsAreIndependent(t *testing.T) {
	seq := NewSequencer(func(context.Context, domain.Account) (uint64, error) { return 0, nil })

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = seq.Do(context.Background(), alice, func(uint64) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	done := make(chan error, 1)
	go func() {
		done <- seq.Do(context.Background(), bob, func(uint64) error { return nil })
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bob blocked behind alice")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := seq.Do(ctx, alice, func(uint64) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded, "same account waits for the slot")
}
