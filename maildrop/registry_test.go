package maildrop

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dunlinmail/dunlin/consts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAcquireRelease(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Acquire("alice@example.com"))
	assert.ErrorIs(t, r.Acquire("alice@example.com"), consts.ErrMailboxInUse)

	// A different identity is unaffected
	require.NoError(t, r.Acquire("bob@example.com"))
	assert.Equal(t, 2, r.Len())

	r.Release("alice@example.com")
	require.NoError(t, r.Acquire("alice@example.com"))
}

func TestRegistryReleaseIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Release("never-held@example.com")
	r.Release("never-held@example.com")
	assert.Equal(t, 0, r.Len())
}

func TestRegistryConcurrentAcquireExclusive(t *testing.T) {
	const attempts = 100
	r := NewRegistry()

	var wg sync.WaitGroup
	var wins atomic.Int64
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Acquire("alice@example.com"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load(), "exactly one concurrent Acquire may win")
	assert.Equal(t, 1, r.Len())
}
