package bgsync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterOnce(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a"))
	require.True(t, r.Has("a"))
	require.False(t, r.Has("b"))

	err := r.Register("a")
	require.ErrorIs(t, err, ErrDuplicateQueue)
	require.EqualError(t, err, "bgsync: duplicate queue name: a")

	r.Reset()
	require.False(t, r.Has("a"))
	require.NoError(t, r.Register("a"))
}

func TestRegistry_ConcurrentRegisterHasOneWinner(t *testing.T) {
	r := NewRegistry()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Register("same") == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}
