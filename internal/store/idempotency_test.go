package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLease = 10 * time.Minute

func TestReserveKey_FirstWins(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	ok, err := s.ReserveKey(ctx, "k1", "commission", "commission:Opportunity/opp-1", testLease)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ReserveKey(ctx, "k1", "commission", "commission:Opportunity/opp-1", testLease)
	require.NoError(t, err)
	assert.False(t, ok, "fresh reservation must not be taken over")

	state, err := s.KeyState(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "PENDING", state)
}

func TestReserveKey_DoneIsFinal(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	ok, err := s.ReserveKey(ctx, "k1", "agreement", "", testLease)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.CompleteKey(ctx, "k1", "agreement", ""))

	clock.Advance(24 * time.Hour)
	ok, err = s.ReserveKey(ctx, "k1", "agreement", "", testLease)
	require.NoError(t, err)
	assert.False(t, ok)

	// Release leaves DONE keys alone.
	require.NoError(t, s.ReleaseKey(ctx, "k1"))
	state, err := s.KeyState(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "DONE", state)
}

func TestReserveKey_StaleTakeover(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	ok, err := s.ReserveKey(ctx, "k1", "commission", "", testLease)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(testLease + time.Second)
	ok, err = s.ReserveKey(ctx, "k1", "commission", "", testLease)
	require.NoError(t, err)
	assert.True(t, ok, "abandoned reservation should be taken over")

	ok, err = s.ReserveKey(ctx, "k1", "commission", "", testLease)
	require.NoError(t, err)
	assert.False(t, ok, "takeover refreshes the claim")
}

func TestReleaseKey_AllowsRetry(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	ok, err := s.ReserveKey(ctx, "k1", "agreement", "", testLease)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.ReleaseKey(ctx, "k1"))
	state, err := s.KeyState(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "", state)

	ok, err = s.ReserveKey(ctx, "k1", "agreement", "", testLease)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReserveKey_ConcurrentSingleWinner(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ReserveKey(ctx, "contended", "commission", "", testLease)
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for ok := range results {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestCompleteKey_WithoutReservation(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, s.CompleteKey(ctx, "k2", "commission", fmt.Sprintf("attempt %d", i)))
	}
	state, err := s.KeyState(ctx, "k2")
	require.NoError(t, err)
	assert.Equal(t, "DONE", state)
}
