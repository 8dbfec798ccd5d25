package guard

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crewflow/internal/model"
	"github.com/roach88/crewflow/internal/store"
)

func testKey(docType string) model.SemanticKey {
	t := model.EntityTransition{EntityType: model.EntityOpportunity, EntityID: "opp-1"}
	return model.AgreementKey(t, docType)
}

func createStoreGuard(t *testing.T) *StoreGuard {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "guard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewStoreGuard(s, time.Minute)
}

// exerciseGuard runs the shared contract against any backend.
func exerciseGuard(t *testing.T, g Guard) {
	ctx := context.Background()

	t.Run("first caller proceeds", func(t *testing.T) {
		key := testKey("first-" + uuid.NewString())
		ok, err := g.ShouldProceed(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = g.ShouldProceed(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("recorded key stays done", func(t *testing.T) {
		key := testKey("done-" + uuid.NewString())
		ok, err := g.ShouldProceed(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, g.Record(ctx, key))
		require.NoError(t, g.Release(ctx, key))

		ok, err = g.ShouldProceed(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("released key can be retried", func(t *testing.T) {
		key := testKey("retry-" + uuid.NewString())
		ok, err := g.ShouldProceed(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, g.Release(ctx, key))

		ok, err = g.ShouldProceed(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("distinct documents are distinct keys", func(t *testing.T) {
		suffix := uuid.NewString()
		ok, err := g.ShouldProceed(ctx, testKey("CONTINGENCY-"+suffix))
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = g.ShouldProceed(ctx, testKey("WORK_AUTH-"+suffix))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("concurrent callers have one winner", func(t *testing.T) {
		key := testKey("race-" + uuid.NewString())
		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := g.ShouldProceed(ctx, key)
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})
}

func TestStoreGuard(t *testing.T) {
	exerciseGuard(t, createStoreGuard(t))
}

func TestRedisGuard(t *testing.T) {
	addr := os.Getenv("CREWFLOW_TEST_REDIS")
	if addr == "" {
		t.Skip("CREWFLOW_TEST_REDIS not set")
	}
	client, err := DialRedis(context.Background(), strings.Split(addr, ","))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	exerciseGuard(t, NewRedisGuard(client, "crewflow-test-"+uuid.NewString(), time.Minute))
}

func TestDialRedis_NoAddrs(t *testing.T) {
	_, err := DialRedis(context.Background(), nil)
	assert.Error(t, err)
}
