package batch

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(n uint64) Lister[uint64] {
	return func(_ context.Context, afterID uint64, limit int) ([]uint64, error) {
		var out []uint64
		for id := afterID + 1; id <= n && len(out) < limit; id++ {
			out = append(out, id)
		}
		return out, nil
	}
}

func identity(id uint64) uint64 { return id }

func TestRun_VisitsEveryItemOnce(t *testing.T) {
	var mu sync.Mutex
	var seen []uint64
	n, err := Run(context.Background(), NewRunner(4, 7, 0), ids(45), identity, func(_ context.Context, id uint64) {
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, 45, n)

	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	for i, id := range seen {
		assert.Equal(t, uint64(i+1), id)
	}
}

func TestRun_BoundsConcurrency(t *testing.T) {
	var running, peak int32
	_, err := Run(context.Background(), NewRunner(3, 50, 0), ids(30), identity, func(_ context.Context, _ uint64) {
		cur := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		atomic.AddInt32(&running, -1)
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestRun_StopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var count int32
	n, err := Run(ctx, NewRunner(1, 5, 0), ids(100), identity, func(_ context.Context, id uint64) {
		if atomic.AddInt32(&count, 1) == 3 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, n, 100)
}
