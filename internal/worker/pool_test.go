package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mrag/internal/model"
)

func TestPool_ProcessesAndReturnsResult(t *testing.T) {
	pool := NewPool(2, 4, func(ctx context.Context, docID string) *model.IngestResult {
		return &model.IngestResult{DocumentID: docID, Success: true, ChunkCount: 3}
	})
	pool.Start(context.Background())
	defer pool.Stop()

	ch, err := pool.Submit("doc-1")
	require.NoError(t, err)
	res := <-ch
	require.True(t, res.Success)
	require.Equal(t, "doc-1", res.DocumentID)
	require.Equal(t, 3, res.ChunkCount)
}

func TestPool_RejectsDuplicateUntilDone(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 4, func(ctx context.Context, docID string) *model.IngestResult {
		<-release
		return &model.IngestResult{DocumentID: docID, Success: true}
	})
	pool.Start(context.Background())
	defer pool.Stop()

	ch, err := pool.Submit("doc")
	require.NoError(t, err)
	_, err = pool.Submit("doc")
	require.ErrorIs(t, err, ErrDuplicate)

	close(release)
	<-ch
	ch, err = pool.Submit("doc")
	require.NoError(t, err)
	<-ch
}

func TestPool_QueueFull(t *testing.T) {
	pool := NewPool(1, 1, func(ctx context.Context, docID string) *model.IngestResult {
		return &model.IngestResult{DocumentID: docID, Success: true}
	})
	_, err := pool.Submit("a")
	require.NoError(t, err)
	_, err = pool.Submit("b")
	require.ErrorIs(t, err, ErrQueueFull)
	require.Equal(t, 1, pool.Pending())
	pool.Stop()
}

func TestPool_BoundsConcurrency(t *testing.T) {
	var running, peak int32
	pool := NewPool(2, 16, func(ctx context.Context, docID string) *model.IngestResult {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return &model.IngestResult{DocumentID: docID, Success: true}
	})
	pool.Start(context.Background())

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		ch, err := pool.Submit(id)
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ch
		}()
	}
	wg.Wait()
	pool.Stop()
	require.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestPool_RecoversPanic(t *testing.T) {
	pool := NewPool(1, 1, func(ctx context.Context, docID string) *model.IngestResult {
		panic("boom")
	})
	pool.Start(context.Background())
	defer pool.Stop()

	ch, err := pool.Submit("x")
	require.NoError(t, err)
	res := <-ch
	require.False(t, res.Success)
	require.NotEmpty(t, res.Error)
}

func TestPool_StopDrainsAndRejects(t *testing.T) {
	var done int32
	pool := NewPool(1, 8, func(ctx context.Context, docID string) *model.IngestResult {
		atomic.AddInt32(&done, 1)
		return &model.IngestResult{DocumentID: docID, Success: true}
	})
	for _, id := range []string{"a", "b", "c"} {
		_, err := pool.Submit(id)
		require.NoError(t, err)
	}
	pool.Start(context.Background())
	pool.Stop()
	require.Equal(t, int32(3), atomic.LoadInt32(&done))

	_, err := pool.Submit("d")
	require.ErrorIs(t, err, ErrStopped)
}
