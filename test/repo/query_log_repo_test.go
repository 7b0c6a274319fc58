package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mrag/internal/model"
	"github.com/xxxsen/mrag/internal/repo"
	"github.com/xxxsen/mrag/test/testutil"
)

func TestQueryLogRepo(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	logs := repo.NewQueryLogRepo(db)

	require.NoError(t, logs.Create(ctx, &model.QueryLog{ID: "l-1", QueryID: "q-1", Query: "old", ResponseTimeMs: 10, Ctime: 100}))
	require.NoError(t, logs.Create(ctx, &model.QueryLog{ID: "l-2", QueryID: "q-1", Query: "new", ResponseTimeMs: 20, Ctime: 200}))

	list, err := logs.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "l-2", list[0].ID)
	require.Equal(t, "q-1", list[0].QueryID)
	require.Equal(t, "q-1", list[1].QueryID)

	n, err := logs.DeleteBefore(ctx, 150)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	list, err = logs.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestEmbeddingCacheRepo(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	cache := repo.NewEmbeddingCacheRepo(db)

	_, ok, err := cache.Get(ctx, "m", "RETRIEVAL_QUERY", "h")
	require.NoError(t, err)
	require.False(t, ok)

	item := &model.EmbeddingCache{ModelName: "m", TaskType: "RETRIEVAL_QUERY", ContentHash: "h", Embedding: []float32{1, 2, 3}, Ctime: 100}
	require.NoError(t, cache.Save(ctx, item))
	item.Embedding = []float32{4, 5, 6}
	require.NoError(t, cache.Save(ctx, item))

	got, ok, err := cache.Get(ctx, "m", "RETRIEVAL_QUERY", "h")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []float32{4, 5, 6}, got)

	count, err := cache.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	n, err := cache.DeleteBefore(ctx, 1000)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}
