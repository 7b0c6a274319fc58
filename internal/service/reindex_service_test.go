package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mrag/internal/ai"
	"github.com/xxxsen/mrag/internal/model"
	"github.com/xxxsen/mrag/internal/status"
)

func TestReindex_RebuildsIndexFromChunks(t *testing.T) {
	f := newIngestFixture()
	ctx := context.Background()
	f.addDoc(t, "d1", "notes.txt", notesText())
	f.addDoc(t, "d2", "short.txt", "short text")
	f.addDoc(t, "d3", "bad.png", "x")
	require.True(t, f.svc.Process(ctx, "d1").Success)
	require.True(t, f.svc.Process(ctx, "d2").Success)
	require.False(t, f.svc.Process(ctx, "d3").Success)
	want := f.idx.Len()

	fresh := newScriptedIndex()
	tracker := status.NewTracker(10, 16)
	svc := NewReindexService(f.docs, f.chunks, &hashEmbedder{}, fresh, tracker)
	report, err := svc.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Documents)
	require.Equal(t, want, report.Chunks)
	require.Equal(t, 0, report.Failed)
	require.Equal(t, want, fresh.Len())

	ev, ok := tracker.Latest(model.StatusTypeSystem, "reindex")
	require.True(t, ok)
	require.Equal(t, model.StatusTypeSystem, ev.Type)
	require.Equal(t, "completed", ev.Status)
}

func TestReindex_CountsFailures(t *testing.T) {
	f := newIngestFixture()
	ctx := context.Background()
	f.addDoc(t, "d1", "notes.txt", "one two three")
	require.True(t, f.svc.Process(ctx, "d1").Success)

	svc := NewReindexService(f.docs, f.chunks, &hashEmbedder{err: context.DeadlineExceeded}, newScriptedIndex(), nil)
	report, err := svc.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, report.Documents)
	require.Equal(t, 1, report.Failed)
}

func TestReindex_UsesDocumentTaskType(t *testing.T) {
	f := newIngestFixture()
	ctx := context.Background()
	f.addDoc(t, "d1", "notes.txt", "one two three")
	require.True(t, f.svc.Process(ctx, "d1").Success)

	emb := &hashEmbedder{}
	_, err := NewReindexService(f.docs, f.chunks, emb, newScriptedIndex(), nil).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{ai.TaskTypeRetrievalDocument}, emb.tasks)
}

func TestReindex_StartRejectsConcurrentRun(t *testing.T) {
	f := newIngestFixture()
	ctx := context.Background()
	f.addDoc(t, "d1", "notes.txt", "one two three")
	require.True(t, f.svc.Process(ctx, "d1").Success)

	tracker := status.NewTracker(10, 16)
	events, stop := collectEvents(tracker, "reindex")
	svc := NewReindexService(f.docs, f.chunks, &hashEmbedder{}, newScriptedIndex(), tracker)
	svc.running.Store(true)
	require.Error(t, svc.Start(ctx))
	_, err := svc.Run(ctx)
	require.Error(t, err)
	svc.running.Store(false)

	require.NoError(t, svc.Start(ctx))
	require.Eventually(t, func() bool {
		ev, ok := tracker.Latest(model.StatusTypeSystem, "reindex")
		return ok && ev.Status == "completed" && !svc.Running()
	}, 2*time.Second, 10*time.Millisecond)
	stop()
	require.Equal(t, "running", statuses(events())[0])
}

func TestReindex_DropsVectorsOfDeletedDocument(t *testing.T) {
	f := newIngestFixture()
	ctx := context.Background()
	f.addDoc(t, "d1", "notes.txt", "one two three")
	require.True(t, f.svc.Process(ctx, "d1").Success)

	emb := &hashEmbedder{}
	var once sync.Once
	emb.hook = func() {
		once.Do(func() {
			require.NoError(t, f.docs.Delete(ctx, "d1"))
		})
	}
	fresh := newScriptedIndex()
	report, err := NewReindexService(f.docs, f.chunks, emb, fresh, nil).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, report.Documents)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 0, fresh.Len())
}
