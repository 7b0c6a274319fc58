package status

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mrag/internal/model"
)

func TestTracker_DeliversAndFilters(t *testing.T) {
	tr := NewTracker(10, 4)
	all := tr.Subscribe("", "")
	onlyA := tr.Subscribe("", "a")
	defer all.Close()
	defer onlyA.Close()

	tr.Emit(model.StatusTypeDocument, "a", "processing", "", 10, nil)
	tr.Emit(model.StatusTypeQuery, "b", "retrieving", "", 20, nil)

	ev := <-all.Events()
	require.Equal(t, "a", ev.ID)
	require.NotZero(t, ev.Timestamp)
	ev = <-all.Events()
	require.Equal(t, "b", ev.ID)

	ev = <-onlyA.Events()
	require.Equal(t, "processing", ev.Status)
	require.Len(t, onlyA.Events(), 0)
}

func TestTracker_LatestKeepsLastEvent(t *testing.T) {
	tr := NewTracker(10, 4)
	tr.Emit(model.StatusTypeDocument, "doc", "processing", "", 10, nil)
	tr.Emit(model.StatusTypeDocument, "doc", "processed", "", 100, map[string]interface{}{"chunks": 3})

	ev, ok := tr.Latest(model.StatusTypeDocument, "doc")
	require.True(t, ok)
	require.Equal(t, "processed", ev.Status)
	require.Equal(t, 100, ev.Progress)

	_, ok = tr.Latest(model.StatusTypeDocument, "missing")
	require.False(t, ok)
}

func TestTracker_QueryIDDoesNotShadowDocument(t *testing.T) {
	tr := NewTracker(10, 4)
	docs := tr.Subscribe(model.StatusTypeDocument, "shared")
	defer docs.Close()

	tr.Emit(model.StatusTypeDocument, "shared", "processed", "", 100, nil)
	tr.Emit(model.StatusTypeQuery, "shared", "retrieving", "", 20, nil)

	ev, ok := tr.Latest(model.StatusTypeDocument, "shared")
	require.True(t, ok)
	require.Equal(t, "processed", ev.Status)
	ev, ok = tr.Latest(model.StatusTypeQuery, "shared")
	require.True(t, ok)
	require.Equal(t, "retrieving", ev.Status)

	ev, ok = tr.Lookup("shared")
	require.True(t, ok)
	require.Equal(t, model.StatusTypeDocument, ev.Type)

	require.Len(t, docs.Events(), 1)
	ev = <-docs.Events()
	require.Equal(t, "processed", ev.Status)
}

func TestTracker_HistoryBounded(t *testing.T) {
	tr := NewTracker(2, 4)
	tr.Emit(model.StatusTypeQuery, "1", "completed", "", 100, nil)
	tr.Emit(model.StatusTypeQuery, "2", "completed", "", 100, nil)
	tr.Emit(model.StatusTypeQuery, "3", "completed", "", 100, nil)
	_, ok := tr.Latest(model.StatusTypeQuery, "1")
	require.False(t, ok)
	_, ok = tr.Latest(model.StatusTypeQuery, "3")
	require.True(t, ok)
}

func TestTracker_DropsSlowSubscriber(t *testing.T) {
	tr := NewTracker(10, 1)
	slow := tr.Subscribe("", "")
	require.Equal(t, 1, tr.SubscriberCount())

	tr.Emit(model.StatusTypeSystem, "x", "one", "", 0, nil)
	tr.Emit(model.StatusTypeSystem, "x", "two", "", 0, nil)
	require.Equal(t, 0, tr.SubscriberCount())

	ev, ok := <-slow.Events()
	require.True(t, ok)
	require.Equal(t, "one", ev.Status)
	_, ok = <-slow.Events()
	require.False(t, ok)

	slow.Close()
}

func TestSubscription_CloseIdempotent(t *testing.T) {
	tr := NewTracker(10, 1)
	sub := tr.Subscribe("", "")
	sub.Close()
	sub.Close()
	require.Equal(t, 0, tr.SubscriberCount())
	tr.Emit(model.StatusTypeSystem, "x", "after", "", 0, nil)
}

func TestTracker_ConcurrentPublish(t *testing.T) {
	tr := NewTracker(100, 1000)
	sub := tr.Subscribe("", "")
	defer sub.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tr.Emit(model.StatusTypeQuery, "q", "generating", "", 50, nil)
			}
		}()
	}
	wg.Wait()
	require.Len(t, sub.Events(), 500)
}

func TestTracker_NilSafePublish(t *testing.T) {
	var tr *Tracker
	require.NotPanics(t, func() {
		tr.Publish(model.StatusEvent{ID: "x"})
	})
}
