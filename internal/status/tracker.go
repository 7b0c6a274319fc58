package status

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/xxxsen/mrag/internal/metrics"
	"github.com/xxxsen/mrag/internal/model"
	"github.com/xxxsen/mrag/internal/pkg/timeutil"
)

const (
	defaultHistorySize = 1000
	defaultBufferSize  = 32
	historyTTL         = 24 * time.Hour
)

// Tracker fans status events out to subscribers and remembers the latest
// event per entity. Entities are keyed by type and id, so a query id never
// shadows a document id. Publishing never blocks: a subscriber whose buffer
// is full is closed and removed.
type Tracker struct {
	mu         sync.Mutex
	subs       map[uint64]*Subscription
	nextID     uint64
	bufferSize int
	history    *expirable.LRU[string, model.StatusEvent]
}

// lookupOrder is the type precedence used by Lookup.
var lookupOrder = []model.StatusType{model.StatusTypeDocument, model.StatusTypeQuery, model.StatusTypeSystem}

type Subscription struct {
	id         uint64
	filterType model.StatusType
	filterID   string
	ch         chan model.StatusEvent
	tracker    *Tracker
	closed     bool
}

func NewTracker(historySize, bufferSize int) *Tracker {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Tracker{
		subs:       make(map[uint64]*Subscription),
		bufferSize: bufferSize,
		history:    expirable.NewLRU[string, model.StatusEvent](historySize, nil, historyTTL),
	}
}

func (t *Tracker) Emit(typ model.StatusType, id, status, message string, progress int, data map[string]interface{}) {
	t.Publish(model.StatusEvent{
		Type:     typ,
		ID:       id,
		Status:   status,
		Message:  message,
		Progress: progress,
		Data:     data,
	})
}

func (t *Tracker) Publish(ev model.StatusEvent) {
	if t == nil {
		return
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = timeutil.NowUnixMilli()
	}
	if ev.ID != "" {
		t.history.Add(historyKey(ev.Type, ev.ID), ev)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, sub := range t.subs {
		if !sub.matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.closed = true
			close(sub.ch)
			delete(t.subs, id)
			metrics.StatusDropped.Inc()
		}
	}
	metrics.StatusSubscribers.Set(float64(len(t.subs)))
}

// Subscribe registers a listener. An empty typ or id matches any value.
func (t *Tracker) Subscribe(typ model.StatusType, id string) *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	sub := &Subscription{
		id:         t.nextID,
		filterType: typ,
		filterID:   id,
		ch:         make(chan model.StatusEvent, t.bufferSize),
		tracker:    t,
	}
	t.subs[sub.id] = sub
	metrics.StatusSubscribers.Set(float64(len(t.subs)))
	return sub
}

func (t *Tracker) Latest(typ model.StatusType, id string) (model.StatusEvent, bool) {
	return t.history.Get(historyKey(typ, id))
}

// Lookup finds the latest event for id when the caller does not know its
// type. Documents win over queries, queries over system entities.
func (t *Tracker) Lookup(id string) (model.StatusEvent, bool) {
	for _, typ := range lookupOrder {
		if ev, ok := t.Latest(typ, id); ok {
			return ev, true
		}
	}
	return model.StatusEvent{}, false
}

func (t *Tracker) SubscriberCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (s *Subscription) matches(ev model.StatusEvent) bool {
	if s.filterType != "" && s.filterType != ev.Type {
		return false
	}
	return s.filterID == "" || s.filterID == ev.ID
}

func historyKey(typ model.StatusType, id string) string {
	return string(typ) + ":" + id
}

// Events is closed when the subscription ends, either through Close or
// because the subscriber fell behind.
func (s *Subscription) Events() <-chan model.StatusEvent {
	return s.ch
}

func (s *Subscription) Close() {
	t := s.tracker
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	delete(t.subs, s.id)
	metrics.StatusSubscribers.Set(float64(len(t.subs)))
}
