package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/metrics"
	"github.com/xxxsen/mrag/internal/model"
)

var (
	ErrQueueFull = errors.New("ingest queue is full")
	ErrDuplicate = errors.New("document is already queued")
	ErrStopped   = errors.New("ingest pool is stopped")
)

type ProcessFunc func(ctx context.Context, docID string) *model.IngestResult

type task struct {
	docID  string
	result chan *model.IngestResult
}

// Pool runs ingestion tasks on a fixed number of workers fed by a bounded
// queue. A document id can be queued or running at most once at a time.
type Pool struct {
	workers int
	fn      ProcessFunc
	queue   chan task

	mu       sync.Mutex
	inflight map[string]struct{}
	started  bool
	stopped  bool

	wg sync.WaitGroup
}

func NewPool(workers, queueSize int, fn ProcessFunc) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Pool{
		workers:  workers,
		fn:       fn,
		queue:    make(chan task, queueSize),
		inflight: make(map[string]struct{}),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Submit queues docID and returns a channel that receives exactly one result.
func (p *Pool) Submit(docID string) (<-chan *model.IngestResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil, ErrStopped
	}
	if _, ok := p.inflight[docID]; ok {
		return nil, ErrDuplicate
	}
	t := task{docID: docID, result: make(chan *model.IngestResult, 1)}
	select {
	case p.queue <- t:
	default:
		return nil, ErrQueueFull
	}
	p.inflight[docID] = struct{}{}
	metrics.IngestQueueDepth.Set(float64(len(p.queue)))
	return t.result, nil
}

// Stop rejects new submissions, lets workers drain the queue and waits for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()
	if !started {
		for t := range p.queue {
			p.finish(context.Background(), t, &model.IngestResult{DocumentID: t.docID, Error: ErrStopped.Error()})
		}
		return
	}
	p.wg.Wait()
}

func (p *Pool) Pending() int {
	return len(p.queue)
}

func (p *Pool) run(ctx context.Context, idx int) {
	defer p.wg.Done()
	logger := logutil.GetLogger(ctx).With(zap.Int("worker", idx))
	for t := range p.queue {
		metrics.IngestQueueDepth.Set(float64(len(p.queue)))
		res := p.process(ctx, t.docID)
		if res.Success {
			logger.Info("document ingested", zap.String("doc_id", t.docID), zap.Int("chunks", res.ChunkCount))
		} else {
			logger.Warn("document ingestion failed", zap.String("doc_id", t.docID), zap.String("err", res.Error))
		}
		p.finish(ctx, t, res)
	}
}

func (p *Pool) process(ctx context.Context, docID string) (res *model.IngestResult) {
	defer func() {
		if r := recover(); r != nil {
			logutil.GetLogger(ctx).Error("ingest task panicked", zap.String("doc_id", docID), zap.Any("panic", r))
			res = &model.IngestResult{DocumentID: docID, Error: "internal error"}
		}
	}()
	res = p.fn(ctx, docID)
	if res == nil {
		res = &model.IngestResult{DocumentID: docID, Error: "no result"}
	}
	return res
}

func (p *Pool) finish(ctx context.Context, t task, res *model.IngestResult) {
	p.mu.Lock()
	delete(p.inflight, t.docID)
	p.mu.Unlock()
	label := "success"
	if !res.Success {
		label = "failure"
	}
	metrics.IngestTotal.WithLabelValues(label).Inc()
	t.result <- res
	close(t.result)
}
