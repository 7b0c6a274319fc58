package service

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/ai"
	"github.com/xxxsen/mrag/internal/metrics"
	"github.com/xxxsen/mrag/internal/model"
	"github.com/xxxsen/mrag/internal/vectorindex"
)

const defaultTopK = 4

type RetrieveOptions struct {
	TopK     int
	Filter   map[string]interface{}
	MinScore float64
}

type RetrieveResult struct {
	Matches []model.RetrievedChunk
	// FilterFallback is set when the filtered search failed and the
	// matches come from an unfiltered search.
	FilterFallback bool
}

type Retriever struct {
	embedder    ai.IEmbedder
	index       vectorindex.Index
	defaultTopK int
}

func NewRetriever(embedder ai.IEmbedder, index vectorindex.Index, topK int) *Retriever {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Retriever{embedder: embedder, index: index, defaultTopK: topK}
}

func (r *Retriever) Retrieve(ctx context.Context, question string, opts RetrieveOptions) (*RetrieveResult, error) {
	logger := logutil.GetLogger(ctx)
	topK := opts.TopK
	if topK <= 0 {
		topK = r.defaultTopK
	}
	embedding, err := r.embedder.Embed(ctx, question, ai.TaskTypeRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	result := &RetrieveResult{}
	var matches []vectorindex.Match
	if len(opts.Filter) > 0 {
		matches, err = r.index.Query(ctx, embedding, topK, opts.Filter)
		if err != nil {
			logger.Warn("filtered search failed, retrying without filter", zap.Any("filter", opts.Filter), zap.Error(err))
			metrics.RetrievalFilterFallback.Inc()
			result.FilterFallback = true
			matches, err = r.index.Query(ctx, embedding, topK, nil)
		}
	} else {
		matches, err = r.index.Query(ctx, embedding, topK, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	result.Matches = make([]model.RetrievedChunk, 0, len(matches))
	for _, m := range matches {
		chunk := normalizeMatch(m)
		if opts.MinScore > 0 && chunk.Score < opts.MinScore {
			continue
		}
		result.Matches = append(result.Matches, chunk)
	}
	logger.Debug("retrieval finished", zap.Int("matches", len(result.Matches)), zap.Int("top_k", topK), zap.Bool("filter_fallback", result.FilterFallback))
	return result, nil
}

func normalizeMatch(m vectorindex.Match) model.RetrievedChunk {
	score := 1.0
	if m.Score != nil {
		score = *m.Score
	}
	meta := make(map[string]interface{}, len(m.Metadata)+3)
	for k, v := range m.Metadata {
		meta[k] = v
	}
	if _, ok := meta[model.MetaSource]; !ok {
		meta[model.MetaSource] = ""
	}
	if _, ok := meta[model.MetaDocumentID]; !ok {
		meta[model.MetaDocumentID] = ""
	}
	if idx, ok := model.IntFromMeta(meta, model.MetaChunkIndex); ok {
		meta[model.MetaChunkIndex] = idx
	} else {
		meta[model.MetaChunkIndex] = 0
	}
	if page, ok := model.IntFromMeta(meta, model.MetaPage); ok {
		meta[model.MetaPage] = page
	}
	return model.RetrievedChunk{ID: m.ID, Content: m.Content, Score: score, Metadata: meta}
}
