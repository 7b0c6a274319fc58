package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/ai"
	"github.com/xxxsen/mrag/internal/metrics"
	"github.com/xxxsen/mrag/internal/model"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
	"github.com/xxxsen/mrag/internal/pkg/timeutil"
	"github.com/xxxsen/mrag/internal/querycache"
	"github.com/xxxsen/mrag/internal/status"
)

const citationPreviewRunes = 200

type QueryConfig struct {
	MinScore      float64
	Temperature   float32
	MaxTokens     int
	MaxInputChars int
}

type AskRequest struct {
	QueryID  string
	Question string
	Options  *model.QueryOptions
	UseCache bool
}

type QueryService struct {
	retriever *Retriever
	generator ai.IGenerator
	cache     *querycache.Cache
	logs      QueryLogStore
	tracker   *status.Tracker
	cfg       QueryConfig
}

func NewQueryService(retriever *Retriever, generator ai.IGenerator, cache *querycache.Cache, logs QueryLogStore, tracker *status.Tracker, cfg QueryConfig) *QueryService {
	return &QueryService{
		retriever: retriever,
		generator: generator,
		cache:     cache,
		logs:      logs,
		tracker:   tracker,
		cfg:       cfg,
	}
}

// Ask answers a question from the indexed documents. A failed retrieval is
// reported as an apology answer; a failed model call is returned as an error.
func (s *QueryService) Ask(ctx context.Context, req AskRequest) (*model.GenerationResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", appErr.ErrInvalid)
	}
	if s.cfg.MaxInputChars > 0 && utf8.RuneCountInString(question) > s.cfg.MaxInputChars {
		return nil, fmt.Errorf("%w: question exceeds %d characters", appErr.ErrInvalid, s.cfg.MaxInputChars)
	}
	qid := req.QueryID
	if qid == "" {
		qid = newID()
	}
	logger := logutil.GetLogger(ctx).With(zap.String("query_id", qid))

	if req.UseCache && s.cache != nil {
		if hit, ok := s.cache.Get(question, req.Options); ok {
			s.emit(qid, model.QueryStatusCached, "answer served from cache", 100, nil)
			metrics.QueryTotal.WithLabelValues("cached").Inc()
			out := *hit
			out.Metadata.Cached = true
			return &out, nil
		}
	}

	start := time.Now()
	s.emit(qid, model.QueryStatusRetrieving, "searching documents", 20, nil)
	retrieved, err := s.retriever.Retrieve(ctx, question, s.retrieveOptions(req.Options))
	if err != nil {
		logger.Error("retrieval failed", zap.Error(err))
		s.emit(qid, model.QueryStatusError, "retrieval failed", 0, nil)
		metrics.QueryTotal.WithLabelValues("retrieval_error").Inc()
		return s.fixedAnswer(ai.ApologyAnswer, start, false), nil
	}
	if len(retrieved.Matches) == 0 {
		s.emit(qid, model.QueryStatusNoResults, "no relevant documents found", 0, nil)
		metrics.QueryTotal.WithLabelValues("no_results").Inc()
		return s.fixedAnswer(ai.NoResultsAnswer, start, retrieved.FilterFallback), nil
	}

	s.emit(qid, model.QueryStatusGenerating, "building prompt", 50, map[string]interface{}{"chunks": len(retrieved.Matches)})
	genReq := ai.GenerateRequest{
		System:      ai.SystemPrompt,
		Prompt:      ai.BuildUserPrompt(question, retrieved.Matches),
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}
	if req.Options != nil {
		if req.Options.Temperature != nil {
			genReq.Temperature = *req.Options.Temperature
		}
		if req.Options.MaxTokens > 0 {
			genReq.MaxTokens = req.Options.MaxTokens
		}
	}
	s.emit(qid, model.QueryStatusLLMProcessing, "waiting for the language model", 70, nil)
	answer, err := s.generator.Generate(ctx, genReq)
	if err != nil {
		logger.Error("generation failed", zap.Error(err))
		s.emit(qid, model.QueryStatusError, "generation failed", 0, nil)
		metrics.QueryTotal.WithLabelValues("generation_error").Inc()
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	elapsed := time.Since(start).Milliseconds()
	result := &model.GenerationResult{
		Answer:    answer,
		Citations: joinCitations(ai.ExtractCitations(answer), retrieved.Matches),
		Sources:   uniqueSources(retrieved.Matches),
		Metadata: model.GenerationMetadata{
			Model:          s.generator.ModelName(),
			ResponseTimeMs: elapsed,
			FilterFallback: retrieved.FilterFallback,
		},
	}
	s.emit(qid, model.QueryStatusCompleted, "answer ready", 100, map[string]interface{}{
		"citations":        len(result.Citations),
		"response_time_ms": elapsed,
	})
	if req.UseCache && s.cache != nil {
		s.cache.Set(question, result, req.Options)
	}
	if s.logs != nil {
		if err := s.logs.Create(ctx, &model.QueryLog{
			ID:             newID(),
			QueryID:        qid,
			Query:          question,
			ResponseTimeMs: elapsed,
			Ctime:          timeutil.NowUnix(),
		}); err != nil {
			logger.Warn("save query log failed", zap.Error(err))
		}
	}
	metrics.QueryTotal.WithLabelValues("answered").Inc()
	metrics.QueryLatency.Observe(time.Since(start).Seconds())
	return result, nil
}

func (s *QueryService) ListLogs(ctx context.Context, limit, offset uint) ([]model.QueryLog, error) {
	return s.logs.List(ctx, limit, offset)
}

func (s *QueryService) ModelName() string {
	return s.generator.ModelName()
}

func (s *QueryService) CacheStats() querycache.Stats {
	if s.cache == nil {
		return querycache.Stats{}
	}
	return s.cache.Stats()
}

func (s *QueryService) ClearCache() {
	if s.cache != nil {
		s.cache.Clear()
	}
}

func (s *QueryService) retrieveOptions(opts *model.QueryOptions) RetrieveOptions {
	out := RetrieveOptions{MinScore: s.cfg.MinScore}
	if opts == nil {
		return out
	}
	out.TopK = opts.TopK
	out.Filter = opts.Filter
	if opts.MinScore > 0 {
		out.MinScore = opts.MinScore
	}
	return out
}

func (s *QueryService) fixedAnswer(answer string, start time.Time, fallback bool) *model.GenerationResult {
	return &model.GenerationResult{
		Answer:    answer,
		Citations: []model.Citation{},
		Sources:   []string{},
		Metadata: model.GenerationMetadata{
			Model:          s.generator.ModelName(),
			ResponseTimeMs: time.Since(start).Milliseconds(),
			FilterFallback: fallback,
		},
	}
}

func (s *QueryService) emit(id, st, msg string, progress int, data map[string]interface{}) {
	s.tracker.Emit(model.StatusTypeQuery, id, st, msg, progress, data)
}

// joinCitations attaches a content preview from the first retrieved chunk
// with the cited source (and page, when cited). References that match no
// retrieved chunk are dropped.
func joinCitations(refs []model.CitationRef, chunks []model.RetrievedChunk) []model.Citation {
	out := make([]model.Citation, 0, len(refs))
	for _, ref := range refs {
		for _, chunk := range chunks {
			if chunk.Source() != ref.Source {
				continue
			}
			if ref.Page != nil {
				page, hasPage := chunk.Page()
				if !hasPage || page != *ref.Page {
					continue
				}
			}
			out = append(out, model.Citation{Source: ref.Source, Page: ref.Page, Content: preview(chunk.Content, citationPreviewRunes)})
			break
		}
	}
	return out
}

func uniqueSources(chunks []model.RetrievedChunk) []string {
	out := make([]string, 0, len(chunks))
	seen := make(map[string]struct{}, len(chunks))
	for _, chunk := range chunks {
		src := chunk.Source()
		if src == "" {
			continue
		}
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	return out
}

func preview(content string, n int) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= n {
		return content
	}
	runes := []rune(content)
	return string(runes[:n])
}
