package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type timeoutGenerator struct {
	next    IGenerator
	timeout time.Duration
}

// WithTimeout bounds every model call and rejects blank answers.
func WithTimeout(next IGenerator, timeout time.Duration) IGenerator {
	if next == nil {
		return nil
	}
	return &timeoutGenerator{next: next, timeout: timeout}
}

func (g *timeoutGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	resp, err := g.next.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp)
	if text == "" {
		return "", fmt.Errorf("empty ai response")
	}
	return text, nil
}

func (g *timeoutGenerator) ModelName() string {
	return g.next.ModelName()
}

type rateLimitedEmbedder struct {
	next    IEmbedder
	limiter *rate.Limiter
	timeout time.Duration
}

// WithRateLimit throttles embedding calls to rps requests per second. A
// non-positive rps disables throttling but keeps the per-call timeout.
func WithRateLimit(next IEmbedder, rps float64, burst int, timeout time.Duration) IEmbedder {
	if next == nil {
		return nil
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitedEmbedder{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
	}
}

func (e *rateLimitedEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait embed limiter: %w", err)
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.next.Embed(ctx, text, taskType)
}

func (e *rateLimitedEmbedder) ModelName() string {
	return e.next.ModelName()
}
