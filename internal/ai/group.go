package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type GeneratorEntry struct {
	Name      string
	Generator IGenerator
}

type EmbedderEntry struct {
	Name     string
	Embedder IEmbedder
}

// inOrder calls try for each entry until one succeeds. The returned error
// joins every failure so callers can match any of them with errors.Is. A
// cancelled context stops the walk early.
func inOrder[T any](ctx context.Context, kind string, names []string, try func(i int) (T, error)) (T, error) {
	var zero T
	var errs []error
	for i, name := range names {
		out, err := try(i)
		if err == nil {
			return out, nil
		}
		logutil.GetLogger(ctx).Warn(kind+" failed, trying next",
			zap.Int("index", i), zap.String("name", name), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s %s: %w", kind, name, err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return zero, fmt.Errorf("%w: no %s configured", ErrUnavailable, kind)
	}
	return zero, errors.Join(errs...)
}

type groupGenerator struct {
	names []string
	items []IGenerator
}

// NewGroupGenerator tries each generator in order until one succeeds. Nil
// entries are skipped; a single entry is returned unwrapped.
func NewGroupGenerator(entries []GeneratorEntry) IGenerator {
	g := &groupGenerator{}
	for _, e := range entries {
		if e.Generator != nil {
			g.names = append(g.names, e.Name)
			g.items = append(g.items, e.Generator)
		}
	}
	switch len(g.items) {
	case 0:
		return nil
	case 1:
		return g.items[0]
	}
	return g
}

func (g *groupGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	return inOrder(ctx, "generator", g.names, func(i int) (string, error) {
		return g.items[i].Generate(ctx, req)
	})
}

func (g *groupGenerator) ModelName() string {
	models := make([]string, len(g.items))
	for i, item := range g.items {
		models[i] = item.ModelName()
	}
	return strings.Join(models, "|")
}

type groupEmbedder struct {
	names []string
	items []IEmbedder
}

// NewGroupEmbedder falls back across embedders. All entries must produce
// vectors of the same dimension or the index will reject them.
func NewGroupEmbedder(entries []EmbedderEntry) IEmbedder {
	g := &groupEmbedder{}
	for _, e := range entries {
		if e.Embedder != nil {
			g.names = append(g.names, e.Name)
			g.items = append(g.items, e.Embedder)
		}
	}
	switch len(g.items) {
	case 0:
		return nil
	case 1:
		return g.items[0]
	}
	return g
}

func (g *groupEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	return inOrder(ctx, "embedder", g.names, func(i int) ([]float32, error) {
		return g.items[i].Embed(ctx, text, taskType)
	})
}

// ModelName uses the configured entry names; embedding caches key on it.
func (g *groupEmbedder) ModelName() string {
	return strings.Join(g.names, "|")
}
