package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Embedding task types understood by the gemini backend; other backends ignore them.
const (
	TaskTypeRetrievalQuery    = "RETRIEVAL_QUERY"
	TaskTypeRetrievalDocument = "RETRIEVAL_DOCUMENT"
)

var ErrUnavailable = errors.New("ai provider unavailable")

type GenerateRequest struct {
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

type IProvider interface {
	Name() string
	Generate(ctx context.Context, model string, req GenerateRequest) (string, error)
}

type IEmbedProvider interface {
	Name() string
	Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error)
}

type IGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	ModelName() string
}

type IEmbedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	ModelName() string
}

type generator struct {
	provider IProvider
	model    string
}

func NewGenerator(p IProvider, model string) IGenerator {
	return &generator{provider: p, model: model}
}

func (g *generator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	return g.provider.Generate(ctx, g.model, req)
}

func (g *generator) ModelName() string {
	return g.model
}

type embedder struct {
	provider IEmbedProvider
	model    string
}

func NewEmbedder(p IEmbedProvider, model string) IEmbedder {
	return &embedder{provider: p, model: model}
}

func (e *embedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	return e.provider.Embed(ctx, e.model, text, taskType)
}

func (e *embedder) ModelName() string {
	return e.model
}

type ProviderFactory func(args interface{}) (IProvider, error)
type EmbedProviderFactory func(args interface{}) (IEmbedProvider, error)

// factories maps a lower-cased backend name to its constructor. Backends
// register from init, so no locking is needed.
type factories[F any] map[string]F

func (f factories[F]) add(name string, factory F) {
	if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
		f[name] = factory
	}
}

func (f factories[F]) lookup(kind, name string) (F, error) {
	factory, ok := f[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		known := make([]string, 0, len(f))
		for k := range f {
			known = append(known, k)
		}
		sort.Strings(known)
		return factory, fmt.Errorf("unknown %s provider %q, have %s", kind, name, strings.Join(known, ", "))
	}
	return factory, nil
}

var (
	generateFactories = factories[ProviderFactory]{}
	embedFactories    = factories[EmbedProviderFactory]{}
)

func Register(name string, factory ProviderFactory) {
	if factory != nil {
		generateFactories.add(name, factory)
	}
}

func RegisterEmbed(name string, factory EmbedProviderFactory) {
	if factory != nil {
		embedFactories.add(name, factory)
	}
}

func NewProvider(name string, args interface{}) (IProvider, error) {
	factory, err := generateFactories.lookup("generation", name)
	if err != nil {
		return nil, err
	}
	return factory(args)
}

func NewEmbedProvider(name string, args interface{}) (IEmbedProvider, error) {
	factory, err := embedFactories.lookup("embedding", name)
	if err != nil {
		return nil, err
	}
	return factory(args)
}

// decodeConfig turns the free-form data section of a provider entry into the
// backend's config struct.
func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("provider data section is required")
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode provider data: %w", err)
	}
	return nil
}
