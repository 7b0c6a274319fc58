package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

type geminiConfig struct {
	APIKey string `json:"api_key"`
}

// geminiProvider shares one genai client across calls. The client is built
// on first use so a missing key only fails the requests that need it.
type geminiProvider struct {
	apiKey string

	once   sync.Once
	client *genai.Client
	err    error
}

func (p *geminiProvider) Name() string {
	return "gemini"
}

func (p *geminiProvider) models() (*genai.Models, error) {
	if p.apiKey == "" {
		return nil, ErrUnavailable
	}
	p.once.Do(func() {
		p.client, p.err = genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey:  p.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	if p.err != nil {
		return nil, fmt.Errorf("gemini client: %w", p.err)
	}
	return p.client.Models, nil
}

func (p *geminiProvider) Generate(ctx context.Context, model string, req GenerateRequest) (string, error) {
	m, err := p.models()
	if err != nil {
		return "", err
	}
	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr(req.Temperature)}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	resp, err := m.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

func (p *geminiProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	m, err := p.models()
	if err != nil {
		return nil, err
	}
	var cfg *genai.EmbedContentConfig
	if taskType != "" {
		cfg = &genai.EmbedContentConfig{TaskType: taskType}
	}
	resp, err := m.EmbedContent(ctx, model, genai.Text(text), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("gemini embed: empty embedding")
	}
	return resp.Embeddings[0].Values, nil
}

func init() {
	newGemini := func(args interface{}) (*geminiProvider, error) {
		cfg := &geminiConfig{}
		if err := decodeConfig(args, cfg); err != nil {
			return nil, err
		}
		return &geminiProvider{apiKey: strings.TrimSpace(cfg.APIKey)}, nil
	}
	Register("gemini", func(args interface{}) (IProvider, error) {
		return newGemini(args)
	})
	RegisterEmbed("gemini", func(args interface{}) (IEmbedProvider, error) {
		return newGemini(args)
	})
}
