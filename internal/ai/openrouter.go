package ai

import (
	"strings"
)

const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

type openrouterConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	// Referer and Title are sent as OpenRouter app attribution headers.
	Referer string `json:"http_referer"`
	Title   string `json:"x_title"`
}

func newOpenRouterClient(args interface{}) (*chatClient, error) {
	cfg := &openrouterConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultOpenRouterBaseURL
	}
	attribution := map[string]string{}
	if v := strings.TrimSpace(cfg.Referer); v != "" {
		attribution["HTTP-Referer"] = v
	}
	if v := strings.TrimSpace(cfg.Title); v != "" {
		attribution["X-Title"] = v
	}
	return newChatClient("openrouter", strings.TrimSpace(cfg.APIKey), baseURL, attribution), nil
}

func init() {
	Register("openrouter", func(args interface{}) (IProvider, error) {
		return newOpenRouterClient(args)
	})
	RegisterEmbed("openrouter", func(args interface{}) (IEmbedProvider, error) {
		return newOpenRouterClient(args)
	})
}
