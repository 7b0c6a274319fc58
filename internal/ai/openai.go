package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type openAIConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type openAIEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func buildChatRequest(model string, req GenerateRequest) chatRequest {
	msgs := make([]chatMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})
	return chatRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

// postJSON sends body to endpoint and decodes a 2xx response into out.
func postJSON(ctx context.Context, name, endpoint string, headers map[string]string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s request failed: %s: %s", name, resp.Status, strings.TrimSpace(string(raw)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// chatClient speaks the OpenAI chat and embeddings wire format. OpenRouter
// and most self-hosted gateways accept the same requests.
type chatClient struct {
	name    string
	baseURL string
	headers map[string]string
}

func newChatClient(name, apiKey, baseURL string, extra map[string]string) *chatClient {
	headers := map[string]string{}
	for k, v := range extra {
		headers[k] = v
	}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	return &chatClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
	}
}

func (c *chatClient) Name() string {
	return c.name
}

func (c *chatClient) configured() bool {
	return c.headers["Authorization"] != ""
}

func (c *chatClient) Generate(ctx context.Context, model string, req GenerateRequest) (string, error) {
	if !c.configured() {
		return "", ErrUnavailable
	}
	var out chatResponse
	if err := postJSON(ctx, c.name, c.baseURL+"/chat/completions", c.headers, buildChatRequest(model, req), &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s response has no choices", c.name)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (c *chatClient) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	if !c.configured() {
		return nil, ErrUnavailable
	}
	var out openAIEmbedResponse
	if err := postJSON(ctx, c.name, c.baseURL+"/embeddings", c.headers, openAIEmbedRequest{Model: model, Input: text}, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%s response has no embeddings", c.name)
	}
	return out.Data[0].Embedding, nil
}

func newOpenAIClient(args interface{}) (*chatClient, error) {
	cfg := &openAIConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return newChatClient("openai", strings.TrimSpace(cfg.APIKey), baseURL, nil), nil
}

func init() {
	Register("openai", func(args interface{}) (IProvider, error) {
		return newOpenAIClient(args)
	})
	RegisterEmbed("openai", func(args interface{}) (IEmbedProvider, error) {
		return newOpenAIClient(args)
	})
}
