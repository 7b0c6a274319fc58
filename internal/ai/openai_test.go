package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChatClient_GenerateAndEmbed(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.Path)
		require.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.Equal(t, "mrag", r.Header.Get("X-Title"))
		switch r.URL.Path {
		case "/chat/completions":
			var req chatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "m", req.Model)
			require.Len(t, req.Messages, 2)
			require.Equal(t, "system", req.Messages[0].Role)
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  answer \n"}}]}`))
		case "/embeddings":
			_, _ = w.Write([]byte(`{"data":[{"embedding":[0.5,0.25]}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := newOpenRouterClient(map[string]interface{}{"api_key": "k", "base_url": srv.URL + "/", "x_title": "mrag"})
	require.NoError(t, err)
	require.Equal(t, "openrouter", client.Name())

	out, err := client.Generate(context.Background(), "m", GenerateRequest{System: "sys", Prompt: "q"})
	require.NoError(t, err)
	require.Equal(t, "answer", out)

	vec, err := client.Embed(context.Background(), "e", "text", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	require.Equal(t, []float32{0.5, 0.25}, vec)
	require.Equal(t, []string{"/chat/completions", "/embeddings"}, seen)
}

func TestChatClient_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, err := newOpenAIClient(map[string]interface{}{"api_key": "k", "base_url": srv.URL})
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), "m", GenerateRequest{Prompt: "q"})
	require.ErrorContains(t, err, "quota exceeded")

	keyless, err := newOpenAIClient(map[string]interface{}{"base_url": srv.URL})
	require.NoError(t, err)
	_, err = keyless.Generate(context.Background(), "m", GenerateRequest{Prompt: "q"})
	require.ErrorIs(t, err, ErrUnavailable)
	_, err = keyless.Embed(context.Background(), "m", "t", "")
	require.ErrorIs(t, err, ErrUnavailable)
}
