package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mrag/internal/model"
	"github.com/xxxsen/mrag/internal/pkg/errcode"
)

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, contentType string) envelope {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+e.token)
	resp := httptest.NewRecorder()
	e.handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var out envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func (e *testEnv) upload(t *testing.T, filename, content string, wait bool) envelope {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	path := "/api/v1/documents"
	if wait {
		path += "?wait=true"
	}
	return e.do(t, http.MethodPost, path, buf.Bytes(), w.FormDataContentType())
}

func TestLogin(t *testing.T) {
	env := setupRouter(t)

	body, _ := json.Marshal(map[string]string{"username": testUser, "password": testPassword})
	out := env.do(t, http.MethodPost, "/api/v1/auth/login", body, "application/json")
	require.Equal(t, 0, out.Code)
	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &data))
	require.NotEmpty(t, data.Token)

	body, _ = json.Marshal(map[string]string{"username": testUser, "password": "nope"})
	out = env.do(t, http.MethodPost, "/api/v1/auth/login", body, "application/json")
	require.Equal(t, errcode.ErrUnauthorized, out.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := setupRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	resp := httptest.NewRecorder()
	env.handler.ServeHTTP(resp, req)
	var out envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	require.Equal(t, errcode.ErrUnauthorized, out.Code)
}

func TestDocumentLifecycle(t *testing.T) {
	env := setupRouter(t)
	content := strings.Repeat("The notes describe how the ingestion pipeline works. ", 60)

	out := env.upload(t, "notes.txt", content, true)
	require.Equal(t, 0, out.Code, out.Msg)
	var uploaded uploadResponse
	require.NoError(t, json.Unmarshal(out.Data, &uploaded))
	require.Equal(t, "notes.txt", uploaded.Document.Filename)
	require.NotNil(t, uploaded.Result)
	require.True(t, uploaded.Result.Success, uploaded.Result.Error)
	id := uploaded.Document.ID

	out = env.do(t, http.MethodGet, "/api/v1/documents/"+id, nil, "")
	var doc model.Document
	require.NoError(t, json.Unmarshal(out.Data, &doc))
	require.Equal(t, model.DocumentStatusProcessed, doc.Status)
	require.Equal(t, uploaded.Result.ChunkCount, doc.ChunkCount)

	out = env.do(t, http.MethodGet, "/api/v1/documents/"+id+"/chunks", nil, "")
	var chunks []model.Chunk
	require.NoError(t, json.Unmarshal(out.Data, &chunks))
	require.Len(t, chunks, doc.ChunkCount)

	out = env.do(t, http.MethodGet, "/api/v1/status/"+id, nil, "")
	var ev model.StatusEvent
	require.NoError(t, json.Unmarshal(out.Data, &ev))
	require.Equal(t, "processed", ev.Status)

	body, _ := json.Marshal(map[string]interface{}{"query_id": id, "question": "How does ingestion work?"})
	out = env.do(t, http.MethodPost, "/api/v1/query", body, "application/json")
	require.Equal(t, 0, out.Code, out.Msg)
	out = env.do(t, http.MethodGet, "/api/v1/status/"+id, nil, "")
	require.NoError(t, json.Unmarshal(out.Data, &ev))
	require.Equal(t, model.StatusTypeDocument, ev.Type)
	require.Equal(t, "processed", ev.Status)
	out = env.do(t, http.MethodGet, "/api/v1/status/"+id+"?type=query", nil, "")
	require.NoError(t, json.Unmarshal(out.Data, &ev))
	require.Equal(t, model.StatusTypeQuery, ev.Type)
	out = env.do(t, http.MethodGet, "/api/v1/status/"+id+"?type=bogus", nil, "")
	require.Equal(t, errcode.ErrInvalid, out.Code)

	out = env.do(t, http.MethodDelete, "/api/v1/documents/"+id, nil, "")
	require.Equal(t, 0, out.Code)
	require.Equal(t, 0, env.index.Len())

	out = env.do(t, http.MethodGet, "/api/v1/documents/"+id, nil, "")
	require.Equal(t, errcode.ErrNotFound, out.Code)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	env := setupRouter(t)
	out := env.upload(t, "photo.png", "not really a png", false)
	require.Equal(t, errcode.ErrUnsupportedFile, out.Code)

	out = env.do(t, http.MethodGet, "/api/v1/documents", nil, "")
	var docs []model.Document
	require.NoError(t, json.Unmarshal(out.Data, &docs))
	require.Empty(t, docs)
}

func TestQuery(t *testing.T) {
	env := setupRouter(t)

	body, _ := json.Marshal(map[string]interface{}{"question": "what do the notes say?", "query_id": "q-empty"})
	out := env.do(t, http.MethodPost, "/api/v1/query", body, "application/json")
	require.Equal(t, 0, out.Code)
	var res queryResponse
	require.NoError(t, json.Unmarshal(out.Data, &res))
	require.Equal(t, "q-empty", res.QueryID)
	require.Empty(t, res.Sources)

	env.upload(t, "notes.txt", "The notes say the pipeline splits text into chunks.", true)
	body, _ = json.Marshal(map[string]interface{}{"question": "what do the notes say?", "use_cache": false})
	out = env.do(t, http.MethodPost, "/api/v1/query", body, "application/json")
	require.Equal(t, 0, out.Code)
	res = queryResponse{}
	require.NoError(t, json.Unmarshal(out.Data, &res))
	require.Equal(t, []string{"notes.txt"}, res.Sources)
	require.Len(t, res.Citations, 1)
	require.Equal(t, "echo", res.Metadata.Model)
	require.NotEmpty(t, res.QueryID)

	body, _ = json.Marshal(map[string]interface{}{"question": "  "})
	out = env.do(t, http.MethodPost, "/api/v1/query", body, "application/json")
	require.Equal(t, errcode.ErrInvalid, out.Code)

	out = env.do(t, http.MethodGet, "/api/v1/query/logs", nil, "")
	var logs []model.QueryLog
	require.NoError(t, json.Unmarshal(out.Data, &logs))
	require.Len(t, logs, 1)
	require.Equal(t, res.QueryID, logs[0].QueryID)

	out = env.do(t, http.MethodDelete, "/api/v1/cache", nil, "")
	require.Equal(t, 0, out.Code)
}

func TestHealth(t *testing.T) {
	env := setupRouter(t)
	out := env.do(t, http.MethodGet, "/api/v1/health", nil, "")
	var res healthResponse
	require.NoError(t, json.Unmarshal(out.Data, &res))
	require.Equal(t, "ok", res.Status)
	require.Equal(t, "memory", res.VectorIndex)
	require.Equal(t, 10, res.QueryCache.MaxSize)
	require.NotNil(t, res.EmbeddingsKept)
	require.Equal(t, int64(7), *res.EmbeddingsKept)
}

func TestReindexEndpoint(t *testing.T) {
	env := setupRouter(t)
	out := env.do(t, http.MethodPost, "/api/v1/reindex", nil, "")
	require.Equal(t, 0, out.Code)
	require.Eventually(t, func() bool {
		ev, ok := env.tracker.Latest(model.StatusTypeSystem, "reindex")
		return ok && ev.Status == "completed"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStatusStream(t *testing.T) {
	env := setupRouter(t)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	env.tracker.Emit(model.StatusTypeQuery, "q-1", model.QueryStatusRetrieving, "searching", 20, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/status/stream?id=q-1&access_token="+env.token, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)
	readData := func() string {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "data:") {
				return line
			}
		}
	}
	require.Contains(t, readData(), `"status":"retrieving"`)

	require.Eventually(t, func() bool { return env.tracker.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	env.tracker.Emit(model.StatusTypeQuery, "q-2", model.QueryStatusCompleted, "other query", 100, nil)
	env.tracker.Emit(model.StatusTypeQuery, "q-1", model.QueryStatusCompleted, "done", 100, nil)
	line := readData()
	require.Contains(t, line, `"id":"q-1"`)
	require.Contains(t, line, `"status":"completed"`)

	cancel()
	require.Eventually(t, func() bool { return env.tracker.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
