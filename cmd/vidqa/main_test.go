package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer records requests and replies with canned JSON.
type fakeServer struct {
	*httptest.Server
	mu       sync.Mutex
	lastPath string
	lastBody map[string]any
}

func (f *fakeServer) last() (string, map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPath, f.lastBody
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastPath, f.lastBody = r.URL.Path, body
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/health":
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case "/api/v1/init":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"status":"ready","message":"Knowledge base cleared and updated with new video. Total chunks: 4","chunk_count":4}`))
		case "/api/v1/videos":
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"transcript unavailable: bbbbbbbbbbb","code":"TRANSCRIPT_UNAVAILABLE"}`))
		case "/api/v1/message":
			_, _ = w.Write([]byte(`{"thread_id":"work","answer":"About 16 hours."}`))
		case "/api/v1/threads/work/messages":
			_, _ = w.Write([]byte(`{"thread_id":"work","messages":[{"role":"user","content":"q"},{"role":"assistant","content":"a"}]}`))
		case "/api/v1/status":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded","services":{"store":"connection refused"},"knowledge_base":{"collection":"youtube_transcripts","initialized":false,"chunks":0}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitCommand(t *testing.T) {
	srv := newFakeServer(t)

	out, err := execute(t, "--server", srv.URL, "init", "https://youtu.be/aaaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, "Knowledge base cleared and updated with new video. Total chunks: 4\n", out)
	path, body := srv.last()
	assert.Equal(t, "/api/v1/init", path)
	assert.Equal(t, "https://youtu.be/aaaaaaaaaaa", body["url"])

	out, err = execute(t, "--server", srv.URL, "--json", "init", "https://youtu.be/aaaaaaaaaaa")
	require.NoError(t, err)
	assert.Contains(t, out, `"chunk_count":4`)

	_, err = execute(t, "--server", srv.URL, "init")
	assert.Error(t, err)
}

func TestAddCommand_APIError(t *testing.T) {
	srv := newFakeServer(t)

	_, err := execute(t, "--server", srv.URL, "add", "https://youtu.be/bbbbbbbbbbb")
	require.Error(t, err)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, "TRANSCRIPT_UNAVAILABLE", apiErr.Code)
	assert.Contains(t, err.Error(), "transcript unavailable")
}

func TestAskCommand(t *testing.T) {
	srv := newFakeServer(t)

	out, err := execute(t, "--server", srv.URL, "ask", "--thread", "work", "How", "long?")
	require.NoError(t, err)
	assert.Equal(t, "About 16 hours.\n", out)
	_, body := srv.last()
	assert.Equal(t, "How long?", body["message"])
	assert.Equal(t, "work", body["thread_id"])
}

func TestHistoryCommand(t *testing.T) {
	srv := newFakeServer(t)

	out, err := execute(t, "--server", srv.URL, "history", "--thread", "work")
	require.NoError(t, err)
	assert.Equal(t, "user: q\nassistant: a\n", out)
}

func TestHealthCommand(t *testing.T) {
	srv := newFakeServer(t)

	out, err := execute(t, "--server", srv.URL+"/", "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Server Status: ok")

	_, err = execute(t, "--server", "http://127.0.0.1:1", "--timeout", "1s", "health")
	assert.Error(t, err)
}

func TestStatusCommand_Degraded(t *testing.T) {
	srv := newFakeServer(t)

	out, err := execute(t, "--server", srv.URL, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "degraded")
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "not initialized")
}

func TestAPIError(t *testing.T) {
	err := &apiError{Status: 409, Code: "STORE_NOT_FOUND", Msg: "knowledge base not initialized"}
	assert.Equal(t, "server returned 409 STORE_NOT_FOUND: knowledge base not initialized", err.Error())
	assert.Equal(t, "server returned 500: boom", (&apiError{Status: 500, Msg: "boom"}).Error())

}
