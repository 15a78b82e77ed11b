package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen3:4b", req.Model)
		assert.True(t, req.Stream)

		w.Write([]byte(`{"response":"Moving "}` + "\n"))
		w.Write([]byte(`{"response":"forward."}` + "\n"))
		w.Write([]byte(`{"response":"","done":true}` + "\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "qwen3:4b", zap.NewNop())

	var chunks []string
	got, err := c.Generate(context.Background(), "walk ahead", func(s string) { chunks = append(chunks, s) })
	require.NoError(t, err)
	assert.Equal(t, "Moving forward.", got)
	assert.Equal(t, []string{"Moving ", "forward."}, chunks)
}

func TestGenerateSSEPrefixAndGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data: {\"response\":\"ok\"}\n"))
		w.Write([]byte("not json at all\n"))
		w.Write([]byte("data: [DONE]\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m", zap.NewNop())
	got, err := c.Generate(context.Background(), "p", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestGenerateModelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"model not found"}` + "\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m", zap.NewNop())
	_, err := c.Generate(context.Background(), "p", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m", zap.NewNop())
	_, err := c.Generate(context.Background(), "p", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
