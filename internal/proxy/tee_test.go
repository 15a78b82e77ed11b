package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTeeStreamsAndCapturesText(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "walk")

		w.Write([]byte(`{"response":"Okay, "}` + "\n"))
		w.Write([]byte(`{"response":"moving."}` + "\n"))
		w.Write([]byte(`{"done":true}` + "\n"))
	}))
	defer upstream.Close()

	var captured []string
	tee := NewTee(upstream.URL, "", func(text string) { captured = append(captured, text) }, zap.NewNop())

	front := httptest.NewServer(http.HandlerFunc(tee.handle))
	defer front.Close()

	resp, err := http.Post(front.URL+"/api/generate", "application/json", strings.NewReader(`{"prompt":"walk"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	// The front-end must see every stream line untouched.
	passthrough, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t,
		`{"response":"Okay, "}`+"\n"+`{"response":"moving."}`+"\n"+`{"done":true}`+"\n",
		string(passthrough))

	// And the sink gets the accumulated text exactly once.
	assert.Equal(t, []string{"Okay, moving."}, captured)
}

func TestTeeChatShapeAndSSEPrefix(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data: {\"message\":{\"content\":\"hi\"}}\n"))
		w.Write([]byte("data: [DONE]\n"))
	}))
	defer upstream.Close()

	var captured []string
	tee := NewTee(upstream.URL, "", func(text string) { captured = append(captured, text) }, zap.NewNop())
	front := httptest.NewServer(http.HandlerFunc(tee.handle))
	defer front.Close()

	resp, err := http.Post(front.URL+"/api/chat", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	assert.Equal(t, []string{"hi"}, captured)
}

func TestTeeForwardsGETVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[]}`))
	}))
	defer upstream.Close()

	tee := NewTee(upstream.URL, "", nil, zap.NewNop())
	front := httptest.NewServer(http.HandlerFunc(tee.handle))
	defer front.Close()

	resp, err := http.Get(front.URL + "/api/tags")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, `{"models":[]}`, string(body))
}

func TestTeeUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close()

	var captured []string
	tee := NewTee(upstream.URL, "", func(text string) { captured = append(captured, text) }, zap.NewNop())
	front := httptest.NewServer(http.HandlerFunc(tee.handle))
	defer front.Close()

	resp, err := http.Post(front.URL+"/api/generate", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Empty(t, captured)
}
