package listener

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dogbridge/internal/schema"
)

func newTestServer(t *testing.T) (*httptest.Server, *Service, *LogBuffer) {
	t.Helper()
	logs := NewLogBuffer(16)
	svc := NewService(NewTaskStore(), &fakeLink{}, zap.NewNop())
	ts := httptest.NewServer(NewServer(svc, logs, zap.NewNop()).Handler())
	t.Cleanup(func() {
		http.DefaultClient.CloseIdleConnections()
		ts.Close()
	})
	return ts, svc, logs
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestHandleExecuteAcceptsEnvelope(t *testing.T) {
	ts, svc, _ := newTestServer(t)

	resp, body := postJSON(t, ts.URL+"/execute", `{"actions":[{"code":"0x21010202"}]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "accepted", body["status"])

	id, _ := body["task_id"].(string)
	require.NotEmpty(t, id)

	task, ok := svc.Task(id)
	require.True(t, ok)
	assert.Equal(t, schema.StatusPending, task.Status)
}

func TestHandleExecuteRejections(t *testing.T) {
	ts, _, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"actions": [`},
		{"no actions", `{"actions": []}`},
		{"bad code", `{"actions":[{"code":"stand"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postJSON(t, ts.URL+"/execute", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHandleExecuteRequiresPost(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, _ := getJSON(t, ts.URL+"/execute")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandleResult(t *testing.T) {
	ts, svc, _ := newTestServer(t)

	id, err := svc.Submit(standEnvelope())
	require.NoError(t, err)

	resp, body := getJSON(t, ts.URL+"/result?task_id="+id)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["task_id"])
	assert.Equal(t, string(schema.StatusPending), body["status"])

	resp, _ = getJSON(t, ts.URL+"/result")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = getJSON(t, ts.URL+"/result?task_id=nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleHealth(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, body := getJSON(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestHandleEmergencyStop(t *testing.T) {
	ts, svc, _ := newTestServer(t)

	// Two queued tasks with no worker running.
	_, err := svc.Submit(standEnvelope())
	require.NoError(t, err)
	_, err = svc.Submit(standEnvelope())
	require.NoError(t, err)

	resp, body := postJSON(t, ts.URL+"/emergency_stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stopped", body["status"])
	assert.Equal(t, float64(2), body["cancelled"])

	resp, _ = getJSON(t, ts.URL+"/emergency_stop")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandleLogs(t *testing.T) {
	ts, _, logs := newTestServer(t)

	log := zap.New(logs)
	log.Info("first")
	log.Info("second", zap.String("task_id", "abc"))

	resp, body := getJSON(t, ts.URL+"/logs")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	entries, _ := body["entries"].([]any)
	require.Len(t, entries, 2)

	resp, body = getJSON(t, ts.URL+"/logs?since=1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	entries, _ = body["entries"].([]any)
	require.Len(t, entries, 1)
	entry, _ := entries[0].(map[string]any)
	assert.Equal(t, zapcore.InfoLevel.String(), entry["level"])
	assert.Contains(t, entry["message"], "second")
	assert.Contains(t, entry["message"], "task_id=abc")

	resp, _ = getJSON(t, ts.URL+"/logs?since=abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
