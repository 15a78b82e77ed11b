// Package ollama is a minimal client for a local Ollama runtime's
// /api/generate endpoint, used by the forwarder's interactive mode. The
// model runtime itself is an external collaborator: the forwarding core
// only consumes the text this client returns.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client generates completions against a local Ollama server.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
	log     *zap.Logger
}

// NewClient builds a client for the runtime at baseURL. The request
// timeout bounds the whole streamed generation, so it is deliberately
// generous.
func NewClient(baseURL, model string, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		model:   model,
		http:    &http.Client{Timeout: 5 * time.Minute},
		log:     log,
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateLine is one NDJSON line of a streamed generation.
type generateLine struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Generate streams a completion for prompt and returns the concatenated
// response text. onChunk, when non-nil, receives each fragment as it
// arrives so callers can echo output live.
func (c *Client) Generate(ctx context.Context, prompt string, onChunk func(string)) (string, error) {
	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt, Stream: true})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, excerpt)
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// Some front-ends re-expose the stream as SSE; tolerate the
		// data: prefix either way.
		line = strings.TrimPrefix(line, "data: ")
		if line == "[DONE]" {
			break
		}

		var msg generateLine
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			c.log.Debug("skipping non-JSON stream line", zap.String("line", firstN(line, 80)))
			continue
		}
		if msg.Error != "" {
			return full.String(), fmt.Errorf("ollama error: %s", msg.Error)
		}
		if msg.Response != "" {
			full.WriteString(msg.Response)
			if onChunk != nil {
				onChunk(msg.Response)
			}
		}
		if msg.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("ollama stream read: %w", err)
	}
	return full.String(), nil
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
