// Package proxy is a transparent tee placed between a chat front-end and
// the local model runtime: requests pass through unmodified while the
// streamed response text is accumulated and handed to the forwarding
// pipeline. The front-end keeps working as if it talked to the runtime
// directly.
package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// hopHeaders are not copied through either direction.
var hopHeaders = map[string]bool{
	"content-encoding":  true,
	"transfer-encoding": true,
	"content-length":    true,
	"connection":        true,
}

// Tee proxies an Ollama-compatible API and mirrors completed response text
// into Sink.
type Tee struct {
	Upstream string // runtime base URL, e.g. http://localhost:11434
	Addr     string // listen address, e.g. :11435
	Sink     func(text string)
	Log      *zap.Logger

	client *http.Client
}

// NewTee builds a tee forwarding to upstream and emitting accumulated
// response text through sink.
func NewTee(upstream, addr string, sink func(string), log *zap.Logger) *Tee {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tee{
		Upstream: upstream,
		Addr:     addr,
		Sink:     sink,
		Log:      log,
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

// Serve runs the proxy until ctx is cancelled.
func (t *Tee) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", t.handle)

	srv := &http.Server{Addr: t.Addr, Handler: mux}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t.Log.Info("model API proxy listening",
			zap.String("addr", t.Addr),
			zap.String("upstream", t.Upstream))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (t *Tee) handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		t.handlePost(w, r)
	default:
		t.forwardPlain(w, r)
	}
}

// handlePost streams the upstream response through to the caller while
// accumulating its text fragments; the completed text goes to the sink
// exactly once per request.
func (t *Tee) handlePost(w http.ResponseWriter, r *http.Request) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, t.Upstream+r.URL.RequestURI(), r.Body)
	if err != nil {
		httpError(w, err)
		return
	}
	copyHeaders(req.Header, r.Header)

	resp, err := t.client.Do(req)
	if err != nil {
		httpError(w, err)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	var accumulated strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		// Pass-through first: the front-end sees every byte regardless
		// of whether we understood it.
		w.Write(line)
		w.Write([]byte("\n"))
		if flusher != nil {
			flusher.Flush()
		}
		accumulated.WriteString(extractFragment(string(line)))
	}
	if err := scanner.Err(); err != nil {
		t.Log.Warn("upstream stream ended early", zap.Error(err))
	}

	if text := accumulated.String(); text != "" && t.Sink != nil {
		t.Sink(text)
	}
}

// forwardPlain relays non-streaming requests (model lists, version checks)
// verbatim.
func (t *Tee) forwardPlain(w http.ResponseWriter, r *http.Request) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, t.Upstream+r.URL.RequestURI(), r.Body)
	if err != nil {
		httpError(w, err)
		return
	}
	copyHeaders(req.Header, r.Header)

	resp, err := t.client.Do(req)
	if err != nil {
		httpError(w, err)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// streamLine covers both the /api/generate shape (response) and the
// /api/chat shape (message.content).
type streamLine struct {
	Response string `json:"response"`
	Message  struct {
		Content string `json:"content"`
	} `json:"message"`
}

// extractFragment pulls the text fragment out of one stream line,
// tolerating an SSE data: prefix. Unparseable lines contribute nothing.
func extractFragment(line string) string {
	line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "data: "))
	if line == "" || line == "[DONE]" {
		return ""
	}
	var msg streamLine
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return ""
	}
	if msg.Response != "" {
		return msg.Response
	}
	return msg.Message.Content
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if hopHeaders[strings.ToLower(k)] {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func httpError(w http.ResponseWriter, err error) {
	code := http.StatusBadGateway
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		code = http.StatusGatewayTimeout
	}
	http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), code)
}
