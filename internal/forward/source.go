// Package forward owns the host-side orchestration: it reads model output
// chunk by chunk, extracts command envelopes, dispatches them to the
// remote execution service and tracks their completion.
package forward

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Source produces the text chunks fed through the extraction pipeline.
// Implementations close the returned channel when the input is exhausted
// or the context is cancelled.
type Source interface {
	Name() string
	Chunks(ctx context.Context) (<-chan string, error)
}

// Generator is the model runtime used by the interactive source. Satisfied
// by *ollama.Client.
type Generator interface {
	Generate(ctx context.Context, prompt string, onChunk func(string)) (string, error)
}

// LiteralSource feeds exactly one fixed chunk, bypassing any stream reader.
// This is the --text test mode.
type LiteralSource string

func (s LiteralSource) Name() string { return "literal" }

func (s LiteralSource) Chunks(ctx context.Context) (<-chan string, error) {
	out := make(chan string, 1)
	out <- string(s)
	close(out)
	return out, nil
}

// StdinSource reads operator input line by line. With a Generator
// configured, each line is a prompt: the model's full response is the
// chunk (fragments echoed live). Without one, the raw lines themselves are
// the chunks.
type StdinSource struct {
	In        io.Reader // defaults to os.Stdin
	Out       io.Writer // prompt/echo target, defaults to os.Stdout
	Generator Generator
	Log       *zap.Logger
}

func (s *StdinSource) Name() string { return "stdin" }

func (s *StdinSource) Chunks(ctx context.Context) (<-chan string, error) {
	in := s.In
	if in == nil {
		in = os.Stdin
	}
	out := s.Out
	if out == nil {
		out = os.Stdout
	}
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}

	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for {
			if s.Generator != nil {
				fmt.Fprint(out, "> ")
			}
			if !scanner.Scan() {
				return
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if s.Generator != nil && isExitCommand(line) {
				return
			}

			chunk := line
			if s.Generator != nil {
				response, err := s.Generator.Generate(ctx, line, func(fragment string) {
					fmt.Fprint(out, fragment)
				})
				fmt.Fprintln(out)
				if err != nil {
					log.Error("model generation failed", zap.Error(err))
					continue
				}
				if response == "" {
					log.Warn("model returned no output")
					continue
				}
				chunk = response
			}

			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func isExitCommand(line string) bool {
	switch strings.ToLower(line) {
	case "exit", "quit", "q":
		return true
	}
	return false
}
