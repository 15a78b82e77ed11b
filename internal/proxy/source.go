package proxy

import (
	"context"

	"go.uber.org/zap"
)

// Source adapts the tee into a forwarding-loop chunk source: every
// completed model response observed by the proxy becomes one chunk.
type Source struct {
	tee *Tee
	ch  chan string
	log *zap.Logger
}

// NewSource builds a proxy listening on addr, forwarding to upstream, and
// emitting accumulated responses as chunks.
func NewSource(upstream, addr string, log *zap.Logger) *Source {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Source{
		ch:  make(chan string, 4),
		log: log,
	}
	s.tee = NewTee(upstream, addr, func(text string) {
		select {
		case s.ch <- text:
		default:
			// The loop processes chunks one at a time; under a burst
			// of responses it is better to drop than to stall the
			// front-end's stream.
			log.Warn("dropping response text, pipeline busy", zap.Int("len", len(text)))
		}
	}, log)
	return s
}

func (s *Source) Name() string { return "proxy:" + s.tee.Addr }

// Chunks starts the proxy server and returns the chunk channel. The
// channel closes when the server stops (ctx cancellation).
func (s *Source) Chunks(ctx context.Context) (<-chan string, error) {
	go func() {
		defer close(s.ch)
		if err := s.tee.Serve(ctx); err != nil {
			s.log.Error("proxy server failed", zap.Error(err))
		}
	}()
	return s.ch, nil
}
