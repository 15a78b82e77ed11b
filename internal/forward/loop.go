package forward

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"dogbridge/internal/dispatch"
	"dogbridge/internal/extract"
	"dogbridge/internal/schema"
)

// State names the forwarding loop's position in its lifecycle. Transitions:
// Starting → EnsuringRemote → Listening → (per chunk: Extracting →
// Dispatching → Tracking → Listening) → Stopping → Stopped.
type State string

const (
	StateStarting       State = "starting"
	StateEnsuringRemote State = "ensuring_remote"
	StateListening      State = "listening"
	StateExtracting     State = "extracting"
	StateDispatching    State = "dispatching"
	StateTracking       State = "tracking"
	StateStopping       State = "stopping"
	StateStopped        State = "stopped"
)

// Lifecycle is the remote service controller surface the loop drives.
type Lifecycle interface {
	EnsureStarted(ctx context.Context) error
	EnsureStopped(ctx context.Context)
}

// Submitter dispatches one envelope and returns the assigned task id.
type Submitter interface {
	Submit(ctx context.Context, env schema.Envelope) (string, error)
}

// Awaiter polls a task until terminal or timeout.
type Awaiter interface {
	Await(ctx context.Context, taskID string, timeout time.Duration) (schema.TaskResult, error)
}

// Options bound the loop's per-chunk and shutdown behavior.
type Options struct {
	// TrackTimeout bounds how long one dispatched task is polled.
	TrackTimeout time.Duration
	// StopTimeout bounds the best-effort remote stop at shutdown.
	StopTimeout time.Duration
	// DispatchTimeout bounds one submit call.
	DispatchTimeout time.Duration
}

// DefaultOptions mirrors the CLI defaults.
func DefaultOptions() Options {
	return Options{
		TrackTimeout:    2 * time.Minute,
		StopTimeout:     10 * time.Second,
		DispatchTimeout: 30 * time.Second,
	}
}

// Loop is the orchestrating process: it owns startup of the remote
// controller, the chunk pipeline, and the exactly-once shutdown
// transition. Chunks are processed strictly one at a time.
type Loop struct {
	controller Lifecycle
	submitter  Submitter
	awaiter    Awaiter
	source     Source
	opts       Options
	log        *zap.Logger

	// stateMu guards state: an abandoned chunk keeps transitioning
	// after shutdown has already moved the loop to Stopped.
	stateMu  sync.Mutex
	state    State
	stopOnce sync.Once
}

// NewLoop wires the pipeline. A nil logger is replaced with a no-op one.
func NewLoop(controller Lifecycle, submitter Submitter, awaiter Awaiter, source Source, opts Options, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.TrackTimeout <= 0 {
		opts.TrackTimeout = DefaultOptions().TrackTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultOptions().StopTimeout
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = DefaultOptions().DispatchTimeout
	}
	return &Loop{
		controller: controller,
		submitter:  submitter,
		awaiter:    awaiter,
		source:     source,
		opts:       opts,
		log:        log,
		state:      StateStarting,
	}
}

func (l *Loop) transition(s State) {
	l.stateMu.Lock()
	from := l.state
	l.state = s
	l.stateMu.Unlock()
	l.log.Debug("state transition", zap.String("from", string(from)), zap.String("to", string(s)))
}

// Run drives the loop until the input is exhausted or ctx is cancelled
// (the termination signal). A remote startup failure is fatal and returned
// before any chunk is read; every later failure is local to its chunk.
// The Stopping transition runs exactly once, even when the signal arrives
// mid-dispatch: the in-flight operation is neither cancelled nor waited on.
func (l *Loop) Run(ctx context.Context) error {
	l.transition(StateEnsuringRemote)
	if err := l.controller.EnsureStarted(ctx); err != nil {
		l.log.Error("remote listener could not be started", zap.Error(err))
		return err
	}
	defer l.shutdown()

	chunks, err := l.source.Chunks(ctx)
	if err != nil {
		l.log.Error("input source failed", zap.String("source", l.source.Name()), zap.Error(err))
		return err
	}
	l.log.Info("forwarding loop listening", zap.String("source", l.source.Name()))

	for {
		l.transition(StateListening)
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-chunks:
			if !ok {
				l.log.Info("input exhausted")
				return nil
			}
			// The chunk runs in its own goroutine only so that a
			// termination signal can abandon it without cancelling
			// it; the loop still waits for completion before the
			// next chunk, so processing stays strictly sequential.
			done := make(chan struct{})
			go func() {
				defer close(done)
				l.process(chunk)
			}()
			select {
			case <-done:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// process runs one chunk through Extract → Submit → Await. Contexts are
// detached from the signal context on purpose: per-chunk operations carry
// their own bounded timeouts and are never cancelled mid-flight.
func (l *Loop) process(chunk string) {
	l.transition(StateExtracting)
	env, err := extract.Extract(chunk)
	switch {
	case errors.Is(err, extract.ErrNotFound):
		// Not every chunk carries a command.
		l.log.Debug("no envelope in chunk", zap.Int("chunk_len", len(chunk)))
		return
	case errors.Is(err, extract.ErrSchemaInvalid):
		l.log.Warn("envelope failed validation",
			zap.Error(err),
			zap.String("chunk_excerpt", excerpt(chunk, 200)))
		return
	case err != nil:
		l.log.Warn("extraction failed", zap.Error(err))
		return
	}

	l.transition(StateDispatching)
	dispatchCtx, cancel := context.WithTimeout(context.Background(), l.opts.DispatchTimeout)
	taskID, err := l.submitter.Submit(dispatchCtx, env)
	cancel()
	if err != nil {
		l.log.Warn("dispatch failed", zap.Int("actions", len(env.Actions)), zap.Error(err))
		return
	}
	l.log.Info("envelope dispatched",
		zap.String("task_id", taskID),
		zap.Int("actions", len(env.Actions)))

	l.transition(StateTracking)
	result, err := l.awaiter.Await(context.Background(), taskID, l.opts.TrackTimeout)
	switch {
	case errors.Is(err, dispatch.ErrTrackingTimeout):
		l.log.Warn("task did not finish in time; it may still be running remotely",
			zap.String("task_id", taskID),
			zap.String("last_status", string(result.Status)))
	case errors.Is(err, dispatch.ErrTrackingFailed):
		l.log.Warn("lost track of task", zap.String("task_id", taskID), zap.Error(err))
	case err != nil:
		l.log.Warn("tracking failed", zap.String("task_id", taskID), zap.Error(err))
	case result.Status == schema.StatusFailed:
		l.log.Warn("task failed remotely",
			zap.String("task_id", taskID),
			zap.String("error", result.Error))
	default:
		l.log.Info("task completed",
			zap.String("task_id", taskID),
			zap.String("status", string(result.Status)))
	}
}

// shutdown performs the Stopping → Stopped transition exactly once, with a
// fresh bounded context detached from the (already cancelled) run context.
func (l *Loop) shutdown() {
	l.stopOnce.Do(func() {
		l.transition(StateStopping)
		ctx, cancel := context.WithTimeout(context.Background(), l.opts.StopTimeout)
		defer cancel()
		l.controller.EnsureStopped(ctx)
		l.transition(StateStopped)
	})
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
