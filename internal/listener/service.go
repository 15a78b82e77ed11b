package listener

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"dogbridge/internal/schema"
)

// axisHold is how long a parameterized axis command is held active: the
// motion host treats axis values as momentary inputs, so the frame is
// re-sent every axisResend until the hold window closes, then the axis is
// zeroed.
const (
	axisHold   = 1 * time.Second
	axisResend = 100 * time.Millisecond
	// actionSettle separates consecutive one-shot commands so the motion
	// host finishes one gesture before the next frame arrives.
	actionSettle = 500 * time.Millisecond
)

// Service executes submitted envelopes strictly sequentially. Only one
// task runs at a time; the motion host has a single command channel and
// interleaved gestures are unsafe.
type Service struct {
	store *TaskStore
	link  ActuatorLink
	queue chan string
	log   *zap.Logger

	mu            sync.Mutex
	cancelCurrent context.CancelFunc
}

// NewService builds a service over the given actuator link.
func NewService(store *TaskStore, link ActuatorLink, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store: store,
		link:  link,
		queue: make(chan string, 64),
		log:   log,
	}
}

// Submit validates and enqueues an envelope, returning the assigned task
// id. A full queue is rejected rather than blocking the HTTP handler.
func (s *Service) Submit(env schema.Envelope) (string, error) {
	if err := env.Validate(); err != nil {
		return "", err
	}
	id := s.store.Create(env)
	select {
	case s.queue <- id:
		return id, nil
	default:
		s.store.SetStatus(id, schema.StatusFailed, "queue full")
		return id, errors.New("task queue full")
	}
}

// Task returns the current state of a task.
func (s *Service) Task(id string) (schema.TaskResult, bool) {
	return s.store.Get(id)
}

// EmergencyStop preempts everything: queued tasks fail, the running task
// is interrupted, and the stop code goes straight down the actuator link.
func (s *Service) EmergencyStop() int {
	cancelled := s.store.FailAllPending("cancelled by emergency stop")

	// Drain anything still queued; their records are already failed.
drain:
	for {
		select {
		case <-s.queue:
		default:
			break drain
		}
	}

	s.mu.Lock()
	if s.cancelCurrent != nil {
		s.cancelCurrent()
	}
	s.mu.Unlock()

	if err := s.link.Perform(schema.CodeEmergencyStop, 0); err != nil {
		s.log.Error("emergency stop frame failed", zap.Error(err))
	}
	s.log.Warn("emergency stop", zap.Int("cancelled", cancelled))
	return cancelled
}

// Run is the worker loop; it returns when ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-s.queue:
			s.execute(ctx, id)
		}
	}
}

func (s *Service) execute(ctx context.Context, id string) {
	env, ok := s.store.Envelope(id)
	if !ok {
		return
	}
	if current, _ := s.store.Get(id); current.Status != schema.StatusPending {
		// Emergency-stopped while queued.
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelCurrent = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		s.cancelCurrent = nil
		s.mu.Unlock()
	}()

	s.store.SetStatus(id, schema.StatusRunning, "")
	s.log.Info("task running", zap.String("task_id", id), zap.Int("actions", len(env.Actions)))

	for i, action := range env.Actions {
		started := now()
		err := s.performAction(taskCtx, action)
		ar := schema.ActionResult{
			Index:      i,
			Code:       action.Code,
			Param:      action.Param,
			OK:         err == nil,
			StartedAt:  started,
			FinishedAt: now(),
		}
		if err != nil {
			ar.Message = err.Error()
		}
		s.store.AppendResult(id, ar)

		if err != nil {
			reason := fmt.Sprintf("action %d (%s): %v", i, action.Code, err)
			if taskCtx.Err() != nil {
				reason = "interrupted by emergency stop"
			}
			s.store.SetStatus(id, schema.StatusFailed, reason)
			s.log.Warn("task failed", zap.String("task_id", id), zap.String("reason", reason))
			return
		}
	}

	s.store.SetStatus(id, schema.StatusSucceeded, "")
	s.log.Info("task succeeded", zap.String("task_id", id))
}

// performAction sends one action's frames. Parameterless commands are a
// single frame followed by a settle pause; parameterized axis commands are
// held for the axis window and then zeroed.
func (s *Service) performAction(ctx context.Context, action schema.Action) error {
	code, err := parseCode(action.Code)
	if err != nil {
		return err
	}

	if action.Param == nil {
		if err := s.link.Perform(code, 0); err != nil {
			return err
		}
		return sleepCtx(ctx, actionSettle)
	}

	param := frameParam(*action.Param)
	deadline := time.Now().Add(axisHold)
	for time.Now().Before(deadline) {
		if err := s.link.Perform(code, param); err != nil {
			return err
		}
		if err := sleepCtx(ctx, axisResend); err != nil {
			// Interrupted mid-hold: zero the axis before reporting.
			s.link.Perform(code, 0)
			return err
		}
	}
	return s.link.Perform(code, 0)
}

// axisRange is the motion host's full-scale axis frame value.
const axisRange = 6553

// frameParam converts an action param to frame units. Values in [-1, 1]
// are normalized axis fractions and scale to full range; anything larger
// is taken as raw frame units. Either way the result is clamped so an
// out-of-range value can never be sent.
func frameParam(p float64) int32 {
	if p >= -1 && p <= 1 {
		p *= axisRange
	}
	switch {
	case p > axisRange:
		p = axisRange
	case p < -axisRange:
		p = -axisRange
	}
	return int32(p)
}

func parseCode(code string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(code, "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("unparseable action code %q", code)
	}
	return uint32(v), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// now returns wall time as unix seconds with sub-second precision, the
// timestamp form used in task results.
func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
