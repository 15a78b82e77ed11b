package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dogbridge/internal/schema"
)

// StatusPoller is the slice of Client the tracker needs; tests substitute
// a scripted implementation.
type StatusPoller interface {
	Status(ctx context.Context, taskID string) (schema.TaskResult, error)
}

// Tracker polls the remote status endpoint until a task reaches a terminal
// state. A single transient poll failure never aborts tracking; only a
// bounded run of consecutive failures does.
type Tracker struct {
	poller       StatusPoller
	pollInterval time.Duration
	maxFailures  int
	log          *zap.Logger
}

// NewTracker builds a tracker polling at interval and escalating after
// maxConsecutiveFailures failed polls in a row.
func NewTracker(poller StatusPoller, interval time.Duration, maxConsecutiveFailures int, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if maxConsecutiveFailures <= 0 {
		maxConsecutiveFailures = 5
	}
	return &Tracker{
		poller:       poller,
		pollInterval: interval,
		maxFailures:  maxConsecutiveFailures,
		log:          log,
	}
}

// Await polls until the task is terminal or timeout elapses. On timeout it
// returns ErrTrackingTimeout with the last observed state; the task may
// still complete remotely.
func (t *Tracker) Await(ctx context.Context, taskID string, timeout time.Duration) (schema.TaskResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	var last schema.TaskResult
	failures := 0

	for {
		result, err := t.poller.Status(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return last, fmt.Errorf("%w: task %s last seen %q", ErrTrackingTimeout, taskID, last.Status)
			}
			failures++
			t.log.Warn("status poll failed",
				zap.String("task_id", taskID),
				zap.Int("consecutive_failures", failures),
				zap.Error(err))
			if failures >= t.maxFailures {
				return last, fmt.Errorf("%w: %d consecutive poll failures, last: %v", ErrTrackingFailed, failures, err)
			}
		} else {
			failures = 0
			last = result
			if result.Status.Terminal() {
				t.log.Debug("task terminal",
					zap.String("task_id", taskID),
					zap.String("status", string(result.Status)))
				return result, nil
			}
		}

		select {
		case <-ctx.Done():
			return last, fmt.Errorf("%w: task %s last seen %q", ErrTrackingTimeout, taskID, last.Status)
		case <-ticker.C:
		}
	}
}
