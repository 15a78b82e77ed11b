package listener

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dogbridge/internal/schema"
)

type frame struct {
	code  uint32
	param int32
}

// fakeLink records every frame instead of touching the network.
type fakeLink struct {
	mu     sync.Mutex
	frames []frame
}

func (l *fakeLink) Perform(code uint32, param int32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, frame{code, param})
	return nil
}

func (l *fakeLink) Close() error { return nil }

func (l *fakeLink) snapshot() []frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]frame(nil), l.frames...)
}

func (l *fakeLink) sent(code uint32) bool {
	for _, f := range l.snapshot() {
		if f.code == code {
			return true
		}
	}
	return false
}

// startService runs the worker loop and tears it down with the test.
func startService(t *testing.T, link ActuatorLink) *Service {
	t.Helper()
	svc := NewService(NewTaskStore(), link, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return svc
}

func waitStatus(t *testing.T, svc *Service, id string, want schema.TaskStatus) schema.TaskResult {
	t.Helper()
	var task schema.TaskResult
	require.Eventually(t, func() bool {
		got, ok := svc.Task(id)
		if !ok {
			return false
		}
		task = got
		return got.Status == want
	}, 5*time.Second, 20*time.Millisecond)
	return task
}

func TestServiceSubmitRejectsInvalidEnvelope(t *testing.T) {
	svc := NewService(NewTaskStore(), &fakeLink{}, zap.NewNop())

	id, err := svc.Submit(schema.Envelope{})
	assert.Error(t, err)
	assert.Empty(t, id)
}

func TestServiceExecutesOneShotCommand(t *testing.T) {
	link := &fakeLink{}
	svc := startService(t, link)

	id, err := svc.Submit(standEnvelope())
	require.NoError(t, err)

	task := waitStatus(t, svc, id, schema.StatusSucceeded)
	require.Len(t, task.Results, 1)
	assert.True(t, task.Results[0].OK)
	assert.Equal(t, "0x21010202", task.Results[0].Code)
	assert.GreaterOrEqual(t, task.Results[0].FinishedAt, task.Results[0].StartedAt)

	frames := link.snapshot()
	require.Len(t, frames, 1)
	assert.Equal(t, frame{schema.CodeStandDown, 0}, frames[0])
}

func TestServiceHoldsAndZeroesAxisCommand(t *testing.T) {
	link := &fakeLink{}
	svc := startService(t, link)

	param := 100.0
	id, err := svc.Submit(schema.Envelope{Actions: []schema.Action{
		{Code: "0x21010130", Param: &param},
	}})
	require.NoError(t, err)

	waitStatus(t, svc, id, schema.StatusSucceeded)

	frames := link.snapshot()
	require.GreaterOrEqual(t, len(frames), 2)
	assert.Equal(t, frame{schema.CodeAxisX, 100}, frames[0])
	assert.Equal(t, frame{schema.CodeAxisX, 0}, frames[len(frames)-1])
}

func TestFrameParam(t *testing.T) {
	tests := []struct {
		in   float64
		want int32
	}{
		{0, 0},
		{0.5, 3276},   // normalized fraction scales to range
		{-0.5, -3276},
		{1, 6553},
		{-1, -6553},
		{100, 100},    // raw frame units pass through
		{-3000, -3000},
		{100000, 6553}, // out of range clamps
		{-100000, -6553},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, frameParam(tt.in), "frameParam(%v)", tt.in)
	}
}

func TestServiceScalesNormalizedAxisParam(t *testing.T) {
	link := &fakeLink{}
	svc := startService(t, link)

	param := 0.5
	id, err := svc.Submit(schema.Envelope{Actions: []schema.Action{
		{Code: "0x21010130", Param: &param},
	}})
	require.NoError(t, err)

	waitStatus(t, svc, id, schema.StatusSucceeded)

	frames := link.snapshot()
	require.NotEmpty(t, frames)
	assert.Equal(t, frame{schema.CodeAxisX, 3276}, frames[0],
		"a normalized param must reach the motion host at scale, not truncated to zero")
}

func TestServiceFailsOnUnparseableCode(t *testing.T) {
	link := &fakeLink{}
	svc := startService(t, link)

	// Passes envelope validation but overflows a 32-bit code.
	id, err := svc.Submit(schema.Envelope{Actions: []schema.Action{
		{Code: "0x1ffffffff"},
	}})
	require.NoError(t, err)

	task := waitStatus(t, svc, id, schema.StatusFailed)
	require.Len(t, task.Results, 1)
	assert.False(t, task.Results[0].OK)
	assert.Contains(t, task.Error, "unparseable action code")
	assert.Empty(t, link.snapshot())
}

func TestServiceEmergencyStopInterruptsRunningTask(t *testing.T) {
	link := &fakeLink{}
	svc := startService(t, link)

	param := 50.0
	id, err := svc.Submit(schema.Envelope{Actions: []schema.Action{
		{Code: "0x21010131", Param: &param},
	}})
	require.NoError(t, err)
	waitStatus(t, svc, id, schema.StatusRunning)

	queued, err := svc.Submit(standEnvelope())
	require.NoError(t, err)

	svc.EmergencyStop()

	task := waitStatus(t, svc, id, schema.StatusFailed)
	assert.Equal(t, "interrupted by emergency stop", task.Error)

	pending, _ := svc.Task(queued)
	assert.Equal(t, schema.StatusFailed, pending.Status)

	assert.True(t, link.sent(schema.CodeEmergencyStop))
	// Interrupted axis holds are zeroed before the task reports failure.
	require.Eventually(t, func() bool {
		for _, f := range link.snapshot() {
			if f.code == schema.CodeAxisY && f.param == 0 {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestServiceRejectsWhenQueueFull(t *testing.T) {
	// No worker draining the queue.
	svc := NewService(NewTaskStore(), &fakeLink{}, zap.NewNop())

	var lastID string
	var lastErr error
	for i := 0; i < 65; i++ {
		lastID, lastErr = svc.Submit(standEnvelope())
	}
	require.Error(t, lastErr)
	require.NotEmpty(t, lastID)

	task, ok := svc.Task(lastID)
	require.True(t, ok)
	assert.Equal(t, schema.StatusFailed, task.Status)
	assert.Equal(t, "queue full", task.Error)
}
