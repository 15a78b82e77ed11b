package listener

import (
	"sync"

	"github.com/google/uuid"

	"dogbridge/internal/schema"
)

// record pairs a task's public result with its pending payload.
type record struct {
	env    schema.Envelope
	result schema.TaskResult
}

// TaskStore holds task state in memory for the lifetime of the process.
// Nothing is persisted: a restarted listener forgets finished tasks, and
// the forwarder treats an unknown task id as an orphan.
type TaskStore struct {
	mu    sync.Mutex
	tasks map[string]*record
}

func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]*record)}
}

// Create registers a new pending task and returns its id.
func (s *TaskStore) Create(env schema.Envelope) string {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id] = &record{
		env:    env,
		result: schema.TaskResult{TaskID: id, Status: schema.StatusPending},
	}
	return id
}

// Get returns a copy of the task's current result.
func (s *TaskStore) Get(id string) (schema.TaskResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok {
		return schema.TaskResult{}, false
	}
	out := rec.result
	out.Results = append([]schema.ActionResult(nil), rec.result.Results...)
	return out, true
}

// Envelope returns the payload submitted for a task.
func (s *TaskStore) Envelope(id string) (schema.Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok {
		return schema.Envelope{}, false
	}
	return rec.env, true
}

// SetStatus moves a task to status; a terminal task is never modified
// again.
func (s *TaskStore) SetStatus(id string, status schema.TaskStatus, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok || rec.result.Status.Terminal() {
		return
	}
	rec.result.Status = status
	if errMsg != "" {
		rec.result.Error = errMsg
	}
}

// AppendResult attaches one per-action outcome.
func (s *TaskStore) AppendResult(id string, ar schema.ActionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.tasks[id]; ok {
		rec.result.Results = append(rec.result.Results, ar)
	}
}

// FailAllPending marks every non-started task failed with reason and
// returns how many were affected. Used by the emergency stop.
func (s *TaskStore) FailAllPending(reason string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.tasks {
		if rec.result.Status == schema.StatusPending {
			rec.result.Status = schema.StatusFailed
			rec.result.Error = reason
			n++
		}
	}
	return n
}
