// Package schema defines the command envelope exchanged between the
// forwarder and the on-dog execution listener, plus the task status
// vocabulary used by the /result polling contract.
package schema

import (
	"fmt"
	"regexp"
)

// codePattern matches the fixed-format hexadecimal action identifiers
// understood by the motion host (e.g. "0x21010130").
var codePattern = regexp.MustCompile(`^0x[0-9a-fA-F]+$`)

// Action is one atomic actuator instruction. Param semantics depend on the
// code (distance in meters, angle in degrees, axis velocity); a nil Param
// means the action is parameterless. Semantic is purely descriptive and is
// never consumed by execution logic.
type Action struct {
	Code     string   `json:"code"`
	Param    *float64 `json:"param,omitempty"`
	Semantic string   `json:"semantic,omitempty"`
}

// Envelope is the unit of dispatch: an ordered, non-empty action sequence.
// Order is execution order.
type Envelope struct {
	Actions []Action `json:"actions"`
}

// Validate reports whether the envelope is dispatchable. An envelope that
// fails validation must never be submitted; callers surface the error as a
// schema failure rather than dropping the envelope silently.
func (e Envelope) Validate() error {
	if len(e.Actions) == 0 {
		return fmt.Errorf("envelope has no actions")
	}
	for i, a := range e.Actions {
		if a.Code == "" {
			return fmt.Errorf("action %d missing code", i)
		}
		if !codePattern.MatchString(a.Code) {
			return fmt.Errorf("action %d has malformed code %q", i, a.Code)
		}
	}
	return nil
}

// TaskStatus is the remote task lifecycle vocabulary.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
)

// Terminal reports whether no further status transition can occur.
func (s TaskStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// SubmitResponse is the acceptance body returned by POST /execute.
type SubmitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status,omitempty"`
}

// ActionResult is the per-action outcome reported once a task is terminal.
type ActionResult struct {
	Index      int      `json:"index"`
	Code       string   `json:"code"`
	Param      *float64 `json:"param,omitempty"`
	OK         bool     `json:"ok"`
	Message    string   `json:"message,omitempty"`
	StartedAt  float64  `json:"started_at"`
	FinishedAt float64  `json:"finished_at"`
}

// TaskResult is the body returned by GET /result?task_id=.
type TaskResult struct {
	TaskID  string         `json:"task_id"`
	Status  TaskStatus     `json:"status"`
	Results []ActionResult `json:"results,omitempty"`
	Error   string         `json:"error,omitempty"`
}
