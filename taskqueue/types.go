// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package taskqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a task
type Status string

const (
	StatusPending Status = "PENDING"
	StatusStarted Status = "STARTED"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusRevoked Status = "REVOKED"
)

// IsTerminal reports whether the task has finished one way or another
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusRevoked
}

var (
	// ErrAwaitTimeout is returned by Await when the task is still running
	// when the timeout elapses.
	ErrAwaitTimeout = errors.New("timed out waiting for task")

	// ErrTaskRevoked is wrapped by the TaskError of a revoked task
	ErrTaskRevoked = errors.New("task revoked")

	// ErrTaskFinished is returned when a state update targets a task that
	// already reached a terminal state.
	ErrTaskFinished = errors.New("task already finished")
)

// TaskState is the stored state of one task. Unknown ids report PENDING.
type TaskState struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	Queue     string          `json:"queue,omitempty"`
	Status    Status          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Meta      json.RawMessage `json:"meta,omitempty"`
	UpdatedAt time.Time       `json:"updated_at,omitempty"`
}

// Err returns a *TaskError for FAILURE and REVOKED tasks, nil otherwise
func (s TaskState) Err() error {
	switch s.Status {
	case StatusFailure:
		return &TaskError{TaskID: s.ID, TaskName: s.Name, Message: s.Error}
	case StatusRevoked:
		return &TaskError{TaskID: s.ID, TaskName: s.Name, Message: ErrTaskRevoked.Error(), cause: ErrTaskRevoked}
	}
	return nil
}

// DecodeResult unmarshals the task result into v
func (s TaskState) DecodeResult(v interface{}) error {
	if len(s.Result) == 0 {
		return fmt.Errorf("task %s has no result", s.ID)
	}
	return json.Unmarshal(s.Result, v)
}

// TaskError reports a task that did not succeed. Message is the error text
// recorded by the worker, unchanged.
type TaskError struct {
	TaskID   string
	TaskName string
	Message  string
	cause    error
}

func (e *TaskError) Error() string {
	if e.TaskName == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.TaskName, e.Message)
}

func (e *TaskError) Unwrap() error {
	return e.cause
}

// message is the payload pushed onto a queue list
type message struct {
	ID     string                 `json:"id"`
	Name   string                 `json:"name"`
	Queue  string                 `json:"queue"`
	Kwargs map[string]interface{} `json:"kwargs"`
	SentAt time.Time              `json:"sent_at"`
}
