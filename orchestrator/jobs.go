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

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"nlpflow/platform/progression"
	"nlpflow/platform/results"
	"nlpflow/platform/taskqueue"
)

// JobTaskName is the task the orchestrator worker consumes
const JobTaskName = "orchestrator.run"

// Job states reported to status-polling clients
const (
	JobPending = "pending"
	JobStarted = "started"
	JobDone    = "done"
	JobFailed  = "failed"
)

// JobStatus is the externally visible state of a job
type JobStatus struct {
	JobID       string               `json:"job_id"`
	State       string               `json:"state"`
	Progression progression.Snapshot `json:"progression,omitempty"`
	ResourceID  string               `json:"resource_id,omitempty"`
	Reason      string               `json:"reason,omitempty"`
}

// JobResult is the value a successful job stores in the task queue
type JobResult struct {
	ResourceID string `json:"resource_id"`
}

type jobMeta struct {
	Progression progression.Snapshot `json:"progression"`
}

// JobQueue is the part of the task queue the job service needs
type JobQueue interface {
	Submit(ctx context.Context, queue, taskName string, kwargs map[string]interface{}) (string, error)
	State(ctx context.Context, taskID string) (taskqueue.TaskState, error)
	Revoke(ctx context.Context, taskID string) error
}

// JobService is the entry point used by request ingress: it submits jobs,
// reports their status, revokes them and serves stored results.
type JobService struct {
	queue     JobQueue
	results   results.Store
	queueName string
}

// NewJobService creates a JobService submitting to queueName
func NewJobService(queue JobQueue, store results.Store, queueName string) *JobService {
	return &JobService{queue: queue, results: store, queueName: queueName}
}

// Submit enqueues a job and returns its id
func (s *JobService) Submit(ctx context.Context, req Request) (string, error) {
	return s.queue.Submit(ctx, s.queueName, JobTaskName, map[string]interface{}{"request": req})
}

// JobStatus maps the job's task state to pending, started, done or failed
func (s *JobService) JobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	state, err := s.queue.State(ctx, jobID)
	if err != nil {
		return JobStatus{}, err
	}

	status := JobStatus{JobID: jobID}
	switch state.Status {
	case taskqueue.StatusPending:
		status.State = JobPending

	case taskqueue.StatusStarted:
		status.State = JobStarted
		status.Progression = decodeProgression(state.Meta)

	case taskqueue.StatusSuccess:
		var res JobResult
		if err := state.DecodeResult(&res); err != nil {
			return JobStatus{}, fmt.Errorf("job %s: malformed result: %w", jobID, err)
		}
		status.State = JobDone
		status.ResourceID = res.ResourceID

	case taskqueue.StatusFailure:
		status.State = JobFailed
		status.Reason = state.Error
		status.Progression = decodeProgression(state.Meta)

	case taskqueue.StatusRevoked:
		status.State = JobFailed
		status.Reason = "job revoked"
		status.Progression = decodeProgression(state.Meta)

	default:
		return JobStatus{}, fmt.Errorf("job %s: unexpected task status %q", jobID, state.Status)
	}
	return status, nil
}

// Revoke cancels a job. Subtasks already handed to subservices may still
// complete; their output is discarded.
func (s *JobService) Revoke(ctx context.Context, jobID string) error {
	return s.queue.Revoke(ctx, jobID)
}

// FetchResult returns a stored result. A missing id is not an error.
func (s *JobService) FetchResult(ctx context.Context, resourceID string) (json.RawMessage, bool, error) {
	return s.results.Fetch(ctx, resourceID)
}

func decodeProgression(meta json.RawMessage) progression.Snapshot {
	if len(meta) == 0 {
		return nil
	}
	var m jobMeta
	if err := json.Unmarshal(meta, &m); err != nil {
		return nil
	}
	return m.Progression
}

// HandleJob is the task handler for JobTaskName. It publishes every
// progression change as task meta so JobStatus can report it.
func (o *Orchestrator) HandleJob(tc *taskqueue.TaskContext, kwargs map[string]interface{}) (interface{}, error) {
	req, err := decodeRequest(kwargs)
	if err != nil {
		return nil, err
	}

	resourceID, err := o.Execute(tc, tc.TaskID, req, func(snap progression.Snapshot) {
		if err := tc.UpdateState(jobMeta{Progression: snap}); err != nil && !errors.Is(err, taskqueue.ErrTaskFinished) {
			o.log.Warn(tc.TaskID, req.Origin, "Failed to publish progression", map[string]interface{}{"error": err.Error()})
		}
	})
	if err != nil {
		return nil, err
	}
	return JobResult{ResourceID: resourceID}, nil
}

func decodeRequest(kwargs map[string]interface{}) (Request, error) {
	raw, ok := kwargs["request"]
	if !ok {
		return Request{}, fmt.Errorf("%w: missing request", ErrMalformedConfig)
	}
	body, err := json.Marshal(raw)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrMalformedConfig, err)
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrMalformedConfig, err)
	}
	return req, nil
}
