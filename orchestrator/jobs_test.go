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
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlpflow/platform/progression"
	"nlpflow/platform/registry"
	"nlpflow/platform/results"
	"nlpflow/platform/shared/types"
	"nlpflow/platform/taskqueue"
)

type fakeJobQueue struct {
	states    map[string]taskqueue.TaskState
	stateErr  error
	submitted []submission
	revoked   []string
}

func (f *fakeJobQueue) Submit(ctx context.Context, queue, taskName string, kwargs map[string]interface{}) (string, error) {
	f.submitted = append(f.submitted, submission{Queue: queue, Task: taskName, Kwargs: kwargs})
	return "job-1", nil
}

func (f *fakeJobQueue) State(ctx context.Context, taskID string) (taskqueue.TaskState, error) {
	if f.stateErr != nil {
		return taskqueue.TaskState{}, f.stateErr
	}
	if s, ok := f.states[taskID]; ok {
		return s, nil
	}
	return taskqueue.TaskState{ID: taskID, Status: taskqueue.StatusPending}, nil
}

func (f *fakeJobQueue) Revoke(ctx context.Context, taskID string) error {
	f.revoked = append(f.revoked, taskID)
	return nil
}

const startedMeta = `{"progression":{"keyword_extraction":{"name":"keyword_extraction","required":true,"status":"STARTED","progress":0},"postprocessing":{"name":"postprocessing","required":true,"status":"PENDING","progress":0}}}`

func TestJobService_Submit(t *testing.T) {
	q := &fakeJobQueue{}
	svc := NewJobService(q, results.NewMemoryStore(), "orchestrator")

	req := Request{Origin: "api", Config: map[string]json.RawMessage{KindKeywordExtraction: json.RawMessage(`{"enabled":true}`)}}
	id, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	require.Len(t, q.submitted, 1)
	assert.Equal(t, "orchestrator", q.submitted[0].Queue)
	assert.Equal(t, JobTaskName, q.submitted[0].Task)
	assert.Equal(t, req, q.submitted[0].Kwargs["request"])
}

func TestJobService_JobStatus(t *testing.T) {
	tests := []struct {
		name  string
		state taskqueue.TaskState
		check func(t *testing.T, s JobStatus)
	}{
		{
			name:  "pending",
			state: taskqueue.TaskState{Status: taskqueue.StatusPending},
			check: func(t *testing.T, s JobStatus) {
				assert.Equal(t, JobPending, s.State)
				assert.Nil(t, s.Progression)
			},
		},
		{
			name:  "started with progression",
			state: taskqueue.TaskState{Status: taskqueue.StatusStarted, Meta: json.RawMessage(startedMeta)},
			check: func(t *testing.T, s JobStatus) {
				assert.Equal(t, JobStarted, s.State)
				st, ok := s.Progression.Step("keyword_extraction")
				require.True(t, ok)
				assert.Equal(t, progression.StateStarted, *st.Status)
			},
		},
		{
			name:  "done",
			state: taskqueue.TaskState{Status: taskqueue.StatusSuccess, Result: json.RawMessage(`{"resource_id":"res-9"}`)},
			check: func(t *testing.T, s JobStatus) {
				assert.Equal(t, JobDone, s.State)
				assert.Equal(t, "res-9", s.ResourceID)
			},
		},
		{
			name:  "failed keeps reason",
			state: taskqueue.TaskState{Status: taskqueue.StatusFailure, Error: "no service specified (service_type=keyword_extraction, policy=STRICT)"},
			check: func(t *testing.T, s JobStatus) {
				assert.Equal(t, JobFailed, s.State)
				assert.Equal(t, "no service specified (service_type=keyword_extraction, policy=STRICT)", s.Reason)
				assert.Empty(t, s.ResourceID)
			},
		},
		{
			name:  "revoked is failed",
			state: taskqueue.TaskState{Status: taskqueue.StatusRevoked},
			check: func(t *testing.T, s JobStatus) {
				assert.Equal(t, JobFailed, s.State)
				assert.Equal(t, "job revoked", s.Reason)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := tt.state
			state.ID = "job-1"
			q := &fakeJobQueue{states: map[string]taskqueue.TaskState{"job-1": state}}
			svc := NewJobService(q, results.NewMemoryStore(), "orchestrator")

			status, err := svc.JobStatus(context.Background(), "job-1")
			require.NoError(t, err)
			assert.Equal(t, "job-1", status.JobID)
			tt.check(t, status)
		})
	}
}

func TestJobService_JobStatusErrors(t *testing.T) {
	q := &fakeJobQueue{stateErr: errors.New("redis down")}
	svc := NewJobService(q, results.NewMemoryStore(), "orchestrator")
	_, err := svc.JobStatus(context.Background(), "job-1")
	assert.Error(t, err)

	q = &fakeJobQueue{states: map[string]taskqueue.TaskState{
		"job-1": {ID: "job-1", Status: taskqueue.StatusSuccess, Result: json.RawMessage(`"not an object"`)},
	}}
	svc = NewJobService(q, results.NewMemoryStore(), "orchestrator")
	_, err = svc.JobStatus(context.Background(), "job-1")
	assert.Error(t, err)
}

func TestJobService_RevokeAndFetch(t *testing.T) {
	q := &fakeJobQueue{}
	store := results.NewMemoryStore()
	svc := NewJobService(q, store, "orchestrator")
	ctx := context.Background()

	require.NoError(t, svc.Revoke(ctx, "job-7"))
	assert.Equal(t, []string{"job-7"}, q.revoked)

	id, err := store.Push(ctx, "job-7", "api", "orchestrator", nil, json.RawMessage(`{"k":1}`))
	require.NoError(t, err)

	got, found, err := svc.FetchResult(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"k":1}`, string(got))

	_, found, err = svc.FetchResult(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDecodeRequest(t *testing.T) {
	_, err := decodeRequest(map[string]interface{}{})
	assert.ErrorIs(t, err, ErrMalformedConfig)

	_, err = decodeRequest(map[string]interface{}{"request": "not an object"})
	assert.ErrorIs(t, err, ErrMalformedConfig)

	req, err := decodeRequest(map[string]interface{}{"request": map[string]interface{}{
		"origin": "api",
		"input":  map[string]interface{}{"text": "hi"},
		"config": map[string]interface{}{"keyword_extraction": map[string]interface{}{"enabled": true}},
	}})
	require.NoError(t, err)
	assert.Equal(t, "api", req.Origin)
	assert.JSONEq(t, `{"text":"hi"}`, string(req.Input))
	assert.JSONEq(t, `{"enabled":true}`, string(req.Config["keyword_extraction"]))
}

// pipeline wires real Redis-backed components around an in-memory result store
type pipeline struct {
	queue *taskqueue.RedisQueue
	store *registry.RedisStore
	jobs  *JobService
	res   *results.MemoryStore
}

func startPipeline(t *testing.T, policy types.ResolutionPolicy) (*pipeline, context.Context) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	queue := taskqueue.NewRedisQueue(client, taskqueue.Options{Prefix: "test", PollInterval: 10 * time.Millisecond})
	regStore := registry.NewRedisStore(client, "test:")
	reg := registry.New(regStore, queue, ServiceTypes())
	memStore := results.NewMemoryStore()

	orch := New(reg, mustResolver(t, policy, nil), queue, memStore, Options{SubtaskTimeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	t.Cleanup(func() {
		cancel()
		<-done
		<-done
	})

	orchWorker := taskqueue.NewWorker(queue, taskqueue.WorkerConfig{
		Name: "orchestrator", Hostname: "node-0", Queues: []string{"orchestrator"},
		Concurrency: 2, PollTimeout: time.Second,
	})
	orchWorker.Handle(JobTaskName, orch.HandleJob)

	kweWorker := taskqueue.NewWorker(queue, taskqueue.WorkerConfig{
		Name: "freq-extractor", Hostname: "node-1", Queues: []string{"kwe_q"},
		Concurrency: 1, PollTimeout: time.Second,
	})
	kweWorker.Handle("keyword_extraction.extract", func(tc *taskqueue.TaskContext, kwargs map[string]interface{}) (interface{}, error) {
		input, _ := kwargs["input"].(map[string]interface{})
		text, _ := input["text"].(string)
		if text == "" {
			return nil, errors.New("input text is empty")
		}
		return strings.Fields(text), nil
	})

	for _, w := range []*taskqueue.Worker{orchWorker, kweWorker} {
		go func(w *taskqueue.Worker) {
			_ = w.Run(ctx)
			done <- struct{}{}
		}(w)
	}

	require.Eventually(t, func() bool {
		ids, err := queue.ActiveWorkers(context.Background())
		return err == nil && len(ids) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, regStore.Put(context.Background(), registry.Registration{
		ServiceName:     "freq-extractor",
		ServiceType:     "keyword_extraction",
		ServiceLanguage: "en",
		QueueName:       "kwe_q",
		HostIdentifier:  kweWorker.Identity(),
		LastAlive:       time.Now().UTC(),
		Version:         "1.0.0",
		Concurrency:     1,
	}, 0))

	return &pipeline{
		queue: queue,
		store: regStore,
		jobs:  NewJobService(queue, memStore, "orchestrator"),
		res:   memStore,
	}, ctx
}

func waitTerminal(t *testing.T, svc *JobService, jobID string) JobStatus {
	t.Helper()
	var status JobStatus
	require.Eventually(t, func() bool {
		s, err := svc.JobStatus(context.Background(), jobID)
		if err != nil {
			return false
		}
		status = s
		return s.State == JobDone || s.State == JobFailed
	}, 10*time.Second, 20*time.Millisecond)
	return status
}

func TestPipeline_EndToEnd(t *testing.T) {
	p, _ := startPipeline(t, types.PolicyAny)

	req := Request{
		Origin: "api",
		Input:  json.RawMessage(`{"text":"redis backed task queue"}`),
		Config: map[string]json.RawMessage{
			KindKeywordExtraction: json.RawMessage(`{"enabled":true}`),
		},
	}
	jobID, err := p.jobs.Submit(context.Background(), req)
	require.NoError(t, err)

	status := waitTerminal(t, p.jobs, jobID)
	require.Equal(t, JobDone, status.State, status.Reason)
	require.NotEmpty(t, status.ResourceID)
	assert.NotEqual(t, jobID, status.ResourceID)

	got, found, err := p.jobs.FetchResult(context.Background(), status.ResourceID)
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"keyword_extraction":["redis","backed","task","queue"]}`, string(got))

	rec, ok := p.res.Record(status.ResourceID)
	require.True(t, ok)
	assert.Equal(t, jobID, rec.JobID)
	assert.Equal(t, "api", rec.Origin)
}

func TestPipeline_FailedJobReportsReason(t *testing.T) {
	p, _ := startPipeline(t, types.PolicyAny)

	req := Request{
		Origin: "api",
		Input:  json.RawMessage(`{"text":""}`),
		Config: map[string]json.RawMessage{KindKeywordExtraction: json.RawMessage(`{"enabled":true}`)},
	}
	jobID, err := p.jobs.Submit(context.Background(), req)
	require.NoError(t, err)

	status := waitTerminal(t, p.jobs, jobID)
	assert.Equal(t, JobFailed, status.State)
	assert.Contains(t, status.Reason, "input text is empty")

	st, ok := status.Progression.Step(KindKeywordExtraction)
	require.True(t, ok)
	assert.Equal(t, progression.StateFailed, *st.Status)
	assert.Equal(t, 0, p.res.Len())
}

func TestPipeline_DeadServiceIsPruned(t *testing.T) {
	p, _ := startPipeline(t, types.PolicyAny)
	ctx := context.Background()

	// A registration whose worker never heartbeats
	require.NoError(t, p.store.Put(ctx, registry.Registration{
		ServiceName:     "aaa-ghost",
		ServiceType:     "keyword_extraction",
		ServiceLanguage: "en",
		QueueName:       "ghost_q",
		HostIdentifier:  "ghost@nowhere",
	}, 0))

	req := Request{
		Input:  json.RawMessage(`{"text":"still works"}`),
		Config: map[string]json.RawMessage{KindKeywordExtraction: json.RawMessage(`{"enabled":true}`)},
	}
	jobID, err := p.jobs.Submit(ctx, req)
	require.NoError(t, err)

	status := waitTerminal(t, p.jobs, jobID)
	require.Equal(t, JobDone, status.State, status.Reason)

	regs, err := p.store.QueryByType(ctx, "keyword_extraction")
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, "freq-extractor", regs[0].ServiceName)
}

func TestPipeline_StrictPolicyFailsJob(t *testing.T) {
	p, _ := startPipeline(t, types.PolicyStrict)

	req := Request{
		Input:  json.RawMessage(`{"text":"x"}`),
		Config: map[string]json.RawMessage{KindKeywordExtraction: json.RawMessage(`{"enabled":true}`)},
	}
	jobID, err := p.jobs.Submit(context.Background(), req)
	require.NoError(t, err)

	status := waitTerminal(t, p.jobs, jobID)
	assert.Equal(t, JobFailed, status.State)
	assert.Contains(t, status.Reason, "no service specified")
}
