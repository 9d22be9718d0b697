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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlpflow/platform/registry"
	"nlpflow/platform/results"
	"nlpflow/platform/taskqueue"
)

type unavailableStore struct{}

func (unavailableStore) Push(ctx context.Context, jobID, origin, serviceName string, config, result json.RawMessage) (string, error) {
	return "", &results.StorageError{Backend: "postgres", Op: "Push", Cause: errors.New("down")}
}

func (unavailableStore) Fetch(ctx context.Context, resourceID string) (json.RawMessage, bool, error) {
	return nil, false, &results.StorageError{Backend: "postgres", Op: "Fetch", Cause: errors.New("down")}
}

func newTestRouter(t *testing.T, q *fakeJobQueue, store results.Store, lister ServiceLister) http.Handler {
	t.Helper()
	return NewRouter(NewAPI(NewJobService(q, store, "orchestrator"), lister, "en"))
}

func doRequest(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]interface{}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthHandler(t *testing.T) {
	h := newTestRouter(t, &fakeJobQueue{}, results.NewMemoryStore(), &fakeLister{})
	rec, body := doRequest(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "nlpflow-orchestrator", body["service"])
}

func TestPrometheusEndpoint(t *testing.T) {
	h := newTestRouter(t, &fakeJobQueue{}, results.NewMemoryStore(), &fakeLister{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/prometheus", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestJobStatusHandler(t *testing.T) {
	q := &fakeJobQueue{states: map[string]taskqueue.TaskState{
		"job-1": {ID: "job-1", Status: taskqueue.StatusSuccess, Result: json.RawMessage(`{"resource_id":"res-1"}`)},
		"job-2": {ID: "job-2", Status: taskqueue.StatusStarted, Meta: json.RawMessage(startedMeta)},
	}}
	h := newTestRouter(t, q, results.NewMemoryStore(), &fakeLister{})

	rec, body := doRequest(t, h, http.MethodGet, "/api/v1/jobs/job-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "done", body["state"])
	assert.Equal(t, "res-1", body["resource_id"])

	rec, body = doRequest(t, h, http.MethodGet, "/api/v1/jobs/job-2")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "started", body["state"])
	prog, ok := body["progression"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, prog, "keyword_extraction")

	rec, body = doRequest(t, h, http.MethodGet, "/api/v1/jobs/unknown")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", body["state"])
}

func TestJobStatusHandler_QueueDown(t *testing.T) {
	h := newTestRouter(t, &fakeJobQueue{stateErr: errors.New("redis down")}, results.NewMemoryStore(), &fakeLister{})
	rec, body := doRequest(t, h, http.MethodGet, "/api/v1/jobs/job-1")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestRevokeJobHandler(t *testing.T) {
	q := &fakeJobQueue{}
	h := newTestRouter(t, q, results.NewMemoryStore(), &fakeLister{})

	rec, body := doRequest(t, h, http.MethodDelete, "/api/v1/jobs/job-5")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, body["revoked"])
	assert.Equal(t, []string{"job-5"}, q.revoked)
}

func TestResultHandler(t *testing.T) {
	store := results.NewMemoryStore()
	id, err := store.Push(context.Background(), "job-1", "api", "orchestrator", nil, json.RawMessage(`{"keyword_extraction":["a"]}`))
	require.NoError(t, err)
	h := newTestRouter(t, &fakeJobQueue{}, store, &fakeLister{})

	rec, body := doRequest(t, h, http.MethodGet, "/api/v1/results/"+id)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, body["resource_id"])
	assert.Equal(t, map[string]interface{}{"keyword_extraction": []interface{}{"a"}}, body["result"])

	rec, _ = doRequest(t, h, http.MethodGet, "/api/v1/results/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResultHandler_StoreUnavailable(t *testing.T) {
	h := newTestRouter(t, &fakeJobQueue{}, unavailableStore{}, &fakeLister{})
	rec, _ := doRequest(t, h, http.MethodGet, "/api/v1/results/any")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServicesHandler(t *testing.T) {
	lister := &fakeLister{snap: snapshotOf(reg("keyword_extraction", "freq-extractor", "kwe_q"))}
	h := newTestRouter(t, &fakeJobQueue{}, results.NewMemoryStore(), lister)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/services", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "freq-extractor")

	// The listing endpoint never prunes
	assert.Equal(t, []bool{false}, lister.calls)
}

func TestServicesHandler_RegistryDown(t *testing.T) {
	lister := &fakeLister{err: fmt.Errorf("%w: timeout", registry.ErrRegistryUnavailable)}
	h := newTestRouter(t, &fakeJobQueue{}, results.NewMemoryStore(), lister)
	rec, _ := doRequest(t, h, http.MethodGet, "/api/v1/services")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUnknownMethodIsRejected(t *testing.T) {
	h := newTestRouter(t, &fakeJobQueue{}, results.NewMemoryStore(), &fakeLister{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-1", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
