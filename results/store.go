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

package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxIDAttempts bounds how often Push regenerates an id after a collision
const maxIDAttempts = 3

// ErrStoreUnavailable matches every infrastructure failure of a store
var ErrStoreUnavailable = errors.New("result store unavailable")

// ErrIDCollision is the cause reported when no unused id could be generated
var ErrIDCollision = errors.New("resource id collision")

// Store persists and looks up results by resource id
type Store interface {
	Push(ctx context.Context, jobID, origin, serviceName string, config, result json.RawMessage) (string, error)
	Fetch(ctx context.Context, resourceID string) (json.RawMessage, bool, error)
}

// Record is one stored result
type Record struct {
	ResourceID  string          `json:"resource_id"`
	JobID       string          `json:"job_id"`
	Origin      string          `json:"origin"`
	ServiceName string          `json:"service_name"`
	Timestamp   time.Time       `json:"timestamp"`
	Config      json.RawMessage `json:"config,omitempty"`
	Result      json.RawMessage `json:"result"`
}

// StorageError wraps a backend failure at the store boundary
type StorageError struct {
	Backend string
	Op      string
	Cause   error
}

func (e *StorageError) Error() string {
	msg := fmt.Sprintf("results.%s.%s: %s", e.Backend, e.Op, ErrStoreUnavailable.Error())
	if e.Cause != nil {
		msg += " (cause: " + e.Cause.Error() + ")"
	}
	return msg
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is makes every StorageError match ErrStoreUnavailable
func (e *StorageError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

func newStorageError(backend, op string, cause error) *StorageError {
	return &StorageError{Backend: backend, Op: op, Cause: cause}
}

// IDFunc generates resource ids
type IDFunc func() string

func defaultID() string {
	return uuid.NewString()
}

func validatePayload(result json.RawMessage) error {
	if len(result) == 0 {
		return errors.New("result payload is empty")
	}
	if !json.Valid(result) {
		return errors.New("result payload is not valid JSON")
	}
	return nil
}

// MemoryStore keeps records in process memory. It is used by tests and by
// single-process deployments that do not need durable results.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	newID   IDFunc
	now     func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		newID:   defaultID,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Push stores a new record and returns its resource id
func (s *MemoryStore) Push(ctx context.Context, jobID, origin, serviceName string, config, result json.RawMessage) (string, error) {
	if err := validatePayload(result); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", newStorageError("memory", "Push", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := s.newID()
		if _, taken := s.records[id]; taken {
			continue
		}
		s.records[id] = Record{
			ResourceID:  id,
			JobID:       jobID,
			Origin:      origin,
			ServiceName: serviceName,
			Timestamp:   s.now(),
			Config:      append(json.RawMessage(nil), config...),
			Result:      append(json.RawMessage(nil), result...),
		}
		return id, nil
	}
	return "", newStorageError("memory", "Push", ErrIDCollision)
}

// Fetch returns the stored result payload
func (s *MemoryStore) Fetch(ctx context.Context, resourceID string) (json.RawMessage, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, newStorageError("memory", "Fetch", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[resourceID]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), rec.Result...), true, nil
}

// Record returns the full stored record
func (s *MemoryStore) Record(resourceID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[resourceID]
	return rec, ok
}

// Len returns the number of stored records
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
