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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 keeps objects in a map and honours If-None-Match: * the way S3 does
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string

	putErr   func(key string) error
	getErr   error
	deleted  []string
	putCalls int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++

	key := aws.ToString(in.Key)
	if f.putErr != nil {
		if err := f.putErr(key); err != nil {
			return nil, err
		}
	}
	if aws.ToString(in.IfNoneMatch) == "*" {
		if _, exists := f.objects[key]; exists {
			return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
		}
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[key] = body
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestNewS3Store_NormalizesPrefix(t *testing.T) {
	assert.Equal(t, "results/", NewS3Store(newFakeS3(), "b", "results").prefix)
	assert.Equal(t, "results/", NewS3Store(newFakeS3(), "b", "results/").prefix)
	assert.Equal(t, "", NewS3Store(newFakeS3(), "b", "").prefix)
}

func TestS3Store_PushFetchRoundTrip(t *testing.T) {
	fake := newFakeS3()
	store := NewS3Store(fake, "nlp", "results/")
	store.newID = sequenceIDs("res-1")

	payload := json.RawMessage(`{"n": {"$numberLong":"5"}, "big": 12345678901234567890}`)
	id, err := store.Push(context.Background(), "job-1", "api", "freq-extractor",
		json.RawMessage(`{"top_k":5}`), payload)
	require.NoError(t, err)
	assert.Equal(t, "res-1", id)

	got, found, err := store.Fetch(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, string(payload), string(got))
	assert.Equal(t, "application/json", fake.types["results/res-1/result.json"])

	var rec s3Record
	require.NoError(t, json.Unmarshal(fake.objects["results/res-1/record.json"], &rec))
	assert.Equal(t, "res-1", rec.ResourceID)
	assert.Equal(t, "job-1", rec.JobID)
	assert.Equal(t, "api", rec.Origin)
	assert.Equal(t, "freq-extractor", rec.ServiceName)
	assert.JSONEq(t, `{"top_k":5}`, string(rec.Config))
	assert.Equal(t, "results/res-1/result.json", rec.ResultKey)
	assert.False(t, rec.Timestamp.IsZero())
}

func TestS3Store_PushNeverOverwrites(t *testing.T) {
	fake := newFakeS3()
	fake.objects["res-1/result.json"] = []byte(`"original"`)
	store := NewS3Store(fake, "nlp", "")
	store.newID = sequenceIDs("res-1", "res-2")

	id, err := store.Push(context.Background(), "job-1", "", "", nil, json.RawMessage(`"second"`))
	require.NoError(t, err)
	assert.Equal(t, "res-2", id)
	assert.Equal(t, `"original"`, string(fake.objects["res-1/result.json"]))
	assert.Equal(t, `"second"`, string(fake.objects["res-2/result.json"]))
}

func TestS3Store_PushGivesUp(t *testing.T) {
	fake := newFakeS3()
	fake.objects["taken/result.json"] = []byte(`1`)
	store := NewS3Store(fake, "nlp", "")
	store.newID = func() string { return "taken" }

	_, err := store.Push(context.Background(), "job-1", "", "", nil, json.RawMessage(`2`))
	assert.ErrorIs(t, err, ErrIDCollision)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, maxIDAttempts, fake.putCalls)
	assert.Equal(t, `1`, string(fake.objects["taken/result.json"]))
}

func TestS3Store_PushRejectsInvalidPayloads(t *testing.T) {
	fake := newFakeS3()
	store := NewS3Store(fake, "nlp", "")

	_, err := store.Push(context.Background(), "job-1", "", "", nil, nil)
	assert.Error(t, err)
	_, err = store.Push(context.Background(), "job-1", "", "", nil, json.RawMessage(`{broken`))
	assert.Error(t, err)
	_, err = store.Push(context.Background(), "job-1", "", "", json.RawMessage(`{broken`), json.RawMessage(`1`))
	assert.Error(t, err)
	assert.Zero(t, fake.putCalls)
}

func TestS3Store_PushBackendError(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = func(string) error { return errors.New("dial tcp: connection refused") }
	store := NewS3Store(fake, "nlp", "")

	_, err := store.Push(context.Background(), "job-1", "", "", nil, json.RawMessage(`1`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestS3Store_PushRecordFailureRemovesResult(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = func(key string) error {
		if key == "res-1/record.json" {
			return &smithy.GenericAPIError{Code: "InternalError", Message: "We encountered an internal error"}
		}
		return nil
	}
	store := NewS3Store(fake, "nlp", "")
	store.newID = sequenceIDs("res-1")

	_, err := store.Push(context.Background(), "job-1", "", "", nil, json.RawMessage(`1`))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, []string{"res-1/result.json"}, fake.deleted)

	_, found, err := store.Fetch(context.Background(), "res-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestS3Store_Fetch(t *testing.T) {
	tests := []struct {
		name      string
		getErr    error
		wantFound bool
		wantErr   bool
	}{
		{name: "missing key", wantFound: false},
		{name: "not found api error", getErr: &smithy.GenericAPIError{Code: "NotFound"}, wantFound: false},
		{name: "access denied", getErr: &smithy.GenericAPIError{Code: "AccessDenied"}, wantErr: true},
		{name: "network", getErr: errors.New("i/o timeout"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeS3()
			fake.getErr = tt.getErr
			store := NewS3Store(fake, "nlp", "")

			body, found, err := store.Fetch(context.Background(), "nope")
			assert.Equal(t, tt.wantFound, found)
			assert.Nil(t, body)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrStoreUnavailable)
				var storageErr *StorageError
				assert.True(t, errors.As(err, &storageErr))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
