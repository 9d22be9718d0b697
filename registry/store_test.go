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

package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test:"), mr
}

func testRegistration(serviceType, name, host, language string) Registration {
	return Registration{
		HostIdentifier:  host,
		ServiceName:     name,
		ServiceType:     serviceType,
		ServiceLanguage: language,
		QueueName:       name + "_q",
		LastAlive:       time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
		Version:         "1.0.0",
		Concurrency:     2,
	}
}

func TestRedisStore_PutAndQuery(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testRegistration("keyword_extraction", "freq-extractor", "kwe@host-a", "en"), 0))
	require.NoError(t, store.Put(ctx, testRegistration("keyword_extraction", "freq-extractor", "kwe@host-b", "en"), 0))
	require.NoError(t, store.Put(ctx, testRegistration("language_modeling", "llama", "lm@host-a", "*"), 0))

	regs, err := store.QueryByType(ctx, "keyword_extraction")
	require.NoError(t, err)
	require.Len(t, regs, 2)

	hosts := map[string]bool{}
	for _, reg := range regs {
		assert.Equal(t, "freq-extractor", reg.ServiceName)
		assert.Equal(t, "freq-extractor_q", reg.QueueName)
		assert.Equal(t, DocumentID("keyword_extraction", "freq-extractor", reg.HostIdentifier), reg.ID)
		hosts[reg.HostIdentifier] = true
	}
	assert.True(t, hosts["kwe@host-a"])
	assert.True(t, hosts["kwe@host-b"])
}

func TestRedisStore_PutRejectsInvalid(t *testing.T) {
	store, _ := newTestStore(t)

	reg := testRegistration("keyword_extraction", "freq:extractor", "h", "en")
	err := store.Put(context.Background(), reg, 0)
	assert.Error(t, err)

	reg = testRegistration("keyword_extraction", "freq", "", "en")
	err = store.Put(context.Background(), reg, 0)
	assert.Error(t, err)
}

func TestRedisStore_PutWithTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testRegistration("keyword_extraction", "freq", "h1", "en"), 30*time.Second))
	mr.FastForward(31 * time.Second)

	regs, err := store.QueryByType(ctx, "keyword_extraction")
	require.NoError(t, err)
	assert.Empty(t, regs)
}

func TestRedisStore_SkipsMalformedDocuments(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testRegistration("keyword_extraction", "freq", "h1", "en"), 0))
	require.NoError(t, mr.Set("test:service:keyword_extraction:broken:h2", "{not json"))
	require.NoError(t, mr.Set("test:service:keyword_extraction:other:h3", `{"service_name":"mismatch","service_type":"keyword_extraction"}`))

	regs, err := store.QueryByType(ctx, "keyword_extraction")
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, "freq", regs[0].ServiceName)
}

func TestRedisStore_DeleteIsIdempotent(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	reg := testRegistration("keyword_extraction", "freq", "h1", "en")
	require.NoError(t, store.Put(ctx, reg, 0))

	id := DocumentID(reg.ServiceType, reg.ServiceName, reg.HostIdentifier)
	require.NoError(t, store.Delete(ctx, id))
	assert.False(t, mr.Exists("test:"+id))

	// A second orchestrator pruning the same entry must not fail
	assert.NoError(t, store.Delete(ctx, id))
}

func TestRedisStore_Unavailable(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	_, err := store.QueryByType(context.Background(), "keyword_extraction")
	assert.Error(t, err)
}

func TestRedisStore_ManyDocuments(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		reg := testRegistration("keyword_extraction", "freq", fmt.Sprintf("host-%d", i), "en")
		require.NoError(t, store.Put(ctx, reg, 0))
	}

	regs, err := store.QueryByType(ctx, "keyword_extraction")
	require.NoError(t, err)
	assert.Len(t, regs, 250)
}

func TestDecodeRegistration_BadID(t *testing.T) {
	_, err := decodeRegistration("bogus", "{}")
	assert.True(t, err != nil && !errors.Is(err, ErrRegistryUnavailable))
}
