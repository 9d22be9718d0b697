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
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"nlpflow/platform/shared/logger"
)

// Store is the shared registry document store. Query returns every document
// registered for a service type; Delete is idempotent.
type Store interface {
	QueryByType(ctx context.Context, serviceType string) ([]Registration, error)
	Delete(ctx context.Context, id string) error
	Put(ctx context.Context, reg Registration, ttl time.Duration) error
}

// DefaultPrefix is the key prefix shared by the orchestrator and subservices
const DefaultPrefix = "nlpflow:"

const (
	scanBatchSize = 100
	mgetBatchSize = 100
)

// RedisStore keeps registrations as JSON strings under
// "<prefix>service:<type>:<name>:<host>" keys.
type RedisStore struct {
	client *redis.Client
	prefix string
	log    *logger.Logger
}

// NewRedisStore creates a registry store on an existing Redis client.
// Prefix namespaces the keys and may be empty.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		log:    logger.New("registry"),
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// Put writes a registration. A positive ttl makes stale entries expire on
// their own when the registering process stops refreshing them.
func (s *RedisStore) Put(ctx context.Context, reg Registration, ttl time.Duration) error {
	if err := reg.Validate(); err != nil {
		return fmt.Errorf("invalid registration: %w", err)
	}

	id := DocumentID(reg.ServiceType, reg.ServiceName, reg.HostIdentifier)
	body, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("failed to encode registration: %w", err)
	}

	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(id), body, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write registration %s: %w", id, err)
	}
	return nil
}

// QueryByType scans the keys of one service type and loads their documents.
// Keys that disappear between SCAN and MGET are skipped; malformed documents
// are logged and skipped.
func (s *RedisStore) QueryByType(ctx context.Context, serviceType string) ([]Registration, error) {
	pattern := s.key(fmt.Sprintf("%s:%s:*", documentPrefix, serviceType))

	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan registry keys for %s: %w", serviceType, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	regs := make([]Registration, 0, len(keys))
	for start := 0; start < len(keys); start += mgetBatchSize {
		end := start + mgetBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		values, err := s.client.MGet(ctx, chunk...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load registry documents for %s: %w", serviceType, err)
		}

		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			id := chunk[i][len(s.prefix):]
			reg, err := decodeRegistration(id, raw)
			if err != nil {
				s.log.Warn("", "", "Skipping malformed registry document", map[string]interface{}{
					"document_id": id,
					"error":       err.Error(),
				})
				continue
			}
			regs = append(regs, reg)
		}
	}
	return regs, nil
}

// Delete removes a registration. Deleting a missing key is not an error.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete registry document %s: %w", id, err)
	}
	return nil
}

func decodeRegistration(id, raw string) (Registration, error) {
	serviceType, serviceName, host, err := ParseDocumentID(id)
	if err != nil {
		return Registration{}, err
	}

	var reg Registration
	if err := json.Unmarshal([]byte(raw), &reg); err != nil {
		return Registration{}, fmt.Errorf("invalid document body: %w", err)
	}
	if reg.ServiceType != serviceType || reg.ServiceName != serviceName {
		return Registration{}, fmt.Errorf("document body (%s/%s) does not match its id", reg.ServiceType, reg.ServiceName)
	}
	reg.ID = id
	reg.HostIdentifier = host
	return reg, nil
}
