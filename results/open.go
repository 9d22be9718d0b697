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
	"fmt"

	"nlpflow/platform/shared/config"
)

// Backend is a Store that owns its connection
type Backend interface {
	Store
	Close(ctx context.Context) error
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}

// Open connects the backend selected by cfg.Backend
func Open(ctx context.Context, cfg config.ResultsConfig) (Backend, error) {
	switch cfg.Backend {
	case config.BackendMongo:
		return ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.Collection)

	case config.BackendPostgres:
		store, err := OpenPostgres(ctx, cfg.DatabaseURL, cfg.Collection)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close(ctx)
			return nil, err
		}
		return store, nil

	case config.BackendS3:
		return ConnectS3(ctx, cfg.S3)

	case config.BackendMemory:
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown results backend %q", cfg.Backend)
	}
}
