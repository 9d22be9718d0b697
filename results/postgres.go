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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"nlpflow/platform/shared/logger"
)

var tableNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresStore stores results in a single table. Payloads use the json
// column type so the stored text is returned byte for byte.
type PostgresStore struct {
	db    *sql.DB
	table string
	newID IDFunc
	log   *logger.Logger
}

// OpenPostgres opens a connection pool, verifies it and returns a store
func OpenPostgres(ctx context.Context, databaseURL, table string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, newStorageError("postgres", "Connect", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, newStorageError("postgres", "Connect", err)
	}

	store, err := NewPostgresStore(db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an existing pool
func NewPostgresStore(db *sql.DB, table string) (*PostgresStore, error) {
	if !tableNameRegex.MatchString(table) {
		return nil, fmt.Errorf("invalid results table name %q", table)
	}
	return &PostgresStore{
		db:    db,
		table: table,
		newID: defaultID,
		log:   logger.New("results-postgres"),
	}, nil
}

// EnsureSchema creates the results table if it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		resource_id  TEXT PRIMARY KEY,
		job_id       TEXT NOT NULL,
		origin       TEXT NOT NULL DEFAULT '',
		service_name TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL,
		config       JSON,
		result       JSON NOT NULL
	)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return newStorageError("postgres", "EnsureSchema", err)
	}
	return nil
}

// Close releases the pool
func (s *PostgresStore) Close(ctx context.Context) error {
	if err := s.db.Close(); err != nil {
		return newStorageError("postgres", "Close", err)
	}
	return nil
}

// Push inserts a new row. ON CONFLICT DO NOTHING guarantees an existing row
// is never replaced; a zero row count means the id was taken and a new one is
// generated.
func (s *PostgresStore) Push(ctx context.Context, jobID, origin, serviceName string, config, result json.RawMessage) (string, error) {
	if err := validatePayload(result); err != nil {
		return "", err
	}
	var configArg interface{}
	if len(config) > 0 {
		configArg = string(config)
	}

	query := fmt.Sprintf(`INSERT INTO %s (resource_id, job_id, origin, service_name, created_at, config, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (resource_id) DO NOTHING`, s.table)

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := s.newID()
		res, err := s.db.ExecContext(ctx, query, id, jobID, origin, serviceName, time.Now().UTC(), configArg, string(result))
		if err != nil {
			return "", newStorageError("postgres", "Push", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return "", newStorageError("postgres", "Push", err)
		}
		if n == 1 {
			return id, nil
		}
		s.log.Warn(jobID, origin, "Resource id collision, regenerating", map[string]interface{}{
			"resource_id": id,
		})
	}
	return "", newStorageError("postgres", "Push", ErrIDCollision)
}

// Fetch returns the result column of the row with the given id
func (s *PostgresStore) Fetch(ctx context.Context, resourceID string) (json.RawMessage, bool, error) {
	query := fmt.Sprintf(`SELECT result FROM %s WHERE resource_id = $1`, s.table)

	var raw []byte
	err := s.db.QueryRowContext(ctx, query, resourceID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, newStorageError("postgres", "Fetch", err)
	}
	return json.RawMessage(raw), true, nil
}
