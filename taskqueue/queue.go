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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	DefaultPrefix       = "nlpflow"
	DefaultResultTTL    = 24 * time.Hour
	DefaultPollInterval = 100 * time.Millisecond
)

// setStateScript writes the given hash fields unless the task is already in
// a terminal state. Returns 1 when applied, 0 otherwise.
var setStateScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if cur == 'SUCCESS' or cur == 'FAILURE' or cur == 'REVOKED' then
  return 0
end
for i = 2, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call('EXPIRE', KEYS[1], ARGV[1])
return 1
`)

// Options tunes a RedisQueue. Zero values select the defaults.
type Options struct {
	Prefix       string
	ResultTTL    time.Duration
	PollInterval time.Duration
}

// RedisQueue submits tasks and tracks their state in Redis
type RedisQueue struct {
	client       *redis.Client
	prefix       string
	resultTTL    time.Duration
	pollInterval time.Duration
}

// NewRedisQueue wraps an existing client
func NewRedisQueue(client *redis.Client, opts Options) *RedisQueue {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = DefaultResultTTL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &RedisQueue{
		client:       client,
		prefix:       opts.Prefix,
		resultTTL:    opts.ResultTTL,
		pollInterval: opts.PollInterval,
	}
}

// Connect parses a redis:// URL, pings the server and returns the client
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (q *RedisQueue) queueKey(name string) string      { return q.prefix + ":queue:" + name }
func (q *RedisQueue) taskKey(id string) string         { return q.prefix + ":task:" + id }
func (q *RedisQueue) revokedKey(id string) string      { return q.prefix + ":revoked:" + id }
func (q *RedisQueue) workerKey(identity string) string { return q.prefix + ":worker:" + identity }

// Submit enqueues a task and returns its id. The task is PENDING until a
// worker picks it up.
func (q *RedisQueue) Submit(ctx context.Context, queue, taskName string, kwargs map[string]interface{}) (string, error) {
	if queue == "" || taskName == "" {
		return "", fmt.Errorf("queue and task name are required")
	}
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}

	msg := message{
		ID:     uuid.NewString(),
		Name:   taskName,
		Queue:  queue,
		Kwargs: kwargs,
		SentAt: time.Now().UTC(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode task %s: %w", taskName, err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		key := q.taskKey(msg.ID)
		pipe.HSet(ctx, key,
			"status", string(StatusPending),
			"name", taskName,
			"queue", queue,
			"updated_at", msg.SentAt.Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, key, q.resultTTL)
		pipe.LPush(ctx, q.queueKey(queue), body)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to submit task %s to %s: %w", taskName, queue, err)
	}
	return msg.ID, nil
}

// State returns the current state of a task
func (q *RedisQueue) State(ctx context.Context, taskID string) (TaskState, error) {
	fields, err := q.client.HGetAll(ctx, q.taskKey(taskID)).Result()
	if err != nil {
		return TaskState{}, fmt.Errorf("failed to read task %s: %w", taskID, err)
	}

	state := TaskState{ID: taskID, Status: StatusPending}
	if len(fields) == 0 {
		return state, nil
	}
	if s := fields["status"]; s != "" {
		state.Status = Status(s)
	}
	state.Name = fields["name"]
	state.Queue = fields["queue"]
	state.Error = fields["error"]
	if r := fields["result"]; r != "" {
		state.Result = json.RawMessage(r)
	}
	if m := fields["meta"]; m != "" {
		state.Meta = json.RawMessage(m)
	}
	if ts := fields["updated_at"]; ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			state.UpdatedAt = parsed
		}
	}
	return state, nil
}

// Await polls a task until it reaches a terminal state. A timeout of zero
// waits until ctx is done. Task failures are not errors here; inspect the
// returned state with Err.
func (q *RedisQueue) Await(ctx context.Context, taskID string, timeout time.Duration) (TaskState, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		state, err := q.State(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return TaskState{}, q.awaitErr(ctx, taskID)
			}
			return TaskState{}, err
		}
		if state.Status.IsTerminal() {
			return state, nil
		}

		select {
		case <-ctx.Done():
			return state, q.awaitErr(ctx, taskID)
		case <-ticker.C:
		}
	}
}

func (q *RedisQueue) awaitErr(ctx context.Context, taskID string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w %s", ErrAwaitTimeout, taskID)
	}
	return ctx.Err()
}

// UpdateState records a non-terminal status and its meta payload. It returns
// ErrTaskFinished when the task already reached a terminal state.
func (q *RedisQueue) UpdateState(ctx context.Context, taskID string, status Status, meta interface{}) error {
	fields := []interface{}{"status", string(status)}
	if meta != nil {
		raw, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to encode meta for task %s: %w", taskID, err)
		}
		fields = append(fields, "meta", string(raw))
	}
	return q.setState(ctx, taskID, fields...)
}

// Revoke marks a task as cancelled. Workers skip revoked tasks that have not
// started and cancel the context of running ones. A finished task keeps its
// final state.
func (q *RedisQueue) Revoke(ctx context.Context, taskID string) error {
	if err := q.client.Set(ctx, q.revokedKey(taskID), "1", q.resultTTL).Err(); err != nil {
		return fmt.Errorf("failed to revoke task %s: %w", taskID, err)
	}
	err := q.setState(ctx, taskID, "status", string(StatusRevoked))
	if err != nil && !errors.Is(err, ErrTaskFinished) {
		return err
	}
	return nil
}

// IsRevoked reports whether a revoke marker exists for the task
func (q *RedisQueue) IsRevoked(ctx context.Context, taskID string) (bool, error) {
	n, err := q.client.Exists(ctx, q.revokedKey(taskID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revoke marker for %s: %w", taskID, err)
	}
	return n > 0, nil
}

// ActiveWorkers lists the identities of workers whose heartbeat has not
// expired.
func (q *RedisQueue) ActiveWorkers(ctx context.Context) ([]string, error) {
	prefix := q.workerKey("")
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := q.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker heartbeats: %w", err)
		}
		for _, k := range keys {
			out = append(out, strings.TrimPrefix(k, prefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func (q *RedisQueue) heartbeat(ctx context.Context, identity string, info []byte, ttl time.Duration) error {
	return q.client.Set(ctx, q.workerKey(identity), info, ttl).Err()
}

func (q *RedisQueue) dropHeartbeat(ctx context.Context, identity string) error {
	return q.client.Del(ctx, q.workerKey(identity)).Err()
}

// pop blocks up to timeout for a message on any of the queues
func (q *RedisQueue) pop(ctx context.Context, queues []string, timeout time.Duration) (*message, error) {
	keys := make([]string, len(queues))
	for i, name := range queues {
		keys[i] = q.queueKey(name)
	}
	res, err := q.client.BRPop(ctx, timeout, keys...).Result()
	if err != nil {
		return nil, err
	}
	// res is [key, value]
	var msg message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, fmt.Errorf("malformed task message on %s: %w", res[0], err)
	}
	return &msg, nil
}

func (q *RedisQueue) setState(ctx context.Context, taskID string, fields ...interface{}) error {
	args := make([]interface{}, 0, len(fields)+3)
	args = append(args, int64(q.resultTTL/time.Second))
	args = append(args, fields...)
	args = append(args, "updated_at", time.Now().UTC().Format(time.RFC3339Nano))

	applied, err := setStateScript.Run(ctx, q.client, []string{q.taskKey(taskID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", taskID, err)
	}
	if applied == 0 {
		return fmt.Errorf("%w: %s", ErrTaskFinished, taskID)
	}
	return nil
}
