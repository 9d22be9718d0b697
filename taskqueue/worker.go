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
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"nlpflow/platform/shared/logger"
)

var promTasksProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nlpflow_taskqueue_tasks_processed_total",
		Help: "Tasks processed by workers, by task name and final status",
	},
	[]string{"task", "status"},
)

func init() {
	prometheus.MustRegister(promTasksProcessed)
}

// HandlerFunc executes one task. The returned value is stored as the task
// result after JSON encoding.
type HandlerFunc func(tc *TaskContext, kwargs map[string]interface{}) (interface{}, error)

// TaskContext is the context a handler runs under. It is cancelled when the
// worker shuts down or the task is revoked.
type TaskContext struct {
	context.Context
	TaskID   string
	TaskName string
	Queue    string

	queue *RedisQueue
}

// UpdateState publishes progress meta for the running task
func (tc *TaskContext) UpdateState(meta interface{}) error {
	return tc.queue.UpdateState(tc, tc.TaskID, StatusStarted, meta)
}

// WorkerConfig configures a Worker. Zero durations select the defaults.
type WorkerConfig struct {
	Name              string
	Hostname          string
	Queues            []string
	Concurrency       int
	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration
	PollTimeout       time.Duration
	RevokeCheck       time.Duration
}

// Worker consumes tasks from one or more queues
type Worker struct {
	queue    *RedisQueue
	cfg      WorkerConfig
	identity string
	log      *logger.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewWorker creates a worker. Its identity is "<name>@<hostname>", which is
// what ActiveWorkers reports while the worker is alive.
func NewWorker(queue *RedisQueue, cfg WorkerConfig) *Worker {
	if cfg.Name == "" {
		cfg.Name = "worker"
	}
	if cfg.Hostname == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "localhost"
		}
		cfg.Hostname = host
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.HeartbeatTTL <= 0 {
		cfg.HeartbeatTTL = 3 * cfg.HeartbeatInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.RevokeCheck <= 0 {
		cfg.RevokeCheck = 500 * time.Millisecond
	}

	identity := cfg.Name + "@" + cfg.Hostname
	return &Worker{
		queue:    queue,
		cfg:      cfg,
		identity: identity,
		log:      logger.New("taskqueue-worker").With(map[string]interface{}{"identity": identity}),
		handlers: make(map[string]HandlerFunc),
	}
}

// Identity returns the worker's heartbeat identity
func (w *Worker) Identity() string {
	return w.identity
}

// Handle registers the handler for a task name
func (w *Worker) Handle(taskName string, h HandlerFunc) {
	w.mu.Lock()
	w.handlers[taskName] = h
	w.mu.Unlock()
}

func (w *Worker) handler(taskName string) (HandlerFunc, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[taskName]
	return h, ok
}

// Run announces the worker, consumes its queues until ctx is cancelled and
// then withdraws the heartbeat. Each in-flight task occupies one of the
// Concurrency slots until its handler returns.
func (w *Worker) Run(ctx context.Context) error {
	if len(w.cfg.Queues) == 0 {
		return errors.New("worker has no queues to consume")
	}
	if err := w.beat(ctx); err != nil {
		return fmt.Errorf("failed to register worker heartbeat: %w", err)
	}

	w.log.Info("", "", "Worker started", map[string]interface{}{
		"queues":      w.cfg.Queues,
		"concurrency": w.cfg.Concurrency,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.heartbeatLoop(ctx)
	}()

	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consume(ctx, slot)
		}(i)
	}
	wg.Wait()

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.dropHeartbeat(cleanupCtx, w.identity); err != nil {
		w.log.Warn("", "", "Failed to remove worker heartbeat", map[string]interface{}{"error": err.Error()})
	}
	w.log.Info("", "", "Worker stopped", nil)
	return nil
}

// Beat writes the worker heartbeat once. Run keeps it fresh afterwards;
// callers use Beat to be listed as active before Run starts.
func (w *Worker) Beat(ctx context.Context) error {
	return w.beat(ctx)
}

func (w *Worker) beat(ctx context.Context) error {
	info, err := json.Marshal(map[string]interface{}{
		"queues":      w.cfg.Queues,
		"concurrency": w.cfg.Concurrency,
		"last_alive":  time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return w.queue.heartbeat(ctx, w.identity, info, w.cfg.HeartbeatTTL)
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.beat(ctx); err != nil && ctx.Err() == nil {
				w.log.Warn("", "", "Worker heartbeat failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

func (w *Worker) consume(ctx context.Context, slot int) {
	for ctx.Err() == nil {
		msg, err := w.queue.pop(ctx, w.cfg.Queues, w.cfg.PollTimeout)
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			w.log.Error("", "", "Failed to pop task", map[string]interface{}{
				"slot":  slot,
				"error": err.Error(),
			})
			// Back off so a broken connection does not spin
			select {
			case <-ctx.Done():
			case <-time.After(w.cfg.PollTimeout):
			}
			continue
		}
		w.process(ctx, msg)
	}
}

func (w *Worker) process(ctx context.Context, msg *message) {
	fields := map[string]interface{}{"task_id": msg.ID, "task": msg.Name, "queue": msg.Queue}

	revoked, err := w.queue.IsRevoked(ctx, msg.ID)
	if err != nil {
		w.log.Warn("", "", "Revoke check failed", withErr(fields, err))
	}
	if revoked {
		w.log.Info("", "", "Skipping revoked task", fields)
		promTasksProcessed.WithLabelValues(msg.Name, string(StatusRevoked)).Inc()
		return
	}

	h, ok := w.handler(msg.Name)
	if !ok {
		w.finish(ctx, msg, StatusFailure, nil, fmt.Errorf("no handler registered for task %s", msg.Name))
		return
	}

	if err := w.queue.UpdateState(ctx, msg.ID, StatusStarted, nil); err != nil {
		w.log.Info("", "", "Task no longer runnable", withErr(fields, err))
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.watchRevoke(taskCtx, cancel, msg.ID)

	tc := &TaskContext{Context: taskCtx, TaskID: msg.ID, TaskName: msg.Name, Queue: msg.Queue, queue: w.queue}

	result, runErr := invoke(h, tc, msg.Kwargs)
	if runErr != nil {
		w.finish(ctx, msg, StatusFailure, nil, runErr)
		return
	}
	w.finish(ctx, msg, StatusSuccess, result, nil)
}

func invoke(h HandlerFunc, tc *TaskContext, kwargs map[string]interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(tc, kwargs)
}

func (w *Worker) watchRevoke(ctx context.Context, cancel context.CancelFunc, taskID string) {
	ticker := time.NewTicker(w.cfg.RevokeCheck)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			revoked, err := w.queue.IsRevoked(ctx, taskID)
			if err == nil && revoked {
				cancel()
				return
			}
		}
	}
}

func (w *Worker) finish(ctx context.Context, msg *message, status Status, result interface{}, runErr error) {
	fields := map[string]interface{}{"task_id": msg.ID, "task": msg.Name, "queue": msg.Queue, "status": string(status)}
	args := []interface{}{"status", string(status)}

	if runErr != nil {
		args = append(args, "error", runErr.Error())
	} else {
		raw, err := json.Marshal(result)
		if err != nil {
			status = StatusFailure
			args = []interface{}{"status", string(status), "error", fmt.Sprintf("failed to encode result: %v", err)}
		} else {
			args = append(args, "result", string(raw))
		}
	}

	// The task context may already be gone; the final write must still land
	writeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	if err := w.queue.setState(writeCtx, msg.ID, args...); err != nil {
		if errors.Is(err, ErrTaskFinished) {
			w.log.Info("", "", "Task finished after being revoked, result discarded", fields)
			promTasksProcessed.WithLabelValues(msg.Name, string(StatusRevoked)).Inc()
			return
		}
		w.log.Error("", "", "Failed to record task outcome", withErr(fields, err))
		return
	}

	promTasksProcessed.WithLabelValues(msg.Name, string(status)).Inc()
	if runErr != nil {
		w.log.Warn("", "", "Task failed", withErr(fields, runErr))
		return
	}
	w.log.Info("", "", "Task succeeded", fields)
}

func withErr(fields map[string]interface{}, err error) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["error"] = err.Error()
	return out
}
