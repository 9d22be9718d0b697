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
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"nlpflow/platform/registry"
	"nlpflow/platform/resolver"
	"nlpflow/platform/results"
	"nlpflow/platform/shared/config"
	"nlpflow/platform/taskqueue"
)

// Run is the exported entry point for the orchestrator service.
//
// It loads configuration, connects Redis and the result store, starts the
// job worker on the orchestrator queue and serves the ops HTTP surface. The
// function blocks until SIGINT or SIGTERM.
//
// Environment variables used (see shared/config for the full list):
//   - REDIS_URL: registry store, task queue and worker heartbeats
//   - RESULTS_BACKEND: mongo, postgres or memory
//   - RESOLUTION_POLICY: ANY, DEFAULT or STRICT
//   - PORT: ops HTTP port (default: 8090)
func Run() {
	log.Println("Starting NLPFlow Orchestrator...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[CONFIG] %v", err)
	}
	subtaskTimeout, err := cfg.SubtaskTimeout()
	if err != nil {
		log.Fatalf("[CONFIG] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := taskqueue.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("[REDIS] %v", err)
	}
	defer client.Close()
	log.Printf("[REDIS] Connected: %s", cfg.RedisURL)

	queue := taskqueue.NewRedisQueue(client, taskqueue.Options{})
	reg := registry.New(registry.NewRedisStore(client, registry.DefaultPrefix), queue, ServiceTypes())

	store, err := results.Open(ctx, cfg.Results)
	if err != nil {
		log.Fatalf("[RESULTS] %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Printf("[RESULTS] close: %v", err)
		}
	}()
	log.Printf("[RESULTS] Using %s backend", cfg.Results.Backend)

	res, err := resolver.New(cfg.Resolution.Policy, cfg.Resolution.DefaultServices)
	if err != nil {
		log.Fatalf("[CONFIG] %v", err)
	}
	log.Printf("[RESOLVER] Policy %s, defaults %s", res.Policy(), config.FormatDefaultServices(cfg.Resolution.DefaultServices))

	orch := New(reg, res, queue, store, Options{
		ServiceName:    cfg.Orchestrator.ServiceName,
		Language:       cfg.Resolution.Language,
		SubtaskTimeout: subtaskTimeout,
	})

	worker := taskqueue.NewWorker(queue, taskqueue.WorkerConfig{
		Name:        cfg.Orchestrator.ServiceName,
		Queues:      []string{cfg.Orchestrator.Queue},
		Concurrency: cfg.Orchestrator.Concurrency,
	})
	worker.Handle(JobTaskName, orch.HandleJob)

	jobs := NewJobService(queue, store, cfg.Orchestrator.Queue)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewRouter(NewAPI(jobs, reg, cfg.Resolution.Language)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := worker.Run(ctx); err != nil {
			log.Printf("[WORKER] %v", err)
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		log.Printf("NLPFlow Orchestrator listening on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[HTTP] %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down NLPFlow Orchestrator...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[HTTP] shutdown: %v", err)
	}
	wg.Wait()
}
