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

package subservice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nlpflow/platform/registry"
	"nlpflow/platform/shared/config"
	"nlpflow/platform/shared/logger"
	"nlpflow/platform/taskqueue"
)

// Service is one running subservice process
type Service struct {
	cfg    config.ServiceConfig
	store  registry.Store
	worker *taskqueue.Worker
	tasks  []string
	log    *logger.Logger
}

// New creates a Service consuming cfg.QueueName. hostname may be empty to
// use the OS hostname.
func New(queue *taskqueue.RedisQueue, store registry.Store, cfg config.ServiceConfig, hostname string) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("queue name is required")
	}

	worker := taskqueue.NewWorker(queue, taskqueue.WorkerConfig{
		Name:              cfg.ServiceName,
		Hostname:          hostname,
		Queues:            []string{cfg.QueueName},
		Concurrency:       cfg.Concurrency,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})

	log := logger.New("subservice").With(map[string]interface{}{
		"service_name": cfg.ServiceName,
		"host":         worker.Identity(),
	})

	return &Service{
		cfg:    cfg,
		store:  store,
		worker: worker,
		log:    log,
	}, nil
}

// Handle registers a task handler. Handlers must be registered before Run.
func (s *Service) Handle(taskName string, h taskqueue.HandlerFunc) {
	s.worker.Handle(taskName, h)
	s.tasks = append(s.tasks, taskName)
}

// Identity returns the worker identity, which is also the registry host id
func (s *Service) Identity() string {
	return s.worker.Identity()
}

// Registration returns the registry document announced for this process
func (s *Service) Registration() registry.Registration {
	return registry.Registration{
		ID:              registry.DocumentID(s.cfg.ServiceType, s.cfg.ServiceName, s.Identity()),
		HostIdentifier:  s.Identity(),
		ServiceName:     s.cfg.ServiceName,
		ServiceType:     s.cfg.ServiceType,
		ServiceLanguage: s.cfg.ServiceLanguage,
		QueueName:       s.cfg.QueueName,
		Info:            map[string]interface{}{"tasks": s.tasks},
		LastAlive:       time.Now().UTC(),
		Version:         s.cfg.Version,
		Concurrency:     s.cfg.Concurrency,
	}
}

func (s *Service) registrationTTL() time.Duration {
	return 3 * s.cfg.HeartbeatInterval
}

func (s *Service) announce(ctx context.Context) error {
	return s.store.Put(ctx, s.Registration(), s.registrationTTL())
}

// Run announces the service and serves tasks until ctx is cancelled. The
// registry entry is refreshed on every heartbeat and removed on return.
func (s *Service) Run(ctx context.Context) error {
	// A registry entry without a live heartbeat is pruned by the orchestrator
	if err := s.worker.Beat(ctx); err != nil {
		return fmt.Errorf("failed to register service: worker heartbeat: %w", err)
	}
	if err := s.announce(ctx); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	s.log.Info("", "", "Service registered", map[string]interface{}{
		"service_type": s.cfg.ServiceType,
		"queue":        s.cfg.QueueName,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.refreshLoop(runCtx)
	}()

	err := s.worker.Run(runCtx)
	cancel()
	wg.Wait()

	cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cleanupCancel()
	if derr := s.store.Delete(cleanupCtx, s.Registration().ID); derr != nil {
		s.log.Warn("", "", "Failed to deregister service", map[string]interface{}{"error": derr.Error()})
	} else {
		s.log.Info("", "", "Service deregistered", nil)
	}
	return err
}

func (s *Service) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.announce(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("", "", "Failed to refresh registration", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
