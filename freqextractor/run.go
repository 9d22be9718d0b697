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

// Package freqextractor is a keyword extraction subservice that ranks the
// terms of its input by frequency. It registers itself as service type
// "keyword_extraction" and serves TaskName.
package freqextractor

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"nlpflow/platform/registry"
	"nlpflow/platform/shared/config"
	"nlpflow/platform/subservice"
	"nlpflow/platform/taskqueue"
)

const version = "1.0.0"

// Defaults are the settings the binary ships with; the environment
// overrides them (see config.LoadService).
var Defaults = config.ServiceConfig{
	ServiceName:     "freq-extractor",
	ServiceType:     "keyword_extraction",
	ServiceLanguage: "en",
	QueueName:       "kwe_q",
	Version:         version,
}

// Handle is the task handler for TaskName
func Handle(tc *taskqueue.TaskContext, kwargs map[string]interface{}) (interface{}, error) {
	text, err := textFromKwargs(kwargs)
	if err != nil {
		return nil, err
	}
	opts, err := optionsFromKwargs(kwargs)
	if err != nil {
		return nil, err
	}
	return Extract(text, opts), nil
}

// Run starts the freq-extractor subservice and blocks until SIGINT or SIGTERM
func Run() {
	log.Println("Starting freq-extractor...")

	cfg, err := config.LoadService(Defaults)
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

	queue := taskqueue.NewRedisQueue(client, taskqueue.Options{})
	svc, err := subservice.New(queue, registry.NewRedisStore(client, registry.DefaultPrefix), *cfg, "")
	if err != nil {
		log.Fatalf("[CONFIG] %v", err)
	}
	svc.Handle(TaskName, Handle)

	log.Printf("freq-extractor serving %s as %s", cfg.QueueName, svc.Identity())
	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[SERVICE] %v", err)
	}
	log.Println("freq-extractor stopped")
}
