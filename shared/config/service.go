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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServiceConfig configures one NLP subservice process
type ServiceConfig struct {
	RedisURL          string
	ServiceName       string
	ServiceType       string
	ServiceLanguage   string
	QueueName         string
	Version           string
	Concurrency       int
	HeartbeatInterval time.Duration
}

// LoadService overlays the environment on the defaults a subservice binary
// ships with. QUEUE_NAME defaults to "<service_name>_q".
func LoadService(defaults ServiceConfig) (*ServiceConfig, error) {
	cfg := defaults
	if cfg.RedisURL == "" {
		cfg.RedisURL = Default().RedisURL
	}
	if cfg.ServiceLanguage == "" {
		cfg.ServiceLanguage = "*"
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 1
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}

	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.ServiceName = getEnv("SERVICE_NAME", cfg.ServiceName)
	cfg.ServiceType = getEnv("SERVICE_TYPE", cfg.ServiceType)
	cfg.ServiceLanguage = getEnv("SERVICE_LANGUAGE", cfg.ServiceLanguage)
	cfg.QueueName = getEnv("QUEUE_NAME", cfg.QueueName)
	cfg.Version = getEnv("SERVICE_VERSION", cfg.Version)

	if raw := os.Getenv("WORKER_CONCURRENCY"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid WORKER_CONCURRENCY %q: %w", raw, err)
		}
		cfg.Concurrency = n
	}
	if raw := os.Getenv("HEARTBEAT_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid HEARTBEAT_INTERVAL %q: %w", raw, err)
		}
		cfg.HeartbeatInterval = d
	}

	if cfg.QueueName == "" && cfg.ServiceName != "" {
		cfg.QueueName = cfg.ServiceName + "_q"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields a subservice needs to register itself
func (c *ServiceConfig) Validate() error {
	switch {
	case c.ServiceName == "":
		return fmt.Errorf("service name is required")
	case c.ServiceType == "":
		return fmt.Errorf("service type is required")
	case strings.ContainsAny(c.ServiceName+c.ServiceType, ":"):
		return fmt.Errorf("service name and type must not contain ':'")
	case c.Concurrency <= 0:
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	case c.HeartbeatInterval <= 0:
		return fmt.Errorf("heartbeat interval must be positive, got %s", c.HeartbeatInterval)
	}
	return nil
}
