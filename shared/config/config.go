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
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"nlpflow/platform/shared/types"
)

// Result store backends
const (
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendS3       = "s3"
)

// Config is the process configuration shared by the orchestrator and the
// subservice runtime.
type Config struct {
	RedisURL     string             `yaml:"redis_url"`
	Port         string             `yaml:"port"`
	Results      ResultsConfig      `yaml:"results"`
	Resolution   ResolutionConfig   `yaml:"resolution"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// ResultsConfig selects and configures the result store backend
type ResultsConfig struct {
	Backend       string `yaml:"backend"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
	Collection    string `yaml:"collection"`
	DatabaseURL   string `yaml:"database_url"`

	S3 S3Config `yaml:"s3"`
}

// S3Config locates the bucket of the s3 results backend. Without static
// keys the default AWS credential chain is used.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// ResolutionConfig holds the inputs of the resolution policy engine.
// It is read once at startup and threaded into the orchestrator.
type ResolutionConfig struct {
	Policy          types.ResolutionPolicy `yaml:"policy"`
	DefaultServices map[string]string      `yaml:"default_services"`
	Language        string                 `yaml:"language"`
}

// OrchestratorConfig tunes the orchestrator worker
type OrchestratorConfig struct {
	ServiceName    string `yaml:"service_name"`
	Queue          string `yaml:"queue"`
	Concurrency    int    `yaml:"concurrency"`
	SubtaskTimeout string `yaml:"subtask_timeout"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		RedisURL: "redis://localhost:6379/0",
		Port:     "8090",
		Results: ResultsConfig{
			Backend:       BackendMongo,
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "nlpflow",
			Collection:    "results",
			S3: S3Config{
				Prefix: "results/",
				Region: "us-east-1",
			},
		},
		Resolution: ResolutionConfig{
			Policy:          types.PolicyDefault,
			DefaultServices: map[string]string{},
		},
		Orchestrator: OrchestratorConfig{
			ServiceName:    "orchestrator",
			Queue:          "orchestrator",
			Concurrency:    4,
			SubtaskTimeout: "10m",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// NLPFLOW_CONFIG_FILE, and environment variables, in increasing precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("NLPFLOW_CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.Port = getEnv("PORT", c.Port)

	c.Results.Backend = getEnv("RESULTS_BACKEND", c.Results.Backend)
	c.Results.MongoURI = getEnv("MONGO_URI", c.Results.MongoURI)
	c.Results.MongoDatabase = getEnv("MONGO_DATABASE", c.Results.MongoDatabase)
	c.Results.Collection = getEnv("RESULTS_COLLECTION", c.Results.Collection)
	c.Results.DatabaseURL = getEnv("DATABASE_URL", c.Results.DatabaseURL)
	c.Results.S3.Bucket = getEnv("S3_BUCKET", c.Results.S3.Bucket)
	c.Results.S3.Prefix = getEnv("S3_PREFIX", c.Results.S3.Prefix)
	c.Results.S3.Region = getEnv("AWS_REGION", c.Results.S3.Region)
	c.Results.S3.Endpoint = getEnv("S3_ENDPOINT", c.Results.S3.Endpoint)
	c.Results.S3.AccessKeyID = getEnv("S3_ACCESS_KEY_ID", c.Results.S3.AccessKeyID)
	c.Results.S3.SecretAccessKey = getEnv("S3_SECRET_ACCESS_KEY", c.Results.S3.SecretAccessKey)
	if raw := os.Getenv("S3_FORCE_PATH_STYLE"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid S3_FORCE_PATH_STYLE %q: %w", raw, err)
		}
		c.Results.S3.ForcePathStyle = v
	}

	if raw := os.Getenv("RESOLUTION_POLICY"); raw != "" {
		policy, err := types.ParseResolutionPolicy(raw)
		if err != nil {
			return err
		}
		c.Resolution.Policy = policy
	}
	if raw := os.Getenv("DEFAULT_SERVICES"); raw != "" {
		defaults, err := ParseDefaultServices(raw)
		if err != nil {
			return err
		}
		c.Resolution.DefaultServices = defaults
	}
	c.Resolution.Language = getEnv("SERVICE_LANGUAGE", c.Resolution.Language)

	c.Orchestrator.ServiceName = getEnv("SERVICE_NAME", c.Orchestrator.ServiceName)
	c.Orchestrator.Queue = getEnv("ORCHESTRATOR_QUEUE", c.Orchestrator.Queue)
	c.Orchestrator.SubtaskTimeout = getEnv("SUBTASK_TIMEOUT", c.Orchestrator.SubtaskTimeout)
	if raw := os.Getenv("WORKER_CONCURRENCY"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid WORKER_CONCURRENCY %q: %w", raw, err)
		}
		c.Orchestrator.Concurrency = n
	}
	return nil
}

// Validate checks the configuration for values the services cannot start with
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("redis_url is required")
	}

	// Policies coming from YAML are not normalized by ParseResolutionPolicy
	policy, err := types.ParseResolutionPolicy(string(c.Resolution.Policy))
	if err != nil {
		return err
	}
	c.Resolution.Policy = policy

	switch c.Results.Backend {
	case BackendMongo:
		if c.Results.MongoURI == "" || c.Results.MongoDatabase == "" {
			return fmt.Errorf("mongo results backend requires mongo_uri and mongo_database")
		}
	case BackendPostgres:
		if c.Results.DatabaseURL == "" {
			return fmt.Errorf("postgres results backend requires database_url")
		}
	case BackendS3:
		if c.Results.S3.Bucket == "" {
			return fmt.Errorf("s3 results backend requires a bucket")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown results backend %q", c.Results.Backend)
	}

	if c.Orchestrator.Queue == "" {
		return fmt.Errorf("orchestrator queue name is required")
	}
	if c.Orchestrator.Concurrency <= 0 {
		return fmt.Errorf("orchestrator concurrency must be positive, got %d", c.Orchestrator.Concurrency)
	}
	if _, err := c.SubtaskTimeout(); err != nil {
		return err
	}
	return nil
}

// SubtaskTimeout returns how long the orchestrator waits for one subtask.
// Zero disables the limit; the wait then ends only with the job context.
func (c *Config) SubtaskTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Orchestrator.SubtaskTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid subtask timeout %q: %w", c.Orchestrator.SubtaskTimeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("subtask timeout must not be negative, got %s", d)
	}
	return d, nil
}

// ParseDefaultServices parses "type=name,type=name" into a map
func ParseDefaultServices(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("invalid default service entry %q (expected type=name)", pair)
		}
		out[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return out, nil
}

// FormatDefaultServices is the inverse of ParseDefaultServices, with keys sorted
func FormatDefaultServices(defaults map[string]string) string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+defaults[k])
	}
	return strings.Join(pairs, ",")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envVarRegex matches ${VAR_NAME} or $VAR_NAME patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars expands ${VAR}, ${VAR:-default} and $VAR references.
// Undefined variables without a default expand to the empty string.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}
