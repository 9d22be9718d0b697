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

/*
Command orchestrator runs the NLPFlow orchestrator service.

The orchestrator consumes jobs from its queue, resolves each enabled NLP
subtask to a live subservice, dispatches and awaits the subtasks in order
and persists the consolidated result. A small ops HTTP surface reports job
status, results and the current service snapshot.

# Usage

	orchestrator

# Environment Variables

  - REDIS_URL: registry store, task queue and worker heartbeats
  - RESULTS_BACKEND: mongo (default), postgres, s3 or memory
  - MONGO_URI, MONGO_DATABASE, RESULTS_COLLECTION: mongo result store
  - DATABASE_URL: postgres result store
  - S3_BUCKET, S3_PREFIX, AWS_REGION, S3_ENDPOINT, S3_FORCE_PATH_STYLE: s3 result store
  - S3_ACCESS_KEY_ID, S3_SECRET_ACCESS_KEY: optional static credentials for s3
  - RESOLUTION_POLICY: ANY, DEFAULT (default) or STRICT
  - DEFAULT_SERVICES: default service per type, e.g. "keyword_extraction=freq-extractor"
  - SERVICE_LANGUAGE: language filter applied to the registry
  - ORCHESTRATOR_QUEUE: job queue name (default: orchestrator)
  - SUBTASK_TIMEOUT: how long to await one subtask (default: 10m, 0 waits for the job)
  - PORT: ops HTTP port (default: 8090)
  - NLPFLOW_CONFIG_FILE: optional YAML file overlaid on the environment

# Example

	export REDIS_URL="redis://localhost:6379/0"
	export RESOLUTION_POLICY=DEFAULT
	export DEFAULT_SERVICES="keyword_extraction=freq-extractor"
	./orchestrator
*/
package main
