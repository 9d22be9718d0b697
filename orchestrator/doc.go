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
Package orchestrator provides the NLPFlow orchestrator service: it drives
multi-step NLP jobs across a dynamically changing fleet of subservices.

# Overview

A job is a Request naming which subtasks to run, each optionally pinned to a
service name and carrying free-form parameters:

	{
	    "origin": "api",
	    "input": {"text": "..."},
	    "config": {
	        "language_modeling":  {"enabled": false},
	        "keyword_extraction": {"enabled": true, "service_name": "freq-extractor",
	                               "parameters": {"top_k": 10}}
	    }
	}

JobService.Submit enqueues the job on the orchestrator queue. A taskqueue
worker picks it up and calls Orchestrator.Execute, which runs the pipeline:

	parse → for each enabled subtask: snapshot → resolve → dispatch → await
	      → postprocessing (store result) → resource id

Subtasks run one after the other. Each receives its parameters, the job
input and the outputs of earlier subtasks under "upstream".

# Resolution

Each subtask is resolved against a fresh registry snapshot taken with the
liveness sweep enabled, using the process-wide policy (ANY, DEFAULT or
STRICT) bound into the resolver at startup. A resolution failure aborts the
job: steps already run stay DONE, the failing step is FAILED and no result
is stored.

# Status

JobService.JobStatus reports pending, started (with the progression
snapshot), done (with the resource id) or failed (with the reason). The ops
HTTP surface exposes the same information:

	GET    /health
	GET    /prometheus
	GET    /api/v1/jobs/{id}
	DELETE /api/v1/jobs/{id}
	GET    /api/v1/results/{id}
	GET    /api/v1/services
*/
package orchestrator
