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
Package logger provides structured JSON logging for NLPFlow components.

Each log entry is a single JSON line on stdout carrying the timestamp
(RFC3339Nano), level, component name, instance ID and container name, plus
the job ID and request origin when the entry belongs to an orchestration run.

	log := logger.New("orchestrator")

	log.Info(jobID, "api", "Subtask dispatched", map[string]interface{}{
	    "service_type": "keyword_extraction",
	    "queue":        "kwe_q",
	})

	log.ErrorWithErr(jobID, "api", "Subtask failed", err, nil)

Long-lived workers attach their identity once with With; every entry from the
child logger then carries those fields:

	wlog := logger.New("taskqueue-worker").With(map[string]interface{}{
	    "identity": "freq-extractor@node-1",
	})

The logger reads INSTANCE_ID and LOG_LEVEL (DEBUG, INFO, WARN or ERROR,
default INFO) from the environment and the container name from the hostname.
Children share their parent's output. Logging is safe for concurrent use.
*/
package logger
