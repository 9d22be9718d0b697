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

// Command freq-extractor runs the frequency keyword extraction subservice.
//
// Environment Variables:
//
//	REDIS_URL - registry store and task queue
//	SERVICE_NAME - registry name (default: freq-extractor)
//	QUEUE_NAME - queue to consume (default: kwe_q)
//	SERVICE_LANGUAGE - declared language (default: en)
//	WORKER_CONCURRENCY - concurrent tasks (default: 1)
//	HEARTBEAT_INTERVAL - registry refresh interval (default: 10s)
package main

import (
	"nlpflow/platform/freqextractor"
)

func main() {
	freqextractor.Run()
}
