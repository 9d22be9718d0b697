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

// Package subservice is the runtime NLP workers are built on.
//
// A Service announces itself in the shared registry, refreshes that entry on
// every heartbeat, serves its task handlers from its queue through a
// taskqueue.Worker and withdraws the entry on shutdown. The registry host
// identifier is the worker identity, so the orchestrator's liveness sweep
// can match registry entries against live workers.
package subservice
