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

// Package registry discovers which NLP subservice instances are currently
// registered and alive.
//
// Subservices announce themselves as JSON documents in a shared Redis keyspace
// keyed "service:<type>:<name>:<host>". The Registry reads those documents per
// service type, filters them by language, optionally drops (and deletes) the
// ones whose host no longer appears among the task queue's active workers, and
// merges the rest into an immutable Snapshot grouped by type and name.
//
// The liveness sweep is a best-effort garbage collection pass. Several
// orchestrators may prune the same entry concurrently; deleting an entry that
// is already gone is not an error.
package registry
