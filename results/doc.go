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

// Package results persists finalized orchestration results.
//
// Every Push writes one immutable Record under a freshly generated resource
// id that is independent of the job id. Fetch returns only the stored result
// payload. A missing id is reported as (nil, false, nil); infrastructure
// failures are *StorageError values matching ErrStoreUnavailable.
//
// Backends: MongoStore (default), PostgresStore, S3Store and MemoryStore.
package results
