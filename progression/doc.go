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

// Package progression tracks the per-step status of one orchestration run.
//
// A Tracker holds a fixed, ordered list of named steps. Each step moves
// PENDING -> STARTED -> DONE, and may fail from PENDING or STARTED. DONE and
// FAILED are terminal. Snapshot produces the view served to status-polling
// clients; optional steps only report that they are not required.
package progression
