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

// Package resolver decides which live service instance handles a subtask.
//
// Resolution is a pure function of the subtask, a registry snapshot, the
// configured policy and the declared default services:
//
//   - disabled subtasks resolve trivially
//   - an explicitly requested service is used if it is live, under any policy
//   - otherwise STRICT fails, DEFAULT uses the declared default for the
//     service type, and ANY picks the instance with the lowest name
//
// Every failure is a *ResolutionError wrapping one of the Err* kinds.
package resolver
