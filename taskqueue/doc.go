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

// Package taskqueue is a small Redis-backed task queue with Celery-like
// semantics: named tasks are pushed onto named queues with a keyword-argument
// payload, consumed by Workers, and their state (PENDING, STARTED, SUCCESS,
// FAILURE, REVOKED) is kept in a per-task hash that callers can poll or await.
//
// Key layout, all under a configurable prefix:
//
//	<prefix>:queue:<name>     list of pending task messages (LPUSH / BRPOP)
//	<prefix>:task:<id>        hash holding status, result, error and meta
//	<prefix>:revoked:<id>     revoke marker checked by workers
//	<prefix>:worker:<ident>   heartbeat key, expires when the worker dies
//
// Terminal states are final. A late worker write never overwrites a REVOKED
// task, and revoking a finished task leaves it unchanged.
package taskqueue
