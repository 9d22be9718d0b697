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
Package types provides shared types for NLPFlow components.

# Overview

This package contains value types shared between the orchestrator, the
resolution engine and configuration loading, so that every component agrees
on a single spelling of each enum.

# Resolution Policies

ResolutionPolicy governs subtasks that do not name an explicit service:

  - ANY: pick a live instance of the service type (lowest name first)
  - DEFAULT: use the default service declared for the type
  - STRICT: fail; every subtask must name its service

	policy, err := types.ParseResolutionPolicy(os.Getenv("RESOLUTION_POLICY"))

# Thread Safety

All types in this package are value types and are safe for concurrent use.
*/
package types
