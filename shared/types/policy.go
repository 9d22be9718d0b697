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

package types

import (
	"fmt"
	"strings"
)

// ResolutionPolicy decides what happens when a subtask does not name the
// service instance it wants.
type ResolutionPolicy string

const (
	// PolicyAny picks any live instance of the requested service type
	PolicyAny ResolutionPolicy = "ANY"
	// PolicyDefault falls back to the service declared as default for the type
	PolicyDefault ResolutionPolicy = "DEFAULT"
	// PolicyStrict requires every subtask to name its service explicitly
	PolicyStrict ResolutionPolicy = "STRICT"
)

// String returns the string representation of the ResolutionPolicy
func (p ResolutionPolicy) String() string {
	return string(p)
}

// IsValid returns true if the ResolutionPolicy is a valid known value
func (p ResolutionPolicy) IsValid() bool {
	switch p {
	case PolicyAny, PolicyDefault, PolicyStrict:
		return true
	default:
		return false
	}
}

// ParseResolutionPolicy converts a configuration string into a policy.
// Matching ignores case and surrounding whitespace.
func ParseResolutionPolicy(s string) (ResolutionPolicy, error) {
	p := ResolutionPolicy(strings.ToUpper(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("invalid resolution policy %q (expected ANY, DEFAULT or STRICT)", s)
	}
	return p, nil
}
