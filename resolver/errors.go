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

package resolver

import (
	"errors"
	"fmt"

	"nlpflow/platform/shared/types"
)

// Resolution failure kinds. Each is matchable with errors.Is on the
// *ResolutionError returned by Resolve.
var (
	ErrNoServiceAvailable = errors.New("no service available for type")
	ErrNoServiceSpecified = errors.New("no service specified")
	ErrNoDefaultDeclared  = errors.New("no default service declared")
	ErrDefaultUnavailable = errors.New("default service unavailable")
	ErrServiceUnavailable = errors.New("requested service unavailable")
	ErrInvalidPolicy      = errors.New("invalid resolution policy")
)

// ResolutionError carries the context needed to diagnose a failed resolution
type ResolutionError struct {
	Kind        error
	ServiceType string
	ServiceName string
	Policy      types.ResolutionPolicy
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("%s (service_type=%s", e.Kind.Error(), e.ServiceType)
	if e.ServiceName != "" {
		msg += ", service_name=" + e.ServiceName
	}
	return msg + ", policy=" + e.Policy.String() + ")"
}

func (e *ResolutionError) Unwrap() error {
	return e.Kind
}

func newResolutionError(kind error, cfg *SubtaskConfig, serviceName string, policy types.ResolutionPolicy) *ResolutionError {
	return &ResolutionError{
		Kind:        kind,
		ServiceType: cfg.ServiceType,
		ServiceName: serviceName,
		Policy:      policy,
	}
}
