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
	"fmt"

	"nlpflow/platform/registry"
	"nlpflow/platform/shared/types"
)

// SubtaskConfig is one requested unit of work. The Resolved* fields and
// Available are written by Resolve, and only when resolution succeeds.
type SubtaskConfig struct {
	Kind                 string                 `json:"kind"`
	ServiceType          string                 `json:"service_type"`
	TaskName             string                 `json:"task_name"`
	Enabled              bool                   `json:"enabled"`
	RequestedServiceName string                 `json:"requested_service_name,omitempty"`
	Parameters           map[string]interface{} `json:"parameters,omitempty"`

	ResolvedServiceName string `json:"resolved_service_name,omitempty"`
	ResolvedQueueName   string `json:"resolved_queue_name,omitempty"`
	Available           bool   `json:"available"`
}

// Resolve maps a subtask to a concrete (service, queue) pair using the given
// snapshot. It performs no I/O; its only side effect is the mutation of cfg on
// success. Disabled subtasks resolve trivially and are left untouched.
func Resolve(cfg *SubtaskConfig, snap registry.Snapshot, policy types.ResolutionPolicy, defaults map[string]string) error {
	if !cfg.Enabled {
		return nil
	}
	if !policy.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidPolicy, policy)
	}

	candidates := snap.Instances(cfg.ServiceType)
	if len(candidates) == 0 {
		return newResolutionError(ErrNoServiceAvailable, cfg, cfg.RequestedServiceName, policy)
	}

	// Explicit requests are honored under every policy
	if cfg.RequestedServiceName != "" {
		inst, ok := snap.Lookup(cfg.ServiceType, cfg.RequestedServiceName)
		if !ok {
			return newResolutionError(ErrServiceUnavailable, cfg, cfg.RequestedServiceName, policy)
		}
		apply(cfg, inst)
		return nil
	}

	switch policy {
	case types.PolicyStrict:
		return newResolutionError(ErrNoServiceSpecified, cfg, "", policy)

	case types.PolicyDefault:
		name, ok := defaults[cfg.ServiceType]
		if !ok || name == "" {
			return newResolutionError(ErrNoDefaultDeclared, cfg, "", policy)
		}
		inst, ok := snap.Lookup(cfg.ServiceType, name)
		if !ok {
			return newResolutionError(ErrDefaultUnavailable, cfg, name, policy)
		}
		apply(cfg, inst)
		return nil

	default: // types.PolicyAny
		// Instances are ordered by name, so the pick is stable per snapshot
		apply(cfg, candidates[0])
		return nil
	}
}

func apply(cfg *SubtaskConfig, inst registry.ServiceInstance) {
	cfg.ResolvedServiceName = inst.ServiceName
	cfg.ResolvedQueueName = inst.QueueName
	cfg.Available = true
}

// Resolver binds the process-wide policy and default service names, which are
// read once at startup.
type Resolver struct {
	policy   types.ResolutionPolicy
	defaults map[string]string
}

// New validates the policy and returns a Resolver
func New(policy types.ResolutionPolicy, defaults map[string]string) (*Resolver, error) {
	if !policy.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPolicy, policy)
	}
	copied := make(map[string]string, len(defaults))
	for k, v := range defaults {
		copied[k] = v
	}
	return &Resolver{policy: policy, defaults: copied}, nil
}

// Policy returns the configured policy
func (r *Resolver) Policy() types.ResolutionPolicy {
	return r.policy
}

// Resolve applies the configured policy to one subtask
func (r *Resolver) Resolve(cfg *SubtaskConfig, snap registry.Snapshot) error {
	return Resolve(cfg, snap, r.policy, r.defaults)
}
