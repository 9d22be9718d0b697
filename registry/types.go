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

package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Registration is one registry document: a single worker process announcing
// that it serves ServiceName on QueueName. The host identifier is not part of
// the document body; it is the last segment of the document ID.
type Registration struct {
	ID              string                 `json:"-"`
	HostIdentifier  string                 `json:"-"`
	ServiceName     string                 `json:"service_name"`
	ServiceType     string                 `json:"service_type"`
	ServiceLanguage string                 `json:"service_language"`
	QueueName       string                 `json:"queue_name"`
	Info            map[string]interface{} `json:"info,omitempty"`
	LastAlive       time.Time              `json:"last_alive"`
	Version         string                 `json:"version"`
	Concurrency     int                    `json:"concurrency"`
}

// HostEntry is one live process backing a ServiceInstance
type HostEntry struct {
	HostIdentifier string    `json:"host_identifier"`
	DocumentID     string    `json:"document_id"`
	LastAlive      time.Time `json:"last_alive"`
	Version        string    `json:"version"`
	Concurrency    int       `json:"concurrency"`
}

// ServiceInstance groups every registration sharing a service name within a type
type ServiceInstance struct {
	ServiceName     string      `json:"service_name"`
	ServiceType     string      `json:"service_type"`
	ServiceLanguage string      `json:"service_language"`
	QueueName       string      `json:"queue_name"`
	Hosts           []HostEntry `json:"hosts"`
}

// Snapshot is an immutable point-in-time view of the registry:
// service type -> service name -> instance.
type Snapshot struct {
	services map[string]map[string]ServiceInstance
}

// Instances returns the instances of a service type ordered by service name
func (s Snapshot) Instances(serviceType string) []ServiceInstance {
	byName := s.services[serviceType]
	out := make([]ServiceInstance, 0, len(byName))
	for _, inst := range byName {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceName < out[j].ServiceName })
	return out
}

// Lookup finds a service instance by type and name
func (s Snapshot) Lookup(serviceType, serviceName string) (ServiceInstance, bool) {
	inst, ok := s.services[serviceType][serviceName]
	return inst, ok
}

// Types returns the service types that have at least one instance
func (s Snapshot) Types() []string {
	out := make([]string, 0, len(s.services))
	for t, byName := range s.services {
		if len(byName) > 0 {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the total number of service instances
func (s Snapshot) Len() int {
	n := 0
	for _, byName := range s.services {
		n += len(byName)
	}
	return n
}

// MarshalJSON renders the snapshot as {type: [instances ordered by name]}
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := make(map[string][]ServiceInstance, len(s.services))
	for _, t := range s.Types() {
		out[t] = s.Instances(t)
	}
	return json.Marshal(out)
}

// SnapshotBuilder accumulates registrations into a Snapshot, merging
// registrations that share a service name into one instance.
type SnapshotBuilder struct {
	services map[string]map[string]ServiceInstance
}

// NewSnapshotBuilder returns an empty builder
func NewSnapshotBuilder() *SnapshotBuilder {
	return &SnapshotBuilder{services: make(map[string]map[string]ServiceInstance)}
}

// Add merges one registration into the snapshot being built
func (b *SnapshotBuilder) Add(reg Registration) *SnapshotBuilder {
	byName, ok := b.services[reg.ServiceType]
	if !ok {
		byName = make(map[string]ServiceInstance)
		b.services[reg.ServiceType] = byName
	}

	inst, ok := byName[reg.ServiceName]
	if !ok {
		inst = ServiceInstance{
			ServiceName: reg.ServiceName,
			ServiceType: reg.ServiceType,
		}
	}
	// Hosts of one service may disagree after a redeploy; the most recently
	// alive host decides where work goes, independent of scan order.
	if !ok || newerThanHosts(reg, inst.Hosts) {
		inst.ServiceLanguage = reg.ServiceLanguage
		inst.QueueName = reg.QueueName
	}
	inst.Hosts = append(inst.Hosts, HostEntry{
		HostIdentifier: reg.HostIdentifier,
		DocumentID:     reg.ID,
		LastAlive:      reg.LastAlive,
		Version:        reg.Version,
		Concurrency:    reg.Concurrency,
	})
	byName[reg.ServiceName] = inst
	return b
}

// Build returns a Snapshot detached from the builder
// newerThanHosts reports whether reg is more recent than every host so far.
// Equal timestamps fall back to the host identifier so the result is stable.
func newerThanHosts(reg Registration, hosts []HostEntry) bool {
	for _, h := range hosts {
		if h.LastAlive.After(reg.LastAlive) {
			return false
		}
		if h.LastAlive.Equal(reg.LastAlive) && h.HostIdentifier > reg.HostIdentifier {
			return false
		}
	}
	return true
}

func (b *SnapshotBuilder) Build() Snapshot {
	services := make(map[string]map[string]ServiceInstance, len(b.services))
	for t, byName := range b.services {
		copied := make(map[string]ServiceInstance, len(byName))
		for name, inst := range byName {
			inst.Hosts = append([]HostEntry(nil), inst.Hosts...)
			copied[name] = inst
		}
		services[t] = copied
	}
	return Snapshot{services: services}
}

const documentPrefix = "service"

// DocumentID builds the registry key of one registration
func DocumentID(serviceType, serviceName, hostIdentifier string) string {
	return strings.Join([]string{documentPrefix, serviceType, serviceName, hostIdentifier}, ":")
}

// ParseDocumentID splits a registry key into type, name and host. The host
// identifier may itself contain colons.
func ParseDocumentID(id string) (serviceType, serviceName, hostIdentifier string, err error) {
	parts := strings.SplitN(id, ":", 4)
	if len(parts) != 4 || parts[0] != documentPrefix || parts[1] == "" || parts[2] == "" || parts[3] == "" {
		return "", "", "", fmt.Errorf("malformed registry document id %q", id)
	}
	return parts[1], parts[2], parts[3], nil
}

// Validate checks that a registration can be stored under a well-formed key
func (r Registration) Validate() error {
	switch {
	case r.ServiceName == "":
		return fmt.Errorf("service_name is required")
	case r.ServiceType == "":
		return fmt.Errorf("service_type is required")
	case r.QueueName == "":
		return fmt.Errorf("queue_name is required")
	case r.HostIdentifier == "":
		return fmt.Errorf("host identifier is required")
	case strings.Contains(r.ServiceName, ":") || strings.Contains(r.ServiceType, ":"):
		return fmt.Errorf("service_name and service_type must not contain ':'")
	}
	return nil
}

// LanguageCompatible reports whether a service declaring the given language
// can serve a deployment configured for filter. An empty filter accepts
// everything; "*" declares a multilingual service.
func LanguageCompatible(declared, filter string) bool {
	declared = strings.ToLower(strings.TrimSpace(declared))
	filter = strings.ToLower(strings.TrimSpace(filter))

	if declared == "*" || filter == "" {
		return true
	}
	return declared == filter || strings.Contains(declared, filter)
}
