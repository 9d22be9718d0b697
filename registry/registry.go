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
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"nlpflow/platform/shared/logger"
)

// ErrRegistryUnavailable is returned when the registry store or the worker
// liveness source cannot be reached. No partial snapshot is returned with it.
var ErrRegistryUnavailable = errors.New("service registry unavailable")

// WorkerInspector lists the identities of the task-queue workers currently alive
type WorkerInspector interface {
	ActiveWorkers(ctx context.Context) ([]string, error)
}

var promPrunedEntries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nlpflow_registry_pruned_entries_total",
		Help: "Registry entries removed because their worker was no longer alive",
	},
	[]string{"service_type"},
)

func init() {
	prometheus.MustRegister(promPrunedEntries)
}

// Registry discovers live service instances for a fixed set of service types
type Registry struct {
	store        Store
	workers      WorkerInspector
	serviceTypes []string
	log          *logger.Logger
}

// New creates a Registry over the given store. workers may be nil when the
// caller never asks for a liveness sweep.
func New(store Store, workers WorkerInspector, serviceTypes []string) *Registry {
	return &Registry{
		store:        store,
		workers:      workers,
		serviceTypes: append([]string(nil), serviceTypes...),
		log:          logger.New("registry"),
	}
}

// ServiceTypes returns the service types this registry queries
func (r *Registry) ServiceTypes() []string {
	return append([]string(nil), r.serviceTypes...)
}

// ListAvailableServices builds a snapshot of every registered instance whose
// language is compatible with languageFilter. With ensureAlive set, entries
// whose host is not among the active workers are dropped from the snapshot
// and deleted from the store. The sweep is best effort: a failed delete is
// logged and the listing continues.
func (r *Registry) ListAvailableServices(ctx context.Context, ensureAlive bool, languageFilter string) (Snapshot, error) {
	var alive map[string]struct{}
	if ensureAlive {
		if r.workers == nil {
			return Snapshot{}, fmt.Errorf("%w: no worker inspector configured", ErrRegistryUnavailable)
		}
		ids, err := r.workers.ActiveWorkers(ctx)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: list active workers: %w", ErrRegistryUnavailable, err)
		}
		alive = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			alive[id] = struct{}{}
		}
	}

	builder := NewSnapshotBuilder()
	for _, serviceType := range r.serviceTypes {
		regs, err := r.store.QueryByType(ctx, serviceType)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: query %s: %w", ErrRegistryUnavailable, serviceType, err)
		}

		for _, reg := range regs {
			if !LanguageCompatible(reg.ServiceLanguage, languageFilter) {
				continue
			}
			if ensureAlive {
				if _, ok := alive[reg.HostIdentifier]; !ok {
					r.prune(ctx, reg)
					continue
				}
			}
			builder.Add(reg)
		}
	}
	return builder.Build(), nil
}

func (r *Registry) prune(ctx context.Context, reg Registration) {
	if err := r.store.Delete(ctx, reg.ID); err != nil {
		r.log.Warn("", "", "Failed to prune dead registry entry", map[string]interface{}{
			"document_id": reg.ID,
			"error":       err.Error(),
		})
		return
	}
	promPrunedEntries.WithLabelValues(reg.ServiceType).Inc()
	r.log.Info("", "", "Pruned dead registry entry", map[string]interface{}{
		"document_id":  reg.ID,
		"service_type": reg.ServiceType,
		"service_name": reg.ServiceName,
		"host":         reg.HostIdentifier,
	})
}
