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

package orchestrator

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"nlpflow/platform/resolver"
)

var (
	promJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlpflow_orchestrator_jobs_total",
			Help: "Jobs executed by the orchestrator, by final status",
		},
		[]string{"status"},
	)
	promJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nlpflow_orchestrator_job_duration_milliseconds",
			Help:    "End-to-end job duration in milliseconds",
			Buckets: []float64{50, 100, 500, 1000, 5000, 10000, 30000, 60000, 300000},
		},
		[]string{"status"},
	)
	promResolutionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlpflow_orchestrator_resolution_failures_total",
			Help: "Subtask resolution failures by kind",
		},
		[]string{"kind"},
	)
	promDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlpflow_orchestrator_dispatches_total",
			Help: "Subtasks dispatched, by service type and outcome",
		},
		[]string{"service_type", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(promJobsTotal)
	prometheus.MustRegister(promJobDuration)
	prometheus.MustRegister(promResolutionFailures)
	prometheus.MustRegister(promDispatches)
}

var resolutionKinds = []struct {
	err   error
	label string
}{
	{resolver.ErrNoServiceAvailable, "no_service_available"},
	{resolver.ErrNoServiceSpecified, "no_service_specified"},
	{resolver.ErrNoDefaultDeclared, "no_default_declared"},
	{resolver.ErrDefaultUnavailable, "default_unavailable"},
	{resolver.ErrServiceUnavailable, "service_unavailable"},
	{resolver.ErrInvalidPolicy, "invalid_policy"},
}

func resolutionKind(err error) string {
	for _, k := range resolutionKinds {
		if errors.Is(err, k.err) {
			return k.label
		}
	}
	return "other"
}
