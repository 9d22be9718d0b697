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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nlpflow/platform/progression"
	"nlpflow/platform/registry"
	"nlpflow/platform/resolver"
	"nlpflow/platform/results"
	"nlpflow/platform/shared/logger"
	"nlpflow/platform/taskqueue"
)

// ServiceLister produces registry snapshots
type ServiceLister interface {
	ListAvailableServices(ctx context.Context, ensureAlive bool, languageFilter string) (registry.Snapshot, error)
}

// Dispatcher submits subtasks to worker queues and waits for them
type Dispatcher interface {
	Submit(ctx context.Context, queue, taskName string, kwargs map[string]interface{}) (string, error)
	Await(ctx context.Context, taskID string, timeout time.Duration) (taskqueue.TaskState, error)
	Revoke(ctx context.Context, taskID string) error
}

// Options configures an Orchestrator
type Options struct {
	// ServiceName is recorded on every stored result
	ServiceName string
	// Language filters registry entries by declared language
	Language string
	// SubtaskTimeout bounds the wait for one subtask; zero waits for ctx
	SubtaskTimeout time.Duration
}

// Orchestrator drives one job through resolution, dispatch and persistence
type Orchestrator struct {
	services   ServiceLister
	resolver   *resolver.Resolver
	dispatcher Dispatcher
	results    results.Store
	opts       Options
	log        *logger.Logger
}

// New creates an Orchestrator. The resolver carries the process-wide policy.
func New(services ServiceLister, res *resolver.Resolver, dispatcher Dispatcher, store results.Store, opts Options) *Orchestrator {
	if opts.ServiceName == "" {
		opts.ServiceName = "orchestrator"
	}
	return &Orchestrator{
		services:   services,
		resolver:   res,
		dispatcher: dispatcher,
		results:    store,
		opts:       opts,
		log:        logger.New("orchestrator"),
	}
}

// Execute runs the pipeline for one job and returns the resource id of the
// stored result. Subtasks run sequentially; each one is resolved against a
// fresh registry snapshot right before it is dispatched. Any failure aborts
// the job, marks the current step FAILED and is returned unchanged. observer
// may be nil; otherwise it receives the progression after every transition.
func (o *Orchestrator) Execute(ctx context.Context, jobID string, req Request, observer func(progression.Snapshot)) (resourceID string, err error) {
	start := time.Now()
	defer func() {
		status := "done"
		if err != nil {
			status = "failed"
		}
		promJobsTotal.WithLabelValues(status).Inc()
		promJobDuration.WithLabelValues(status).Observe(float64(time.Since(start).Milliseconds()))
	}()

	subtasks, err := BuildSubtasks(req.Config)
	if err != nil {
		o.log.ErrorWithErr(jobID, req.Origin, "Rejected job configuration", err, nil)
		return "", err
	}

	tracker, err := newTracker(subtasks)
	if err != nil {
		return "", err
	}
	if observer != nil {
		tracker.OnChange(observer)
		observer(tracker.Snapshot())
	}

	outputs := make(map[string]json.RawMessage, len(subtasks))
	for _, sub := range subtasks {
		if !sub.Enabled {
			continue
		}
		output, err := o.runSubtask(ctx, jobID, req, sub, outputs, tracker)
		if err != nil {
			o.failStep(tracker, jobID, req.Origin, sub.Kind)
			return "", err
		}
		outputs[sub.Kind] = output
	}

	resourceID, err = o.persist(ctx, jobID, req, subtasks, outputs, tracker)
	if err != nil {
		o.failStep(tracker, jobID, req.Origin, StepPostprocessing)
		return "", err
	}

	o.log.InfoWithDuration(jobID, req.Origin, "Job completed", float64(time.Since(start).Milliseconds()), map[string]interface{}{
		"resource_id": resourceID,
	})
	return resourceID, nil
}

func newTracker(subtasks []*resolver.SubtaskConfig) (*progression.Tracker, error) {
	specs := make([]progression.StepSpec, 0, len(subtasks)+1)
	for _, sub := range subtasks {
		specs = append(specs, progression.StepSpec{Name: sub.Kind, Required: sub.Enabled})
	}
	specs = append(specs, progression.StepSpec{Name: StepPostprocessing, Required: true})
	return progression.New(specs...)
}

func (o *Orchestrator) runSubtask(ctx context.Context, jobID string, req Request, sub *resolver.SubtaskConfig, upstream map[string]json.RawMessage, tracker *progression.Tracker) (json.RawMessage, error) {
	snap, err := o.services.ListAvailableServices(ctx, true, o.opts.Language)
	if err != nil {
		o.log.ErrorWithErr(jobID, req.Origin, "Registry lookup failed", err, map[string]interface{}{"subtask": sub.Kind})
		return nil, err
	}

	if err := o.resolver.Resolve(sub, snap); err != nil {
		promResolutionFailures.WithLabelValues(resolutionKind(err)).Inc()
		o.log.ErrorWithErr(jobID, req.Origin, "Subtask resolution failed", err, map[string]interface{}{
			"subtask": sub.Kind,
			"policy":  o.resolver.Policy().String(),
		})
		return nil, err
	}

	if err := tracker.Start(sub.Kind); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{
		"subtask":      sub.Kind,
		"service_name": sub.ResolvedServiceName,
		"queue":        sub.ResolvedQueueName,
	}

	taskID, err := o.dispatcher.Submit(ctx, sub.ResolvedQueueName, sub.TaskName, buildKwargs(sub, req.Input, upstream))
	if err != nil {
		promDispatches.WithLabelValues(sub.ServiceType, "submit_error").Inc()
		o.log.ErrorWithErr(jobID, req.Origin, "Subtask submission failed", err, fields)
		return nil, err
	}
	fields["task_id"] = taskID
	o.log.Info(jobID, req.Origin, "Subtask dispatched", fields)

	state, err := o.dispatcher.Await(ctx, taskID, o.opts.SubtaskTimeout)
	if err != nil {
		promDispatches.WithLabelValues(sub.ServiceType, "await_error").Inc()
		o.revokeAbandoned(taskID, jobID, req.Origin)
		o.log.ErrorWithErr(jobID, req.Origin, "Waiting for subtask failed", err, fields)
		return nil, err
	}
	if err := state.Err(); err != nil {
		promDispatches.WithLabelValues(sub.ServiceType, "failure").Inc()
		o.log.ErrorWithErr(jobID, req.Origin, "Subtask failed", err, fields)
		return nil, err
	}
	promDispatches.WithLabelValues(sub.ServiceType, "success").Inc()

	if err := tracker.Done(sub.Kind); err != nil {
		return nil, err
	}
	return state.Result, nil
}

// revokeAbandoned cancels a subtask nobody waits for anymore. It runs on a
// fresh context because the job context may already be done.
func (o *Orchestrator) revokeAbandoned(taskID, jobID, origin string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.dispatcher.Revoke(ctx, taskID); err != nil {
		o.log.Warn(jobID, origin, "Failed to revoke abandoned subtask", map[string]interface{}{
			"task_id": taskID,
			"error":   err.Error(),
		})
	}
}

// buildKwargs merges the subtask parameters with the job input and the
// outputs of the subtasks that already ran.
func buildKwargs(sub *resolver.SubtaskConfig, input json.RawMessage, upstream map[string]json.RawMessage) map[string]interface{} {
	kwargs := make(map[string]interface{}, len(sub.Parameters)+2)
	for k, v := range sub.Parameters {
		kwargs[k] = v
	}
	if len(input) > 0 {
		kwargs["input"] = input
	}
	if len(upstream) > 0 {
		prior := make(map[string]json.RawMessage, len(upstream))
		for k, v := range upstream {
			prior[k] = v
		}
		kwargs["upstream"] = prior
	}
	return kwargs
}

func (o *Orchestrator) persist(ctx context.Context, jobID string, req Request, subtasks []*resolver.SubtaskConfig, outputs map[string]json.RawMessage, tracker *progression.Tracker) (string, error) {
	if err := tracker.Start(StepPostprocessing); err != nil {
		return "", err
	}

	resolved := make([]*resolver.SubtaskConfig, 0, len(subtasks))
	for _, sub := range subtasks {
		if sub.Enabled {
			resolved = append(resolved, sub)
		}
	}
	configJSON, err := json.Marshal(map[string]interface{}{
		"policy":   o.resolver.Policy(),
		"subtasks": resolved,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode resolved configuration: %w", err)
	}
	resultJSON, err := json.Marshal(outputs)
	if err != nil {
		return "", fmt.Errorf("failed to encode consolidated result: %w", err)
	}

	resourceID, err := o.results.Push(ctx, jobID, req.Origin, o.opts.ServiceName, configJSON, resultJSON)
	if err != nil {
		o.log.ErrorWithErr(jobID, req.Origin, "Failed to store result", err, nil)
		return "", err
	}

	if err := tracker.Done(StepPostprocessing); err != nil {
		return "", err
	}
	return resourceID, nil
}

func (o *Orchestrator) failStep(tracker *progression.Tracker, jobID, origin, step string) {
	if err := tracker.Fail(step); err != nil && !errors.Is(err, progression.ErrInvalidTransition) {
		o.log.Warn(jobID, origin, "Failed to mark step failed", map[string]interface{}{
			"step":  step,
			"error": err.Error(),
		})
	}
}
