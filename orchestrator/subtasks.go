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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"nlpflow/platform/resolver"
)

// Subtask kinds, in pipeline order, and the trailing step
const (
	KindLanguageModeling  = "language_modeling"
	KindKeywordExtraction = "keyword_extraction"
	StepPostprocessing    = "postprocessing"
)

var (
	ErrUnknownSubtask    = errors.New("unknown subtask")
	ErrMalformedConfig   = errors.New("malformed subtask configuration")
	ErrNoSubtasksEnabled = errors.New("no subtask enabled")
)

type subtaskSpec struct {
	kind        string
	serviceType string
	taskName    string
}

// catalog is the fixed, ordered list of subtasks a job may run. Later
// subtasks receive the outputs of earlier ones.
var catalog = []subtaskSpec{
	{kind: KindLanguageModeling, serviceType: "language_modeling", taskName: "language_modeling.process"},
	{kind: KindKeywordExtraction, serviceType: "keyword_extraction", taskName: "keyword_extraction.extract"},
}

// ServiceTypes returns the service types the pipeline can dispatch to
func ServiceTypes() []string {
	out := make([]string, 0, len(catalog))
	for _, entry := range catalog {
		out = append(out, entry.serviceType)
	}
	return out
}

// Request is one processing request
type Request struct {
	Origin string                     `json:"origin"`
	Input  json.RawMessage            `json:"input,omitempty"`
	Config map[string]json.RawMessage `json:"config"`
}

type subtaskBlock struct {
	Enabled     bool                   `json:"enabled"`
	ServiceName string                 `json:"service_name"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// BuildSubtasks turns the request configuration into one SubtaskConfig per
// catalog entry, in pipeline order. Subtasks absent from the configuration
// are disabled.
func BuildSubtasks(config map[string]json.RawMessage) ([]*resolver.SubtaskConfig, error) {
	known := make(map[string]struct{}, len(catalog))
	for _, entry := range catalog {
		known[entry.kind] = struct{}{}
	}
	var unknown []string
	for key := range config {
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %v", ErrUnknownSubtask, unknown)
	}

	out := make([]*resolver.SubtaskConfig, 0, len(catalog))
	enabled := 0
	for _, entry := range catalog {
		sub := &resolver.SubtaskConfig{
			Kind:        entry.kind,
			ServiceType: entry.serviceType,
			TaskName:    entry.taskName,
		}

		if raw, ok := config[entry.kind]; ok {
			block, err := decodeBlock(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrMalformedConfig, entry.kind, err)
			}
			sub.Enabled = block.Enabled
			sub.RequestedServiceName = block.ServiceName
			sub.Parameters = block.Parameters
		}
		if sub.Enabled {
			enabled++
		}
		out = append(out, sub)
	}

	if enabled == 0 {
		return nil, ErrNoSubtasksEnabled
	}
	return out, nil
}

func decodeBlock(raw json.RawMessage) (subtaskBlock, error) {
	var block subtaskBlock
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return block, errors.New("empty block")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&block); err != nil {
		return block, err
	}
	return block, nil
}
