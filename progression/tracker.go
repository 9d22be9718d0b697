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

package progression

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle state of a single step
type State string

const (
	StatePending State = "PENDING"
	StateStarted State = "STARTED"
	StateDone    State = "DONE"
	StateFailed  State = "FAILED"
)

// IsTerminal reports whether no further transition is accepted
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

var (
	ErrUnknownStep       = errors.New("unknown progression step")
	ErrInvalidTransition = errors.New("invalid progression transition")
	ErrDuplicateStep     = errors.New("duplicate progression step")
)

// StepSpec declares one step at tracker creation
type StepSpec struct {
	Name     string
	Required bool
}

// StepStatus is the externally visible view of one step. Status and Progress
// are nil for optional steps.
type StepStatus struct {
	Name     string   `json:"name"`
	Required bool     `json:"required"`
	Status   *State   `json:"status,omitempty"`
	Progress *float64 `json:"progress,omitempty"`
}

// Snapshot is the ordered list of step views
type Snapshot []StepStatus

// Step returns the view of the named step
func (s Snapshot) Step(name string) (StepStatus, bool) {
	for _, st := range s {
		if st.Name == name {
			return st, true
		}
	}
	return StepStatus{}, false
}

// MarshalJSON renders the snapshot as an object keyed by step name, which is
// what polling clients consume. Key order follows encoding/json map rules;
// ordered access is available through the slice itself.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := make(map[string]StepStatus, len(s))
	for _, st := range s {
		out[st.Name] = st
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a snapshot from its object form. Step order is not
// preserved across the round trip.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var in map[string]StepStatus
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	out := make(Snapshot, 0, len(in))
	for name, st := range in {
		st.Name = name
		out = append(out, st)
	}
	*s = out
	return nil
}

type step struct {
	name     string
	required bool
	state    State
	progress float64
}

// Tracker records step transitions for one job. It is safe for concurrent use.
// The observer, if set, receives a snapshot after every accepted transition
// and is called without the tracker lock held.
type Tracker struct {
	mu       sync.Mutex
	steps    []*step
	index    map[string]*step
	observer func(Snapshot)
}

// New creates a tracker with every step PENDING
func New(specs ...StepSpec) (*Tracker, error) {
	t := &Tracker{index: make(map[string]*step, len(specs))}
	for _, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: empty name", ErrUnknownStep)
		}
		if _, dup := t.index[s.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStep, s.Name)
		}
		st := &step{name: s.Name, required: s.Required, state: StatePending}
		t.steps = append(t.steps, st)
		t.index[s.Name] = st
	}
	return t, nil
}

// OnChange sets the observer called after each accepted transition
func (t *Tracker) OnChange(fn func(Snapshot)) {
	t.mu.Lock()
	t.observer = fn
	t.mu.Unlock()
}

// Start moves a step from PENDING to STARTED
func (t *Tracker) Start(name string) error {
	return t.transition(name, func(st *step) error {
		if st.state != StatePending {
			return invalid(st, StateStarted)
		}
		st.state = StateStarted
		return nil
	})
}

// SetProgress records an intermediate progress value for a STARTED step.
// Values outside [0, 1] are clamped.
func (t *Tracker) SetProgress(name string, progress float64) error {
	return t.transition(name, func(st *step) error {
		if st.state != StateStarted {
			return fmt.Errorf("%w: %s is %s, progress needs %s", ErrInvalidTransition, st.name, st.state, StateStarted)
		}
		switch {
		case progress < 0:
			progress = 0
		case progress > 1:
			progress = 1
		}
		st.progress = progress
		return nil
	})
}

// Done moves a step from STARTED to DONE
func (t *Tracker) Done(name string) error {
	return t.transition(name, func(st *step) error {
		if st.state != StateStarted {
			return invalid(st, StateDone)
		}
		st.state = StateDone
		st.progress = 1
		return nil
	})
}

// Fail moves a PENDING or STARTED step to FAILED
func (t *Tracker) Fail(name string) error {
	return t.transition(name, func(st *step) error {
		if st.state.IsTerminal() {
			return invalid(st, StateFailed)
		}
		st.state = StateFailed
		return nil
	})
}

// State returns the current state of a step
func (t *Tracker) State(name string) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.index[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownStep, name)
	}
	return st.state, nil
}

// Snapshot returns the ordered external view of all steps
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	out := make(Snapshot, 0, len(t.steps))
	for _, st := range t.steps {
		view := StepStatus{Name: st.name, Required: st.required}
		if st.required {
			state := st.state
			progress := st.progress
			if state == StatePending {
				progress = 0
			}
			view.Status = &state
			view.Progress = &progress
		}
		out = append(out, view)
	}
	return out
}

func (t *Tracker) transition(name string, apply func(*step) error) error {
	t.mu.Lock()
	st, ok := t.index[name]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownStep, name)
	}
	if err := apply(st); err != nil {
		t.mu.Unlock()
		return err
	}
	observer := t.observer
	var snap Snapshot
	if observer != nil {
		snap = t.snapshotLocked()
	}
	t.mu.Unlock()

	if observer != nil {
		observer(snap)
	}
	return nil
}

func invalid(st *step, to State) error {
	return fmt.Errorf("%w: %s cannot move from %s to %s", ErrInvalidTransition, st.name, st.state, to)
}
