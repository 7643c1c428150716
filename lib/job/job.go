/*
Copyright 2026 The Runjob Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package job holds the process-local view of one job run: its phase
// tree, output buffer, and the serializable snapshot the control-plane
// and event dispatchers hand out.
package job

import (
	"context"
	"sync"
	"time"

	"github.com/gravitational/runjob/lib/phase"
	"github.com/gravitational/runjob/lib/phaser"
)

// OutputLine is one line of captured job output.
type OutputLine struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
	// IsError marks output captured from the job's error stream.
	IsError bool `json:"is_error,omitempty"`
}

// OutputBuffer is a bounded, ring-style buffer of the most recent output
// lines a job has produced, used to answer get_output_tail without
// retaining unbounded memory for long-running jobs.
type OutputBuffer struct {
	mu       sync.Mutex
	lines    []OutputLine
	capacity int
}

// NewOutputBuffer returns a buffer retaining at most capacity lines.
func NewOutputBuffer(capacity int) *OutputBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &OutputBuffer{capacity: capacity}
}

// Append records a line, evicting the oldest line if at capacity.
func (b *OutputBuffer) Append(line OutputLine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.capacity {
		b.lines = b.lines[len(b.lines)-b.capacity:]
	}
}

// Tail returns the last n lines (or fewer if not that many are buffered).
// A non-positive n returns every buffered line.
func (b *OutputBuffer) Tail(n int) []OutputLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.lines) {
		n = len(b.lines)
	}
	out := make([]OutputLine, n)
	copy(out, b.lines[len(b.lines)-n:])
	return out
}

// JobRun is the serializable snapshot of an Instance handed out by the
// control-plane and carried in transition-event payloads.
type JobRun struct {
	InstanceID  string            `json:"instance_id"`
	Type        string            `json:"type,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	RunState    phase.RunState    `json:"run_state"`
	Termination *phase.TerminationInfo `json:"termination,omitempty"`
	Root        phase.Detail      `json:"phases"`
}

// Instance is one job's process-local state: its driver, phase tree
// root, and output sink. The control-plane registry and event
// dispatchers operate on Instances by id.
type Instance struct {
	id         string
	jobType    string
	attributes map[string]string
	root       phase.Phase
	driver     *phaser.Phaser
	output     *OutputBuffer
}

// New wraps an already-constructed phase tree root and its driving
// Phaser into a registrable Instance.
func New(id, jobType string, attributes map[string]string, root phase.Phase, driver *phaser.Phaser, outputCapacity int) *Instance {
	return &Instance{
		id:         id,
		jobType:    jobType,
		attributes: attributes,
		root:       root,
		driver:     driver,
		output:     NewOutputBuffer(outputCapacity),
	}
}

// ID returns the instance's id.
func (i *Instance) ID() string { return i.id }

// Root returns the instance's phase tree root.
func (i *Instance) Root() phase.Phase { return i.root }

// Driver returns the Phaser driving this instance's phase tree.
func (i *Instance) Driver() *phaser.Phaser { return i.driver }

// Output returns the instance's captured-output buffer.
func (i *Instance) Output() *OutputBuffer { return i.output }

// Run primes and runs the instance's Phaser, blocking until the run
// reaches a terminal state.
func (i *Instance) Run(ctx context.Context) error {
	i.driver.Prime()
	return i.driver.Run(ctx)
}

// Stop requests the instance's run to stop early.
func (i *Instance) Stop() { i.driver.Stop() }

// FindPhaseControl resolves a phase-specific control handle by id,
// optionally constrained to a phase type.
func (i *Instance) FindPhaseControl(phaseID, phaseType string) (interface{}, error) {
	return phase.FindPhaseControl(i.root, phaseID, phaseType)
}

// Snapshot produces the serializable view of this instance's current
// state.
func (i *Instance) Snapshot() JobRun {
	return JobRun{
		InstanceID:  i.id,
		Type:        i.jobType,
		Attributes:  i.attributes,
		RunState:    i.root.RunState(),
		Termination: i.driver.Termination(),
		Root:        i.root.Detail(),
	}
}
