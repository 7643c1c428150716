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

// Package phase defines the phase contract: the unit of work a Phaser
// drives through a deterministic lifecycle, together with the observable
// update events it emits along the way.
package phase

import (
	"context"
	"time"

	"github.com/gravitational/trace"
)

// RunState is a coarse phase category.
type RunState string

// Run states a phase can be in over its lifetime.
const (
	RunStateCreated    RunState = "CREATED"
	RunStatePending    RunState = "PENDING"
	RunStateEvaluating RunState = "EVALUATING"
	RunStateWaiting    RunState = "WAITING"
	RunStateInQueue    RunState = "IN_QUEUE"
	RunStateExecuting  RunState = "EXECUTING"
	RunStateEnded      RunState = "ENDED"
	RunStateNone       RunState = "NONE"
)

// TerminationStatus is the terminal outcome of a phase or an entire run.
type TerminationStatus string

// Termination statuses a phase (or a Phaser) can end in.
const (
	StatusCompleted   TerminationStatus = "COMPLETED"
	StatusStopped     TerminationStatus = "STOPPED"
	StatusCancelled   TerminationStatus = "CANCELLED"
	StatusFailed      TerminationStatus = "FAILED"
	StatusError       TerminationStatus = "ERROR"
	StatusInterrupted TerminationStatus = "INTERRUPTED"
	StatusTimeout     TerminationStatus = "TIMEOUT"
	StatusOverlap     TerminationStatus = "OVERLAP"
	StatusUnsatisfied TerminationStatus = "UNSATISFIED"
	StatusNone        TerminationStatus = "NONE"
)

// FaultCategoryUncaughtException is the Fault.Category a Base records
// when a Runnable returns a plain error (or panics) rather than an
// explicit *Terminated — an uncaught exception in reference-design terms.
// A Phaser remaps a child's FAILED termination of this category to its
// own ERROR status, per the distinction between a run explicitly
// declaring failure and one crashing out unexpectedly.
const FaultCategoryUncaughtException = "UNCAUGHT_PHASE_RUN_EXCEPTION"

// Fault describes an underlying failure that produced a non-COMPLETED
// termination.
type Fault struct {
	// Category classifies the fault, e.g. "UNCAUGHT_PHASE_RUN_EXCEPTION".
	Category string `json:"category"`
	// Message is a human-readable description of the failure.
	Message string `json:"message"`
	// Stack is an optional stack trace captured at fault time.
	Stack string `json:"stack,omitempty"`
}

// TerminationInfo is the immutable terminal state of a phase.
type TerminationInfo struct {
	// Status is the terminal outcome.
	Status TerminationStatus `json:"status"`
	// TerminatedAt is when the phase reached this terminal state.
	TerminatedAt time.Time `json:"terminated_at"`
	// Fault optionally explains a non-COMPLETED status.
	Fault *Fault `json:"fault,omitempty"`
}

// Stage distinguishes the two points in a phase's run at which an update
// event fires.
type Stage string

// Stages an UpdateEvent can carry.
const (
	StageRunning Stage = "RUNNING"
	StageEnded   Stage = "ENDED"
)

// UpdateEvent is delivered to observers at phase entry (RUNNING) and phase
// exit (ENDED).
type UpdateEvent struct {
	// Detail is a snapshot of the phase at the time of the event.
	Detail Detail
	// Stage marks which point in the lifecycle this event represents.
	Stage Stage
	// At is the event timestamp.
	At time.Time
}

// Detail is a serializable snapshot of a phase's public state, used both
// for observer delivery and for the control-plane's introspection
// responses.
type Detail struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	RunState    RunState          `json:"run_state"`
	Name        string            `json:"name,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   time.Time         `json:"started_at,omitempty"`
	Termination *TerminationInfo  `json:"termination,omitempty"`
	Children    []Detail          `json:"children,omitempty"`
}

// Observer receives phase update events.
type Observer interface {
	OnPhaseUpdate(UpdateEvent)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(UpdateEvent)

// OnPhaseUpdate implements Observer.
func (f ObserverFunc) OnPhaseUpdate(e UpdateEvent) { f(e) }

// ObserverHandle identifies a previously registered observer so it can be
// removed later.
type ObserverHandle uint64

// Phase is the contract every node in a phase tree satisfies. Composite
// phases (SequentialPhase) expose the same contract as leaves, so a
// Phaser can drive either without special-casing.
type Phase interface {
	// ID returns the phase's identity, unique within its tree.
	ID() string
	// Type returns the phase's type name.
	Type() string
	// RunState returns the phase's current run state.
	RunState() RunState
	// Name returns the optional human-readable phase name.
	Name() string
	// Attributes returns the phase's free-form string attributes.
	Attributes() map[string]string
	// Children returns the phase's direct children, empty for leaves.
	Children() []Phase
	// Control returns the phase-type-specific control handle, or nil.
	Control() interface{}
	// CreatedAt returns the construction timestamp.
	CreatedAt() time.Time
	// StartedAt returns the timestamp Run was entered, zero if not yet run.
	StartedAt() time.Time
	// Termination returns the captured termination, or nil while running.
	Termination() *TerminationInfo
	// Detail returns a point-in-time snapshot of the phase.
	Detail() Detail
	// Run drives the phase to completion or to a non-COMPLETED termination.
	Run(ctx context.Context) error
	// Stop requests the phase to unblock and terminate early. Idempotent.
	Stop()
	// StopStatus reports the termination status this phase type declares
	// for an external Stop, independent of whether it is currently
	// running. A Phaser stopped between phases has no running child to
	// ask for its actual termination, so it asks the last-current phase
	// this declarative question instead. Most phases report STOPPED;
	// coordination phases whose contract calls for CANCELLED (Approval,
	// ExecutionQueue) override it.
	StopStatus() TerminationStatus
	// AddPhaseObserver registers obs at the given priority (lower runs
	// first; ties break by registration order). If replayLastUpdate is
	// true, the phase's current Detail/stage is delivered synchronously
	// to obs before AddPhaseObserver returns.
	AddPhaseObserver(obs Observer, priority int, replayLastUpdate bool) ObserverHandle
	// RemovePhaseObserver unregisters a previously added observer.
	RemovePhaseObserver(handle ObserverHandle)
}

// FindPhaseControl performs a depth-first search over {root} union its
// descendants for a phase with the given id, and returns its Control
// handle. If phaseType is non-empty and the matched phase's Type differs,
// it fails with a PhaseTypeMismatch error (use IsPhaseTypeMismatch to test
// for it).
func FindPhaseControl(root Phase, phaseID string, phaseType string) (interface{}, error) {
	found := findPhase(root, phaseID)
	if found == nil {
		return nil, trace.NotFound("phase %q not found", phaseID)
	}
	if phaseType != "" && found.Type() != phaseType {
		return nil, &TypeMismatchError{PhaseID: phaseID, Expected: phaseType, Actual: found.Type()}
	}
	return found.Control(), nil
}

func findPhase(root Phase, phaseID string) Phase {
	if root.ID() == phaseID {
		return root
	}
	for _, child := range root.Children() {
		if found := findPhase(child, phaseID); found != nil {
			return found
		}
	}
	return nil
}

// TypeMismatchError is returned by FindPhaseControl when a phase is found
// by id but its type does not match the requested one.
type TypeMismatchError struct {
	PhaseID  string
	Expected string
	Actual   string
}

func (e *TypeMismatchError) Error() string {
	return trace.Errorf("phase %q has type %q, expected %q", e.PhaseID, e.Actual, e.Expected).Error()
}

// IsPhaseTypeMismatch reports whether err is a *TypeMismatchError.
func IsPhaseTypeMismatch(err error) bool {
	_, ok := err.(*TypeMismatchError)
	return ok
}
