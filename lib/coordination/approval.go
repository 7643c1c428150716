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

// Package coordination implements the five cross-process gating phases
// a job pipeline can place ahead of its executing phase: Approval,
// Dependency, NoOverlap, Waiting, and ExecutionQueue.
package coordination

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gravitational/runjob/lib/phase"
)

// ApprovalControl is the control handle exposed to exec_phase_control
// for an Approval phase: the single operation callers invoke to release
// a waiting run.
type ApprovalControl interface {
	// Approve releases a blocked Approval phase, letting its run
	// proceed to COMPLETED.
	Approve()
	// IsApproved reports whether Approve has already been called.
	IsApproved() bool
}

// Approval blocks until externally approved, cancelled, or timed out.
type Approval struct {
	*phase.Base

	timeout  time.Duration
	clock    clockwork.Clock
	latch    chan struct{}
	approved chan struct{}
	stopped  chan struct{}
}

// NewApproval builds an Approval phase. A zero timeout waits indefinitely.
func NewApproval(id, name string, attributes map[string]string, timeout time.Duration, clock clockwork.Clock) *Approval {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	a := &Approval{
		timeout:  timeout,
		clock:    clock,
		latch:    make(chan struct{}),
		approved: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	a.Base = phase.NewBase(id, "approval", name, attributes, phase.RunStatePending, a, a, clock)
	return a
}

// Approve implements ApprovalControl.
func (a *Approval) Approve() {
	select {
	case <-a.approved:
	default:
		close(a.approved)
		a.release()
	}
}

// IsApproved implements ApprovalControl.
func (a *Approval) IsApproved() bool {
	select {
	case <-a.approved:
		return true
	default:
		return false
	}
}

func (a *Approval) release() {
	select {
	case <-a.latch:
	default:
		close(a.latch)
	}
}

// Execute blocks on the internal latch until Approve, Stop, or the
// configured timeout, whichever comes first.
func (a *Approval) Execute(ctx context.Context) error {
	var timeoutC <-chan time.Time
	if a.timeout > 0 {
		timer := a.clock.NewTimer(a.timeout)
		defer timer.Stop()
		timeoutC = timer.Chan()
	}

	select {
	case <-a.latch:
		if a.IsApproved() {
			return nil
		}
		// Stop was called: the phase terminates CANCELLED, the same
		// status StopStatus reports to a Phaser.
		return &phase.Terminated{Status: phase.StatusCancelled}
	case <-timeoutC:
		return &phase.Terminated{Status: phase.StatusTimeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop releases the latch without approving, yielding CANCELLED.
func (a *Approval) Stop() {
	select {
	case <-a.stopped:
	default:
		close(a.stopped)
	}
	a.release()
}

// StopStatus reports CANCELLED: an externally stopped Approval, whether
// stopped mid-wait or found already current between phases, never
// completed on its own terms.
func (a *Approval) StopStatus() phase.TerminationStatus { return phase.StatusCancelled }
