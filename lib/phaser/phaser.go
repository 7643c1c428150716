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

// Package phaser drives an ordered list of phases from an Init sentinel
// through a Terminal sentinel, enforcing the prime-then-run protocol and
// fleet-visible stop semantics described for the top-level Phaser.
package phaser

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/gravitational/runjob/lib/phase"
	"github.com/gravitational/trace"
)

// PhaseRun is one entry in a Phaser's lifecycle log: a phase entering a
// given run state at a given time.
type PhaseRun struct {
	PhaseID  string
	RunState phase.RunState
	EnteredAt time.Time
}

// Lifecycle is an ordered log of PhaseRuns.
type Lifecycle []PhaseRun

// PreviousRun returns the second-to-last entry, or the zero value if
// fewer than two transitions have happened.
func (l Lifecycle) PreviousRun() (PhaseRun, bool) {
	if len(l) < 2 {
		return PhaseRun{}, false
	}
	return l[len(l)-2], true
}

// CurrentRun returns the most recent entry, or the zero value if empty.
func (l Lifecycle) CurrentRun() (PhaseRun, bool) {
	if len(l) == 0 {
		return PhaseRun{}, false
	}
	return l[len(l)-1], true
}

// PhaseCount returns the number of recorded transitions.
func (l Lifecycle) PhaseCount() int { return len(l) }

// TransitionHook is called on every phase transition, outside any lock
// held by the Phaser. Its own errors never abort the run: Phaser logs
// them and continues.
type TransitionHook func(run PhaseRun)

// Phaser drives a fixed, ordered list of phases: an implicit Init
// sentinel, the caller-supplied phases in declaration order, and an
// implicit Terminal sentinel.
type Phaser struct {
	phases []phase.Phase
	clock  clockwork.Clock
	hook   TransitionHook
	log    logrus.FieldLogger

	mu              sync.Mutex
	transitioned    chan struct{}
	started         bool
	primed          bool
	abort           bool
	stopRequested   bool
	stopStatus      phase.TerminationStatus
	terminationInfo *phase.TerminationInfo
	currentPhase    phase.Phase
	lifecycle       Lifecycle
}

// Config configures a new Phaser.
type Config struct {
	// Phases is the ordered list of phases to run, excluding the implicit
	// Init/Terminal sentinels.
	Phases []phase.Phase
	// Clock is the time source; defaults to the real wall clock.
	Clock clockwork.Clock
	// TransitionHook, if set, is invoked on every phase transition.
	TransitionHook TransitionHook
	// Logger overrides the default logger.
	Logger logrus.FieldLogger
}

// New constructs a Phaser from config. It does not start anything; callers
// must call Prime and then Run.
func New(config Config) (*Phaser, error) {
	if len(config.Phases) == 0 {
		return nil, trace.BadParameter("missing Phases")
	}
	seen := make(map[string]struct{}, len(config.Phases))
	for _, p := range config.Phases {
		if _, dup := seen[p.ID()]; dup {
			return nil, trace.BadParameter("duplicate phase id %q", p.ID())
		}
		seen[p.ID()] = struct{}{}
	}
	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log := config.Logger
	if log == nil {
		log = logrus.WithField(trace.Component, "phaser")
	}
	p := &Phaser{
		phases:       config.Phases,
		clock:        clock,
		hook:         config.TransitionHook,
		log:          log,
		transitioned: make(chan struct{}),
	}
	return p, nil
}

// broadcastLocked wakes every WaitForTransition call blocked on the
// current lifecycle generation. Must be called with p.mu held.
func (p *Phaser) broadcastLocked() {
	close(p.transitioned)
	p.transitioned = make(chan struct{})
}

// Prime sets the Phaser's current phase to the Init sentinel and records
// the first lifecycle entry. It must be called exactly once before Run.
// If Stop was already called, Prime is a no-op.
func (p *Phaser) Prime() {
	p.mu.Lock()
	if p.abort {
		p.mu.Unlock()
		return
	}
	if p.primed {
		p.mu.Unlock()
		return
	}
	p.primed = true
	initPhase := phase.NewInit(p.clock)
	run := PhaseRun{PhaseID: initPhase.ID(), RunState: initPhase.RunState(), EnteredAt: p.clock.Now()}
	p.currentPhase = initPhase
	p.lifecycle = append(p.lifecycle, run)
	p.broadcastLocked()
	p.mu.Unlock()

	p.fireHook(run)
}

// Run iterates the configured phases in declaration order, running each
// to completion, and finishes by transitioning to the Terminal sentinel.
// It fails with a trace.BadParameter error if the Phaser was not primed
// or has already started.
func (p *Phaser) Run(ctx context.Context) error {
	p.mu.Lock()
	if !p.primed {
		p.mu.Unlock()
		return trace.BadParameter("phaser not primed")
	}
	if p.started {
		p.mu.Unlock()
		return trace.BadParameter("phaser already started")
	}
	p.started = true
	p.mu.Unlock()

	var captured error

	for _, ph := range p.phases {
		p.mu.Lock()
		if p.terminationInfo != nil || p.stopStatus != "" {
			p.mu.Unlock()
			break
		}
		p.currentPhase = ph
		run := PhaseRun{PhaseID: ph.ID(), RunState: ph.RunState(), EnteredAt: p.clock.Now()}
		p.lifecycle = append(p.lifecycle, run)
		p.broadcastLocked()
		p.mu.Unlock()

		p.fireHook(run)

		err := ph.Run(ctx)
		if err != nil {
			if _, ok := phase.AsTerminated(err); ok {
				// Classified termination already lives on the phase; the
				// loop's post-check below picks it up from Termination().
			} else if _, ok := err.(*phase.PhaseCompletionError); ok {
				captured = err
			} else {
				captured = err
			}
		}

		if term := ph.Termination(); term != nil && term.Status != phase.StatusCompleted {
			info := *term
			// An uncaught exception in a phase is a generic crash, not a
			// deliberate domain failure: the phase itself still records
			// FAILED (per Base.classify), but the Phaser-level outcome
			// remaps to ERROR, matching the source's distinct FailedRun
			// (-> Phaser FAILED) versus generic Exception (-> Phaser
			// ERROR) branches.
			if info.Status == phase.StatusFailed && info.Fault != nil && info.Fault.Category == phase.FaultCategoryUncaughtException {
				info.Status = phase.StatusError
			}
			p.mu.Lock()
			p.terminationInfo = &info
			p.mu.Unlock()
			break
		}
	}

	p.mu.Lock()
	if p.terminationInfo == nil {
		if p.stopStatus != "" {
			info := phase.TerminationInfo{Status: p.stopStatus, TerminatedAt: p.clock.Now()}
			p.terminationInfo = &info
		} else {
			info := phase.TerminationInfo{Status: phase.StatusCompleted, TerminatedAt: p.clock.Now()}
			p.terminationInfo = &info
		}
	}
	terminalPhase := phase.NewTerminal(p.clock)
	p.currentPhase = terminalPhase
	run := PhaseRun{PhaseID: terminalPhase.ID(), RunState: terminalPhase.RunState(), EnteredAt: p.clock.Now()}
	p.lifecycle = append(p.lifecycle, run)
	p.broadcastLocked()
	p.mu.Unlock()

	p.fireHook(run)

	return captured
}

// Stop requests the Phaser to stop. It is idempotent: once a termination
// has been recorded, Stop is a no-op. If called before Run has started,
// it marks the run as aborted so a subsequent Prime becomes a no-op and
// Run never does any work. Otherwise it records the stop status by
// asking the current phase's StopStatus (STOPPED by default; Approval
// and ExecutionQueue declare CANCELLED) — this covers "stop between
// phases" too, where the current phase has already completed and there
// is no running child left to observe a termination from — and forwards
// Stop to the current phase outside the lock.
func (p *Phaser) Stop() {
	p.mu.Lock()
	if p.terminationInfo != nil {
		p.mu.Unlock()
		return
	}
	if p.stopStatus == "" {
		status := phase.StatusStopped
		if p.currentPhase != nil {
			status = p.currentPhase.StopStatus()
		}
		p.stopStatus = status
	}
	current := p.currentPhase
	started := p.started
	if !started {
		p.abort = true
	}
	p.mu.Unlock()

	if current != nil {
		current.Stop()
	}
}

// WaitForTransition blocks until a PhaseRun matching phaseID and/or
// runState has occurred (either selector may be empty/zero to mean "any"),
// or until timeout elapses. A non-positive timeout waits indefinitely. It
// returns true if a matching transition was observed, false on timeout.
func (p *Phaser) WaitForTransition(phaseID string, runState phase.RunState, timeout time.Duration) bool {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = p.clock.Now().Add(timeout)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	start := len(p.lifecycle)
	for {
		for i := start; i < len(p.lifecycle); i++ {
			run := p.lifecycle[i]
			if matchesSelector(run, phaseID, runState) {
				return true
			}
		}
		start = len(p.lifecycle)

		if !deadline.IsZero() && !p.clock.Now().Before(deadline) {
			return false
		}

		ch := p.transitioned
		var timeoutC <-chan time.Time
		if !deadline.IsZero() {
			timeoutC = time.After(time.Until(deadline))
		}
		p.mu.Unlock()
		select {
		case <-ch:
		case <-timeoutC:
		}
		p.mu.Lock()
	}
}

func matchesSelector(run PhaseRun, phaseID string, runState phase.RunState) bool {
	if phaseID == "" && runState == "" {
		return true
	}
	if phaseID != "" && run.PhaseID != phaseID {
		return false
	}
	if runState != "" && run.RunState != runState {
		return false
	}
	return true
}

func (p *Phaser) fireHook(run PhaseRun) {
	if p.hook == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			p.log.WithField("panic", rec).Warn("Transition hook panicked, ignoring.")
		}
	}()
	p.hook(run)
}

// Lifecycle returns a copy of the recorded transition log.
func (p *Phaser) Lifecycle() Lifecycle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(Lifecycle, len(p.lifecycle))
	copy(out, p.lifecycle)
	return out
}

// CurrentPhase returns the phase the Phaser is currently (or most
// recently) on.
func (p *Phaser) CurrentPhase() phase.Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentPhase
}

// Termination returns the Phaser's terminal outcome, or nil while running.
func (p *Phaser) Termination() *phase.TerminationInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminationInfo
}
