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

package phase

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gravitational/runjob/lib/metrics"
)

// Terminated is returned by a Runnable's Execute to signal "refuse to
// proceed" with a specific, non-COMPLETED termination status. It replaces
// the reference implementation's ExecutionTerminated exception with a
// plain Go error value.
type Terminated struct {
	Status TerminationStatus
	Cause  error
}

func (t *Terminated) Error() string {
	if t.Cause != nil {
		return fmt.Sprintf("phase terminated: %s: %v", t.Status, t.Cause)
	}
	return fmt.Sprintf("phase terminated: %s", t.Status)
}

func (t *Terminated) Unwrap() error { return t.Cause }

// AsTerminated reports whether err is itself a *Terminated and returns it
// if so. Wrapped errors are not unwrapped, so a *PhaseCompletionError
// whose cause is a *Terminated does not match.
func AsTerminated(err error) (*Terminated, bool) {
	t, ok := err.(*Terminated)
	return t, ok
}

// Runnable is the subclass hook Base drives. _run in the reference design
// corresponds to Execute here.
type Runnable interface {
	// Execute performs the phase's actual work. A nil return means
	// COMPLETED; a *Terminated return yields its Status; any other error
	// yields FAILED with an UNCAUGHT_PHASE_RUN_EXCEPTION fault.
	Execute(ctx context.Context) error
}

// Base implements the canonical phase lifecycle wrapper: it timestamps
// entry/exit, emits RUNNING/ENDED update events, and classifies the
// Runnable's outcome into a TerminationInfo exactly once. Phase
// implementations embed Base and supply a Runnable.
type Base struct {
	id         string
	typ        string
	name       string
	attributes map[string]string
	clock      clockwork.Clock

	mu          sync.Mutex
	runState    RunState
	createdAt   time.Time
	startedAt   time.Time
	termination *TerminationInfo
	childrenFn  func() []Phase

	observers *observerRegistry
	control   interface{}
	runnable  Runnable
}

// NewBase constructs the embeddable phase lifecycle state. runnable
// supplies Execute; control is the phase-type-specific control handle
// (may be nil); clock, if nil, defaults to the real wall clock.
func NewBase(id, typ, name string, attributes map[string]string, initialState RunState, control interface{}, runnable Runnable, clock clockwork.Clock) *Base {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Base{
		id:         id,
		typ:        typ,
		name:       name,
		attributes: attributes,
		clock:      clock,
		runState:   initialState,
		createdAt:  clock.Now(),
		observers:  newObserverRegistry(nil),
		control:    control,
		runnable:   runnable,
	}
}

func (b *Base) ID() string           { return b.id }
func (b *Base) Type() string         { return b.typ }
func (b *Base) Name() string         { return b.name }
func (b *Base) Control() interface{} { return b.control }

// SetChildrenFunc lets a composite phase supply its live children list for
// Detail()/Children() without Base needing to know about composites.
func (b *Base) SetChildrenFunc(fn func() []Phase) { b.childrenFn = fn }

func (b *Base) Attributes() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.attributes))
	for k, v := range b.attributes {
		out[k] = v
	}
	return out
}

// Children returns no children for a leaf phase; composites supply
// childrenFn via SetChildrenFunc.
func (b *Base) Children() []Phase {
	if b.childrenFn != nil {
		return b.childrenFn()
	}
	return nil
}

func (b *Base) RunState() RunState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runState
}

// SetRunState updates the run state under lock. Composite/coordination
// phases call this to reflect phase-specific state transitions (e.g.
// PENDING, EVALUATING) beyond the base CREATED/ENDED pair.
func (b *Base) SetRunState(s RunState) {
	b.mu.Lock()
	b.runState = s
	b.mu.Unlock()
}

func (b *Base) CreatedAt() time.Time { return b.createdAt }

func (b *Base) StartedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startedAt
}

func (b *Base) Termination() *TerminationInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.termination
}

func (b *Base) Detail() Detail {
	b.mu.Lock()
	attrs := make(map[string]string, len(b.attributes))
	for k, v := range b.attributes {
		attrs[k] = v
	}
	d := Detail{
		ID:          b.id,
		Type:        b.typ,
		RunState:    b.runState,
		Name:        b.name,
		Attributes:  attrs,
		CreatedAt:   b.createdAt,
		StartedAt:   b.startedAt,
		Termination: b.termination,
	}
	b.mu.Unlock()
	for _, c := range b.Children() {
		d.Children = append(d.Children, c.Detail())
	}
	return d
}

// AddPhaseObserver registers obs and, if requested, synchronously replays
// the current snapshot before returning.
func (b *Base) AddPhaseObserver(obs Observer, priority int, replayLastUpdate bool) ObserverHandle {
	handle := b.observers.add(obs, priority)
	if replayLastUpdate {
		stage := StageRunning
		at := b.StartedAt()
		if t := b.Termination(); t != nil {
			stage = StageEnded
			at = t.TerminatedAt
		}
		b.observers.deliverOne(obs, UpdateEvent{Detail: b.Detail(), Stage: stage, At: at})
	}
	return handle
}

// RemovePhaseObserver unregisters a previously added observer.
func (b *Base) RemovePhaseObserver(handle ObserverHandle) {
	b.observers.remove(handle)
}

// emit dispatches event to this phase's observers. Composite phases in
// this package call it to re-emit their children's events through their
// own set.
func (b *Base) emit(event UpdateEvent) {
	b.observers.dispatch(event)
}

// Run implements the canonical lifecycle: timestamp entry, emit RUNNING,
// invoke Execute, classify and capture termination exactly once, emit
// ENDED, and propagate process-level cancellation or the classified
// failure to the caller.
func (b *Base) Run(ctx context.Context) error {
	b.mu.Lock()
	b.startedAt = b.clock.Now()
	b.mu.Unlock()
	b.emit(UpdateEvent{Detail: b.Detail(), Stage: StageRunning, At: b.StartedAt()})

	err := b.safeExecute(ctx)

	info, propagate := b.classify(ctx, err)
	b.mu.Lock()
	if b.termination == nil {
		b.termination = &info
	}
	final := *b.termination
	b.mu.Unlock()
	metrics.PhaseTerminations.WithLabelValues(b.typ, string(final.Status)).Inc()
	b.emit(UpdateEvent{Detail: b.Detail(), Stage: StageEnded, At: final.TerminatedAt})
	return propagate
}

// safeExecute recovers a panicking Runnable and turns it into a plain
// error so classify can route it through the same FAILED path as any
// other uncaught exception.
func (b *Base) safeExecute(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in phase %q: %v\n%s", b.id, rec, debug.Stack())
		}
	}()
	return b.runnable.Execute(ctx)
}

// classify maps the Runnable's result to a TerminationInfo following the
// BasePhase.Run table, and decides what (if anything) Run should
// propagate to its caller.
func (b *Base) classify(ctx context.Context, err error) (TerminationInfo, error) {
	now := b.clock.Now()
	if err == nil {
		return TerminationInfo{Status: StatusCompleted, TerminatedAt: now}, nil
	}
	if terminated, ok := AsTerminated(err); ok {
		info := TerminationInfo{Status: terminated.Status, TerminatedAt: now}
		if terminated.Cause != nil {
			info.Fault = &Fault{Category: "TERMINATED", Message: terminated.Cause.Error()}
		}
		return info, &PhaseCompletionError{Info: info, Cause: err}
	}
	if ctx.Err() != nil {
		// Base.Stop is a no-op; a phase embedding Base supplies itself as
		// the Runnable, so its own Stop override is reached through it.
		if stopper, ok := b.runnable.(interface{ Stop() }); ok {
			stopper.Stop()
		} else {
			b.Stop()
		}
		info := TerminationInfo{Status: StatusInterrupted, TerminatedAt: now}
		return info, ctx.Err()
	}
	info := TerminationInfo{
		Status:       StatusFailed,
		TerminatedAt: now,
		Fault:        &Fault{Category: FaultCategoryUncaughtException, Message: err.Error()},
	}
	return info, &PhaseCompletionError{Info: info, Cause: err}
}

// Stop is a no-op at the Base level; phases that can actually block
// override it (e.g. SequentialPhase forwards to the current child).
func (b *Base) Stop() {}

// StopStatus reports STOPPED, the default for any phase that doesn't
// override it.
func (b *Base) StopStatus() TerminationStatus { return StatusStopped }

// PhaseCompletionError wraps the TerminationInfo a phase settled on when
// its Run did not complete cleanly, so callers can inspect both the
// classified status and the original cause.
type PhaseCompletionError struct {
	Info  TerminationInfo
	Cause error
}

func (e *PhaseCompletionError) Error() string {
	if e.Info.Fault != nil {
		return fmt.Sprintf("phase completed with status %s: %s", e.Info.Status, e.Info.Fault.Message)
	}
	return fmt.Sprintf("phase completed with status %s", e.Info.Status)
}

func (e *PhaseCompletionError) Unwrap() error { return e.Cause }
