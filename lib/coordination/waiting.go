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

package coordination

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gravitational/runjob/lib/phase"
)

// ConditionResult is what an ObservableCondition reports once it has
// resolved.
type ConditionResult int

// Results a ConditionResult can take.
const (
	ConditionPending ConditionResult = iota
	ConditionSuccess
	ConditionFailure
)

// ObservableCondition is an external predicate a Waiting phase
// subscribes to. StartEvaluation kicks off whatever async work produces
// a result; Stop cancels it. The condition calls the listener it was
// given whenever its result changes.
type ObservableCondition interface {
	// AddListener registers a callback invoked whenever the condition's
	// result changes.
	AddListener(func())
	// StartEvaluation begins evaluating the condition asynchronously.
	StartEvaluation(ctx context.Context)
	// Result returns the condition's current result.
	Result() ConditionResult
	// Stop cancels an in-progress evaluation.
	Stop()
}

// Waiting blocks until every registered ObservableCondition reports
// success, any one reports failure, or a timeout elapses.
type Waiting struct {
	*phase.Base

	conditions []ObservableCondition
	timeout    time.Duration
	clock      clockwork.Clock

	mu       sync.Mutex
	released chan struct{}
	status   phase.TerminationStatus
}

// NewWaiting builds a Waiting phase over the given conditions. A zero
// timeout waits indefinitely.
func NewWaiting(id, name string, attributes map[string]string, conditions []ObservableCondition, timeout time.Duration, clock clockwork.Clock) *Waiting {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	w := &Waiting{
		conditions: conditions,
		timeout:    timeout,
		clock:      clock,
		released:   make(chan struct{}),
	}
	w.Base = phase.NewBase(id, "waiting", name, attributes, phase.RunStateWaiting, nil, w, clock)
	return w
}

// Execute registers a listener on every condition, starts them all, and
// blocks until release (by a condition reaching a decisive result, by
// timeout, or by Stop).
func (w *Waiting) Execute(ctx context.Context) error {
	for _, c := range w.conditions {
		c.AddListener(w.onConditionChange)
	}
	for _, c := range w.conditions {
		c.StartEvaluation(ctx)
	}

	var timeoutC <-chan time.Time
	if w.timeout > 0 {
		timer := w.clock.NewTimer(w.timeout)
		defer timer.Stop()
		timeoutC = timer.Chan()
	}

	select {
	case <-w.released:
	case <-timeoutC:
		w.mu.Lock()
		if w.status == "" {
			w.status = phase.StatusTimeout
		}
		w.mu.Unlock()
		w.doRelease()
	case <-ctx.Done():
		for _, c := range w.conditions {
			c.Stop()
		}
		return ctx.Err()
	}

	for _, c := range w.conditions {
		c.Stop()
	}

	w.mu.Lock()
	status := w.status
	w.mu.Unlock()
	if status != "" {
		return &phase.Terminated{Status: status}
	}
	return nil
}

// onConditionChange is the listener callback every condition invokes.
// Under w.mu it scans all conditions: any failure releases with
// UNSATISFIED, and unanimous success releases cleanly.
func (w *Waiting) onConditionChange() {
	w.mu.Lock()
	anyFailure := false
	allSuccess := true
	for _, c := range w.conditions {
		switch c.Result() {
		case ConditionFailure:
			anyFailure = true
		case ConditionPending:
			allSuccess = false
		}
	}
	release := false
	if anyFailure {
		if w.status == "" {
			w.status = phase.StatusUnsatisfied
		}
		release = true
	} else if allSuccess {
		release = true
	}
	w.mu.Unlock()

	if release {
		w.doRelease()
	}
}

func (w *Waiting) doRelease() {
	select {
	case <-w.released:
	default:
		close(w.released)
	}
}

// Stop forces release with no status change, yielding COMPLETED unless a
// status was already latched by a condition or timeout.
func (w *Waiting) Stop() {
	w.doRelease()
}
