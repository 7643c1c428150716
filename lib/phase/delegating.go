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
	"sync"
	"time"
)

// Delegating is a thin adapter that forwards the full Phase capability set
// to a wrapped phase. It exists so wrapper phases (WaitWrapper below, or
// any future variant) only need to override the handful of methods that
// differ, instead of re-implementing the whole contract or relying on
// dynamic attribute forwarding.
type Delegating struct {
	Wrapped Phase
}

func (d *Delegating) ID() string                      { return d.Wrapped.ID() }
func (d *Delegating) Type() string                     { return d.Wrapped.Type() }
func (d *Delegating) RunState() RunState               { return d.Wrapped.RunState() }
func (d *Delegating) Name() string                     { return d.Wrapped.Name() }
func (d *Delegating) Attributes() map[string]string    { return d.Wrapped.Attributes() }
func (d *Delegating) Children() []Phase                { return d.Wrapped.Children() }
func (d *Delegating) Control() interface{}             { return d.Wrapped.Control() }
func (d *Delegating) CreatedAt() time.Time             { return d.Wrapped.CreatedAt() }
func (d *Delegating) StartedAt() time.Time             { return d.Wrapped.StartedAt() }
func (d *Delegating) Termination() *TerminationInfo    { return d.Wrapped.Termination() }
func (d *Delegating) Detail() Detail                   { return d.Wrapped.Detail() }
func (d *Delegating) Run(ctx context.Context) error    { return d.Wrapped.Run(ctx) }
func (d *Delegating) Stop()                            { d.Wrapped.Stop() }
func (d *Delegating) StopStatus() TerminationStatus    { return d.Wrapped.StopStatus() }
func (d *Delegating) AddPhaseObserver(obs Observer, priority int, replay bool) ObserverHandle {
	return d.Wrapped.AddPhaseObserver(obs, priority, replay)
}
func (d *Delegating) RemovePhaseObserver(handle ObserverHandle) {
	d.Wrapped.RemovePhaseObserver(handle)
}

// WaitWrapper wraps a phase and adds the ability for another goroutine to
// block until the wrapped phase's Run has actually begun (or a timeout
// elapses), signalling via an internal latch closed on first entry to Run.
type WaitWrapper struct {
	Delegating

	mu       sync.Mutex
	started  bool
	startedC chan struct{}
}

// NewWaitWrapper wraps the given phase.
func NewWaitWrapper(wrapped Phase) *WaitWrapper {
	return &WaitWrapper{
		Delegating: Delegating{Wrapped: wrapped},
		startedC:   make(chan struct{}),
	}
}

// Run signals the internal latch before delegating to the wrapped phase.
func (w *WaitWrapper) Run(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.started = true
		close(w.startedC)
	}
	w.mu.Unlock()
	return w.Delegating.Run(ctx)
}

// Wait blocks until Run has begun or timeout elapses, whichever comes
// first. A non-positive timeout waits indefinitely. Returns true if Run
// had begun, false on timeout.
func (w *WaitWrapper) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		<-w.startedC
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.startedC:
		return true
	case <-timer.C:
		return false
	}
}
