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

	"github.com/jonboulle/clockwork"
	"github.com/gravitational/trace"
)

// SequentialPhase runs a fixed, ordered list of child phases one at a
// time. It fails fast: if a child's termination is not COMPLETED, the
// SequentialPhase itself terminates with that same status without running
// the remaining children. Duplicate child ids are rejected at
// construction, matching the id-uniqueness invariant.
type SequentialPhase struct {
	*Base

	mu           sync.Mutex
	children     []Phase
	currentChild Phase
	currentIdx   int
	stopped      bool
}

// NewSequentialPhase builds a composite phase from an ordered list of
// children. Id uniqueness is checked among the direct children only;
// ids deeper in the tree are not compared.
func NewSequentialPhase(id, name string, attributes map[string]string, children []Phase, clock clockwork.Clock) (*SequentialPhase, error) {
	seen := make(map[string]struct{}, len(children))
	for _, c := range children {
		if _, dup := seen[c.ID()]; dup {
			return nil, trace.BadParameter("duplicate phase id %q", c.ID())
		}
		seen[c.ID()] = struct{}{}
	}
	sp := &SequentialPhase{children: children, currentIdx: -1}
	sp.Base = NewBase(id, "sequential", name, attributes, RunStateCreated, nil, sp, clock)
	sp.Base.SetChildrenFunc(sp.snapshotChildren)
	for _, c := range children {
		c.AddPhaseObserver(ObserverFunc(sp.reemit), 0, false)
	}
	return sp, nil
}

func (sp *SequentialPhase) snapshotChildren() []Phase {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	out := make([]Phase, len(sp.children))
	copy(out, sp.children)
	return out
}

// reemit forwards a child's update event through this composite's own
// observer set, so observers attached to the composite see every leaf
// transition without subscribing to each child individually.
func (sp *SequentialPhase) reemit(event UpdateEvent) {
	sp.Base.emit(event)
}

// Execute implements Runnable: it runs every child in declaration order,
// aborting on the first non-COMPLETED child termination or a pending stop
// request.
func (sp *SequentialPhase) Execute(ctx context.Context) error {
	for i, child := range sp.children {
		sp.mu.Lock()
		stopped := sp.stopped
		sp.mu.Unlock()
		if stopped {
			return &Terminated{Status: StatusStopped}
		}

		sp.mu.Lock()
		sp.currentChild = child
		sp.currentIdx = i
		sp.mu.Unlock()

		err := child.Run(ctx)
		if err != nil {
			if _, ok := AsTerminated(err); !ok {
				if _, ok := err.(*PhaseCompletionError); !ok {
					return err
				}
			}
		}
		if term := child.Termination(); term != nil && term.Status != StatusCompleted {
			return &Terminated{Status: term.Status}
		}
	}
	return nil
}

// Stop flips the internal stop flag and forwards Stop to whichever child
// is currently running, if any.
func (sp *SequentialPhase) Stop() {
	sp.mu.Lock()
	sp.stopped = true
	current := sp.currentChild
	sp.mu.Unlock()
	if current != nil {
		current.Stop()
	}
}

// CurrentChild returns the child currently (or most recently) running,
// and its index, for introspection.
func (sp *SequentialPhase) CurrentChild() (Phase, int) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.currentChild, sp.currentIdx
}
