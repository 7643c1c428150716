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

	"github.com/jonboulle/clockwork"

	"github.com/gravitational/runjob/lib/fleet"
	"github.com/gravitational/runjob/lib/lock"
	"github.com/gravitational/runjob/lib/phase"
	"github.com/gravitational/trace"
)

// NoOverlap refuses to proceed if any peer run is currently inside a
// protected phase tagged with the same protection id. The overlap check
// itself runs under a named cross-process file lock so two peers racing
// to enter can never both observe "no overlap" and both proceed; the
// lock is released before Execute returns, never held across a blocking
// wait.
type NoOverlap struct {
	*phase.Base

	noOverlapID string
	registry    fleet.Registry
	lockDir     string
}

// NewNoOverlap builds a NoOverlap phase. noOverlapID must be non-empty.
func NewNoOverlap(id, name string, attributes map[string]string, noOverlapID string, registry fleet.Registry, lockDir string, clock clockwork.Clock) (*NoOverlap, error) {
	if noOverlapID == "" {
		return nil, trace.BadParameter("no_overlap_id must not be empty")
	}
	n := &NoOverlap{noOverlapID: noOverlapID, registry: registry, lockDir: lockDir}
	n.Base = phase.NewBase(id, "no_overlap", name, attributes, phase.RunStateEvaluating, nil, n, clock)
	return n, nil
}

// Execute acquires the named lock, checks for an overlapping protected
// peer, and releases the lock before returning.
func (n *NoOverlap) Execute(ctx context.Context) error {
	release, err := lock.Acquire(ctx, lock.NewNamed(n.lockDir, n.noOverlapID))
	if err != nil {
		return trace.Wrap(err, "acquiring no-overlap lock %q", n.noOverlapID)
	}
	defer release()

	active, errs := n.registry.GetActiveRuns(fleet.Criteria{ProtectionID: n.noOverlapID})
	for _, e := range errs {
		if e != nil {
			return trace.Wrap(e, "checking for overlapping runs")
		}
	}
	if len(active) > 0 {
		return &phase.Terminated{Status: phase.StatusOverlap}
	}
	return nil
}
