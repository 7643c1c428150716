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

// Package fleet describes the narrow adapter coordination phases use to
// query and signal peer job instances running elsewhere in the fleet. The
// registry implementation (a real discovery/RPC backend) lives outside
// this module; Registry is the contract this package's coordination
// phases are written against.
package fleet

import "time"

// RunSummary is the minimal view of a peer run a coordination phase needs:
// enough to evaluate dependency/no-overlap/queue predicates without
// pulling in the full job/control-plane types.
type RunSummary struct {
	InstanceID string
	CreatedAt  time.Time
	// ProtectionID is the no-overlap id or queue id the run is currently
	// protected by, empty if it is not inside any protected phase.
	ProtectionID string
	// Attributes carries job-defined metadata (type, parameters) that
	// dependency/no-overlap predicates match against.
	Attributes map[string]string
}

// Criteria narrows GetActiveRuns/SignalDispatch to a subset of the fleet.
// A zero-value Criteria matches everything.
type Criteria struct {
	ProtectionID string
	InstanceIDs  []string
	Predicate    func(RunSummary) bool
}

// Matches reports whether run satisfies c.
func (c Criteria) Matches(run RunSummary) bool {
	if c.ProtectionID != "" && run.ProtectionID != c.ProtectionID {
		return false
	}
	if len(c.InstanceIDs) > 0 {
		found := false
		for _, id := range c.InstanceIDs {
			if id == run.InstanceID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.Predicate != nil && !c.Predicate(run) {
		return false
	}
	return true
}

// SignalResponse reports the outcome of one SignalDispatch attempt.
type SignalResponse struct {
	InstanceID string
	Executed   bool
	Error      error
}

// Registry is the external collaborator C4 coordination phases consult:
// a fleet-wide view of active runs, and a way to signal one or more of
// them to proceed past an ExecutionQueue.
type Registry interface {
	// GetActiveRuns returns the runs currently active fleet-wide matching
	// criteria, plus any per-peer errors encountered gathering them.
	GetActiveRuns(criteria Criteria) (runs []RunSummary, errs []error)
	// SignalDispatch asks every run matching criteria to proceed past its
	// ExecutionQueue, returning one response per targeted run.
	SignalDispatch(criteria Criteria) []SignalResponse
}
