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
	"github.com/gravitational/runjob/lib/phase"
)

// MatchFunc evaluates whether the currently active fleet runs satisfy a
// Dependency phase's predicate.
type MatchFunc func(active []fleet.RunSummary) bool

// Dependency blocks a run unless a predicate over the fleet's currently
// active runs is satisfied at the moment it is evaluated. It never
// blocks waiting for the predicate to become true: a single check,
// pass or fail.
type Dependency struct {
	*phase.Base

	registry fleet.Registry
	criteria fleet.Criteria
	match    MatchFunc
}

// NewDependency builds a Dependency phase. match receives the active
// runs gathered via criteria and decides whether this run may proceed.
func NewDependency(id, name string, attributes map[string]string, registry fleet.Registry, criteria fleet.Criteria, match MatchFunc, clock clockwork.Clock) *Dependency {
	d := &Dependency{registry: registry, criteria: criteria, match: match}
	d.Base = phase.NewBase(id, "dependency", name, attributes, phase.RunStateEvaluating, nil, d, clock)
	return d
}

// Execute queries the external registry for currently active runs and
// evaluates the dependency predicate against them.
func (d *Dependency) Execute(ctx context.Context) error {
	active, errs := d.registry.GetActiveRuns(d.criteria)
	for _, err := range errs {
		if err != nil {
			return &phase.Terminated{Status: phase.StatusUnsatisfied, Cause: err}
		}
	}
	if !d.match(active) {
		return &phase.Terminated{Status: phase.StatusUnsatisfied}
	}
	return nil
}
