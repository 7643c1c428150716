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
	"errors"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	"github.com/gravitational/runjob/lib/fleet"
	"github.com/gravitational/runjob/lib/phase"
)

type stubRegistry struct {
	runs []fleet.RunSummary
	errs []error
}

func (r stubRegistry) GetActiveRuns(fleet.Criteria) ([]fleet.RunSummary, []error) {
	return r.runs, r.errs
}

func (r stubRegistry) SignalDispatch(fleet.Criteria) []fleet.SignalResponse { return nil }

func TestDependency_SatisfiedPredicatePasses(t *testing.T) {
	clock := clockwork.NewFakeClock()
	registry := stubRegistry{runs: []fleet.RunSummary{{InstanceID: "peer-1"}}}
	match := func(active []fleet.RunSummary) bool { return len(active) == 1 }

	d := NewDependency("dep", "", nil, registry, fleet.Criteria{}, match, clock)
	assert.NoError(t, d.Run(context.Background()))
	assert.Equal(t, phase.StatusCompleted, d.Termination().Status)
}

func TestDependency_UnsatisfiedPredicateYieldsUnsatisfied(t *testing.T) {
	clock := clockwork.NewFakeClock()
	registry := stubRegistry{}
	match := func(active []fleet.RunSummary) bool { return len(active) > 0 }

	d := NewDependency("dep", "", nil, registry, fleet.Criteria{}, match, clock)
	err := d.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, phase.StatusUnsatisfied, d.Termination().Status)
}

func TestDependency_RegistryErrorYieldsUnsatisfied(t *testing.T) {
	clock := clockwork.NewFakeClock()
	registry := stubRegistry{errs: []error{errors.New("backend unreachable")}}
	match := func(active []fleet.RunSummary) bool { return true }

	d := NewDependency("dep", "", nil, registry, fleet.Criteria{}, match, clock)
	err := d.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, phase.StatusUnsatisfied, d.Termination().Status)
}
