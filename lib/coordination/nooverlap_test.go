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
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/runjob/lib/fleet"
	"github.com/gravitational/runjob/lib/phase"
)

func TestNoOverlap_RejectsEmptyID(t *testing.T) {
	_, err := NewNoOverlap("n", "", nil, "", stubRegistry{}, t.TempDir(), clockwork.NewFakeClock())
	assert.Error(t, err)
}

func TestNoOverlap_NoActivePeerCompletes(t *testing.T) {
	clock := clockwork.NewFakeClock()
	n, err := NewNoOverlap("n", "", nil, "protect-1", stubRegistry{}, t.TempDir(), clock)
	require.NoError(t, err)

	assert.NoError(t, n.Run(context.Background()))
	assert.Equal(t, phase.StatusCompleted, n.Termination().Status)
}

func TestNoOverlap_ActivePeerYieldsOverlap(t *testing.T) {
	clock := clockwork.NewFakeClock()
	registry := stubRegistry{runs: []fleet.RunSummary{{InstanceID: "peer-1", ProtectionID: "protect-1"}}}
	n, err := NewNoOverlap("n", "", nil, "protect-1", registry, t.TempDir(), clock)
	require.NoError(t, err)

	runErr := n.Run(context.Background())
	assert.Error(t, runErr)
	assert.Equal(t, phase.StatusOverlap, n.Termination().Status)
}

func TestNoOverlap_LockReleasedAfterEachRun(t *testing.T) {
	clock := clockwork.NewFakeClock()
	lockDir := t.TempDir()

	for i := 0; i < 3; i++ {
		n, err := NewNoOverlap("n", "", nil, "protect-1", stubRegistry{}, lockDir, clock)
		require.NoError(t, err)
		require.NoError(t, n.Run(context.Background()))
	}
}
