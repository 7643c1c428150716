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
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/runjob/lib/fleet"
	"github.com/gravitational/runjob/lib/phase"
)

// fakeRegistry simulates the fleet-wide view of who currently holds a
// protected phase for a given protection id, letting tests drive a
// queue's admitted-count bookkeeping the way a real registry backend
// would as peers enter and leave their executing phase.
type fakeRegistry struct {
	mu     sync.Mutex
	active map[string]int
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{active: make(map[string]int)} }

func (r *fakeRegistry) GetActiveRuns(criteria fleet.Criteria) ([]fleet.RunSummary, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.active[criteria.ProtectionID]
	runs := make([]fleet.RunSummary, n)
	return runs, nil
}

func (r *fakeRegistry) SignalDispatch(fleet.Criteria) []fleet.SignalResponse { return nil }

func (r *fakeRegistry) enter(protectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[protectionID]++
}

func (r *fakeRegistry) leave(protectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[protectionID]--
}

// TestExecutionQueue_AdmitsAtMostMaxExecutions exercises S6: three
// members share a queue with max_executions=2; exactly two are admitted
// promptly and the third stays queued until one of the first two leaves
// its protected phase.
func TestExecutionQueue_AdmitsAtMostMaxExecutions(t *testing.T) {
	dir := t.TempDir()
	manager := NewQueueManager()
	clock := clockwork.NewRealClock()
	registry := newFakeRegistry()

	queues := make([]*ExecutionQueue, 3)
	for i := range queues {
		queues[i] = NewExecutionQueue("q"+string(rune('0'+i)), "", nil, "q1", 2, registry, dir, manager, clock)
	}

	var wg sync.WaitGroup
	results := make([]error, len(queues))
	for i, q := range queues {
		wg.Add(1)
		go func(i int, q *ExecutionQueue) {
			defer wg.Done()
			err := q.Run(context.Background())
			if err == nil {
				registry.enter("q1")
			}
			results[i] = err
		}(i, q)
	}

	require.Eventually(t, func() bool {
		dispatched := 0
		for _, q := range queues {
			if q.State() == memberDispatched {
				dispatched++
			}
		}
		return dispatched == 2
	}, 2*time.Second, 5*time.Millisecond)

	var pending *ExecutionQueue
	for _, q := range queues {
		if q.State() == memberInQueue {
			pending = q
		}
	}
	require.NotNil(t, pending)

	// Simulate one admitted member leaving its protected phase, freeing a
	// slot for the third to be admitted on the scheduler's next sweep.
	registry.leave("q1")

	require.Eventually(t, func() bool {
		return pending.State() == memberDispatched
	}, 2*time.Second, 5*time.Millisecond)

	wg.Wait()
	for _, err := range results {
		assert.NoError(t, err)
	}
}

func TestExecutionQueue_StopCancelsQueuedMember(t *testing.T) {
	dir := t.TempDir()
	manager := NewQueueManager()
	clock := clockwork.NewRealClock()
	registry := newFakeRegistry()
	registry.enter("q2") // occupy the only slot before the waiter arrives

	q := NewExecutionQueue("waiter", "", nil, "q2", 1, registry, dir, manager, clock)
	done := make(chan error, 1)
	go func() { done <- q.Run(context.Background()) }()

	require.Eventually(t, func() bool { return q.State() == memberInQueue }, time.Second, 5*time.Millisecond)

	q.Stop()
	err := <-done
	require.Error(t, err)
	assert.Equal(t, phase.StatusCancelled, q.Termination().Status)
}
