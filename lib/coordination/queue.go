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
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gravitational/runjob/lib/fleet"
	"github.com/gravitational/runjob/lib/lock"
	"github.com/gravitational/runjob/lib/metrics"
	"github.com/gravitational/runjob/lib/phase"
)

// memberState is an ExecutionQueue's position in its queue's admission
// protocol.
type memberState int

// States a queue member passes through. UNKNOWN is reserved for a
// member whose state could not be determined from a peer process and is
// not produced locally.
const (
	memberNone memberState = iota
	memberInQueue
	memberDispatched
	memberCancelled
	memberUnknown
)

// queueState is the process-local, per-queue-id shared state every
// ExecutionQueue phase sharing that id coordinates through: which
// members are currently enqueued, and whether one of them currently
// holds the scheduler role.
type queueState struct {
	mu              sync.Mutex
	cond            *sync.Cond
	schedulerActive bool
	members         []*ExecutionQueue
}

// QueueManager tracks one queueState per queue id for this process. A
// single QueueManager must be shared by every ExecutionQueue phase in
// the process so "at most one scheduler per queue per process" holds.
type QueueManager struct {
	mu     sync.Mutex
	queues map[string]*queueState
}

// NewQueueManager returns an empty manager.
func NewQueueManager() *QueueManager {
	return &QueueManager{queues: make(map[string]*queueState)}
}

func (m *QueueManager) get(queueID string) *queueState {
	m.mu.Lock()
	defer m.mu.Unlock()
	qs, ok := m.queues[queueID]
	if !ok {
		qs = &queueState{}
		qs.cond = sync.NewCond(&qs.mu)
		m.queues[queueID] = qs
	}
	return qs
}

// ExecutionQueue admits at most MaxExecutions peers past itself at any
// time, FIFO by phase creation time within the slots the fleet-wide
// executing count leaves available.
type ExecutionQueue struct {
	*phase.Base

	queueID       string
	maxExecutions int
	registry      fleet.Registry
	lockDir       string
	manager       *QueueManager
	clock         clockwork.Clock
	pollInterval  time.Duration

	mu    sync.Mutex
	state memberState
}

// NewExecutionQueue builds an ExecutionQueue phase. registry may be nil
// to run purely process-local: the fleet-wide executing count is then
// taken as zero and no peer is signalled.
func NewExecutionQueue(id, name string, attributes map[string]string, queueID string, maxExecutions int, registry fleet.Registry, lockDir string, manager *QueueManager, clock clockwork.Clock) *ExecutionQueue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	q := &ExecutionQueue{
		queueID:       queueID,
		maxExecutions: maxExecutions,
		registry:      registry,
		lockDir:       lockDir,
		manager:       manager,
		clock:         clock,
		pollInterval:  50 * time.Millisecond,
		state:         memberNone,
	}
	q.Base = phase.NewBase(id, "execution_queue", name, attributes, phase.RunStateInQueue, q, q, clock)
	return q
}

// State reports this member's current position in the queue protocol.
func (q *ExecutionQueue) State() memberState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func (q *ExecutionQueue) dequeued() bool {
	return q.state == memberDispatched || q.state == memberCancelled
}

// Execute implements the admission protocol: enqueue, then alternate
// between waiting for another member's scheduler turn and taking the
// scheduler role itself until this member is dispatched or cancelled.
func (q *ExecutionQueue) Execute(ctx context.Context) error {
	qs := q.manager.get(q.queueID)

	qs.mu.Lock()
	q.mu.Lock()
	q.state = memberInQueue
	q.mu.Unlock()
	qs.members = append(qs.members, q)
	qs.mu.Unlock()
	metrics.QueueDepth.WithLabelValues(q.queueID).Inc()
	defer metrics.QueueDepth.WithLabelValues(q.queueID).Dec()

	for {
		qs.mu.Lock()
		q.mu.Lock()
		state := q.state
		q.mu.Unlock()

		if state == memberDispatched {
			qs.mu.Unlock()
			return nil
		}
		if state == memberCancelled {
			qs.mu.Unlock()
			return &phase.Terminated{Status: phase.StatusCancelled}
		}
		if qs.schedulerActive {
			qs.cond.Wait()
			qs.mu.Unlock()
			continue
		}
		qs.schedulerActive = true
		qs.mu.Unlock()

		q.runScheduler(ctx, qs)
	}
}

// runScheduler holds the scheduler role for this queue id until this
// member leaves the IN_QUEUE state, re-running dispatch_next on the
// configured poll interval. On context cancellation it gives up the
// scheduler role without dispatching.
func (q *ExecutionQueue) runScheduler(ctx context.Context, qs *queueState) {
	q.dispatchUnderLock(ctx, qs)

	ticker := q.clock.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		q.mu.Lock()
		done := q.state != memberInQueue
		q.mu.Unlock()
		if done {
			break
		}
		select {
		case <-ticker.Chan():
			q.dispatchUnderLock(ctx, qs)
		case <-ctx.Done():
			qs.mu.Lock()
			qs.schedulerActive = false
			qs.cond.Broadcast()
			qs.mu.Unlock()
			return
		}
	}

	qs.mu.Lock()
	qs.schedulerActive = false
	qs.cond.Broadcast()
	qs.mu.Unlock()
}

// dispatchUnderLock acquires the cross-process queue lock, runs
// dispatch_next, and releases the lock before returning, never holding
// it across the scheduler's subsequent wait.
func (q *ExecutionQueue) dispatchUnderLock(ctx context.Context, qs *queueState) {
	release, err := lock.Acquire(ctx, lock.NewNamed(q.lockDir, q.queueID))
	if err != nil {
		return
	}
	defer release()
	q.dispatchNext(qs)
}

// dispatchNext reads this process's queued members for this queue id,
// sorts them by creation time, computes the slots the fleet-wide
// executing count leaves available, and dispatches queued members (and
// signals peer-process members via the registry) until slots run out.
func (q *ExecutionQueue) dispatchNext(qs *queueState) {
	qs.mu.Lock()
	queued := make([]*ExecutionQueue, 0, len(qs.members))
	for _, m := range qs.members {
		m.mu.Lock()
		if m.state == memberInQueue {
			queued = append(queued, m)
		}
		m.mu.Unlock()
	}
	qs.mu.Unlock()

	sort.Slice(queued, func(i, j int) bool {
		return queued[i].CreatedAt().Before(queued[j].CreatedAt())
	})

	executing := 0
	if q.registry != nil {
		active, _ := q.registry.GetActiveRuns(fleet.Criteria{ProtectionID: q.queueID})
		executing = len(active)
	}
	slots := q.maxExecutions - executing
	if slots <= 0 {
		return
	}

	for _, m := range queued {
		if slots <= 0 {
			break
		}
		if m.SignalDispatch() {
			slots--
		}
	}

	if q.registry != nil && slots > 0 {
		q.registry.SignalDispatch(fleet.Criteria{ProtectionID: q.queueID})
	}
}

// SignalDispatch transitions this member from IN_QUEUE to DISPATCHED and
// wakes every waiter on its queue. Returns true on success, false if the
// member had already left IN_QUEUE.
func (q *ExecutionQueue) SignalDispatch() bool {
	qs := q.manager.get(q.queueID)
	qs.mu.Lock()
	defer qs.mu.Unlock()
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != memberInQueue {
		return false
	}
	q.state = memberDispatched
	qs.cond.Broadcast()
	return true
}

// Stop cancels this member if it is still queued. A cancelled member's
// Execute returns a *phase.Terminated carrying CANCELLED.
func (q *ExecutionQueue) Stop() {
	qs := q.manager.get(q.queueID)
	qs.mu.Lock()
	defer qs.mu.Unlock()
	q.mu.Lock()
	if q.state == memberInQueue {
		q.state = memberCancelled
	}
	q.mu.Unlock()
	qs.cond.Broadcast()
}

// StopStatus reports CANCELLED, matching Stop's own outcome and letting
// a Phaser recover the right status when it stops between phases, after
// this queue member has already been dispatched.
func (q *ExecutionQueue) StopStatus() phase.TerminationStatus { return phase.StatusCancelled }
