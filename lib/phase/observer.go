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
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// observerRegistry is a priority-ordered, exception-isolating fan-out of
// phase update events. It replaces the dynamic observer-proxy of the
// reference implementation with an explicit table of (priority, seq,
// callback) entries, iterated in sorted order on every dispatch.
type observerRegistry struct {
	mu      sync.Mutex
	entries []observerEntry
	nextSeq uint64
	nextID  ObserverHandle
	log     logrus.FieldLogger
}

type observerEntry struct {
	id       ObserverHandle
	priority int
	seq      uint64
	observer Observer
}

func newObserverRegistry(log logrus.FieldLogger) *observerRegistry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &observerRegistry{log: log}
}

// add registers obs at the given priority and returns a handle that can be
// used to remove it later. Ties between equal priorities break by
// registration order (stable).
func (r *observerRegistry) add(obs Observer, priority int) ObserverHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.nextSeq++
	r.entries = append(r.entries, observerEntry{id: id, priority: priority, seq: r.nextSeq, observer: obs})
	sort.SliceStable(r.entries, func(i, j int) bool {
		if r.entries[i].priority != r.entries[j].priority {
			return r.entries[i].priority < r.entries[j].priority
		}
		return r.entries[i].seq < r.entries[j].seq
	})
	return id
}

// remove unregisters the observer identified by handle, if present.
func (r *observerRegistry) remove(handle ObserverHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.id == handle {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// dispatch delivers event to every registered observer in priority order.
// A panicking or otherwise misbehaving observer is isolated: its failure
// is logged and dispatch proceeds to the remaining observers.
func (r *observerRegistry) dispatch(event UpdateEvent) {
	r.mu.Lock()
	snapshot := make([]observerEntry, len(r.entries))
	copy(snapshot, r.entries)
	r.mu.Unlock()

	for _, e := range snapshot {
		r.deliverOne(e.observer, event)
	}
}

func (r *observerRegistry) deliverOne(obs Observer, event UpdateEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithField("panic", rec).Warn("Phase observer panicked, isolating.")
		}
	}()
	obs.OnPhaseUpdate(event)
}
