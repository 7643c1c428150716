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

// Package control implements the process-local JSON-RPC 2.0 control
// plane: a registry of this process's job instances and a local-socket
// server dispatching COLLECTION/INSTANCE methods against it.
package control

import (
	"sort"
	"sync"

	"github.com/gravitational/runjob/lib/job"
)

// Registry is the process's lookup-only mapping of instance_id to
// Instance. It only indexes instances the caller has already
// constructed; it holds a reference to each until the caller explicitly
// Unregisters it.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*job.Instance
}

// NewRegistry returns an empty instance registry.
func NewRegistry() *Registry {
	return &Registry{instances: make(map[string]*job.Instance)}
}

// Register adds inst under its own id, replacing any previous entry with
// the same id.
func (r *Registry) Register(inst *job.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ID()] = inst
}

// Unregister removes an instance by id. It is a no-op if absent.
func (r *Registry) Unregister(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, instanceID)
}

// Get resolves a single instance by id.
func (r *Registry) Get(instanceID string) (*job.Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[instanceID]
	return inst, ok
}

// Matching evaluates criteria against every registered instance's
// current value (not its id), per the corrected §9 intent, and returns
// the matches in a deterministic, id-sorted order.
func (r *Registry) Matching(criteria job.Criteria) []*job.Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*job.Instance
	for _, inst := range r.instances {
		if criteria.Matches(inst) {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
