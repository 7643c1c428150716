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

// Package metrics exposes the small set of prometheus series an embedding
// job process can register to get visibility into phase terminations,
// control-plane traffic, and dispatch drops without depending on any of
// this module's internal packages from outside lib/.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// PhaseTerminations counts phase terminations by type and status.
	PhaseTerminations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runjob",
		Subsystem: "phase",
		Name:      "terminations_total",
		Help:      "Number of phase terminations by phase type and termination status.",
	}, []string{"phase_type", "status"})

	// ControlRequests counts JSON-RPC requests by method and outcome.
	ControlRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runjob",
		Subsystem: "control",
		Name:      "requests_total",
		Help:      "Number of control-plane requests by method and outcome (ok/error).",
	}, []string{"method", "outcome"})

	// DispatchDrops counts events dropped because a listener rejected the
	// payload or was unreachable.
	DispatchDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runjob",
		Subsystem: "dispatch",
		Name:      "drops_total",
		Help:      "Number of events dropped while fanning out to listener sockets.",
	}, []string{"listener_kind"})

	// QueueDepth reports the current number of members queued per
	// execution queue id.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "runjob",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Current number of members in IN_QUEUE state per execution queue id.",
	}, []string{"queue_id"})
)

// MustRegister registers every series in this package with reg. Call
// once during process startup with the embedding process's registry (or
// prometheus.DefaultRegisterer).
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(PhaseTerminations, ControlRequests, DispatchDrops, QueueDepth)
}
