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

// Package dispatch fans transition and output events out to every peer
// listener socket it can discover in the runtime directory. Each peer
// send is bounded by a short timeout, and a slow or gone peer never
// affects delivery to the others or raises back into the phase that
// produced the event.
package dispatch

import (
	"encoding/json"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gravitational/runjob/lib/job"
	"github.com/gravitational/runjob/lib/metrics"
	"github.com/gravitational/runjob/lib/phase"
	"github.com/gravitational/runjob/lib/runtimedir"
	"github.com/gravitational/trace"
)

// outputTruncateBytes is the size hint output events pre-truncate to
// before sending, so a reasonably-sized datagram socket rarely rejects
// the payload outright.
const outputTruncateBytes = 10000

// dialTimeout bounds how long a single peer send may block so one dead
// or slow listener cannot stall the whole fan-out.
const dialTimeout = 200 * time.Millisecond

// eventMetadata is the envelope every dispatched payload shares.
type eventMetadata struct {
	EventType string `json:"event_type"`
}

// envelope is the datagram payload sent to every discovered listener.
type envelope struct {
	EventMetadata    eventMetadata `json:"event_metadata"`
	InstanceMetadata job.JobRun    `json:"instance_metadata"`
	Event            interface{}   `json:"event"`
}

// Dispatcher discovers peer listener sockets in dir and forwards one
// datagram per event to each, logging and skipping any peer that cannot
// accept it.
type Dispatcher struct {
	dir *runtimedir.Dir
	ext string
	log logrus.FieldLogger
}

// NewTransitionDispatcher forwards phase.UpdateEvent occurrences to every
// ".tlistener" socket.
func NewTransitionDispatcher(dir *runtimedir.Dir, log logrus.FieldLogger) *Dispatcher {
	return newDispatcher(dir, runtimedir.TransitionListenerExt, log)
}

// NewOutputDispatcher forwards job.OutputLine occurrences to every
// ".olistener" socket.
func NewOutputDispatcher(dir *runtimedir.Dir, log logrus.FieldLogger) *Dispatcher {
	return newDispatcher(dir, runtimedir.OutputListenerExt, log)
}

func newDispatcher(dir *runtimedir.Dir, ext string, log logrus.FieldLogger) *Dispatcher {
	if log == nil {
		log = logrus.WithField(trace.Component, "dispatch")
	}
	return &Dispatcher{dir: dir, ext: ext, log: log}
}

// DispatchTransition sends a "phase_transition" event carrying detail to
// every currently discoverable listener.
func (d *Dispatcher) DispatchTransition(snapshot job.JobRun, event phase.UpdateEvent) {
	d.send(snapshot, "phase_transition", event)
}

// DispatchOutput sends an "output_line" event, truncating its text to
// outputTruncateBytes before sending.
func (d *Dispatcher) DispatchOutput(snapshot job.JobRun, line job.OutputLine) {
	if len(line.Text) > outputTruncateBytes {
		line.Text = line.Text[:outputTruncateBytes]
	}
	d.send(snapshot, "output_line", line)
}

func (d *Dispatcher) send(snapshot job.JobRun, eventType string, event interface{}) {
	peers, err := d.dir.DiscoverListeners(d.ext)
	if err != nil {
		d.log.WithError(err).Warn("Failed to discover listener sockets.")
		return
	}
	if len(peers) == 0 {
		return
	}

	payload, err := json.Marshal(envelope{
		EventMetadata:    eventMetadata{EventType: eventType},
		InstanceMetadata: snapshot,
		Event:            event,
	})
	if err != nil {
		d.log.WithError(err).Warn("Failed to marshal dispatch payload.")
		return
	}

	// Fan out to every peer concurrently so one slow listener's
	// dialTimeout doesn't serialize behind the others; sendOne never
	// returns an error, it only logs and counts drops, so the group is
	// purely a wait mechanism here.
	var g errgroup.Group
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			d.sendOne(peer, payload)
			return nil
		})
	}
	g.Wait()
}

func (d *Dispatcher) sendOne(peerPath string, payload []byte) {
	conn, err := net.DialTimeout("unixgram", peerPath, dialTimeout)
	if err != nil {
		metrics.DispatchDrops.WithLabelValues(d.ext).Inc()
		d.log.WithError(err).WithField("peer", peerPath).Debug("Listener unreachable, skipping.")
		return
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	if _, err := conn.Write(payload); err != nil {
		metrics.DispatchDrops.WithLabelValues(d.ext).Inc()
		d.log.WithError(err).WithField("peer", peerPath).Warn("Dropping event: peer rejected payload.")
	}
}
