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

package dispatch

import (
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/runjob/lib/job"
	"github.com/gravitational/runjob/lib/phase"
	"github.com/gravitational/runjob/lib/runtimedir"
)

func listen(t *testing.T, dir *runtimedir.Dir, ext string) net.PacketConn {
	t.Helper()
	path := dir.NewListenerPath(ext)
	conn, err := net.ListenPacket("unixgram", path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestDispatcher_TransitionReachesListener(t *testing.T) {
	dir, err := runtimedir.New(filepath.Join(t.TempDir(), "rt"))
	require.NoError(t, err)
	conn := listen(t, dir, runtimedir.TransitionListenerExt)

	d := NewTransitionDispatcher(dir, nil)
	snapshot := job.JobRun{InstanceID: "i1"}
	event := phase.UpdateEvent{Stage: phase.StageRunning}
	d.DispatchTransition(snapshot, event)

	buf := make([]byte, 65536)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)

	var got envelope
	require.NoError(t, json.Unmarshal(buf[:n], &got))
	assert.Equal(t, "phase_transition", got.EventMetadata.EventType)
	assert.Equal(t, "i1", got.InstanceMetadata.InstanceID)
}

func TestDispatcher_OutputTruncatesLongLines(t *testing.T) {
	dir, err := runtimedir.New(filepath.Join(t.TempDir(), "rt"))
	require.NoError(t, err)
	conn := listen(t, dir, runtimedir.OutputListenerExt)

	d := NewOutputDispatcher(dir, nil)
	longText := make([]byte, outputTruncateBytes+500)
	for i := range longText {
		longText[i] = 'x'
	}
	d.DispatchOutput(job.JobRun{InstanceID: "i1"}, job.OutputLine{Text: string(longText)})

	buf := make([]byte, 65536)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)

	var got envelope
	require.NoError(t, json.Unmarshal(buf[:n], &got))
	eventBytes, err := json.Marshal(got.Event)
	require.NoError(t, err)
	var line job.OutputLine
	require.NoError(t, json.Unmarshal(eventBytes, &line))
	assert.LessOrEqual(t, len(line.Text), outputTruncateBytes)
}

func TestDispatcher_NoListenersIsNoop(t *testing.T) {
	dir, err := runtimedir.New(filepath.Join(t.TempDir(), "rt"))
	require.NoError(t, err)

	d := NewTransitionDispatcher(dir, nil)
	assert.NotPanics(t, func() {
		d.DispatchTransition(job.JobRun{InstanceID: "i1"}, phase.UpdateEvent{})
	})
}
