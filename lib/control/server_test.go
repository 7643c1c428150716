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

package control

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/runjob/lib/job"
	"github.com/gravitational/runjob/lib/phase"
	"github.com/gravitational/runjob/lib/phaser"
)

type fnRunnable struct{ fn func(ctx context.Context) error }

func (r fnRunnable) Execute(ctx context.Context) error { return r.fn(ctx) }

func startTestServer(t *testing.T) (*Server, *Registry, string) {
	t.Helper()
	registry := NewRegistry()
	server := NewServer(registry, nil)
	path := filepath.Join(t.TempDir(), "control.api")
	require.NoError(t, server.Listen(path))
	t.Cleanup(func() { server.Close() })
	return server, registry, path
}

func call(t *testing.T, path string, req map[string]interface{}) map[string]interface{} {
	t.Helper()
	conn, err := net.DialTimeout("unix", path, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, json.NewEncoder(conn).Encode(req))

	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	return resp
}

func registerInstance(registry *Registry, id string, clock clockwork.Clock) *job.Instance {
	approvalLeaf := phase.NewBase("approval", "approval", "", nil, phase.RunStatePending, nil, fnRunnable{fn: func(context.Context) error { return nil }}, clock)
	driver, _ := phaser.New(phaser.Config{Phases: []phase.Phase{approvalLeaf}, Clock: clock})
	inst := job.New(id, "test", nil, approvalLeaf, driver, 10)
	registry.Register(inst)
	return inst
}

func TestServer_PingBypassesValidation(t *testing.T) {
	_, _, path := startTestServer(t)
	resp := call(t, path, map[string]interface{}{"method": "ping"})
	assert.Nil(t, resp["error"])
}

func TestServer_GetInstancesReturnsOnePerMatch(t *testing.T) {
	_, registry, path := startTestServer(t)
	clock := clockwork.NewFakeClock()
	registerInstance(registry, "i1", clock)
	registerInstance(registry, "i2", clock)

	resp := call(t, path, map[string]interface{}{
		"jsonrpc": "2.0", "id": float64(1), "method": "get_instances",
		"params": map[string]interface{}{"run_match": map[string]interface{}{}},
	})
	require.Nil(t, resp["error"])
	result, ok := resp["result"].([]interface{})
	require.True(t, ok)
	assert.Len(t, result, 2)
}

func TestServer_StopInstance(t *testing.T) {
	_, registry, path := startTestServer(t)
	clock := clockwork.NewFakeClock()
	registerInstance(registry, "i1", clock)

	resp := call(t, path, map[string]interface{}{
		"jsonrpc": "2.0", "id": float64(7), "method": "stop_instance",
		"params": map[string]interface{}{"instance_id": "i1"},
	})
	require.Nil(t, resp["error"])
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, "STOP_INITIATED", result["stop_result"])
}

func TestServer_InstanceNotFound(t *testing.T) {
	_, _, path := startTestServer(t)
	resp := call(t, path, map[string]interface{}{
		"jsonrpc": "2.0", "id": float64(1), "method": "stop_instance",
		"params": map[string]interface{}{"instance_id": "missing"},
	})
	errObj := resp["error"].(map[string]interface{})
	assert.Equal(t, float64(CodeInstanceNotFound), errObj["code"])
}

func TestServer_ParamValidation_WrongType(t *testing.T) {
	_, registry, path := startTestServer(t)
	clock := clockwork.NewFakeClock()
	registerInstance(registry, "i1", clock)

	resp := call(t, path, map[string]interface{}{
		"jsonrpc": "2.0", "id": float64(5), "method": "get_output_tail",
		"params": map[string]interface{}{"instance_id": "i1", "max_lines": "many"},
	})
	errObj := resp["error"].(map[string]interface{})
	assert.Equal(t, float64(CodeInvalidParams), errObj["code"])
	assert.Contains(t, errObj["message"], "max_lines")
}

func TestServer_UnexpectedParamRejected(t *testing.T) {
	_, registry, path := startTestServer(t)
	clock := clockwork.NewFakeClock()
	registerInstance(registry, "i1", clock)

	resp := call(t, path, map[string]interface{}{
		"jsonrpc": "2.0", "id": float64(5), "method": "stop_instance",
		"params": map[string]interface{}{"instance_id": "i1", "bogus": true},
	})
	errObj := resp["error"].(map[string]interface{})
	assert.Equal(t, float64(CodeInvalidParams), errObj["code"])
}

func TestServer_ExecPhaseControl_ApproveDispatchesApprovalPhase(t *testing.T) {
	_, registry, path := startTestServer(t)
	clock := clockwork.NewFakeClock()
	approvalLeaf := phase.NewBase("approval", "approval", "", nil, phase.RunStatePending, &approvalControl{}, fnRunnable{fn: func(context.Context) error {
		<-make(chan struct{}) // never returns on its own; Approve unblocks via control
		return nil
	}}, clock)
	driver, _ := phaser.New(phaser.Config{Phases: []phase.Phase{approvalLeaf}, Clock: clock})
	inst := job.New("i1", "test", nil, approvalLeaf, driver, 10)
	registry.Register(inst)

	resp := call(t, path, map[string]interface{}{
		"jsonrpc": "2.0", "id": float64(7), "method": "exec_phase_control",
		"params": map[string]interface{}{
			"instance_id": "i1", "phase_id": "approval", "op_name": "approve", "op_args": []interface{}{},
		},
	})
	require.Nil(t, resp["error"])
}

// approvalControl is a minimal stand-in exposing the single exported
// method exec_phase_control's reflection-based dispatch needs to
// exercise op_name resolution without depending on lib/coordination's
// Approval phase.
type approvalControl struct{}

func (a *approvalControl) Approve() {}
