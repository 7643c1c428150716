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
	"fmt"
	"reflect"

	"github.com/gravitational/runjob/lib/job"
)

// registerBuiltins installs the four methods every control-plane server
// exposes regardless of the embedding job process's own domain methods.
func registerBuiltins(s *Server) {
	s.Register(Descriptor{
		Name: "get_instances",
		Kind: Collection,
		Handle: func(_ *job.Instance, insts []*job.Instance, _ []interface{}) (interface{}, error) {
			out := make([]map[string]interface{}, 0, len(insts))
			for _, inst := range insts {
				out = append(out, map[string]interface{}{"job_run": inst.Snapshot()})
			}
			return out, nil
		},
	})

	s.Register(Descriptor{
		Name: "stop_instance",
		Kind: Instance,
		Handle: func(inst *job.Instance, _ []*job.Instance, _ []interface{}) (interface{}, error) {
			inst.Stop()
			return map[string]string{"stop_result": "STOP_INITIATED"}, nil
		},
	})

	s.Register(Descriptor{
		Name: "get_output_tail",
		Kind: Instance,
		Parameters: []ParamSpec{
			{Name: "max_lines", SemanticType: TypeInt, Required: false, Default: float64(100)},
		},
		Handle: func(inst *job.Instance, _ []*job.Instance, args []interface{}) (interface{}, error) {
			n, err := asInt(args[0])
			if err != nil {
				return nil, newError(CodeInvalidParams, "max_lines must be an int")
			}
			return map[string]interface{}{"tail": inst.Output().Tail(n)}, nil
		},
	})

	s.Register(Descriptor{
		Name: "exec_phase_control",
		Kind: Instance,
		Parameters: []ParamSpec{
			{Name: "phase_id", SemanticType: TypeString, Required: true},
			{Name: "op_name", SemanticType: TypeString, Required: true},
			{Name: "op_args", SemanticType: TypeList, Required: false, Default: []interface{}{}},
		},
		Handle: execPhaseControl,
	})
}

// execPhaseControl resolves phase_id to a phase-specific control handle
// and invokes op_name on it via reflection, the same dynamic-dispatch
// shape the reference control socket uses for phase operations (approve,
// release, and any future per-phase verb) without this package needing
// to know about every coordination phase's Go type.
func execPhaseControl(inst *job.Instance, _ []*job.Instance, args []interface{}) (interface{}, error) {
	phaseID, _ := args[0].(string)
	opName, _ := args[1].(string)
	opArgs, _ := args[2].([]interface{})

	control, err := inst.FindPhaseControl(phaseID, "")
	if err != nil {
		return nil, newError(CodePhaseNotFound, "phase %q not found", phaseID)
	}
	if control == nil {
		return nil, newError(CodePhaseNotFound, "phase %q exposes no control", phaseID)
	}

	value := reflect.ValueOf(control)
	method := value.MethodByName(exportedName(opName))
	if !method.IsValid() {
		return nil, newError(CodePhaseOpNotFound, "phase %q has no operation %q", phaseID, opName)
	}

	methodType := method.Type()
	if methodType.NumIn() != len(opArgs) && !methodType.IsVariadic() {
		return nil, newError(CodePhaseOpInvalidArgs, "operation %q takes %d arguments, got %d", opName, methodType.NumIn(), len(opArgs))
	}

	in := make([]reflect.Value, 0, len(opArgs))
	for i, a := range opArgs {
		argVal := reflect.ValueOf(a)
		if i < methodType.NumIn() && argVal.IsValid() && argVal.Type() != methodType.In(i) {
			if !argVal.Type().ConvertibleTo(methodType.In(i)) {
				return nil, newError(CodePhaseOpInvalidArgs, "operation %q argument %d has wrong type", opName, i)
			}
			argVal = argVal.Convert(methodType.In(i))
		}
		in = append(in, argVal)
	}

	results, callErr := safeCall(method, in)
	if callErr != nil {
		return nil, newError(CodeMethodExecutionError, "operation %q failed: %v", opName, callErr)
	}

	var retval interface{}
	if len(results) > 0 {
		retval = results[0].Interface()
	}
	return map[string]string{"retval": fmt.Sprintf("%v", retval)}, nil
}

// exportedName upper-cases the first rune so a JSON-RPC op_name like
// "approve" resolves to an exported Go method Approve.
func exportedName(name string) string {
	if name == "" {
		return name
	}
	r := []rune(name)
	if r[0] >= 'a' && r[0] <= 'z' {
		r[0] -= 'a' - 'A'
	}
	return string(r)
}

// safeCall invokes method via reflection, recovering a panic (e.g. wrong
// argument count/type slipping past the checks above) into a plain error
// so it surfaces as METHOD_EXECUTION_ERROR instead of crashing the
// control-plane connection goroutine.
func safeCall(method reflect.Value, in []reflect.Value) (out []reflect.Value, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()
	out = method.Call(in)
	return out, nil
}
