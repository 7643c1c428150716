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

import "github.com/gravitational/runjob/lib/job"

// splitSelector pulls the implicit leading selector (instance_id or
// run_match) out of the raw params value, returning it alongside the
// remaining params reshaped into the form validate expects for the
// method's declared ParamSpecs.
func splitSelector(kind Kind, raw interface{}) (selector interface{}, rest interface{}, err error) {
	switch v := raw.(type) {
	case nil:
		if kind == Instance {
			return nil, nil, newError(CodeInvalidParams, "missing required parameter %q", "instance_id")
		}
		return nil, nil, newError(CodeInvalidParams, "missing required parameter %q", "run_match")
	case map[string]interface{}:
		name := kind.selectorName()
		val, ok := v[name]
		if !ok {
			return nil, nil, newError(CodeInvalidParams, "missing required parameter %q", name)
		}
		rest := make(map[string]interface{}, len(v)-1)
		for k, vv := range v {
			if k == name {
				continue
			}
			rest[k] = vv
		}
		return val, rest, nil
	case []interface{}:
		if len(v) == 0 {
			name := kind.selectorName()
			return nil, nil, newError(CodeInvalidParams, "missing required parameter %q", name)
		}
		return v[0], v[1:], nil
	default:
		return nil, nil, newError(CodeInvalidParams, "params must be an object or array")
	}
}

// invoke resolves the selector to an instance/instance-set and calls the
// method's Handler.
func (s *Server) invoke(method Descriptor, selector interface{}, args []interface{}) (interface{}, error) {
	switch method.Kind {
	case Instance:
		id, ok := selector.(string)
		if !ok {
			return nil, newError(CodeInvalidParams, "instance_id must be a string")
		}
		inst, found := s.registry.Get(id)
		if !found {
			return nil, newError(CodeInstanceNotFound, "instance %q not found", id)
		}
		return method.Handle(inst, nil, args)
	case Collection:
		m, ok := selector.(map[string]interface{})
		if !ok {
			return nil, newError(CodeInvalidParams, "run_match must be an object")
		}
		criteria := job.CriteriaFromMapping(m)
		matches := s.registry.Matching(criteria)
		return method.Handle(nil, matches, args)
	default:
		return nil, newError(CodeInternalError, "unknown method kind")
	}
}
