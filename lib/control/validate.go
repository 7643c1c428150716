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

import "fmt"

// selectorName is the implicit leading parameter name each Kind expects,
// which validate must tolerate in a mapping payload without matching it
// against the method's own ParamSpecs.
func (k Kind) selectorName() string {
	if k == Collection {
		return "run_match"
	}
	return "instance_id"
}

// validate reshapes raw params (a JSON object or array, per encoding/json
// unmarshalling into interface{}) into a positional slice matching
// method.Parameters, applying defaults and type-checking each value. It
// returns a slice of exactly len(method.Parameters) entries or an
// INVALID_PARAMS *RPCError.
func validate(method Descriptor, raw interface{}) ([]interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return fillDefaults(method, nil)
	case map[string]interface{}:
		return validateMapping(method, v)
	case []interface{}:
		return validateSequence(method, v)
	default:
		return nil, newError(CodeInvalidParams, "params must be an object or array")
	}
}

func validateMapping(method Descriptor, m map[string]interface{}) ([]interface{}, error) {
	allowed := make(map[string]struct{}, len(method.Parameters)+1)
	allowed[method.Kind.selectorName()] = struct{}{}
	for _, p := range method.Parameters {
		allowed[p.Name] = struct{}{}
	}
	for key := range m {
		if _, ok := allowed[key]; !ok {
			return nil, newError(CodeInvalidParams, "unexpected parameter %q", key)
		}
	}

	out := make([]interface{}, len(method.Parameters))
	for i, spec := range method.Parameters {
		val, present := m[spec.Name]
		if !present {
			if spec.Required {
				return nil, newError(CodeInvalidParams, "missing required parameter %q", spec.Name)
			}
			out[i] = spec.Default
			continue
		}
		if err := checkType(spec, val); err != nil {
			return nil, err
		}
		out[i] = val
	}
	return out, nil
}

func validateSequence(method Descriptor, seq []interface{}) ([]interface{}, error) {
	if len(seq) > len(method.Parameters) {
		return nil, newError(CodeInvalidParams, "too many parameters: got %d, want at most %d", len(seq), len(method.Parameters))
	}
	out := make([]interface{}, len(method.Parameters))
	for i, spec := range method.Parameters {
		if i >= len(seq) {
			if spec.Required {
				return nil, newError(CodeInvalidParams, "missing required parameter %q", spec.Name)
			}
			out[i] = spec.Default
			continue
		}
		if err := checkType(spec, seq[i]); err != nil {
			return nil, err
		}
		out[i] = seq[i]
	}
	return out, nil
}

func fillDefaults(method Descriptor, _ interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(method.Parameters))
	for i, spec := range method.Parameters {
		if spec.Required {
			return nil, newError(CodeInvalidParams, "missing required parameter %q", spec.Name)
		}
		out[i] = spec.Default
	}
	return out, nil
}

func checkType(spec ParamSpec, val interface{}) error {
	ok := false
	switch spec.SemanticType {
	case TypeString:
		_, ok = val.(string)
	case TypeInt:
		ok = isJSONInt(val)
	case TypeList:
		_, ok = val.([]interface{})
	case TypeMapping:
		_, ok = val.(map[string]interface{})
	}
	if !ok {
		return newError(CodeInvalidParams, "parameter %q must be of type %s", spec.Name, spec.SemanticType)
	}
	return nil
}

// isJSONInt reports whether val, as decoded by encoding/json into
// interface{} (so numbers arrive as float64), represents an integer.
func isJSONInt(val interface{}) bool {
	f, ok := val.(float64)
	if !ok {
		return false
	}
	return f == float64(int64(f))
}

// asInt converts a validated TypeInt parameter value to int.
func asInt(val interface{}) (int, error) {
	f, ok := val.(float64)
	if !ok {
		return 0, fmt.Errorf("expected numeric value, got %T", val)
	}
	return int(f), nil
}
