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

package job

// Criteria is the deserialized form of the run_match parameter the
// control-plane's COLLECTION methods accept. A zero-value Criteria
// matches every registered instance.
type Criteria struct {
	InstanceIDs []string          `json:"instance_ids,omitempty"`
	Type        string            `json:"type,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Matches reports whether inst satisfies c.
func (c Criteria) Matches(inst *Instance) bool {
	if len(c.InstanceIDs) > 0 {
		found := false
		for _, id := range c.InstanceIDs {
			if id == inst.id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.Type != "" && c.Type != inst.jobType {
		return false
	}
	for k, v := range c.Attributes {
		if inst.attributes[k] != v {
			return false
		}
	}
	return true
}

// CriteriaFromMapping builds a Criteria from a loosely-typed JSON mapping
// as received over the control socket, tolerating absent fields.
func CriteriaFromMapping(m map[string]interface{}) Criteria {
	var c Criteria
	if raw, ok := m["instance_ids"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				c.InstanceIDs = append(c.InstanceIDs, s)
			}
		}
	}
	if s, ok := m["type"].(string); ok {
		c.Type = s
	}
	if raw, ok := m["attributes"].(map[string]interface{}); ok {
		c.Attributes = make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				c.Attributes[k] = s
			}
		}
	}
	return c
}
