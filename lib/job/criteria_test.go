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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCriteria_ZeroValueMatchesEverything(t *testing.T) {
	inst := &Instance{id: "i1", jobType: "backup"}
	assert.True(t, Criteria{}.Matches(inst))
}

func TestCriteria_InstanceIDsFiltersByID(t *testing.T) {
	inst := &Instance{id: "i1"}
	assert.True(t, Criteria{InstanceIDs: []string{"i1", "i2"}}.Matches(inst))
	assert.False(t, Criteria{InstanceIDs: []string{"i2"}}.Matches(inst))
}

func TestCriteria_TypeAndAttributesMustAllMatch(t *testing.T) {
	inst := &Instance{id: "i1", jobType: "backup", attributes: map[string]string{"region": "us-east-1"}}

	assert.True(t, Criteria{Type: "backup"}.Matches(inst))
	assert.False(t, Criteria{Type: "restore"}.Matches(inst))

	assert.True(t, Criteria{Attributes: map[string]string{"region": "us-east-1"}}.Matches(inst))
	assert.False(t, Criteria{Attributes: map[string]string{"region": "us-west-2"}}.Matches(inst))
}

func TestCriteriaFromMapping_TolerantOfMissingAndWrongTypedFields(t *testing.T) {
	m := map[string]interface{}{
		"instance_ids": []interface{}{"i1", 42, "i2"},
		"type":         "backup",
		"attributes":   map[string]interface{}{"region": "us-east-1", "tier": 3},
	}
	c := CriteriaFromMapping(m)

	assert.Equal(t, []string{"i1", "i2"}, c.InstanceIDs)
	assert.Equal(t, "backup", c.Type)
	assert.Equal(t, map[string]string{"region": "us-east-1"}, c.Attributes)
}

func TestCriteriaFromMapping_EmptyMapping(t *testing.T) {
	c := CriteriaFromMapping(map[string]interface{}{})
	assert.Empty(t, c.InstanceIDs)
	assert.Empty(t, c.Type)
	assert.Empty(t, c.Attributes)
}
