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

	"github.com/gravitational/runjob/lib/job"
)

// Kind distinguishes methods that operate on a criteria-matched subset of
// instances from methods that operate on exactly one, looked up by id.
type Kind int

const (
	// Instance methods take instance_id as their first parameter.
	Instance Kind = iota
	// Collection methods take run_match as their first parameter.
	Collection
)

// SemanticType is the declared type of one parameter, checked against
// the runtime type of the corresponding JSON value.
type SemanticType int

// Semantic types a ParamSpec may declare.
const (
	TypeString SemanticType = iota
	TypeInt
	TypeList
	TypeMapping
)

func (t SemanticType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeList:
		return "list"
	case TypeMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// ParamSpec describes one positional/named parameter a method accepts,
// beyond the implicit leading instance_id/run_match.
type ParamSpec struct {
	Name         string
	SemanticType SemanticType
	Required     bool
	// Default is used when the parameter is absent and not Required.
	Default interface{}
}

// Handler executes a validated call. For Instance methods inst is the
// resolved instance; for Collection methods insts holds every match
// (possibly empty) and inst is nil.
type Handler func(inst *job.Instance, insts []*job.Instance, args []interface{}) (interface{}, error)

// Descriptor is a registered JSON-RPC method: its name, kind, declared
// parameters (excluding the implicit leading selector), and handler.
type Descriptor struct {
	Name       string
	Kind       Kind
	Parameters []ParamSpec
	Handle     Handler
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s(%d params, kind=%v)", d.Name, len(d.Parameters), d.Kind)
}
