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

package phase

import (
	"context"

	"github.com/jonboulle/clockwork"
)

// InitID and TerminalID are the fixed ids a Phaser uses to frame a run's
// lifecycle before the first declared phase and after the last.
const (
	InitID     = "init"
	TerminalID = "terminal"
)

// sentinel is a no-op Runnable shared by Init and Terminal.
type sentinel struct{}

func (sentinel) Execute(context.Context) error { return nil }

// NewInit returns a no-op sentinel phase with the fixed id "init".
func NewInit(clock clockwork.Clock) Phase {
	b := NewBase(InitID, "init", "", nil, RunStateCreated, nil, sentinel{}, clock)
	return b
}

// NewTerminal returns a no-op sentinel phase with the fixed id "terminal".
func NewTerminal(clock clockwork.Clock) Phase {
	b := NewBase(TerminalID, "terminal", "", nil, RunStateCreated, nil, sentinel{}, clock)
	return b
}
