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

package phaser

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"gopkg.in/check.v1"

	"github.com/gravitational/runjob/lib/phase"
)

func TestPhaserSuite(t *testing.T) { check.TestingT(t) }

type PhaserSuite struct {
	clock clockwork.Clock
}

var _ = check.Suite(&PhaserSuite{})

func (s *PhaserSuite) SetUpTest(c *check.C) {
	s.clock = clockwork.NewFakeClock()
}

// TestLifecycleNavigation checks PreviousRun/CurrentRun/PhaseCount against
// a driver that has run to completion.
func (s *PhaserSuite) TestLifecycleNavigation(c *check.C) {
	a := newLeaf("a", s.clock, func(context.Context) error { return nil })
	b := newLeaf("b", s.clock, func(context.Context) error { return nil })

	p, err := New(Config{Phases: []phase.Phase{a, b}, Clock: s.clock})
	c.Assert(err, check.IsNil)

	p.Prime()
	c.Assert(p.Run(context.Background()), check.IsNil)

	lifecycle := p.Lifecycle()
	c.Assert(lifecycle.PhaseCount(), check.Equals, 4)

	current, ok := lifecycle.CurrentRun()
	c.Assert(ok, check.Equals, true)
	c.Assert(current.PhaseID, check.Equals, phase.TerminalID)

	previous, ok := lifecycle.PreviousRun()
	c.Assert(ok, check.Equals, true)
	c.Assert(previous.PhaseID, check.Equals, "b")
}

// TestEmptyLifecycleNavigation checks the zero-value behavior an unprimed
// Phaser's empty Lifecycle reports.
func (s *PhaserSuite) TestEmptyLifecycleNavigation(c *check.C) {
	var lifecycle Lifecycle
	c.Assert(lifecycle.PhaseCount(), check.Equals, 0)

	_, ok := lifecycle.CurrentRun()
	c.Assert(ok, check.Equals, false)

	_, ok = lifecycle.PreviousRun()
	c.Assert(ok, check.Equals, false)
}

// TestWaitForTransitionTimesOutWithoutMatch drives a single long-running
// phase and checks WaitForTransition gives up once its timeout elapses
// without ever observing the selector it's waiting on.
func (s *PhaserSuite) TestWaitForTransitionTimesOutWithoutMatch(c *check.C) {
	clock := clockwork.NewRealClock()
	blockedUntil := make(chan struct{})
	a := newLeaf("a", clock, func(ctx context.Context) error {
		<-blockedUntil
		return nil
	})

	p, err := New(Config{Phases: []phase.Phase{a}, Clock: clock})
	c.Assert(err, check.IsNil)
	p.Prime()
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	ok := p.WaitForTransition("never-runs", "", 20*time.Millisecond)
	c.Assert(ok, check.Equals, false)

	close(blockedUntil)
	<-done
}
