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

// Package lock provides named, cross-process exclusion derived from a
// coordination id (a no-overlap id or a queue id), backed by advisory
// file locks so peer processes on the same host serialize around the
// same named resource.
package lock

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"github.com/gravitational/trace"
)

// lockPollInterval and lockMaxPollInterval bound the exponential backoff
// Acquire uses while waiting for a peer process to release the named
// lock, the same pacing gravity's own leader-election package
// (vendor/github.com/gravitational/coordinate/leader) applies to its
// contended-resource retries.
const (
	lockPollInterval    = 25 * time.Millisecond
	lockMaxPollInterval = time.Second
)

// Named acquires and releases an exclusive, cross-process lock for a
// coordination name (e.g. a no-overlap id or an execution queue id). All
// locks for a given dir/name pair serialize across every process that
// constructs a Named with the same arguments.
type Named struct {
	dir  string
	name string
}

// NewNamed returns a lock handle scoped to dir (typically the per-user
// runtime directory) and name (the coordination id). It performs no I/O;
// the lock file is created lazily on first Acquire.
func NewNamed(dir, name string) *Named {
	return &Named{dir: dir, name: name}
}

func (n *Named) path() string {
	sum := sha1.Sum([]byte(n.name))
	return filepath.Join(n.dir, "runjob-lock-"+hex.EncodeToString(sum[:])+".lock")
}

// Release unlocks and closes the underlying file lock.
type Release func() error

// Acquire blocks (respecting ctx cancellation) until it holds the named
// lock exclusively, returning a Release func the caller must invoke
// exactly once — typically via defer — to give up the lock. Matches the
// spec's requirement that the lock never be held across a blocking wait:
// callers acquire, do their bounded work, and release before suspending.
func Acquire(ctx context.Context, n *Named) (Release, error) {
	if err := os.MkdirAll(n.dir, 0o700); err != nil {
		return nil, trace.Wrap(err, "creating lock directory %q", n.dir)
	}
	fl := flock.New(n.path())

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = lockPollInterval
	b.MaxInterval = lockMaxPollInterval
	b.MaxElapsedTime = 0 // bounded by ctx, not wall-clock budget

	for {
		locked, err := fl.TryLock()
		if err != nil {
			return nil, trace.Wrap(err, "acquiring lock %q", n.name)
		}
		if locked {
			return fl.Unlock, nil
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return nil, trace.BadParameter("failed to acquire lock %q", n.name)
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, trace.Wrap(ctx.Err(), "acquiring lock %q", n.name)
		}
	}
}
