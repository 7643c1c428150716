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

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_UncontendedSucceedsImmediately(t *testing.T) {
	dir := t.TempDir()
	release, err := Acquire(context.Background(), NewNamed(dir, "res-1"))
	require.NoError(t, err)
	require.NoError(t, release())
}

func TestAcquire_SameNameSerializesAcrossHolders(t *testing.T) {
	dir := t.TempDir()
	release, err := Acquire(context.Background(), NewNamed(dir, "res-2"))
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := Acquire(context.Background(), NewNamed(dir, "res-2"))
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire succeeded while the first still held the lock")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, release())

	select {
	case <-acquired:
	case <-time.After(3 * time.Second):
		t.Fatal("second Acquire never succeeded after the first released")
	}
}

func TestAcquire_ContextCancellationAbortsWait(t *testing.T) {
	dir := t.TempDir()
	release, err := Acquire(context.Background(), NewNamed(dir, "res-3"))
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = Acquire(ctx, NewNamed(dir, "res-3"))
	assert.Error(t, err)
}

func TestAcquire_DifferentNamesDoNotContend(t *testing.T) {
	dir := t.TempDir()
	r1, err := Acquire(context.Background(), NewNamed(dir, "res-a"))
	require.NoError(t, err)
	defer r1()

	r2, err := Acquire(context.Background(), NewNamed(dir, "res-b"))
	require.NoError(t, err)
	defer r2()
}
