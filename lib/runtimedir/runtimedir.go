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

// Package runtimedir resolves the per-user directory job processes share
// to find each other: the control socket lives there, and peer listener
// sockets are discovered by scanning it for well-known file extensions.
package runtimedir

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gravitational/trace"
)

const (
	// TransitionListenerExt names a domain socket a peer registered to
	// receive phase transition events.
	TransitionListenerExt = ".tlistener"
	// OutputListenerExt names a domain socket a peer registered to
	// receive output-line events.
	OutputListenerExt = ".olistener"
	// ControlSocketExt names a process's JSON-RPC control socket.
	ControlSocketExt = ".api"
)

// Dir is the resolved per-user runtime directory.
type Dir struct {
	path string
}

// New resolves the runtime directory, creating it mode-700 if absent.
// When override is non-empty it is used verbatim (tests pass a temp
// dir); otherwise it falls back to $XDG_RUNTIME_DIR/runjob, and finally
// to $TMPDIR/runjob-<uid>.
func New(override string) (*Dir, error) {
	path := override
	if path == "" {
		if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
			path = filepath.Join(xdg, "runjob")
		} else {
			path = filepath.Join(os.TempDir(), fmt.Sprintf("runjob-%d", os.Getuid()))
		}
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, trace.Wrap(err, "creating runtime directory %q", path)
	}
	return &Dir{path: path}, nil
}

// Path returns the resolved directory.
func (d *Dir) Path() string { return d.path }

// NewControlSocketPath mints a fresh, collision-resistant control socket
// path of the form <dir>/<hex-timestamp>.api.
func (d *Dir) NewControlSocketPath() string {
	return filepath.Join(d.path, fmt.Sprintf("%x%s", time.Now().UnixNano(), ControlSocketExt))
}

// NewListenerPath mints a fresh listener socket path with the given
// extension (TransitionListenerExt or OutputListenerExt).
func (d *Dir) NewListenerPath(ext string) string {
	return filepath.Join(d.path, fmt.Sprintf("%x%s", time.Now().UnixNano(), ext))
}

// DiscoverListeners scans the runtime directory for files ending in ext
// and returns their full paths, sorted for deterministic iteration order.
func (d *Dir) DiscoverListeners(ext string) ([]string, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, trace.Wrap(err, "scanning runtime directory %q", d.path)
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ext) {
			out = append(out, filepath.Join(d.path, entry.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
