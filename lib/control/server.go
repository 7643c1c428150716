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
	"encoding/json"
	"net"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/gravitational/runjob/lib/metrics"
	"github.com/gravitational/trace"
)

// request is the JSON-RPC 2.0 request envelope. ID is left as
// json.RawMessage so it can be echoed back verbatim (string, number, or
// absent) without Go's float64/string ambiguity mangling it.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// response is the JSON-RPC 2.0 response envelope. Exactly one of Result
// or Error is populated.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Server binds a per-user local domain socket and answers one JSON-RPC
// 2.0 request per connection against a Registry and a table of
// registered Descriptors.
type Server struct {
	registry *Registry
	log      logrus.FieldLogger

	mu      sync.RWMutex
	methods map[string]Descriptor

	listener net.Listener
	path     string
}

// NewServer returns a server with the built-in methods already
// registered. Additional domain-specific methods can be added with
// Register before Listen is called.
func NewServer(registry *Registry, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.WithField(trace.Component, "control")
	}
	s := &Server{
		registry: registry,
		log:      log,
		methods:  make(map[string]Descriptor),
	}
	registerBuiltins(s)
	return s
}

// Register adds or replaces a method descriptor.
func (s *Server) Register(d Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[d.Name] = d
}

// Listen binds the control socket at path (created mode-600) and begins
// accepting connections in a background goroutine. Callers must call
// Close to release the socket and remove the file.
func (s *Server) Listen(path string) error {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return trace.Wrap(err, "binding control socket %q", path)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return trace.Wrap(err, "setting control socket permissions")
	}
	s.listener = ln
	s.path = path
	go s.acceptLoop()
	return nil
}

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	os.Remove(s.path)
	return err
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

// handleConn reads exactly one JSON document, dispatches it, writes
// exactly one JSON document, and closes. A panic anywhere in dispatch is
// recovered and turned into an INTERNAL_ERROR so the socket boundary
// never sees a raw crash.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	var req request
	dec := json.NewDecoder(conn)
	if err := dec.Decode(&req); err != nil {
		s.write(conn, response{JSONRPC: "2.0", Error: newError(CodeParseError, "invalid JSON: %v", err)})
		return
	}

	resp := s.dispatchRecovered(req)
	outcome := "ok"
	if resp.Error != nil {
		outcome = "error"
	}
	metrics.ControlRequests.WithLabelValues(req.Method, outcome).Inc()
	s.write(conn, resp)
}

func (s *Server) write(conn net.Conn, resp response) {
	resp.JSONRPC = "2.0"
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.WithError(err).Debug("Failed to write control-plane response.")
	}
}

func (s *Server) dispatchRecovered(req request) (resp response) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.WithField("panic", rec).Error("Control-plane handler panicked.")
			resp = response{Error: newError(CodeInternalError, "internal error"), ID: req.ID}
		}
	}()
	return s.dispatch(req)
}

func (s *Server) dispatch(req request) response {
	if req.Method == "ping" {
		return response{Result: map[string]string{"pong": "ok"}, ID: req.ID}
	}
	if req.JSONRPC != "2.0" {
		return response{Error: newError(CodeInvalidRequest, "jsonrpc must be \"2.0\""), ID: req.ID}
	}
	if req.Method == "" {
		return response{Error: newError(CodeInvalidRequest, "missing method"), ID: req.ID}
	}

	s.mu.RLock()
	method, ok := s.methods[req.Method]
	s.mu.RUnlock()
	if !ok {
		return response{Error: newError(CodeMethodNotFound, "unknown method %q", req.Method), ID: req.ID}
	}

	var rawParams interface{}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &rawParams); err != nil {
			return response{Error: newError(CodeInvalidParams, "invalid params: %v", err), ID: req.ID}
		}
	}

	selector, rest, err := splitSelector(method.Kind, rawParams)
	if err != nil {
		if rerr, ok := err.(*RPCError); ok {
			return response{Error: rerr, ID: req.ID}
		}
		return response{Error: newError(CodeInvalidParams, "%v", err), ID: req.ID}
	}

	args, err := validate(method, rest)
	if err != nil {
		if rerr, ok := err.(*RPCError); ok {
			return response{Error: rerr, ID: req.ID}
		}
		return response{Error: newError(CodeInvalidParams, "%v", err), ID: req.ID}
	}

	result, callErr := s.invoke(method, selector, args)
	if callErr != nil {
		if rerr, ok := callErr.(*RPCError); ok {
			return response{Error: rerr, ID: req.ID}
		}
		return response{Error: newError(CodeMethodExecutionError, "%v", callErr), ID: req.ID}
	}
	return response{Result: result, ID: req.ID}
}
