// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"sync"

	mcputil "github.com/mcplane/mcp-runtime/internal/server/mcp/util"
)

// Session lifecycle states.
const (
	StateUninitialized = "uninitialized"
	StateInitializing  = "initializing"
	StateReady         = "ready"
	StateShuttingDown  = "shutting-down"
)

// SessionState tracks one connection's negotiated protocol version,
// capabilities and initialization state, guarding the state machine:
// uninitialized -> initializing -> ready -> shutting-down.
type SessionState struct {
	mu                 sync.Mutex
	state              string
	protocolVersion    string
	clientCapabilities ClientCapabilities
}

// NewSessionState returns a fresh, uninitialized SessionState.
func NewSessionState() *SessionState {
	return &SessionState{state: StateUninitialized}
}

// State returns the session's current lifecycle state.
func (s *SessionState) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BeginInitialize transitions uninitialized -> initializing. It fails with
// -32600 if the session has already been initialized once.
func (s *SessionState) BeginInitialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUninitialized {
		return &StateError{Code: INVALID_REQUEST, Message: "session has already been initialized"}
	}
	s.state = StateInitializing
	return nil
}

// CompleteInitialize transitions initializing -> ready, recording the
// negotiated protocol version and the client's declared capabilities.
func (s *SessionState) CompleteInitialize(protocolVersion string, caps ClientCapabilities) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocolVersion = protocolVersion
	s.clientCapabilities = caps
	s.state = StateReady
}

// CheckMethod reports whether method may run given the session's current
// state. Only `initialize` is allowed while uninitialized; once
// shutting-down, everything but a handful of internal methods is rejected.
func (s *SessionState) CheckMethod(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateUninitialized:
		if method != mcputil.INITIALIZE {
			return &StateError{Code: INVALID_REQUEST, Message: "session is not initialized"}
		}
	case StateShuttingDown:
		if method != mcputil.PING {
			return &StateError{Code: INVALID_REQUEST, Message: "session is shutting down"}
		}
	}
	return nil
}

// Shutdown transitions the session to shutting-down.
func (s *SessionState) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateShuttingDown
}

// ProtocolVersion returns the version negotiated at initialize, or "" if
// the session has not completed initialization.
func (s *SessionState) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

// StateError reports a session-state-machine violation as a JSON-RPC error
// code/message pair, without importing the jsonrpc package's response
// envelope here, since callers use it to fill in jsonrpc.NewError.
type StateError struct {
	Code    int
	Message string
}

func (e *StateError) Error() string {
	return e.Message
}

// SessionRegistry is a concurrency-safe id->SessionState map, one entry per
// stdio connection or HTTP/SSE session id, mirroring the mutex-guarded map
// idiom sseManager already uses for SSE sessions.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*SessionState
}

// NewSessionRegistry returns an empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*SessionState)}
}

// Get returns the SessionState registered under id, creating one if absent.
func (r *SessionRegistry) Get(id string) *SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		s = NewSessionState()
		r.sessions[id] = s
	}
	return s
}

// Remove deletes the SessionState registered under id.
func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}
