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

// Package transport defines the Transport contract for message channels,
// with stdio and SSE implementations, plus a Manager that registers named
// transport drivers, caches one instance per driver, and tracks a default
// selection. The stdio implementation here generalizes
// internal/server's stdioSession (bufio newline framing, context-cancellable
// reads) into the standalone contract this package defines, independent of
// the *server.Server type stdioSession is otherwise tied to.
package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
)

// MessageHandler processes one decoded inbound message and returns the
// encoded bytes to write back, or nil to emit nothing (e.g. a notification
// has no response).
type MessageHandler func(ctx context.Context, msg []byte) []byte

// ConnectionInfo describes a transport instance's current connection for
// health/diagnostic reporting.
type ConnectionInfo struct {
	Kind      string
	Connected bool
	Detail    string
}

// Transport is the contract a concrete message channel implements. This
// package provides stdio (Stdio) and SSE streaming (SSE); the HTTP
// request/response path in internal/server does not go through it.
type Transport interface {
	// Initialize configures the transport from a driver-specific config
	// value before Start is called.
	Initialize(config any) error
	// Start begins reading/serving until ctx is cancelled or the
	// transport's input is exhausted (EOF).
	Start(ctx context.Context) error
	// Stop releases the transport's resources. Safe to call after Start
	// has returned.
	Stop(ctx context.Context) error
	// Send writes one encoded message out-of-band from the Start loop
	// (used by the notification hub to push to a transport the protocol
	// handler isn't currently reading from).
	Send(msg []byte) error
	// Receive returns the next inbound message, or nil at end of input.
	Receive(ctx context.Context) ([]byte, error)
	// IsConnected reports whether the transport currently has a live
	// peer.
	IsConnected() bool
	// GetConnectionInfo reports the transport's current connection state.
	GetConnectionInfo() ConnectionInfo
	// SetMessageHandler registers the callback Start invokes for each
	// decoded inbound message.
	SetMessageHandler(handler MessageHandler)
}

// Driver constructs a fresh, uninitialized Transport instance.
type Driver func() Transport

// Manager is a named transport driver registry: it caches one instance per
// driver name, tracks a default selection, and can start/stop every cached
// instance together.
type Manager struct {
	mu        sync.Mutex
	drivers   map[string]Driver
	instances map[string]Transport
	def       string
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{
		drivers:   make(map[string]Driver),
		instances: make(map[string]Transport),
	}
}

// Register associates name with driver. It rejects (returns an error
// without registering) a driver whose factory produces a nil Transport,
// the only failure mode the type system doesn't already rule out at
// compile time for this contract.
func (m *Manager) Register(name string, driver Driver) error {
	if driver == nil {
		return fmt.Errorf("transport: nil driver for %q", name)
	}
	if probe := driver(); probe == nil {
		return fmt.Errorf("transport: driver %q does not produce a Transport", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[name] = driver
	if m.def == "" {
		m.def = name
	}
	return nil
}

// SetDefault selects which registered driver Default resolves to.
func (m *Manager) SetDefault(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[name]; !ok {
		return fmt.Errorf("transport: unknown driver %q", name)
	}
	m.def = name
	return nil
}

// Get returns the cached Transport instance for name, constructing and
// caching one via its driver on first call.
func (m *Manager) Get(name string) (Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.instances[name]; ok {
		return t, nil
	}
	driver, ok := m.drivers[name]
	if !ok {
		return nil, fmt.Errorf("transport: unknown driver %q", name)
	}
	t := driver()
	m.instances[name] = t
	return t, nil
}

// Default returns the Transport instance for the default driver.
func (m *Manager) Default() (Transport, error) {
	m.mu.Lock()
	def := m.def
	m.mu.Unlock()
	if def == "" {
		return nil, fmt.Errorf("transport: no default driver registered")
	}
	return m.Get(def)
}

// StartAll calls Start on every cached instance concurrently, returning the
// first error encountered (if any); the rest continue running.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	instances := make([]Transport, 0, len(m.instances))
	for _, t := range m.instances {
		instances = append(instances, t)
	}
	m.mu.Unlock()

	errs := make(chan error, len(instances))
	for _, t := range instances {
		go func(t Transport) { errs <- t.Start(ctx) }(t)
	}
	var first error
	for range instances {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// StopAll calls Stop on every cached instance.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	instances := make([]Transport, 0, len(m.instances))
	for _, t := range m.instances {
		instances = append(instances, t)
	}
	m.mu.Unlock()
	for _, t := range instances {
		t.Stop(ctx)
	}
}

// Health returns each cached instance's ConnectionInfo, keyed by driver
// name.
func (m *Manager) Health() map[string]ConnectionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]ConnectionInfo, len(m.instances))
	for name, t := range m.instances {
		out[name] = t.GetConnectionInfo()
	}
	return out
}

// StdioConfig configures a Stdio transport.
type StdioConfig struct {
	In  io.Reader
	Out io.Writer
}

// Stdio is the newline-delimited-JSON stdio Transport: one frame per line,
// read serially from In and written serially to Out, preserving request
// order end to end the same way stdioSession's readInputStream/write pair
// does in internal/server.
type Stdio struct {
	mu        sync.Mutex
	reader    *bufio.Reader
	writer    io.Writer
	handler   MessageHandler
	connected bool
}

// NewStdio returns an uninitialized Stdio transport; call Initialize before
// Start.
func NewStdio() *Stdio {
	return &Stdio{}
}

func (s *Stdio) Initialize(config any) error {
	cfg, ok := config.(StdioConfig)
	if !ok {
		return fmt.Errorf("transport: stdio requires a StdioConfig")
	}
	if cfg.In == nil || cfg.Out == nil {
		return fmt.Errorf("transport: stdio config requires both In and Out")
	}
	s.mu.Lock()
	s.reader = bufio.NewReader(cfg.In)
	s.writer = cfg.Out
	s.mu.Unlock()
	return nil
}

func (s *Stdio) SetMessageHandler(handler MessageHandler) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

// Start reads newline-delimited frames until ctx is cancelled or input is
// exhausted, invoking the registered handler for each non-empty line and
// writing any non-nil response back to Out.
func (s *Stdio) Start(ctx context.Context) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
	}()

	for {
		msg, err := s.Receive(ctx)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if msg == nil {
			return nil
		}
		if len(msg) == 0 {
			// an empty line carries no message and is ignored, per the
			// stdio framing contract.
			continue
		}
		s.mu.Lock()
		handler := s.handler
		s.mu.Unlock()
		if handler == nil {
			continue
		}
		if resp := handler(ctx, msg); resp != nil {
			if err := s.Send(resp); err != nil {
				return err
			}
		}
	}
}

func (s *Stdio) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

// Receive blocks for the next newline-delimited frame, returning (nil, nil)
// on EOF and respecting ctx cancellation the same way stdioSession.readLine
// does: the blocking read happens on its own goroutine so a cancelled ctx
// can still return promptly even though bufio.Reader.ReadString has no
// deadline of its own.
func (s *Stdio) Receive(ctx context.Context) ([]byte, error) {
	type result struct {
		line string
		err  error
	}
	out := make(chan result, 1)
	go func() {
		s.mu.Lock()
		r := s.reader
		s.mu.Unlock()
		line, err := r.ReadString('\n')
		out <- result{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-out:
		if res.err != nil && res.line == "" {
			if res.err == io.EOF {
				return nil, nil
			}
			return nil, res.err
		}
		// A final unterminated line still carries a message before EOF; the
		// caller sees end of input on its next Receive call.
		return []byte(trimNewline(res.line)), nil
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func (s *Stdio) Send(msg []byte) error {
	s.mu.Lock()
	w := s.writer
	s.mu.Unlock()
	_, err := fmt.Fprintf(w, "%s\n", msg)
	return err
}

func (s *Stdio) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Stdio) GetConnectionInfo() ConnectionInfo {
	return ConnectionInfo{Kind: "stdio", Connected: s.IsConnected(), Detail: "newline-delimited JSON over stdin/stdout"}
}

var _ Transport = (*Stdio)(nil)
