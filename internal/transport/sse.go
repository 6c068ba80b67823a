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

package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// SSEConfig configures an SSE transport from the ResponseWriter of the
// long-lived GET request that opened the event stream.
type SSEConfig struct {
	Writer     http.ResponseWriter
	IdleExpiry time.Duration
}

// SSE is a server-sent-events Transport: outbound-only, one event per
// queued message, generalizing sseSession/sseManager's bounded
// eventQueue-plus-idle-sweep idiom from internal/server/mcp.go into the
// standalone Transport contract. SSE carries no client-to-server channel of
// its own, so Receive always returns (nil, nil), the contract's end-of-input
// result, immediately; inbound messages
// for an SSE-backed session arrive over a separate POST handler that isn't
// part of this contract.
type SSE struct {
	mu         sync.Mutex
	writer     http.ResponseWriter
	flusher    http.Flusher
	handler    MessageHandler
	connected  bool
	lastActive time.Time
	idleExpiry time.Duration
	queue      chan []byte
	done       chan struct{}
	closeOnce  sync.Once
}

// queueCapacity bounds how many unsent events an SSE transport buffers
// before Send starts dropping. (sseSession's eventQueue in internal/server
// holds 100.)
const queueCapacity = 64

// NewSSE returns an uninitialized SSE transport; call Initialize before
// Start.
func NewSSE() *SSE {
	return &SSE{
		queue: make(chan []byte, queueCapacity),
		done:  make(chan struct{}),
	}
}

func (s *SSE) Initialize(config any) error {
	cfg, ok := config.(SSEConfig)
	if !ok {
		return fmt.Errorf("transport: sse requires an SSEConfig")
	}
	if cfg.Writer == nil {
		return fmt.Errorf("transport: sse config requires a Writer")
	}
	flusher, ok := cfg.Writer.(http.Flusher)
	if !ok {
		return fmt.Errorf("transport: sse requires a flushable http.ResponseWriter")
	}
	idle := cfg.IdleExpiry
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	s.mu.Lock()
	s.writer = cfg.Writer
	s.flusher = flusher
	s.idleExpiry = idle
	s.lastActive = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *SSE) SetMessageHandler(handler MessageHandler) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

// Start writes queued events to the underlying ResponseWriter until ctx is
// cancelled, the idle expiry elapses with no activity, or Stop is called.
// SSE never invokes the message handler itself since it has no inbound
// channel; the handler field exists only to satisfy the Transport contract
// uniformly.
func (s *SSE) Start(ctx context.Context) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case msg := <-s.queue:
			if err := s.writeEvent(msg); err != nil {
				return err
			}
		case <-ticker.C:
			s.mu.Lock()
			idle := time.Since(s.lastActive) > s.idleExpiry
			s.mu.Unlock()
			if idle {
				return nil
			}
		}
	}
}

func (s *SSE) writeEvent(msg []byte) error {
	s.mu.Lock()
	w, f := s.writer, s.flusher
	s.lastActive = time.Now()
	s.mu.Unlock()
	if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
		return err
	}
	f.Flush()
	return nil
}

func (s *SSE) Stop(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

// Send enqueues msg for delivery on the next Start loop iteration, dropping
// it if the queue is saturated rather than blocking the caller.
func (s *SSE) Send(msg []byte) error {
	select {
	case s.queue <- msg:
		return nil
	default:
		return fmt.Errorf("transport: sse queue full, dropping message")
	}
}

// Receive always reports end of input: SSE is a one-way, server-to-client
// stream.
func (s *SSE) Receive(ctx context.Context) ([]byte, error) {
	return nil, nil
}

func (s *SSE) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *SSE) GetConnectionInfo() ConnectionInfo {
	return ConnectionInfo{Kind: "sse", Connected: s.IsConnected(), Detail: "server-sent events over HTTP"}
}

var _ Transport = (*SSE)(nil)
