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
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStdioEchoesLines(t *testing.T) {
	in := strings.NewReader("hello\nworld\n")
	var out bytes.Buffer

	s := NewStdio()
	if err := s.Initialize(StdioConfig{In: in, Out: &out}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	var received []string
	s.SetMessageHandler(func(ctx context.Context, msg []byte) []byte {
		received = append(received, string(msg))
		return append([]byte("echo:"), msg...)
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if len(received) != 2 || received[0] != "hello" || received[1] != "world" {
		t.Fatalf("unexpected received messages: %+v", received)
	}
	wantOut := "echo:hello\necho:world\n"
	if out.String() != wantOut {
		t.Fatalf("output = %q, want %q", out.String(), wantOut)
	}
}

func TestStdioIsConnectedDuringStart(t *testing.T) {
	pr, pw := newPipe()
	var out bytes.Buffer
	s := NewStdio()
	if err := s.Initialize(StdioConfig{In: pr, Out: &out}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	s.SetMessageHandler(func(ctx context.Context, msg []byte) []byte { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	waitUntil(t, func() bool { return s.IsConnected() })

	pw.Write([]byte("line\n"))
	cancel()
	<-done

	if s.IsConnected() {
		t.Fatal("expected IsConnected to be false after Start returns")
	}
}

func TestManagerRegisterGetDefault(t *testing.T) {
	m := NewManager()
	if err := m.Register("stdio", func() Transport { return NewStdio() }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.Register("sse", func() Transport { return NewSSE() }); err != nil {
		t.Fatalf("Register: %v", err)
	}

	def, err := m.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if def.GetConnectionInfo().Kind != "stdio" {
		t.Fatalf("expected stdio to be the first-registered default, got %q", def.GetConnectionInfo().Kind)
	}

	same, err := m.Get("stdio")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if same != def {
		t.Fatal("expected Get to return the cached default instance")
	}

	if err := m.SetDefault("sse"); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	def2, _ := m.Default()
	if def2.GetConnectionInfo().Kind != "sse" {
		t.Fatalf("expected sse after SetDefault, got %q", def2.GetConnectionInfo().Kind)
	}
}

func TestManagerRejectsNilDriver(t *testing.T) {
	m := NewManager()
	if err := m.Register("broken", func() Transport { return nil }); err == nil {
		t.Fatal("expected an error registering a driver that returns nil")
	}
}

func TestManagerUnknownDriver(t *testing.T) {
	m := NewManager()
	if _, err := m.Get("ghost"); err == nil {
		t.Fatal("expected an error for an unregistered driver name")
	}
}

func TestSSESendAndStart(t *testing.T) {
	rec := httptest.NewRecorder()
	s := NewSSE()
	if err := s.Initialize(SSEConfig{Writer: rec, IdleExpiry: time.Hour}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	waitUntil(t, func() bool { return s.IsConnected() })
	if err := s.Send([]byte(`{"x":1}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitUntil(t, func() bool { return strings.Contains(rec.Body.String(), `data: {"x":1}`) })

	cancel()
	<-done
	if s.IsConnected() {
		t.Fatal("expected IsConnected false after Start returns")
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type pipeReader struct {
	ch  chan []byte
	buf []byte
}

func newPipe() (*pipeReader, *pipeWriter) {
	ch := make(chan []byte, 8)
	return &pipeReader{ch: ch}, &pipeWriter{ch: ch}
}

func (p *pipeReader) Read(b []byte) (int, error) {
	for len(p.buf) == 0 {
		chunk, ok := <-p.ch
		if !ok {
			return 0, io.EOF
		}
		p.buf = chunk
	}
	n := copy(b, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

type pipeWriter struct {
	ch chan []byte
}

func (p *pipeWriter) Write(b []byte) (int, error) {
	cp := append([]byte(nil), b...)
	p.ch <- cp
	return len(b), nil
}
