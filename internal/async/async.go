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

// Package async implements the async request pipeline: async(method, params)
// submits an MCP method call for background execution and returns a
// requestId immediately; asyncStatus/asyncResult poll the job's progress and
// outcome. A job is executed by replaying method/params through the same
// mcp.ProcessMethod dispatch a synchronous request would use, so a tool,
// resource or prompt invoked asynchronously runs exactly the code path it
// would run inline. Retries on failure are scheduled with an exponential
// backoff, the same cron-engine-driven one-shot scheduling
// teradata-labs-loom's workflow scheduler uses for delayed work, generalized
// here from calendar-cron schedules to a single delayed retry per job.
package async

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/mcplane/mcp-runtime/internal/cache"
	"github.com/mcplane/mcp-runtime/internal/events"
	"github.com/mcplane/mcp-runtime/internal/prompts"
	"github.com/mcplane/mcp-runtime/internal/resources"
	"github.com/mcplane/mcp-runtime/internal/server/mcp"
	"github.com/mcplane/mcp-runtime/internal/server/mcp/jsonrpc"
	"github.com/mcplane/mcp-runtime/internal/server/mcp/v20250326"
	"github.com/mcplane/mcp-runtime/internal/tools"
)

// Status values a job record may report.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Default tuning, per the job's retry/timeout contract.
const (
	DefaultTries             = 3
	DefaultBackoffMultiplier = 3
	DefaultBaseBackoff       = time.Second
	DefaultAttemptTimeout    = 300 * time.Second
	DefaultRetryUntil        = 15 * time.Minute
	DefaultResultTTL         = 3600 * time.Second
	DefaultStatusTTL         = 300 * time.Second
)

// StatusRecord is the `async:status:<id>` cache record.
type StatusRecord struct {
	RequestID string    `json:"requestId"`
	Status    string    `json:"status"`
	Method    string    `json:"method"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ErrorInfo describes a failed attempt's cause.
type ErrorInfo struct {
	Class   string `json:"class"`
	Message string `json:"message"`
}

// ResultRecord is the `async:result:<id>` cache record.
type ResultRecord struct {
	RequestID       string          `json:"requestId"`
	Status          string          `json:"status"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           *ErrorInfo      `json:"error,omitempty"`
	ExecutionTimeMs int64           `json:"executionTimeMs"`
}

// SubmitOptions carries the per-notification-style options spec.md §6
// recognizes for an async submission: `{tries, backoff, result_ttl}`.
type SubmitOptions struct {
	Tries      int
	Backoff    int // multiplier; 0 means DefaultBackoffMultiplier
	ResultTTL  time.Duration
	RetryUntil time.Duration
}

// Dispatcher runs submitted jobs against the live component set and tracks
// their status/result records in a cache.Store.
type Dispatcher struct {
	store   cache.Store
	bus     *events.Bus
	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID

	toolset        tools.Toolset
	toolsMap       map[string]tools.Tool
	resourcesStore *resources.Store
	promptsStore   *prompts.Store

	attemptTimeout time.Duration
}

// NewDispatcher returns a Dispatcher that executes jobs against the given
// component set, storing job records in store and emitting lifecycle events
// on bus (bus may be nil). The returned Dispatcher's cron engine is already
// started; call Stop to release it.
func NewDispatcher(store cache.Store, bus *events.Bus, toolset tools.Toolset, toolsMap map[string]tools.Tool, resourcesStore *resources.Store, promptsStore *prompts.Store) *Dispatcher {
	d := &Dispatcher{
		store:          store,
		bus:            bus,
		cron:           cron.New(),
		entries:        make(map[string]cron.EntryID),
		toolset:        toolset,
		toolsMap:       toolsMap,
		resourcesStore: resourcesStore,
		promptsStore:   promptsStore,
		attemptTimeout: DefaultAttemptTimeout,
	}
	d.cron.Start()
	return d
}

// Stop halts the retry scheduler. Jobs already dispatched to a running
// attempt are not interrupted.
func (d *Dispatcher) Stop() {
	d.cron.Stop()
}

// Submit enqueues method/params for background execution and returns its
// requestId. The first attempt is dispatched immediately, in its own
// goroutine.
func (d *Dispatcher) Submit(ctx context.Context, method string, params map[string]any, opts SubmitOptions) (string, error) {
	id := uuid.NewString()
	tries := opts.Tries
	if tries <= 0 {
		tries = DefaultTries
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoffMultiplier
	}
	resultTTL := opts.ResultTTL
	if resultTTL <= 0 {
		resultTTL = DefaultResultTTL
	}
	retryUntil := opts.RetryUntil
	if retryUntil <= 0 {
		retryUntil = DefaultRetryUntil
	}

	now := time.Now()
	status := StatusRecord{RequestID: id, Status: StatusQueued, Method: method, Attempts: 0, CreatedAt: now, UpdatedAt: now}
	if err := d.writeStatus(ctx, status); err != nil {
		return "", fmt.Errorf("unable to record async job %s: %w", id, err)
	}

	deadline := now.Add(retryUntil)
	go d.attempt(context.WithoutCancel(ctx), id, method, params, 1, tries, backoff, resultTTL, deadline, now)

	return id, nil
}

// Status returns the job's current status record, or nil if no such job is
// known (never submitted, or its status record has expired).
func (d *Dispatcher) Status(ctx context.Context, requestID string) (*StatusRecord, error) {
	raw, err := d.store.Get(ctx, statusKey(requestID))
	if err == cache.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s StatusRecord
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("corrupt async status record for %s: %w", requestID, err)
	}
	return &s, nil
}

// Result returns the job's result record if a terminal attempt has written
// one, or nil if the job is still pending or unknown/expired.
func (d *Dispatcher) Result(ctx context.Context, requestID string) (*ResultRecord, error) {
	raw, err := d.store.Get(ctx, resultKey(requestID))
	if err == cache.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r ResultRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("corrupt async result record for %s: %w", requestID, err)
	}
	return &r, nil
}

func statusKey(id string) string { return "async:status:" + id }
func resultKey(id string) string { return "async:result:" + id }

func (d *Dispatcher) writeStatus(ctx context.Context, s StatusRecord) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return d.store.Set(ctx, statusKey(s.RequestID), raw, DefaultStatusTTL)
}

func (d *Dispatcher) writeResult(ctx context.Context, r ResultRecord, ttl time.Duration) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return d.store.Set(ctx, resultKey(r.RequestID), raw, ttl)
}

// attempt executes one try of a job and, on failure, schedules the next one
// until tries is exhausted or deadline passes.
func (d *Dispatcher) attempt(ctx context.Context, id, method string, params map[string]any, attemptNum, tries, backoffMultiplier int, resultTTL time.Duration, deadline, createdAt time.Time) {
	d.writeStatus(ctx, StatusRecord{RequestID: id, Status: StatusRunning, Method: method, Attempts: attemptNum, CreatedAt: createdAt, UpdatedAt: time.Now()})

	attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()

	start := time.Now()
	result, execErr := d.invoke(attemptCtx, id, method, params)
	elapsed := time.Since(start)

	if execErr == nil {
		d.writeResult(ctx, ResultRecord{RequestID: id, Status: StatusCompleted, Result: result, ExecutionTimeMs: elapsed.Milliseconds()}, resultTTL)
		d.writeStatus(ctx, StatusRecord{RequestID: id, Status: StatusCompleted, Method: method, Attempts: attemptNum, CreatedAt: createdAt, UpdatedAt: time.Now()})
		d.bus.Emit(ctx, events.Event{Type: events.RequestProcessed, Method: method, Duration: elapsed, Success: true})
		d.bus.Emit(ctx, events.Event{Type: events.AsyncJobCompleted, Component: id, Method: method, Duration: elapsed, Success: true})
		return
	}

	errInfo := &ErrorInfo{Class: "execution-error", Message: execErr.Error()}
	d.writeResult(ctx, ResultRecord{RequestID: id, Status: StatusFailed, Error: errInfo, ExecutionTimeMs: elapsed.Milliseconds()}, resultTTL)
	d.writeStatus(ctx, StatusRecord{RequestID: id, Status: StatusFailed, Method: method, Attempts: attemptNum, CreatedAt: createdAt, UpdatedAt: time.Now()})
	d.bus.Emit(ctx, events.Event{Type: events.RequestProcessed, Method: method, Duration: elapsed, Success: false, Err: execErr})

	delay := DefaultBaseBackoff
	for i := 1; i < attemptNum; i++ {
		delay *= time.Duration(backoffMultiplier)
	}
	nextAt := time.Now().Add(delay)

	if attemptNum >= tries || nextAt.After(deadline) {
		d.bus.Emit(ctx, events.Event{Type: events.AsyncJobFailed, Component: id, Method: method, Success: false, Err: execErr})
		return
	}

	d.scheduleRetry(ctx, id, method, params, attemptNum+1, tries, backoffMultiplier, resultTTL, deadline, createdAt, delay)
}

// scheduleRetry adds a one-shot cron entry that fires the next attempt after
// delay, removing itself once it has run, mirroring Scheduler.cronEntries'
// id->EntryID bookkeeping.
func (d *Dispatcher) scheduleRetry(ctx context.Context, id, method string, params map[string]any, attemptNum, tries, backoffMultiplier int, resultTTL time.Duration, deadline, createdAt time.Time, delay time.Duration) {
	spec := fmt.Sprintf("@every %s", delay)
	var entryID cron.EntryID
	var fireOnce sync.Once
	newEntryID, err := d.cron.AddFunc(spec, func() {
		fireOnce.Do(func() {
			d.mu.Lock()
			d.cron.Remove(entryID)
			delete(d.entries, id)
			d.mu.Unlock()
			d.attempt(ctx, id, method, params, attemptNum, tries, backoffMultiplier, resultTTL, deadline, createdAt)
		})
	})
	if err != nil {
		// delay is always a valid Go duration, so AddFunc only fails here on
		// a programming error in the spec string above.
		panic(fmt.Sprintf("async: invalid retry schedule %q: %s", spec, err))
	}
	entryID = newEntryID
	d.mu.Lock()
	d.entries[id] = entryID
	d.mu.Unlock()
}

// invoke replays method/params through the same dispatch a synchronous
// request uses, via a dedicated session pinned to the ready state so
// lifecycle checks (which only ever gate initialize/shutdown) never reject
// an async job.
func (d *Dispatcher) invoke(ctx context.Context, id, method string, params map[string]any) (json.RawMessage, error) {
	session := mcp.NewSessionState()
	if err := session.BeginInitialize(); err == nil {
		session.CompleteInitialize(v20250326.PROTOCOL_VERSION, mcp.ClientCapabilities{})
	}

	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal async params: %w", err)
	}
	body, err := json.Marshal(struct {
		Params json.RawMessage `json:"params"`
	}{Params: paramsRaw})
	if err != nil {
		return nil, err
	}

	resp, err := mcp.ProcessMethod(ctx, session, v20250326.PROTOCOL_VERSION, id, method, d.toolset, d.toolsMap, d.resourcesStore, d.promptsStore, body)
	if err != nil {
		return nil, err
	}
	switch v := resp.(type) {
	case jsonrpc.JSONRPCResponse:
		raw, err := json.Marshal(v.Result)
		if err != nil {
			return nil, fmt.Errorf("unable to marshal async result: %w", err)
		}
		return raw, nil
	case jsonrpc.JSONRPCError:
		return nil, fmt.Errorf("%s (code %d)", v.Error.Message, v.Error.Code)
	default:
		return nil, fmt.Errorf("unexpected async response type %T", resp)
	}
}
