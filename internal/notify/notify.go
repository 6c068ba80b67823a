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

// Package notify implements the notification hub: subscribe/unsubscribe,
// per-subscription type and dotted-path filters, notify/broadcast delivery,
// and per-(notification, client) delivery-status tracking. A subscription's
// outgoing notifications are buffered on a bounded per-subscription queue
// the same shape as sseManager's per-session eventQueue in
// internal/server/mcp.go, drained by a single writer goroutine so deliveries
// to one subscriber are strictly ordered; on overflow the oldest pending
// notification is dropped rather than blocking the broadcaster.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/mcplane/mcp-runtime/internal/events"
)

// Sender delivers one encoded notification to a bound subscriber. Transports
// (stdio writer, HTTP/SSE response) implement this so the hub never needs to
// know which transport backs a subscription.
type Sender interface {
	Send(notificationType string, params map[string]any) error
}

// SenderFunc adapts a plain function to a Sender.
type SenderFunc func(notificationType string, params map[string]any) error

func (f SenderFunc) Send(notificationType string, params map[string]any) error {
	return f(notificationType, params)
}

// Delivery status values, per the hub's queued -> sent -> delivered /
// failed state machine.
const (
	StatusQueued    = "queued"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

const queueCapacity = 64

// Default retry tuning for the queued delivery path, mirroring
// internal/async's job retry defaults.
const (
	DefaultTries             = 3
	DefaultBackoffMultiplier = 3
	DefaultBaseBackoff       = time.Second
)

// Options carries the per-notification delivery tuning a notify/broadcast
// call accepts: priority (consulted only by filter matching, the hub itself
// doesn't reorder on it), and tries/backoff/queue/resultTTL governing the
// queued delivery path's retry behavior.
type Options struct {
	Priority  string `json:"priority,omitempty"`
	Tries     int    `json:"tries,omitempty"`
	Backoff   int    `json:"backoff,omitempty"`
	Queue     string `json:"queue,omitempty"`
	ResultTTL int    `json:"result_ttl,omitempty"`
}

// asMap renders o as a dotted-path-lookupable object, so a filter like
// "options.priority" resolves against it the same way "params.foo" resolves
// against a notification's params.
func (o Options) asMap() map[string]any {
	return map[string]any{
		"priority":   o.Priority,
		"tries":      o.Tries,
		"backoff":    o.Backoff,
		"queue":      o.Queue,
		"result_ttl": o.ResultTTL,
	}
}

// Subscription is one client's registered interest.
type Subscription struct {
	ClientID string
	Types    []string
	Filter   map[string]any

	mu       sync.Mutex
	sender   Sender
	queue    chan queuedNotification
	done     chan struct{}
	closeOne sync.Once
}

type queuedNotification struct {
	id      string
	typ     string
	params  map[string]any
	options Options
	attempt int
}

// notificationObject builds the filterable view of a notification: its
// type, params and options as a dotted-path-lookupable map, per the
// notification record's field set (id/type/params/timestamp/options).
func notificationObject(typ string, params map[string]any, opts Options) map[string]any {
	return map[string]any{
		"type":    typ,
		"params":  params,
		"options": opts.asMap(),
	}
}

func (s *Subscription) matches(typ string, params map[string]any, opts Options) bool {
	if len(s.Types) > 0 {
		found := false
		for _, t := range s.Types {
			if t == typ {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(s.Filter) == 0 {
		return true
	}
	obj := notificationObject(typ, params, opts)
	for path, want := range s.Filter {
		got, ok := lookupPath(obj, path)
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func lookupPath(obj map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = obj
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func valuesEqual(a, b any) bool {
	return scalarString(a) == scalarString(b)
}

// scalarString renders any comparable scalar the same way regardless of
// whether it arrived as a Go literal (from a direct notify call) or as a
// JSON-decoded value (string/float64/bool), so filter comparisons aren't
// sensitive to which path produced the notification's params.
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// deliveryKey identifies one (notificationId, clientId) delivery record.
type deliveryKey struct {
	notificationID string
	clientID       string
}

// DeliveryRecord reports one subscriber's progress delivering one
// notification.
type DeliveryRecord struct {
	NotificationID string
	ClientID       string
	Status         string
	Attempts       int
}

// Hub is the notification hub. The zero value is not usable; construct with
// New.
type Hub struct {
	bus  *events.Bus
	cron *cron.Cron

	mu            sync.Mutex
	subscriptions map[string]*Subscription

	deliveriesMu sync.Mutex
	deliveries   map[deliveryKey]*DeliveryRecord
}

// New returns an empty Hub with its retry scheduler already started. bus may
// be nil. Call Stop to release the scheduler.
func New(bus *events.Bus) *Hub {
	h := &Hub{
		bus:           bus,
		cron:          cron.New(),
		subscriptions: make(map[string]*Subscription),
		deliveries:    make(map[deliveryKey]*DeliveryRecord),
	}
	h.cron.Start()
	return h
}

// Stop halts the queued delivery path's retry scheduler. Deliveries already
// in flight are not interrupted.
func (h *Hub) Stop() {
	h.cron.Stop()
}

// Subscribe registers clientId's interest. A nil sender is valid for a
// subscription that will only ever be polled through GetDeliveryStatus (or
// bound to a transport later via BindSender).
func (h *Hub) Subscribe(clientID string, types []string, sender Sender) *Subscription {
	sub := &Subscription{
		ClientID: clientID,
		Types:    types,
		sender:   sender,
		queue:    make(chan queuedNotification, queueCapacity),
		done:     make(chan struct{}),
	}
	h.mu.Lock()
	h.subscriptions[clientID] = sub
	h.mu.Unlock()

	go h.drain(sub)
	return sub
}

// Unsubscribe removes clientId's subscription and stops its delivery
// goroutine.
func (h *Hub) Unsubscribe(clientID string) {
	h.mu.Lock()
	sub, ok := h.subscriptions[clientID]
	delete(h.subscriptions, clientID)
	h.mu.Unlock()
	if ok {
		sub.closeOne.Do(func() { close(sub.done) })
	}
}

// UpdateFilter replaces clientId's dotted-path filter.
func (h *Hub) UpdateFilter(clientID string, filter map[string]any) bool {
	h.mu.Lock()
	sub, ok := h.subscriptions[clientID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	sub.mu.Lock()
	sub.Filter = filter
	sub.mu.Unlock()
	return true
}

// GetActiveSubscriptions returns a snapshot of clientId -> subscribed types.
func (h *Hub) GetActiveSubscriptions() map[string][]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string][]string, len(h.subscriptions))
	for id, sub := range h.subscriptions {
		out[id] = append([]string(nil), sub.Types...)
	}
	return out
}

// Notify delivers a notification to exactly one subscriber's queue. It
// returns the notificationId, or ("", false) if clientId has no
// subscription.
func (h *Hub) Notify(clientID, typ string, params map[string]any, opts Options) (string, bool) {
	h.mu.Lock()
	sub, ok := h.subscriptions[clientID]
	h.mu.Unlock()
	if !ok {
		return "", false
	}
	id := uuid.NewString()
	h.enqueue(sub, id, typ, params, opts, 1)
	return id, true
}

// Broadcast snapshots every current subscription and enqueues typ/params to
// every one whose Types/Filter match, all sharing the same notificationId.
// It returns the notificationId and the number of subscriptions matched.
func (h *Hub) Broadcast(typ string, params map[string]any, opts Options) (string, int) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subscriptions))
	for _, sub := range h.subscriptions {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	id := uuid.NewString()
	matched := 0
	for _, sub := range subs {
		sub.mu.Lock()
		ok := sub.matches(typ, params, opts)
		sub.mu.Unlock()
		if !ok {
			continue
		}
		matched++
		h.enqueue(sub, id, typ, params, opts, 1)
	}
	return id, matched
}

func (h *Hub) enqueue(sub *Subscription, id, typ string, params map[string]any, opts Options, attempt int) {
	h.setStatus(id, sub.ClientID, StatusQueued, 0)
	h.emit(events.NotificationQueued, 1)
	qn := queuedNotification{id: id, typ: typ, params: params, options: opts, attempt: attempt}
	select {
	case sub.queue <- qn:
	default:
		// Bounded queue is full: drop the oldest pending item rather than
		// block the broadcaster, per the hub's back-pressure contract.
		select {
		case dropped := <-sub.queue:
			h.setStatus(dropped.id, sub.ClientID, StatusFailed, 0)
			h.emit(events.NotificationFailed, 1)
		default:
		}
		select {
		case sub.queue <- qn:
		default:
			h.setStatus(id, sub.ClientID, StatusFailed, 1)
			h.emit(events.NotificationFailed, 1)
		}
	}
}

// drain is the subscription's single writer goroutine: it delivers queued
// notifications to sub's Sender strictly in enqueue order, so ordering
// within one subscription is preserved end to end.
func (h *Hub) drain(sub *Subscription) {
	for {
		select {
		case <-sub.done:
			return
		case qn := <-sub.queue:
			h.deliver(sub, qn)
		}
	}
}

// deliver makes one delivery attempt. A failed attempt is re-queued with
// exponential backoff (multiplier 3 by default) until the notification's
// tries is exhausted, at which point it's marked terminally failed, per the
// hub's queued -> sent -> delivered/failed contract.
func (h *Hub) deliver(sub *Subscription, qn queuedNotification) {
	sub.mu.Lock()
	sender := sub.sender
	sub.mu.Unlock()

	h.setStatus(qn.id, sub.ClientID, StatusSent, 1)
	h.emit(events.NotificationSent, 1)

	var err error
	if sender == nil {
		err = fmt.Errorf("notify: no sender bound for subscription %q", sub.ClientID)
	} else {
		err = sender.Send(qn.typ, qn.params)
	}
	if err == nil {
		h.setStatus(qn.id, sub.ClientID, StatusDelivered, 0)
		h.emit(events.NotificationDelivered, 1)
		return
	}

	tries := qn.options.Tries
	if tries <= 0 {
		tries = DefaultTries
	}
	if qn.attempt >= tries {
		h.setStatus(qn.id, sub.ClientID, StatusFailed, 0)
		h.emit(events.NotificationFailed, 1)
		return
	}

	backoffMultiplier := qn.options.Backoff
	if backoffMultiplier <= 0 {
		backoffMultiplier = DefaultBackoffMultiplier
	}
	delay := DefaultBaseBackoff
	for i := 1; i < qn.attempt; i++ {
		delay *= time.Duration(backoffMultiplier)
	}
	// scheduleRetry's eventual re-enqueue sets the record back to queued.
	h.scheduleRetry(sub, qn, delay)
}

// scheduleRetry re-enqueues qn on sub's queue after delay, via a one-shot
// cron entry that removes itself once it fires, mirroring
// internal/async.Dispatcher.scheduleRetry's bookkeeping for delayed work.
func (h *Hub) scheduleRetry(sub *Subscription, qn queuedNotification, delay time.Duration) {
	spec := fmt.Sprintf("@every %s", delay)
	var once sync.Once
	var entryID cron.EntryID
	newID, err := h.cron.AddFunc(spec, func() {
		once.Do(func() {
			h.cron.Remove(entryID)
			h.enqueue(sub, qn.id, qn.typ, qn.params, qn.options, qn.attempt+1)
		})
	})
	if err != nil {
		// delay is always a valid Go duration, so AddFunc only fails here on
		// a programming error in the spec string above.
		panic(fmt.Sprintf("notify: invalid retry schedule %q: %s", spec, err))
	}
	entryID = newID
}

// BindSender attaches or replaces the Sender a subscription delivers
// through, e.g. once an SSE GET request opens a stream for a client that
// subscribed beforehand.
func (h *Hub) BindSender(clientID string, sender Sender) bool {
	h.mu.Lock()
	sub, ok := h.subscriptions[clientID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	sub.mu.Lock()
	sub.sender = sender
	sub.mu.Unlock()
	return true
}

// GetDeliveryStatus returns every delivery record for notificationId,
// sorted by clientId for a stable result.
func (h *Hub) GetDeliveryStatus(notificationID string) []DeliveryRecord {
	h.deliveriesMu.Lock()
	defer h.deliveriesMu.Unlock()
	var out []DeliveryRecord
	for k, rec := range h.deliveries {
		if k.notificationID == notificationID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

func (h *Hub) setStatus(notificationID, clientID, status string, attemptDelta int) {
	key := deliveryKey{notificationID: notificationID, clientID: clientID}
	h.deliveriesMu.Lock()
	defer h.deliveriesMu.Unlock()
	rec, ok := h.deliveries[key]
	if !ok {
		rec = &DeliveryRecord{NotificationID: notificationID, ClientID: clientID}
		h.deliveries[key] = rec
	}
	rec.Status = status
	rec.Attempts += attemptDelta
}

// emit fans an event out count times. It always uses a background context:
// notification delivery is fire-and-forget relative to whatever request
// triggered it, so it must keep running after that request's own context is
// cancelled.
func (h *Hub) emit(typ events.Type, count int) {
	if h.bus == nil || count == 0 {
		return
	}
	for i := 0; i < count; i++ {
		h.bus.Emit(context.Background(), events.Event{Type: typ})
	}
}
