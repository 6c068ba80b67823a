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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcplane/mcp-runtime/internal/async"
	"github.com/mcplane/mcp-runtime/internal/notify"
	"github.com/mcplane/mcp-runtime/internal/server/mcp/jsonrpc"
)

// The notification-hub and async-pipeline JSON-RPC methods. These sit
// alongside the core MCP methods a protocol-version package dispatches,
// but operate on process-wide subscriptions/jobs rather than a single
// registry component, so they're handled here rather than threaded into
// v20241105/v20250326's per-version dispatch.
const (
	methodNotifySubscribe   = "notifications/subscribe"
	methodNotifyUnsubscribe = "notifications/unsubscribe"
	methodNotifySetFilter   = "notifications/setFilter"
	methodAsyncCall         = "async/call"
	methodAsyncStatus       = "async/status"
	methodAsyncResult       = "async/result"
)

func isExtendedMethod(method string) bool {
	switch method {
	case methodNotifySubscribe, methodNotifyUnsubscribe, methodNotifySetFilter,
		methodAsyncCall, methodAsyncStatus, methodAsyncResult:
		return true
	}
	return false
}

type subscribeParams struct {
	Types  []string       `json:"types"`
	Filter map[string]any `json:"filter"`
}

type setFilterParams struct {
	Filter map[string]any `json:"filter"`
}

type asyncCallParams struct {
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
	Options struct {
		Tries      int `json:"tries"`
		Backoff    int `json:"backoff"`
		ResultTTL  int `json:"result_ttl"`
		RetryUntil int `json:"retry_until"`
	} `json:"options"`
}

type asyncRequestIDParams struct {
	RequestID string `json:"requestId"`
}

// processExtendedMethod dispatches one notifications/* or async/* call.
// clientId keys the notification hub's subscription table; for a given
// transport connection it's the same session id already used to key
// mcp.SessionRegistry, so one subscribe per connection is all a client
// needs.
func processExtendedMethod(ctx context.Context, s *Server, id jsonrpc.RequestId, method string, clientId string, sender notify.Sender, body []byte) (any, error) {
	var req struct {
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		err = fmt.Errorf("invalid request envelope: %w", err)
		return jsonrpc.NewError(id, jsonrpc.INVALID_REQUEST, err.Error(), nil), err
	}

	switch method {
	case methodNotifySubscribe:
		var p subscribeParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &p); err != nil {
				return jsonrpc.NewError(id, jsonrpc.INVALID_PARAMS, err.Error(), nil), err
			}
		}
		s.NotifyHub.Subscribe(clientId, p.Types, sender)
		if len(p.Filter) > 0 {
			s.NotifyHub.UpdateFilter(clientId, p.Filter)
		}
		return jsonrpc.JSONRPCResponse{Jsonrpc: jsonrpc.JSONRPC_VERSION, Id: id, Result: struct{}{}}, nil

	case methodNotifyUnsubscribe:
		s.NotifyHub.Unsubscribe(clientId)
		return jsonrpc.JSONRPCResponse{Jsonrpc: jsonrpc.JSONRPC_VERSION, Id: id, Result: struct{}{}}, nil

	case methodNotifySetFilter:
		var p setFilterParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return jsonrpc.NewError(id, jsonrpc.INVALID_PARAMS, err.Error(), nil), err
		}
		if !s.NotifyHub.UpdateFilter(clientId, p.Filter) {
			err := fmt.Errorf("no subscription registered for this connection")
			return jsonrpc.NewError(id, jsonrpc.INVALID_REQUEST, err.Error(), nil), err
		}
		return jsonrpc.JSONRPCResponse{Jsonrpc: jsonrpc.JSONRPC_VERSION, Id: id, Result: struct{}{}}, nil

	case methodAsyncCall:
		var p asyncCallParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return jsonrpc.NewError(id, jsonrpc.INVALID_PARAMS, err.Error(), nil), err
		}
		if p.Method == "" {
			err := fmt.Errorf("async/call requires a non-empty method")
			return jsonrpc.NewError(id, jsonrpc.INVALID_PARAMS, err.Error(), nil), err
		}
		opts := async.SubmitOptions{
			Tries:      p.Options.Tries,
			Backoff:    p.Options.Backoff,
			ResultTTL:  time.Duration(p.Options.ResultTTL) * time.Second,
			RetryUntil: time.Duration(p.Options.RetryUntil) * time.Second,
		}
		requestID, err := s.AsyncDispatcher.Submit(ctx, p.Method, p.Params, opts)
		if err != nil {
			return jsonrpc.NewError(id, jsonrpc.INTERNAL_ERROR, err.Error(), nil), err
		}
		return jsonrpc.JSONRPCResponse{Jsonrpc: jsonrpc.JSONRPC_VERSION, Id: id, Result: map[string]string{"requestId": requestID}}, nil

	case methodAsyncStatus:
		var p asyncRequestIDParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return jsonrpc.NewError(id, jsonrpc.INVALID_PARAMS, err.Error(), nil), err
		}
		status, err := s.AsyncDispatcher.Status(ctx, p.RequestID)
		if err != nil {
			return jsonrpc.NewError(id, jsonrpc.INTERNAL_ERROR, err.Error(), nil), err
		}
		if status == nil {
			err := fmt.Errorf("no known job for request id %q", p.RequestID)
			return jsonrpc.NewError(id, jsonrpc.ASYNC_UNKNOWN, err.Error(), nil), err
		}
		return jsonrpc.JSONRPCResponse{Jsonrpc: jsonrpc.JSONRPC_VERSION, Id: id, Result: status}, nil

	case methodAsyncResult:
		var p asyncRequestIDParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return jsonrpc.NewError(id, jsonrpc.INVALID_PARAMS, err.Error(), nil), err
		}
		result, err := s.AsyncDispatcher.Result(ctx, p.RequestID)
		if err != nil {
			return jsonrpc.NewError(id, jsonrpc.INTERNAL_ERROR, err.Error(), nil), err
		}
		if result == nil {
			err := fmt.Errorf("result for request id %q is not ready yet", p.RequestID)
			return jsonrpc.NewError(id, jsonrpc.ASYNC_PENDING, err.Error(), nil), err
		}
		return jsonrpc.JSONRPCResponse{Jsonrpc: jsonrpc.JSONRPC_VERSION, Id: id, Result: result}, nil

	default:
		err := fmt.Errorf("invalid method %s", method)
		return jsonrpc.NewError(id, jsonrpc.METHOD_NOT_FOUND, err.Error(), nil), err
	}
}
