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
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcplane/mcp-runtime/internal/prompts"
	"github.com/mcplane/mcp-runtime/internal/resources"
	"github.com/mcplane/mcp-runtime/internal/server/mcp/jsonrpc"
	"github.com/mcplane/mcp-runtime/internal/server/mcp/v20241105"
	"github.com/mcplane/mcp-runtime/internal/server/mcp/v20250326"
	"github.com/mcplane/mcp-runtime/internal/tools"
)

// capabilitiesFor returns the ServerCapabilities this server advertises for
// a negotiated protocol version. Resources and prompts only exist from
// 2025-03-26 onward; 2024-11-05 clients only ever see tools.
func capabilitiesFor(protocolVersion string) ServerCapabilities {
	listChanged := false
	caps := ServerCapabilities{
		Tools: &ListChanged{ListChanged: &listChanged},
	}
	if protocolVersion == v20250326.PROTOCOL_VERSION {
		caps.Resources = &ListChanged{ListChanged: &listChanged}
		caps.Prompts = &ListChanged{ListChanged: &listChanged}
	}
	return caps
}

// InitializeResponse handles an `initialize` request: it negotiates a
// protocol version against the client's request, transitions session from
// uninitialized to ready, and returns the JSON-RPC response along with the
// negotiated version so the HTTP transport can attach it to the
// `Mcp-Session-Id` response header where that version requires one.
func InitializeResponse(ctx context.Context, session *SessionState, id jsonrpc.RequestId, body []byte, version string) (any, string, error) {
	if err := session.BeginInitialize(); err != nil {
		stateErr := err.(*StateError)
		return jsonrpc.NewError(id, stateErr.Code, stateErr.Message, nil), "", err
	}

	var req InitializeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		err = fmt.Errorf("invalid mcp initialize request: %w", err)
		return jsonrpc.NewError(id, jsonrpc.INVALID_REQUEST, err.Error(), nil), "", err
	}

	negotiated := req.Params.ProtocolVersion
	if !VerifyProtocolVersion(negotiated) {
		negotiated = LATEST_PROTOCOL_VERSION
	}
	session.CompleteInitialize(negotiated, req.Params.Capabilities)

	result := InitializeResult{
		ProtocolVersion: negotiated,
		Capabilities:    capabilitiesFor(negotiated),
		ServerInfo: Implementation{
			Name:    SERVER_NAME,
			Version: version,
		},
	}

	return jsonrpc.JSONRPCResponse{
		Jsonrpc: jsonrpc.JSONRPC_VERSION,
		Id:      id,
		Result:  result,
	}, negotiated, nil
}

// NotificationHandler handles a one-way MCP notification. Toolbox doesn't
// act on any notification; it only checks that the body decodes as a
// notification.
func NotificationHandler(ctx context.Context, body []byte) error {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return fmt.Errorf("invalid mcp notification: %w", err)
	}
	return nil
}

// ProcessMethod dispatches a non-initialize MCP method call to the handler
// package for the negotiated protocol version, after checking the method is
// allowed in the session's current lifecycle state.
func ProcessMethod(ctx context.Context, session *SessionState, protocolVersion string, id jsonrpc.RequestId, method string, toolset tools.Toolset, toolsMap map[string]tools.Tool, resourcesStore *resources.Store, promptsStore *prompts.Store, body []byte) (any, error) {
	if err := session.CheckMethod(method); err != nil {
		stateErr := err.(*StateError)
		return jsonrpc.NewError(id, stateErr.Code, stateErr.Message, nil), err
	}

	switch protocolVersion {
	case v20241105.PROTOCOL_VERSION:
		return v20241105.ProcessMethod(ctx, id, method, toolset, toolsMap, body)
	case v20250326.PROTOCOL_VERSION, "":
		// an empty protocolVersion means the transport couldn't sniff a
		// version from headers/session id; fall back to the latest
		// revision's method set rather than rejecting the call outright.
		return v20250326.ProcessMethod(ctx, id, method, toolset, toolsMap, resourcesStore, promptsStore, body)
	default:
		err := fmt.Errorf("unsupported protocol version %q", protocolVersion)
		return jsonrpc.NewError(id, jsonrpc.INVALID_REQUEST, err.Error(), nil), err
	}
}
