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

// Package v20241105 implements the 2024-11-05 MCP protocol revision: the
// SSE-endpoint-event transport variant (client learns the POST endpoint
// from an `event: endpoint` SSE message) with a tools-only method set.
package v20241105

import (
	"github.com/mcplane/mcp-runtime/internal/tools"
)

// PROTOCOL_VERSION is the revision string for this package.
const PROTOCOL_VERSION = "2024-11-05"

const (
	TOOLS_LIST = "tools/list"
	TOOLS_CALL = "tools/call"
	PING       = "ping"
)

type Request struct {
	Method string `json:"method"`
}

type PaginatedRequest struct {
	Request
	Params struct {
		Cursor string `json:"cursor,omitempty"`
	} `json:"params,omitempty"`
}

// Sent from the client to request a list of tools the server has.
type ListToolsRequest struct {
	PaginatedRequest
}

// The server's response to a tools/list request from the client.
type ListToolsResult struct {
	Tools      []tools.McpManifest `json:"tools"`
	NextCursor string              `json:"nextCursor,omitempty"`
}

// Used by the client to invoke a tool provided by the server.
type CallToolRequest struct {
	Request
	Params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments,omitempty"`
	} `json:"params,omitempty"`
}

// TextContent represents text provided to or from an LLM.
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult is the server's response to a tool call.
type CallToolResult struct {
	Content []TextContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// PingRequest carries no parameters; a ping just expects an empty result.
type PingRequest struct {
	Request
}
