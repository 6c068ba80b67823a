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

// Package v20250326 implements the 2025-03-26 MCP protocol revision: the
// streamable-HTTP transport variant (client and server correlate a session
// through the `Mcp-Session-Id` header instead of an SSE endpoint event),
// with tools, resources, and prompts all in its method set.
package v20250326

import (
	"github.com/mcplane/mcp-runtime/internal/prompts"
	"github.com/mcplane/mcp-runtime/internal/resources"
	"github.com/mcplane/mcp-runtime/internal/tools"
)

// PROTOCOL_VERSION is the revision string for this package.
const PROTOCOL_VERSION = "2025-03-26"

const (
	TOOLS_LIST = "tools/list"
	TOOLS_CALL = "tools/call"

	RESOURCES_LIST      = "resources/list"
	RESOURCES_READ      = "resources/read"
	RESOURCES_SUBSCRIBE = "resources/subscribe"

	PROMPTS_LIST = "prompts/list"
	PROMPTS_GET  = "prompts/get"

	PING = "ping"
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

// Sent from the client to request a list of resources the server has.
type ListResourcesRequest struct {
	PaginatedRequest
}

// The server's response to a resources/list request from the client.
type ListResourcesResult struct {
	Resources  []resources.McpManifest `json:"resources"`
	NextCursor string                  `json:"nextCursor,omitempty"`
}

// Used by the client to read a resource by URI.
type ReadResourceRequest struct {
	Request
	Params struct {
		URI string `json:"uri"`
	} `json:"params,omitempty"`
}

// The server's response to a resources/read request from the client.
type ReadResourceResult struct {
	Contents []resources.Content `json:"contents"`
}

// Used by the client to ask the server to notify it of changes to a
// resource's content.
type SubscribeRequest struct {
	Request
	Params struct {
		URI string `json:"uri"`
	} `json:"params,omitempty"`
}

// Sent from the client to request a list of prompts the server has.
type ListPromptsRequest struct {
	PaginatedRequest
}

// The server's response to a prompts/list request from the client.
type ListPromptsResult struct {
	Prompts    []prompts.McpManifest `json:"prompts"`
	NextCursor string                `json:"nextCursor,omitempty"`
}

// Used by the client to get a prompt provided by the server.
type GetPromptRequest struct {
	Request
	Params struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments,omitempty"`
	} `json:"params,omitempty"`
}

// The server's response to a prompts/get request from the client.
type GetPromptResult struct {
	Description string            `json:"description,omitempty"`
	Messages    []prompts.Message `json:"messages"`
}

// PingRequest carries no parameters; a ping just expects an empty result.
type PingRequest struct {
	Request
}
