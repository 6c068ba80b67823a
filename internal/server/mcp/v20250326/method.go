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

package v20250326

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcplane/mcp-runtime/internal/prompts"
	"github.com/mcplane/mcp-runtime/internal/resources"
	"github.com/mcplane/mcp-runtime/internal/server/mcp/jsonrpc"
	"github.com/mcplane/mcp-runtime/internal/tools"
	"github.com/mcplane/mcp-runtime/internal/util"
)

// ProcessMethod returns a response for the request.
func ProcessMethod(ctx context.Context, id jsonrpc.RequestId, method string, toolset tools.Toolset, toolsMap map[string]tools.Tool, resourcesStore *resources.Store, promptsStore *prompts.Store, body []byte) (any, error) {
	switch method {
	case TOOLS_LIST:
		return toolsListHandler(id, toolset, body)
	case TOOLS_CALL:
		return toolsCallHandler(ctx, id, toolsMap, body)
	case RESOURCES_LIST:
		return resourcesListHandler(id, resourcesStore, body)
	case RESOURCES_READ:
		return resourcesReadHandler(ctx, id, resourcesStore, body)
	case RESOURCES_SUBSCRIBE:
		return resourcesSubscribeHandler(id, resourcesStore, body)
	case PROMPTS_LIST:
		return promptsListHandler(id, promptsStore, body)
	case PROMPTS_GET:
		return promptsGetHandler(ctx, id, promptsStore, body)
	case PING:
		return jsonrpc.JSONRPCResponse{Jsonrpc: jsonrpc.JSONRPC_VERSION, Id: id, Result: struct{}{}}, nil
	default:
		err := fmt.Errorf("invalid method %s", method)
		return jsonrpc.NewError(id, jsonrpc.METHOD_NOT_FOUND, err.Error(), nil), err
	}
}

func toolsListHandler(id jsonrpc.RequestId, toolset tools.Toolset, body []byte) (any, error) {
	var req ListToolsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		err = fmt.Errorf("invalid mcp tools list request: %w", err)
		return jsonrpc.NewError(id, jsonrpc.INVALID_REQUEST, err.Error(), nil), err
	}

	result := ListToolsResult{Tools: toolset.McpManifest}
	return jsonrpc.JSONRPCResponse{Jsonrpc: jsonrpc.JSONRPC_VERSION, Id: id, Result: result}, nil
}

// toolsCallHandler generates a response for tools call.
func toolsCallHandler(ctx context.Context, id jsonrpc.RequestId, toolsMap map[string]tools.Tool, body []byte) (any, error) {
	logger, err := util.LoggerFromContext(ctx)
	if err != nil {
		return jsonrpc.NewError(id, jsonrpc.INTERNAL_ERROR, err.Error(), nil), err
	}

	var req CallToolRequest
	if err = json.Unmarshal(body, &req); err != nil {
		err = fmt.Errorf("invalid mcp tools call request: %w", err)
		return jsonrpc.NewError(id, jsonrpc.INVALID_REQUEST, err.Error(), nil), err
	}

	toolName := req.Params.Name
	logger.DebugContext(ctx, fmt.Sprintf("tool name: %s", toolName))
	tool, ok := toolsMap[toolName]
	if !ok {
		err = fmt.Errorf("invalid tool name: tool with name %q does not exist", toolName)
		return jsonrpc.NewError(id, jsonrpc.INVALID_PARAMS, err.Error(), nil), err
	}

	aMarshal, err := json.Marshal(req.Params.Arguments)
	if err != nil {
		err = fmt.Errorf("unable to marshal tools argument: %w", err)
		return jsonrpc.NewError(id, jsonrpc.INTERNAL_ERROR, err.Error(), nil), err
	}

	var data map[string]any
	if err = util.DecodeJSON(bytes.NewBuffer(aMarshal), &data); err != nil {
		err = fmt.Errorf("unable to decode tools argument: %w", err)
		return jsonrpc.NewError(id, jsonrpc.INTERNAL_ERROR, err.Error(), nil), err
	}

	// MCP has no auth handshake of its own yet, so no auth service's claims
	// can ever be verified for a tool call made over this transport.
	claimsFromAuth := make(map[string]map[string]any)

	params, err := tool.ParseParams(data, claimsFromAuth)
	if err != nil {
		err = fmt.Errorf("provided parameters were invalid: %w", err)
		return jsonrpc.NewError(id, jsonrpc.INVALID_PARAMS, err.Error(), nil), err
	}
	logger.DebugContext(ctx, fmt.Sprintf("invocation params: %s", params))

	if !tool.Authorized([]string{}) {
		err = fmt.Errorf("unauthorized Tool call: `authRequired` is set for the target Tool")
		return jsonrpc.NewError(id, jsonrpc.INVALID_REQUEST, err.Error(), nil), err
	}

	results, err := tool.Invoke(ctx, params)
	if err != nil {
		text := TextContent{Type: "text", Text: err.Error()}
		return jsonrpc.JSONRPCResponse{
			Jsonrpc: jsonrpc.JSONRPC_VERSION,
			Id:      id,
			Result:  CallToolResult{Content: []TextContent{text}, IsError: true},
		}, nil
	}

	content := make([]TextContent, 0)
	sliceRes, ok := results.([]any)
	if !ok {
		sliceRes = []any{results}
	}
	for _, d := range sliceRes {
		text := TextContent{Type: "text"}
		dM, err := json.Marshal(d)
		if err != nil {
			text.Text = fmt.Sprintf("fail to marshal: %s, result: %s", err, d)
		} else {
			text.Text = string(dM)
		}
		content = append(content, text)
	}

	return jsonrpc.JSONRPCResponse{
		Jsonrpc: jsonrpc.JSONRPC_VERSION,
		Id:      id,
		Result:  CallToolResult{Content: content},
	}, nil
}

func resourcesListHandler(id jsonrpc.RequestId, store *resources.Store, body []byte) (any, error) {
	var req ListResourcesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		err = fmt.Errorf("invalid mcp resources list request: %w", err)
		return jsonrpc.NewError(id, jsonrpc.INVALID_REQUEST, err.Error(), nil), err
	}

	manifests := make([]resources.McpManifest, 0)
	for _, name := range store.List() {
		r, ok := store.Get(name)
		if !ok {
			continue
		}
		manifests = append(manifests, r.Manifest())
	}

	return jsonrpc.JSONRPCResponse{
		Jsonrpc: jsonrpc.JSONRPC_VERSION,
		Id:      id,
		Result:  ListResourcesResult{Resources: manifests},
	}, nil
}

func resourcesReadHandler(ctx context.Context, id jsonrpc.RequestId, store *resources.Store, body []byte) (any, error) {
	var req ReadResourceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		err = fmt.Errorf("invalid mcp resources read request: %w", err)
		return jsonrpc.NewError(id, jsonrpc.INVALID_REQUEST, err.Error(), nil), err
	}

	r, ok := resources.ByURI(store, req.Params.URI)
	if !ok {
		err := fmt.Errorf("no resource found for uri %q", req.Params.URI)
		return jsonrpc.NewError(id, jsonrpc.INVALID_PARAMS, err.Error(), nil), err
	}

	contents, err := r.Read(ctx)
	if err != nil {
		return jsonrpc.NewError(id, jsonrpc.INTERNAL_ERROR, err.Error(), nil), err
	}

	return jsonrpc.JSONRPCResponse{
		Jsonrpc: jsonrpc.JSONRPC_VERSION,
		Id:      id,
		Result:  ReadResourceResult{Contents: contents},
	}, nil
}

func resourcesSubscribeHandler(id jsonrpc.RequestId, store *resources.Store, body []byte) (any, error) {
	var req SubscribeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		err = fmt.Errorf("invalid mcp resources subscribe request: %w", err)
		return jsonrpc.NewError(id, jsonrpc.INVALID_REQUEST, err.Error(), nil), err
	}

	r, ok := resources.ByURI(store, req.Params.URI)
	if !ok {
		err := fmt.Errorf("no resource found for uri %q", req.Params.URI)
		return jsonrpc.NewError(id, jsonrpc.INVALID_PARAMS, err.Error(), nil), err
	}
	if !r.Subscribable() {
		err := fmt.Errorf("resource %q does not support subscriptions", req.Params.URI)
		return jsonrpc.NewError(id, jsonrpc.INVALID_REQUEST, err.Error(), nil), err
	}

	return jsonrpc.JSONRPCResponse{Jsonrpc: jsonrpc.JSONRPC_VERSION, Id: id, Result: struct{}{}}, nil
}

func promptsListHandler(id jsonrpc.RequestId, store *prompts.Store, body []byte) (any, error) {
	var req ListPromptsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		err = fmt.Errorf("invalid mcp prompts list request: %w", err)
		return jsonrpc.NewError(id, jsonrpc.INVALID_REQUEST, err.Error(), nil), err
	}

	manifests := make([]prompts.McpManifest, 0)
	for _, name := range store.List() {
		p, ok := store.Get(name)
		if !ok {
			continue
		}
		manifests = append(manifests, p.Manifest())
	}

	return jsonrpc.JSONRPCResponse{
		Jsonrpc: jsonrpc.JSONRPC_VERSION,
		Id:      id,
		Result:  ListPromptsResult{Prompts: manifests},
	}, nil
}

func promptsGetHandler(ctx context.Context, id jsonrpc.RequestId, store *prompts.Store, body []byte) (any, error) {
	var req GetPromptRequest
	if err := json.Unmarshal(body, &req); err != nil {
		err = fmt.Errorf("invalid mcp prompts get request: %w", err)
		return jsonrpc.NewError(id, jsonrpc.INVALID_REQUEST, err.Error(), nil), err
	}

	p, ok := store.Get(req.Params.Name)
	if !ok {
		err := fmt.Errorf("no prompt found with name %q", req.Params.Name)
		return jsonrpc.NewError(id, jsonrpc.INVALID_PARAMS, err.Error(), nil), err
	}

	messages, err := p.Render(ctx, req.Params.Arguments)
	if err != nil {
		return jsonrpc.NewError(id, jsonrpc.INTERNAL_ERROR, err.Error(), nil), err
	}

	return jsonrpc.JSONRPCResponse{
		Jsonrpc: jsonrpc.JSONRPC_VERSION,
		Id:      id,
		Result:  GetPromptResult{Messages: messages},
	}, nil
}
