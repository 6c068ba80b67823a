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

// Package util (imported as mcputil at call sites) holds the MCP method
// name constants shared across protocol versions, so the dispatcher in
// internal/server/mcp can switch on them without each version package
// redefining the same strings.
package util

const (
	INITIALIZE               = "initialize"
	INITIALIZED_NOTIFICATION = "notifications/initialized"
	PING                     = "ping"
	CANCEL_REQUEST           = "$/cancelRequest"

	TOOLS_LIST = "tools/list"
	TOOLS_CALL = "tools/call"

	RESOURCES_LIST      = "resources/list"
	RESOURCES_READ      = "resources/read"
	RESOURCES_SUBSCRIBE = "resources/subscribe"

	PROMPTS_LIST = "prompts/list"
	PROMPTS_GET  = "prompts/get"
)
