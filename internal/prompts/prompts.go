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

// Package prompts generalizes internal/tools' Tool interface and
// kind-registry pattern into the MCP Prompt component kind: a named,
// argument-driven template that renders to a message sequence
// (prompts/list, prompts/get).
package prompts

import (
	"context"
	"fmt"

	yaml "github.com/goccy/go-yaml"
	"github.com/mcplane/mcp-runtime/internal/registry"
)

// PromptConfigFactory creates and decodes a specific prompt kind's
// configuration, mirroring tools.ToolConfigFactory.
type PromptConfigFactory func(ctx context.Context, name string, decoder *yaml.Decoder) (PromptConfig, error)

var promptRegistry = make(map[string]PromptConfigFactory)

// Register associates a 'kind' string with a factory that produces that
// kind's PromptConfig. Returns false if kind is already registered.
func Register(kind string, factory PromptConfigFactory) bool {
	if _, exists := promptRegistry[kind]; exists {
		return false
	}
	promptRegistry[kind] = factory
	return true
}

// DecodeConfig looks up the registered factory for kind and decodes the
// prompt configuration with it.
func DecodeConfig(ctx context.Context, kind string, name string, decoder *yaml.Decoder) (PromptConfig, error) {
	factory, found := promptRegistry[kind]
	if !found {
		return nil, fmt.Errorf("unknown prompt kind: %q", kind)
	}
	promptConfig, err := factory(ctx, name, decoder)
	if err != nil {
		return nil, fmt.Errorf("unable to parse prompt %q as kind %q: %w", name, kind, err)
	}
	return promptConfig, nil
}

// PromptConfig is the interface for configuring a Prompt.
type PromptConfig interface {
	PromptConfigKind() string
	Initialize() (Prompt, error)
}

// Argument describes one named input a prompt accepts.
type Argument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// McpManifest is the prompts/list entry shape.
type McpManifest struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Arguments   []Argument `json:"arguments,omitempty"`
}

// Message is one entry in a rendered prompt's message sequence.
type Message struct {
	Role    string `json:"role"`
	Content struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Prompt is a named, renderable MCP component.
type Prompt interface {
	Manifest() McpManifest
	// Render expands the prompt's template with the given arguments into a
	// message sequence for prompts/get.
	Render(ctx context.Context, args map[string]string) ([]Message, error)
}

// Store is the live, name-keyed set of initialized prompts for a running
// server.
type Store = registry.Store[Prompt]

// NewStore returns an empty prompt Store.
func NewStore() *Store {
	return registry.NewStore[Prompt]()
}
