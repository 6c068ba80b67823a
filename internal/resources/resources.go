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

// Package resources generalizes internal/tools' Tool interface and
// kind-registry pattern into the MCP Resource component kind: something a
// client can list (resources/list) and read by URI (resources/read), and
// optionally subscribe to for resources/updated notifications.
package resources

import (
	"context"
	"fmt"

	yaml "github.com/goccy/go-yaml"
	"github.com/mcplane/mcp-runtime/internal/registry"
	"github.com/mcplane/mcp-runtime/internal/sources"
)

// ResourceConfigFactory creates and decodes a specific resource kind's
// configuration, mirroring tools.ToolConfigFactory.
type ResourceConfigFactory func(ctx context.Context, name string, decoder *yaml.Decoder) (ResourceConfig, error)

var resourceRegistry = make(map[string]ResourceConfigFactory)

// Register associates a 'kind' string with a factory that produces that
// kind's ResourceConfig. Returns false if kind is already registered.
func Register(kind string, factory ResourceConfigFactory) bool {
	if _, exists := resourceRegistry[kind]; exists {
		return false
	}
	resourceRegistry[kind] = factory
	return true
}

// DecodeConfig looks up the registered factory for kind and decodes the
// resource configuration with it.
func DecodeConfig(ctx context.Context, kind string, name string, decoder *yaml.Decoder) (ResourceConfig, error) {
	factory, found := resourceRegistry[kind]
	if !found {
		return nil, fmt.Errorf("unknown resource kind: %q", kind)
	}
	resourceConfig, err := factory(ctx, name, decoder)
	if err != nil {
		return nil, fmt.Errorf("unable to parse resource %q as kind %q: %w", name, kind, err)
	}
	return resourceConfig, nil
}

// ResourceConfig is the interface for configuring a Resource.
type ResourceConfig interface {
	ResourceConfigKind() string
	Initialize(map[string]sources.Source) (Resource, error)
}

// Content is a single item returned by a resources/read call.
type Content struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// Resource is a readable, listable MCP component.
type Resource interface {
	// URI returns the resource's stable identifier, used as the resources/read key.
	URI() string
	// Manifest returns the listing entry for resources/list.
	Manifest() McpManifest
	// Read returns the resource's current content.
	Read(ctx context.Context) ([]Content, error)
	// Subscribable reports whether resources/subscribe may target this resource.
	Subscribable() bool
}

// McpManifest is the resources/list entry shape.
type McpManifest struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Store is the live, name-keyed set of initialized resources for a running
// server, swapped atomically on config reload the same way
// server.ResourceManager swaps its tools map.
type Store = registry.Store[Resource]

// NewStore returns an empty resource Store.
func NewStore() *Store {
	return registry.NewStore[Resource]()
}

// ByURI finds the resource whose URI() matches uri, used by resources/read
// since the client addresses resources by URI, not by registration name.
func ByURI(store *Store, uri string) (Resource, bool) {
	for _, name := range store.List() {
		r, ok := store.Get(name)
		if ok && r.URI() == uri {
			return r, true
		}
	}
	return nil, false
}
