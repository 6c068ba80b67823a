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

package template

import (
	"context"
	"testing"

	"github.com/mcplane/mcp-runtime/internal/prompts"
)

func TestPromptRenderRequiresArgument(t *testing.T) {
	cfg := Config{
		Name:      "greet",
		Template:  "Hello, {{.name}}!",
		Arguments: []prompts.Argument{{Name: "name", Required: true}},
	}
	p, err := cfg.Initialize()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if _, err := p.Render(context.Background(), map[string]string{}); err == nil {
		t.Fatal("expected error for missing required argument")
	}

	msgs, err := p.Render(context.Background(), map[string]string{"name": "Ada"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(msgs) != 1 || msgs[0].Content.Text != "Hello, Ada!" {
		t.Fatalf("unexpected render result: %+v", msgs)
	}
}

func TestPromptManifest(t *testing.T) {
	cfg := Config{Name: "greet", Description: "says hi", Template: "hi"}
	p, err := cfg.Initialize()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	manifest := p.Manifest()
	if manifest.Name != "greet" || manifest.Description != "says hi" {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}
}
