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

// Package template implements a Prompt kind that renders a
// text/template-style {{argument}} string against the arguments passed to
// prompts/get, the minimal concrete example needed to exercise the prompts
// half of the protocol.
package template

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	yaml "github.com/goccy/go-yaml"
	"github.com/mcplane/mcp-runtime/internal/prompts"
)

const PromptKind string = "template"

func init() {
	if !prompts.Register(PromptKind, newConfig) {
		panic(fmt.Sprintf("prompt kind %q already registered", PromptKind))
	}
}

func newConfig(ctx context.Context, name string, decoder *yaml.Decoder) (prompts.PromptConfig, error) {
	actual := Config{Name: name}
	if err := decoder.DecodeContext(ctx, &actual); err != nil {
		return nil, err
	}
	return actual, nil
}

// Config configures a template Prompt.
type Config struct {
	Name        string             `yaml:"name" validate:"required"`
	Kind        string             `yaml:"kind" validate:"required"`
	Description string             `yaml:"description"`
	Role        string             `yaml:"role"`
	Template    string             `yaml:"template" validate:"required"`
	Arguments   []prompts.Argument `yaml:"arguments"`
}

func (c Config) PromptConfigKind() string {
	return PromptKind
}

func (c Config) Initialize() (prompts.Prompt, error) {
	tmpl, err := template.New(c.Name).Parse(c.Template)
	if err != nil {
		return nil, fmt.Errorf("unable to parse template for prompt %q: %w", c.Name, err)
	}

	role := c.Role
	if role == "" {
		role = "user"
	}

	return &Prompt{
		name:        c.Name,
		description: c.Description,
		role:        role,
		arguments:   c.Arguments,
		tmpl:        tmpl,
	}, nil
}

var _ prompts.Prompt = &Prompt{}

// Prompt renders a parsed text/template against the call's arguments.
type Prompt struct {
	name        string
	description string
	role        string
	arguments   []prompts.Argument
	tmpl        *template.Template
}

func (p *Prompt) Manifest() prompts.McpManifest {
	return prompts.McpManifest{
		Name:        p.name,
		Description: p.description,
		Arguments:   p.arguments,
	}
}

func (p *Prompt) Render(ctx context.Context, args map[string]string) ([]prompts.Message, error) {
	for _, a := range p.arguments {
		if a.Required {
			if _, ok := args[a.Name]; !ok {
				return nil, fmt.Errorf("missing required argument %q", a.Name)
			}
		}
	}

	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, args); err != nil {
		return nil, fmt.Errorf("unable to render prompt %q: %w", p.name, err)
	}

	msg := prompts.Message{Role: p.role}
	msg.Content.Type = "text"
	msg.Content.Text = buf.String()
	return []prompts.Message{msg}, nil
}
