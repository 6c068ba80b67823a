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

// Package sqlitetable implements a Resource kind that exposes one SQLite
// table as a readable, JSON-rendered resource, the minimal example needed
// to exercise resources/list and resources/read against a concrete
// backing store.
package sqlitetable

import (
	"context"
	"encoding/json"
	"fmt"

	yaml "github.com/goccy/go-yaml"
	"github.com/mcplane/mcp-runtime/internal/resources"
	"github.com/mcplane/mcp-runtime/internal/sources"
	sqlitesrc "github.com/mcplane/mcp-runtime/internal/sources/sqlite"
)

const ResourceKind string = "sqlite-table"

func init() {
	if !resources.Register(ResourceKind, newConfig) {
		panic(fmt.Sprintf("resource kind %q already registered", ResourceKind))
	}
}

func newConfig(ctx context.Context, name string, decoder *yaml.Decoder) (resources.ResourceConfig, error) {
	actual := Config{Name: name}
	if err := decoder.DecodeContext(ctx, &actual); err != nil {
		return nil, err
	}
	return actual, nil
}

// Config configures a sqlite-table Resource.
type Config struct {
	Name        string `yaml:"name" validate:"required"`
	Kind        string `yaml:"kind" validate:"required"`
	Source      string `yaml:"source" validate:"required"`
	Table       string `yaml:"table" validate:"required"`
	Description string `yaml:"description"`
	RowLimit    int    `yaml:"rowLimit"`
}

func (c Config) ResourceConfigKind() string {
	return ResourceKind
}

func (c Config) Initialize(srcs map[string]sources.Source) (resources.Resource, error) {
	rawSource, ok := srcs[c.Source]
	if !ok {
		return nil, fmt.Errorf("no source named %q configured", c.Source)
	}
	src, ok := rawSource.(*sqlitesrc.Source)
	if !ok {
		return nil, fmt.Errorf("source %q is not a sqlite source", c.Source)
	}

	rowLimit := c.RowLimit
	if rowLimit <= 0 {
		rowLimit = 100
	}

	return &Resource{
		name:        c.Name,
		table:       c.Table,
		description: c.Description,
		rowLimit:    rowLimit,
		source:      src,
	}, nil
}

var _ resources.Resource = &Resource{}

// Resource reads rows from one SQLite table and renders them as a single
// JSON document.
type Resource struct {
	name        string
	table       string
	description string
	rowLimit    int
	source      *sqlitesrc.Source
}

func (r *Resource) URI() string {
	return fmt.Sprintf("sqlite-table://%s/%s", r.name, r.table)
}

func (r *Resource) Manifest() resources.McpManifest {
	return resources.McpManifest{
		URI:         r.URI(),
		Name:        r.name,
		Description: r.description,
		MimeType:    "application/json",
	}
}

func (r *Resource) Subscribable() bool {
	return true
}

func (r *Resource) Read(ctx context.Context) ([]resources.Content, error) {
	db := r.source.SQLiteDB()

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT ?", r.table), r.rowLimit)
	if err != nil {
		return nil, fmt.Errorf("unable to query table %q: %w", r.table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("unable to read columns: %w", err)
	}

	records := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("unable to scan row: %w", err)
		}
		record := make(map[string]any, len(cols))
		for i, col := range cols {
			record[col] = values[i]
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading rows: %w", err)
	}

	body, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal rows: %w", err)
	}

	return []resources.Content{{
		URI:      r.URI(),
		MimeType: "application/json",
		Text:     string(body),
	}}, nil
}
