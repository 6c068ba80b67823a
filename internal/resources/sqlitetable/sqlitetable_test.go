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

package sqlitetable

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/mcplane/mcp-runtime/internal/sources"
	sqlitesrc "github.com/mcplane/mcp-runtime/internal/sources/sqlite"
	_ "modernc.org/sqlite"
)

func newTestSource(t *testing.T) *sqlitesrc.Source {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("unable to open db: %s", err)
	}
	if _, err := db.Exec("CREATE TABLE widgets (id INTEGER PRIMARY KEY, label TEXT)"); err != nil {
		t.Fatalf("unable to create table: %s", err)
	}
	if _, err := db.Exec("INSERT INTO widgets (id, label) VALUES (1, 'first'), (2, 'second')"); err != nil {
		t.Fatalf("unable to insert rows: %s", err)
	}
	return &sqlitesrc.Source{Name: "local", Kind: sqlitesrc.SourceKind, Db: db}
}

func TestResourceReadReturnsRows(t *testing.T) {
	src := newTestSource(t)
	cfg := Config{Name: "widgets", Table: "widgets", Source: "local"}
	res, err := cfg.Initialize(map[string]sources.Source{"local": src})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	contents, err := res.Read(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected a single content entry, got %d", len(contents))
	}

	var rows []map[string]any
	if err := json.Unmarshal([]byte(contents[0].Text), &rows); err != nil {
		t.Fatalf("unable to unmarshal rows: %s", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
}

func TestResourceInitializeRejectsWrongSourceKind(t *testing.T) {
	cfg := Config{Name: "widgets", Table: "widgets", Source: "local"}
	if _, err := cfg.Initialize(map[string]sources.Source{"local": fakeSource{}}); err == nil {
		t.Fatal("expected error for non-sqlite source")
	}
}

type fakeSource struct{}

func (fakeSource) SourceKind() string { return "fake" }
