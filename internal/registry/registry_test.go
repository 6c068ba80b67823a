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

package registry

import "testing"

func TestKindRegistryRejectsDuplicate(t *testing.T) {
	r := NewKindRegistry[string]()
	factory := func(name string, decode func(any) error) (string, error) { return name, nil }

	if !r.Register("sqlite-table", factory) {
		t.Fatal("expected first registration to succeed")
	}
	if r.Register("sqlite-table", factory) {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestKindRegistryDecodeUnknownKind(t *testing.T) {
	r := NewKindRegistry[string]()
	if _, err := r.Decode("missing", "n", func(any) error { return nil }); err == nil {
		t.Fatal("expected error for unregistered kind")
	}
}

func TestStoreRegisterGetUnregister(t *testing.T) {
	s := NewStore[int]()
	s.Register("a", 1)
	s.Register("b", 2)

	if v, ok := s.Get("a"); !ok || v != 1 {
		t.Fatalf("expected a=1, got %v, %v", v, ok)
	}
	if got := s.List(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected sorted [a b], got %v", got)
	}

	s.Unregister("a")
	if s.Has("a") {
		t.Fatal("expected a to be unregistered")
	}
}

func TestStoreSnapshotReplacesAtomically(t *testing.T) {
	s := NewStore[int]()
	s.Register("a", 1)
	s.Snapshot(map[string]int{"b": 2})

	if s.Has("a") {
		t.Fatal("expected snapshot to replace previous components")
	}
	if v, ok := s.Get("b"); !ok || v != 2 {
		t.Fatalf("expected b=2, got %v, %v", v, ok)
	}
}
