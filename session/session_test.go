// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"path/filepath"
	"testing"
)

func appendEntry(t *testing.T, s *TreeSession, e Entry) Entry {
	t.Helper()
	stored, err := s.Append(e)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return stored
}

func TestTreeSession_LinearBranch(t *testing.T) {
	s := NewTreeSession("sess-1")
	a := appendEntry(t, s, Entry{Kind: KindOther})
	b := appendEntry(t, s, Entry{Kind: KindToolResult, ToolName: "read"})
	c := appendEntry(t, s, Entry{Kind: KindCompaction})

	if s.LeafID() != c.ID {
		t.Fatalf("leaf = %s, want %s", s.LeafID(), c.ID)
	}

	branch := s.BranchEntries()
	if len(branch) != 3 {
		t.Fatalf("branch length = %d, want 3", len(branch))
	}
	for i, want := range []string{a.ID, b.ID, c.ID} {
		if branch[i].ID != want {
			t.Errorf("branch[%d] = %s, want %s", i, branch[i].ID, want)
		}
	}
}

func TestTreeSession_SiblingBranches(t *testing.T) {
	s := NewTreeSession("sess-2")
	root := appendEntry(t, s, Entry{Kind: KindOther})
	left := appendEntry(t, s, Entry{Kind: KindToolResult, ToolName: "read"})

	// Fork: attach a sibling under root and switch to it.
	right := appendEntry(t, s, Entry{Kind: KindToolResult, ToolName: "read", ParentID: root.ID})

	branch := s.BranchEntries()
	if len(branch) != 2 {
		t.Fatalf("branch length = %d, want 2", len(branch))
	}
	if branch[0].ID != root.ID || branch[1].ID != right.ID {
		t.Errorf("branch = [%s %s], want [%s %s]", branch[0].ID, branch[1].ID, root.ID, right.ID)
	}

	// Switch back to the left leaf; the right entry must not appear.
	if err := s.SetLeaf(left.ID); err != nil {
		t.Fatalf("set leaf: %v", err)
	}
	for _, e := range s.BranchEntries() {
		if e.ID == right.ID {
			t.Error("sibling entry leaked into left branch")
		}
	}
}

func TestTreeSession_AppendUnknownParent(t *testing.T) {
	s := NewTreeSession("")
	if _, err := s.Append(Entry{ParentID: "nope", Kind: KindOther}); err == nil {
		t.Fatal("expected error for unknown parent")
	}
}

func TestTreeSession_SetLeafUnknown(t *testing.T) {
	s := NewTreeSession("")
	if err := s.SetLeaf("missing"); err == nil {
		t.Fatal("expected error for unknown leaf")
	}
}

func TestTreeSession_SaveLoadRoundTrip(t *testing.T) {
	s := NewTreeSession("persist-me")
	appendEntry(t, s, Entry{Kind: KindOther})
	read := appendEntry(t, s, Entry{
		Kind:     KindToolResult,
		ToolName: "read",
		Details: map[string]any{
			"readcache": map[string]any{"v": 1, "mode": "full"},
		},
	})
	appendEntry(t, s, Entry{
		Kind:      KindCustom,
		Namespace: "readcache",
		Payload:   map[string]any{"v": 1, "kind": "invalidate"},
	})

	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := s.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.SessionID() != "persist-me" {
		t.Errorf("session id = %s", loaded.SessionID())
	}
	if len(loaded.Entries()) != 3 {
		t.Fatalf("entries = %d, want 3", len(loaded.Entries()))
	}

	got, ok := loaded.Entry(read.ID)
	if !ok {
		t.Fatal("read entry missing after reload")
	}
	rec, ok := got.Details["readcache"].(map[string]any)
	if !ok {
		t.Fatal("details record lost its shape")
	}
	if rec["mode"] != "full" {
		t.Errorf("mode = %v", rec["mode"])
	}
}

func TestTreeSession_SaveLoadPreservesLeaf(t *testing.T) {
	s := NewTreeSession("leafy")
	root := appendEntry(t, s, Entry{Kind: KindOther})
	appendEntry(t, s, Entry{Kind: KindOther})
	if err := s.SetLeaf(root.ID); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.LeafID() != root.ID {
		t.Errorf("leaf = %s, want %s", loaded.LeafID(), root.ID)
	}
	if n := len(loaded.BranchEntries()); n != 1 {
		t.Errorf("branch length = %d, want 1", n)
	}
}
