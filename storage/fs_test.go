// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package storage_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/gobby/infinoted/acl"
	"github.com/gobby/infinoted/storage"
)

func TestFSBackendCreateSubdirectoryAndExplore(t *testing.T) {
	b := storage.NewFSBackend(t.TempDir())
	if err := b.CreateSubdirectory("notes"); err != nil {
		t.Fatalf("create subdirectory: %v", err)
	}

	w, err := b.SessionWriter("notes/a.txt")
	if err != nil {
		t.Fatalf("session writer: %v", err)
	}
	if _, err := io.WriteString(w, "hello"); err != nil {
		t.Fatalf("write session: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, err := b.ReadSubdirectory("")
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "notes" || entries[0].Kind != storage.ChildSubdirectory {
		t.Fatalf("unexpected root entries: %+v", entries)
	}

	children, err := b.ReadSubdirectory("notes")
	if err != nil {
		t.Fatalf("read notes: %v", err)
	}
	if len(children) != 1 || children[0].Name != "a.txt" || children[0].Kind != storage.ChildNote {
		t.Fatalf("unexpected children: %+v", children)
	}
}

func TestFSBackendWriteAclThenReadBack(t *testing.T) {
	b := storage.NewFSBackend(t.TempDir())
	if err := b.CreateSubdirectory("notes"); err != nil {
		t.Fatalf("create subdirectory: %v", err)
	}

	sheets := acl.SheetSet{
		"alice": {Mask: acl.CanExploreNode | acl.CanSubscribeSession, Perms: acl.CanExploreNode},
	}
	if err := b.WriteAcl("notes", sheets); err != nil {
		t.Fatalf("write acl: %v", err)
	}

	entries, err := b.ReadAcl("notes")
	if err != nil {
		t.Fatalf("read acl: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 acl entry, got %d", len(entries))
	}
	e := entries[0]
	if e.AccountID != "alice" || e.Mask != sheets["alice"].Mask || e.Perms != sheets["alice"].Perms {
		t.Fatalf("round-tripped acl entry = %+v, want account=alice mask=%v perms=%v", e, sheets["alice"].Mask, sheets["alice"].Perms)
	}
}

func TestFSBackendRemoveNodeMissingReturnsNoSuchNode(t *testing.T) {
	b := storage.NewFSBackend(t.TempDir())
	if err := b.RemoveNode("", "nope"); err == nil {
		t.Fatalf("removing a nonexistent node should fail with no-such-node")
	}
}

func TestFSBackendRemoveNodeDeletesMetaSidecar(t *testing.T) {
	b := storage.NewFSBackend(t.TempDir())
	if err := b.CreateSubdirectory("notes"); err != nil {
		t.Fatalf("create subdirectory: %v", err)
	}
	w, err := b.SessionWriter("notes/a.txt")
	if err != nil {
		t.Fatalf("session writer: %v", err)
	}
	w.Close()
	if err := b.WriteAcl("notes/a.txt", acl.SheetSet{"bob": {Mask: acl.ALL, Perms: acl.ALL}}); err != nil {
		t.Fatalf("write acl: %v", err)
	}

	if err := b.RemoveNode("", "notes/a.txt"); err != nil {
		t.Fatalf("remove node: %v", err)
	}

	entries, err := b.ReadSubdirectory("notes")
	if err != nil {
		t.Fatalf("read notes: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no children after removal, got %+v", entries)
	}
	if _, err := os.Stat(filepath.Join(b.Root, "notes", ".a.txt.meta.yaml")); !os.IsNotExist(err) {
		t.Fatalf("meta sidecar should be gone after removal, stat err = %v", err)
	}
}
