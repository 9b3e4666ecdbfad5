// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server_test

import (
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/gobby/infinoted/account"
	"github.com/gobby/infinoted/client"
	"github.com/gobby/infinoted/plugin"
	"github.com/gobby/infinoted/server"
	"github.com/gobby/infinoted/storage"
)

func discardLogger() *log.Logger { return log.New(discardWriter{}, "", 0) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// startTestServer wires a Server against a fresh on-disk backend rooted
// at root and returns a socket path clients can Dial, plus a func to
// stop the event loop and listener.
func startTestServer(t *testing.T, root string) (string, func()) {
	t.Helper()
	return startTestServerWithBackend(t, storage.NewFSBackend(root))
}

func dial(t *testing.T, sockPath string) *client.Client {
	t.Helper()
	c, err := client.Dial(sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := c.Welcome(); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	return c
}

// TestExploreRootPopulatesFreshlyCreatedChildren covers the explore-root
// scenario: a fresh server has an unexplored root, and the first
// explore-node request against it must succeed and report whatever the
// backend already holds on disk.
func TestExploreRootPopulatesFreshlyCreatedChildren(t *testing.T) {
	root := t.TempDir()
	backend := storage.NewFSBackend(root)
	if err := backend.CreateSubdirectory("docs"); err != nil {
		t.Fatalf("seed subdirectory: %v", err)
	}

	sockPath, stop := startTestServerWithBackend(t, backend)
	defer stop()

	c := dial(t, sockPath)
	defer c.Close()

	children, err := c.ExploreNode(0)
	if err != nil {
		t.Fatalf("explore root: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("expected 1 pre-seeded child under root, got %d", len(children))
	}

	if _, err := c.ExploreNode(0); err == nil {
		t.Fatalf("exploring an already-explored root twice should fail")
	}
}

func startTestServerWithBackend(t *testing.T, backend storage.Backend) (string, func()) {
	t.Helper()
	regs := plugin.NewRegistry()
	regs.Register(plugin.TextPlugin{})

	s := server.NewServer(server.Config{
		Backend:      backend,
		AccountStore: account.NewMemStorage(),
		Plugins:      regs,
		Dlog:         discardLogger(),
		Elog:         discardLogger(),
	})

	sockPath := filepath.Join(t.TempDir(), "infinoted.sock")
	l, err := server.Listen(sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	stop := make(chan struct{})
	go s.Run(stop)
	go s.Serve(l)

	return sockPath, func() {
		close(stop)
		l.Close()
	}
}

// TestAddSubdirectoryThenSecondClientSeesIt covers the add-node race
// scenario: one client creates a subdirectory, a second client that
// has already explored the parent receives the add-node announcement
// without asking again.
func TestAddSubdirectoryThenSecondClientSeesIt(t *testing.T) {
	sockPath, stop := startTestServer(t, t.TempDir())
	defer stop()

	a := dial(t, sockPath)
	defer a.Close()
	b := dial(t, sockPath)
	defer b.Close()

	if _, err := a.ExploreNode(0); err != nil {
		t.Fatalf("a explore root: %v", err)
	}
	if _, err := b.ExploreNode(0); err != nil {
		t.Fatalf("b explore root: %v", err)
	}

	id, err := a.AddSubdirectory(0, "shared")
	if err != nil {
		t.Fatalf("add subdirectory: %v", err)
	}
	if id == 0 {
		t.Fatalf("new subdirectory should not reuse the root id")
	}

	deadline := time.After(2 * time.Second)
	for {
		tr := b.Snapshot()
		if n, ok := tr.Get(id); ok && n.Name == "shared" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("second client never observed the add-node announcement for %q", "shared")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// TestAddNoteSubscribeApplyThenSave exercises the add-node-with-
// subscribe handshake end to end: reserve, ack, apply an edit, and
// save, checking that each step succeeds.
func TestAddNoteSubscribeApplyThenSave(t *testing.T) {
	sockPath, stop := startTestServer(t, t.TempDir())
	defer stop()

	c := dial(t, sockPath)
	defer c.Close()

	if _, err := c.ExploreNode(0); err != nil {
		t.Fatalf("explore root: %v", err)
	}
	id, group, err := c.AddNoteSubscribe(0, "note.txt", plugin.TextTypeTag)
	if err != nil {
		t.Fatalf("add note subscribe: %v", err)
	}
	if group == "" {
		t.Fatalf("expected a non-empty subscription group")
	}

	if err := c.Apply(id, "alice", "insert", 0, "hello", 0); err != nil {
		t.Fatalf("apply insert: %v", err)
	}
	time.Sleep(10 * time.Millisecond) // let the event loop process the fire-and-forget apply

	if err := c.SaveSession(id); err != nil {
		t.Fatalf("save session: %v", err)
	}
}

// TestQueryAclRejectedForDefaultAccount confirms the built-in default
// account is not granted can_query_acl on the root sheet, so
// an anonymous connection cannot read or alter permissions without
// first authenticating as a more privileged account.
func TestQueryAclRejectedForDefaultAccount(t *testing.T) {
	sockPath, stop := startTestServer(t, t.TempDir())
	defer stop()

	c := dial(t, sockPath)
	defer c.Close()

	if _, err := c.QueryAcl(0); err == nil {
		t.Fatalf("expected the default account to be denied can_query_acl on root")
	}
}
