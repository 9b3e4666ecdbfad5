// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package subscribe_test

import (
	"testing"

	"github.com/gobby/infinoted/subscribe"
)

func TestTableAddAssignsUniqueIDs(t *testing.T) {
	tbl := subscribe.NewTable()
	id1 := tbl.Add(&subscribe.Subreq{Kind: subscribe.KindChat, ConnID: "c1"})
	id2 := tbl.Add(&subscribe.Subreq{Kind: subscribe.KindChat, ConnID: "c2"})
	if id1 == id2 {
		t.Fatalf("expected distinct subreq ids, got %d twice", id1)
	}
	if _, ok := tbl.Get(id1); !ok {
		t.Fatalf("subreq %d should be retrievable", id1)
	}
}

func TestTableRemoveForgetsSubreq(t *testing.T) {
	tbl := subscribe.NewTable()
	id := tbl.Add(&subscribe.Subreq{Kind: subscribe.KindSession, NodeID: 5})
	tbl.Remove(id)
	if _, ok := tbl.Get(id); ok {
		t.Fatalf("subreq %d should be gone after Remove", id)
	}
}

func TestForNodeAllowsMultipleSessionSubreqsSharingID(t *testing.T) {
	tbl := subscribe.NewTable()
	tbl.Add(&subscribe.Subreq{Kind: subscribe.KindSession, NodeID: 42, ConnID: "c1"})
	tbl.Add(&subscribe.Subreq{Kind: subscribe.KindSession, NodeID: 42, ConnID: "c2"})
	if got := tbl.ForNode(42); len(got) != 2 {
		t.Fatalf("expected 2 racing session subreqs for node 42, got %d", len(got))
	}
}

func TestForParentFindsSubreqsUnderRemovedParent(t *testing.T) {
	tbl := subscribe.NewTable()
	tbl.Add(&subscribe.Subreq{Kind: subscribe.KindAddNode, ParentID: 7, NodeID: 100})
	tbl.Add(&subscribe.Subreq{Kind: subscribe.KindAddNode, ParentID: 8, NodeID: 101})
	got := tbl.ForParent(7)
	if len(got) != 1 || got[0].NodeID != 100 {
		t.Fatalf("expected one subreq under parent 7, got %v", got)
	}
}

func TestForConnAndForGroup(t *testing.T) {
	tbl := subscribe.NewTable()
	tbl.Add(&subscribe.Subreq{Kind: subscribe.KindChat, ConnID: "alice", GroupID: "g1"})
	tbl.Add(&subscribe.Subreq{Kind: subscribe.KindChat, ConnID: "bob", GroupID: "g1"})
	tbl.Add(&subscribe.Subreq{Kind: subscribe.KindChat, ConnID: "alice", GroupID: "g2"})

	if got := tbl.ForConn("alice"); len(got) != 2 {
		t.Fatalf("expected 2 subreqs for alice, got %d", len(got))
	}
	if got := tbl.ForGroup("g1"); len(got) != 2 {
		t.Fatalf("expected 2 subreqs in group g1, got %d", len(got))
	}
}

func TestParentClearedSentinel(t *testing.T) {
	s := &subscribe.Subreq{ParentID: 3}
	if s.ParentCleared() {
		t.Fatalf("a fresh subreq should not report its parent as cleared")
	}
	s.ParentID = -1
	if !s.ParentCleared() {
		t.Fatalf("ParentID -1 should report the parent as cleared")
	}
}

func TestNewGroupIDDistinguishesNodeAndTransientGroups(t *testing.T) {
	if got := subscribe.NewGroupID(5); got != "session-5" {
		t.Fatalf("node-backed group id = %q, want session-5", got)
	}
	g1 := subscribe.NewGroupID(0)
	g2 := subscribe.NewGroupID(0)
	if g1 == g2 {
		t.Fatalf("transient group ids should be unique, got %q twice", g1)
	}
}
