// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package subscribe_test

import (
	"testing"

	"github.com/gobby/infinoted/subscribe"
)

func TestGroupJoinLeaveMembership(t *testing.T) {
	g := subscribe.NewGroup("session-1")
	if !g.Empty() {
		t.Fatalf("new group should start empty")
	}
	g.Join("c1")
	g.Join("c2")
	if g.Empty() {
		t.Fatalf("group with members should not be empty")
	}
	if len(g.Members()) != 2 {
		t.Fatalf("expected 2 members, got %d", len(g.Members()))
	}
	g.Leave("c1")
	if len(g.Members()) != 1 {
		t.Fatalf("expected 1 member after leave, got %d", len(g.Members()))
	}
	g.Leave("c2")
	if !g.Empty() {
		t.Fatalf("group should be empty once every member has left")
	}
}

func TestRegistryReserveGetRelease(t *testing.T) {
	r := subscribe.NewRegistry()
	g := r.Reserve("session-9")
	got, ok := r.Get("session-9")
	if !ok || got != g {
		t.Fatalf("Get should return the reserved group")
	}
	r.Release("session-9")
	if _, ok := r.Get("session-9"); ok {
		t.Fatalf("group should be gone after Release")
	}
}
