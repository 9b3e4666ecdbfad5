// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package direrr_test

import (
	"strings"
	"testing"

	"github.com/gobby/infinoted/direrr"
)

func TestErrorStringIncludesPathWhenSet(t *testing.T) {
	err := direrr.NewNoSuchNode("/a/b")
	got := err.Error()
	if !strings.Contains(got, "directory/no-such-node") || !strings.Contains(got, "/a/b") {
		t.Fatalf("Error() = %q, want domain/code and path", got)
	}
}

func TestErrorStringOmitsPathWhenUnset(t *testing.T) {
	err := direrr.NewNotInitiated()
	got := err.Error()
	if strings.Contains(got, "()") || strings.HasSuffix(got, "()") {
		t.Fatalf("Error() = %q, should not render an empty path suffix", got)
	}
	if !strings.Contains(got, "directory/not-initiated") {
		t.Fatalf("Error() = %q, want domain/code", got)
	}
}

func TestDirectoryDomainConstructors(t *testing.T) {
	cases := []struct {
		name string
		err  *direrr.Error
		code direrr.Code
	}{
		{"no-such-node", direrr.NewNoSuchNode(""), direrr.NoSuchNode},
		{"not-a-subdirectory", direrr.NewNotASubdirectory(""), direrr.NotASubdirectory},
		{"not-a-note", direrr.NewNotANote(""), direrr.NotANote},
		{"already-explored", direrr.NewAlreadyExplored(""), direrr.AlreadyExplored},
		{"not-initiated", direrr.NewNotInitiated(), direrr.NotInitiated},
		{"node-exists", direrr.NewNodeExists("dup"), direrr.NodeExists},
		{"invalid-name", direrr.NewInvalidName("bad"), direrr.InvalidName},
		{"type-unknown", direrr.NewTypeUnknown("Foo"), direrr.TypeUnknown},
		{"already-subscribed", direrr.NewAlreadySubscribed(), direrr.AlreadySubscribed},
		{"unexpected-sync-in", direrr.NewUnexpectedSyncIn(), direrr.UnexpectedSyncIn},
		{"no-storage", direrr.NewNoStorage(), direrr.NoStorage},
		{"chat-disabled", direrr.NewChatDisabled(), direrr.ChatDisabled},
		{"root-node-remove-attempt", direrr.NewRootNodeRemoveAttempt(), direrr.RootNodeRemoveAttempt},
		{"acl-already-queried", direrr.NewAclAlreadyQueried(), direrr.AclAlreadyQueried},
		{"invalid-insert", direrr.NewInvalidInsert(), direrr.InvalidInsert},
		{"inconsistent-delete", direrr.NewInconsistentDelete(), direrr.InconsistentDelete},
	}
	for _, tc := range cases {
		if tc.err.Domain != direrr.DomainDirectory {
			t.Errorf("%s: Domain = %q, want directory", tc.name, tc.err.Domain)
		}
		if tc.err.Code != tc.code {
			t.Errorf("%s: Code = %q, want %q", tc.name, tc.err.Code, tc.code)
		}
	}
}

func TestRequestDomainConstructors(t *testing.T) {
	cases := []struct {
		name string
		err  *direrr.Error
		code direrr.Code
	}{
		{"not-authorized", direrr.NewNotAuthorized("can_explore_node"), direrr.NotAuthorized},
		{"invalid-seq", direrr.NewInvalidSeq(), direrr.InvalidSeq},
		{"reply-unprocessed", direrr.NewReplyUnprocessed(), direrr.ReplyUnprocessed},
		{"unknown-domain", direrr.NewUnknownDomain("bogus"), direrr.UnknownDomain},
	}
	for _, tc := range cases {
		if tc.err.Domain != direrr.DomainRequest {
			t.Errorf("%s: Domain = %q, want request", tc.name, tc.err.Domain)
		}
		if tc.err.Code != tc.code {
			t.Errorf("%s: Code = %q, want %q", tc.name, tc.err.Code, tc.code)
		}
	}
}

func TestNewNotAuthorizedCarriesPermissionName(t *testing.T) {
	err := direrr.NewNotAuthorized("can_set_acl")
	if err.Path != "can_set_acl" {
		t.Fatalf("Path = %q, want the permission name", err.Path)
	}
}
