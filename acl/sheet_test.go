// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package acl_test

import (
	"testing"

	"github.com/gobby/infinoted/acl"
)

func TestSheetMergeOverridesOnlyDecidedBits(t *testing.T) {
	a := acl.Sheet{Mask: acl.CanExploreNode | acl.CanRemoveNode, Perms: acl.CanExploreNode}
	b := acl.Sheet{Mask: acl.CanRemoveNode, Perms: acl.CanRemoveNode}

	got := a.Merge(b)
	want := acl.Sheet{
		Mask:  acl.CanExploreNode | acl.CanRemoveNode,
		Perms: acl.CanExploreNode | acl.CanRemoveNode,
	}
	if got != want {
		t.Fatalf("Merge = %+v, want %+v", got, want)
	}
}

func TestSheetMergeBOverridesDisagreement(t *testing.T) {
	a := acl.Sheet{Mask: acl.CanRemoveNode, Perms: acl.CanRemoveNode}
	b := acl.Sheet{Mask: acl.CanRemoveNode, Perms: 0}

	got := a.Merge(b)
	if got.Perms&acl.CanRemoveNode != 0 {
		t.Fatalf("b should override a's grant with a denial, got perms %v", got.Perms)
	}
}

func TestSheetIsErasure(t *testing.T) {
	if !(acl.Sheet{}).IsErasure() {
		t.Fatalf("zero-value sheet should be an erasure")
	}
	if (acl.Sheet{Mask: acl.CanRemoveNode}).IsErasure() {
		t.Fatalf("sheet with a nonzero mask should not be an erasure")
	}
}

func TestSheetSetMergePerAccount(t *testing.T) {
	a := acl.SheetSet{
		"alice": {Mask: acl.CanExploreNode, Perms: acl.CanExploreNode},
		"bob":   {Mask: acl.CanExploreNode, Perms: 0},
	}
	b := acl.SheetSet{
		"alice": {Mask: acl.CanRemoveNode, Perms: acl.CanRemoveNode},
	}

	got := a.Merge(b)
	if got["alice"].Mask != (acl.CanExploreNode | acl.CanRemoveNode) {
		t.Fatalf("alice mask = %v, want both bits set", got["alice"].Mask)
	}
	if got["bob"].Mask != acl.CanExploreNode {
		t.Fatalf("bob's untouched sheet should survive unchanged, got %+v", got["bob"])
	}
}

func TestSheetSetCloneIsIndependent(t *testing.T) {
	a := acl.SheetSet{"alice": {Mask: acl.CanExploreNode, Perms: acl.CanExploreNode}}
	clone := a.Clone()
	clone["alice"] = acl.Sheet{}
	if a["alice"].Mask != acl.CanExploreNode {
		t.Fatalf("mutating the clone must not affect the original")
	}
}

func TestNameOfRejectsMultiBitMasks(t *testing.T) {
	if got := acl.NameOf(acl.CanExploreNode); got != "can_explore_node" {
		t.Errorf("NameOf(CanExploreNode) = %q", got)
	}
	if got := acl.NameOf(acl.CanExploreNode | acl.CanRemoveNode); got != "" {
		t.Errorf("NameOf of a multi-bit mask should be empty, got %q", got)
	}
	if got := acl.NameOf(0); got != "" {
		t.Errorf("NameOf(0) should be empty, got %q", got)
	}
}
