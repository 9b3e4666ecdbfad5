// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package plugin_test

import (
	"strings"
	"testing"

	"github.com/gobby/infinoted/plugin"
)

func TestInsertThenRevertRestoresContentAndAuthors(t *testing.T) {
	s := plugin.NewTextSession()
	if err := s.Apply(&plugin.InsertOp{Position: 0, Chunk: []rune("hello")}, "alice"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := s.String(); got != "hello" {
		t.Fatalf("content = %q, want hello", got)
	}
	ins := &plugin.InsertOp{Position: 0, Chunk: []rune("hello")}
	if err := s.Apply(ins.Revert(), ""); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if got := s.String(); got != "" {
		t.Fatalf("content after revert = %q, want empty", got)
	}
}

func TestInsertAtLengthSucceedsBeyondFails(t *testing.T) {
	s := plugin.NewTextSession()
	if err := s.Apply(&plugin.InsertOp{Position: 0, Chunk: []rune("ab")}, "a"); err != nil {
		t.Fatalf("seed insert: %v", err)
	}
	if err := s.Apply(&plugin.InsertOp{Position: 2, Chunk: []rune("c")}, "a"); err != nil {
		t.Fatalf("insert at length should succeed: %v", err)
	}
	if err := s.Apply(&plugin.InsertOp{Position: 10, Chunk: []rune("z")}, "a"); err == nil {
		t.Fatalf("insert beyond length should fail")
	}
}

func TestDeleteRequiresMatchingContent(t *testing.T) {
	s := plugin.NewTextSession()
	if err := s.Apply(&plugin.InsertOp{Position: 0, Chunk: []rune("hello")}, "a"); err != nil {
		t.Fatalf("seed insert: %v", err)
	}
	if err := s.Apply(&plugin.DeleteOp{Position: 0, Chunk: []rune("xyz")}, ""); err == nil {
		t.Fatalf("delete with mismatched chunk should fail with inconsistent-delete")
	}
	if err := s.Apply(&plugin.DeleteOp{Position: 1, Chunk: []rune("ell")}, ""); err != nil {
		t.Fatalf("delete with matching chunk should succeed: %v", err)
	}
	if got := s.String(); got != "ho" {
		t.Fatalf("content = %q, want ho", got)
	}
}

func TestInsertVsInsertTransformTieBreaksByConcurrencyID(t *testing.T) {
	base := []rune("xy")
	a := &plugin.InsertOp{Position: 2, Chunk: []rune("A"), ConcurrencyID: 1}
	b := &plugin.InsertOp{Position: 2, Chunk: []rune("B"), ConcurrencyID: 2}

	aPrime, err := a.Transform(b, a.ConcurrencyID)
	if err != nil {
		t.Fatalf("transform a vs b: %v", err)
	}
	bPrime, err := b.Transform(a, b.ConcurrencyID)
	if err != nil {
		t.Fatalf("transform b vs a: %v", err)
	}

	s1 := plugin.NewTextSession()
	mustApply(t, s1, &plugin.InsertOp{Position: 0, Chunk: append([]rune{}, base...)}, "base")
	mustApply(t, s1, a, "a")
	mustApply(t, s1, bPrime, "b")

	s2 := plugin.NewTextSession()
	mustApply(t, s2, &plugin.InsertOp{Position: 0, Chunk: append([]rune{}, base...)}, "base")
	mustApply(t, s2, b, "b")
	mustApply(t, s2, aPrime, "a")

	if s1.String() != s2.String() {
		t.Fatalf("peers diverged: %q vs %q", s1.String(), s2.String())
	}
}

func TestDeleteVsInsertShiftsPositionWhenInsertIsBefore(t *testing.T) {
	del := &plugin.DeleteOp{Position: 3, Chunk: []rune("def")}
	ins := &plugin.InsertOp{Position: 0, Chunk: []rune("XYZ")}

	transformed, err := del.Transform(ins, 0)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}

	s := plugin.NewTextSession()
	mustApply(t, s, &plugin.InsertOp{Position: 0, Chunk: []rune("abcdef")}, "a")
	mustApply(t, s, ins, "b")
	if got := s.String(); got != "XYZabcdef" {
		t.Fatalf("after concurrent insert = %q, want XYZabcdef", got)
	}
	mustApply(t, s, transformed, "a")
	if got := s.String(); got != "XYZabc" {
		t.Fatalf("after transformed delete = %q, want XYZabc", got)
	}
}

func TestDeleteVsInsertSplitsAroundInsertion(t *testing.T) {
	del := &plugin.DeleteOp{Position: 1, Chunk: []rune("bcd")}
	ins := &plugin.InsertOp{Position: 2, Chunk: []rune("XX")}

	transformed, err := del.Transform(ins, 0)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if _, ok := transformed.(*plugin.SplitOp); !ok {
		t.Fatalf("insert inside the deleted range should produce a split operation, got %T", transformed)
	}

	s := plugin.NewTextSession()
	mustApply(t, s, &plugin.InsertOp{Position: 0, Chunk: []rune("abcde")}, "a")
	mustApply(t, s, ins, "b")
	if got := s.String(); got != "abXXcde" {
		t.Fatalf("after concurrent insert = %q, want abXXcde", got)
	}
	mustApply(t, s, transformed, "a")
	if got := s.String(); got != "aXXe" {
		t.Fatalf("after split delete = %q, want aXXe", got)
	}
}

func TestDeleteVsInsertUnchangedWhenInsertIsAfter(t *testing.T) {
	del := &plugin.DeleteOp{Position: 0, Chunk: []rune("abc")}
	ins := &plugin.InsertOp{Position: 5, Chunk: []rune("XYZ")}

	transformed, err := del.Transform(ins, 0)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if transformed.(*plugin.DeleteOp).Position != 0 {
		t.Fatalf("delete position should be unaffected by a later insert")
	}
}

func mustApply(t *testing.T, s *plugin.TextSession, op plugin.Operation, author string) {
	t.Helper()
	if err := s.Apply(op, author); err != nil {
		t.Fatalf("apply %#v: %v", op, err)
	}
}

func TestTextPluginWriteRoundTrip(t *testing.T) {
	var pl plugin.TextPlugin
	s := plugin.NewTextSession()
	mustApply(t, s, &plugin.InsertOp{Position: 0, Chunk: []rune("round-trip text")}, "a")

	var buf strings.Builder
	if err := pl.Write(&buf, s); err != nil {
		t.Fatalf("write: %v", err)
	}

	read, err := pl.Read(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	ts, ok := read.(*plugin.TextSession)
	if !ok {
		t.Fatalf("read did not return a *TextSession")
	}
	if !strings.Contains(ts.String(), "round-trip text") {
		t.Fatalf("round-tripped content = %q", ts.String())
	}
}

func TestDecodeOperationRejectsUnknownKind(t *testing.T) {
	var pl plugin.TextPlugin
	if _, err := pl.DecodeOperation("frobnicate", 0, "x", 0); err == nil {
		t.Fatalf("expected unknown op kind to be rejected")
	}
}
