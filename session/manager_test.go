// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session_test

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/gobby/infinoted/plugin"
	"github.com/gobby/infinoted/session"
)

type memLoader struct {
	data map[int64][]byte
}

func newMemLoader() *memLoader { return &memLoader{data: make(map[int64][]byte)} }

func (l *memLoader) Open(nodeID int64) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.data[nodeID])), nil
}

func (l *memLoader) Create(nodeID int64) (io.WriteCloser, error) {
	return &memWriteCloser{l: l, id: nodeID}, nil
}

type memWriteCloser struct {
	l   *memLoader
	id  int64
	buf bytes.Buffer
}

func (w *memWriteCloser) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *memWriteCloser) Close() error {
	w.l.data[w.id] = w.buf.Bytes()
	return nil
}

func TestManagerLoadInstallsProxy(t *testing.T) {
	m := session.NewManager(discardLogger())
	loader := newMemLoader()
	loader.data[1] = []byte("hello")
	var pl plugin.TextPlugin

	p, err := m.Load(1, "session-1", pl, loader)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer p.Close()

	got, ok := m.Get(1)
	if !ok || got != p {
		t.Fatalf("Get should return the just-installed proxy")
	}
}

func TestManagerSweepEvictsAndSavesAfterTimeout(t *testing.T) {
	m := session.NewManager(discardLogger())
	m.SetIdleTimeout(0) // sweep should fire immediately once idle is noted
	loader := newMemLoader()
	var pl plugin.TextPlugin

	p, err := m.Load(1, "session-1", pl, loader)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := p.Apply(&plugin.InsertOp{Position: 0, Chunk: []rune("persisted")}, "a"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	m.NoteIdle(1)
	time.Sleep(time.Millisecond)

	cold := m.Sweep(func(int64) plugin.Plugin { return pl }, loader)
	if len(cold) != 1 || cold[0] != 1 {
		t.Fatalf("expected node 1 to go cold, got %v", cold)
	}
	if _, ok := m.Get(1); ok {
		t.Fatalf("proxy should be forgotten after eviction")
	}
	if string(loader.data[1]) != "persisted" {
		t.Fatalf("evicted session should have been saved, got %q", loader.data[1])
	}
}

func TestManagerNoteActiveCancelsSweep(t *testing.T) {
	m := session.NewManager(discardLogger())
	m.SetIdleTimeout(0)
	loader := newMemLoader()
	var pl plugin.TextPlugin

	_, err := m.Load(1, "session-1", pl, loader)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	m.NoteIdle(1)
	m.NoteActive(1)

	cold := m.Sweep(func(int64) plugin.Plugin { return pl }, loader)
	if len(cold) != 0 {
		t.Fatalf("expected no eviction after NoteActive cancelled the idle countdown, got %v", cold)
	}
	if _, ok := m.Get(1); !ok {
		t.Fatalf("proxy should still be resident")
	}
}

func TestManagerEvictForgetsWithoutSaving(t *testing.T) {
	m := session.NewManager(discardLogger())
	loader := newMemLoader()
	var pl plugin.TextPlugin
	_, err := m.Load(1, "session-1", pl, loader)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	m.Evict(1)
	if _, ok := m.Get(1); ok {
		t.Fatalf("proxy should be gone after forced Evict")
	}
	if _, ok := loader.data[1]; ok {
		t.Fatalf("forced Evict must not save session content")
	}
}
