// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session_test

import (
	"log"
	"strings"
	"testing"

	"github.com/gobby/infinoted/plugin"
	"github.com/gobby/infinoted/session"
)

func discardLogger() *log.Logger { return log.New(discardWriter{}, "", 0) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestProxyJoinLeaveLifecycle(t *testing.T) {
	p := session.NewProxy(1, "session-1", plugin.NewTextSession(), discardLogger())
	defer p.Close()

	p.Join("alice")
	if got := p.State(); got != session.StateResident {
		t.Fatalf("proxy with a subscriber should be resident, got %v", got)
	}

	empty := p.Leave("alice")
	if !empty {
		t.Fatalf("leaving the last subscriber should report empty=true")
	}
	if got := p.State(); got != session.StateWeaklyHeld {
		t.Fatalf("proxy with no subscribers should be weakly-held, got %v", got)
	}

	p.Join("bob")
	if got := p.State(); got != session.StateResident {
		t.Fatalf("joining a weakly-held proxy should promote it back to resident, got %v", got)
	}
}

func TestProxyApplyRoutesToSession(t *testing.T) {
	p := session.NewProxy(1, "session-1", plugin.NewTextSession(), discardLogger())
	defer p.Close()

	if err := p.Apply(&plugin.InsertOp{Position: 0, Chunk: []rune("hi")}, "alice"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := p.Apply(&plugin.InsertOp{Position: 99, Chunk: []rune("z")}, "alice"); err == nil {
		t.Fatalf("apply beyond buffer length should fail")
	}
}

func TestProxyFlushSerializesCurrentContent(t *testing.T) {
	p := session.NewProxy(1, "session-1", plugin.NewTextSession(), discardLogger())
	defer p.Close()

	if err := p.Apply(&plugin.InsertOp{Position: 0, Chunk: []rune("saved")}, "alice"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	var buf strings.Builder
	var pl plugin.TextPlugin
	if err := p.Flush(&buf, pl); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !strings.Contains(buf.String(), "saved") {
		t.Fatalf("flushed content = %q, want it to contain %q", buf.String(), "saved")
	}
}

func TestProxyCloseThenOperationsReportDisconnected(t *testing.T) {
	p := session.NewProxy(1, "session-1", plugin.NewTextSession(), discardLogger())
	p.Close()

	if err := p.Apply(&plugin.InsertOp{Position: 0, Chunk: []rune("x")}, "a"); err == nil {
		t.Fatalf("apply on a closed proxy should fail")
	}
	if got := p.State(); got != session.StateCold {
		t.Fatalf("closed proxy state = %v, want cold", got)
	}
	// Close must be safe to call twice.
	p.Close()
}

func TestProxyNodeIDAndGroupID(t *testing.T) {
	p := session.NewProxy(42, "session-42", plugin.NewTextSession(), discardLogger())
	defer p.Close()
	if p.NodeID() != 42 {
		t.Fatalf("NodeID() = %d, want 42", p.NodeID())
	}
	if p.GroupID() != "session-42" {
		t.Fatalf("GroupID() = %q, want session-42", p.GroupID())
	}
}
