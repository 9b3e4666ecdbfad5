// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package syncin tracks inbound session synchronizations, where the
// client is the source of truth for a new note's initial content.
// Each sync-in is an explicit state machine; the network layer and
// the session layer call the appropriate transition function on
// events (sync-complete, sync-failed, connection-closed) rather than
// blocking anywhere.
package syncin

import (
	"github.com/gobby/infinoted/acl"
	"github.com/gobby/infinoted/direrr"
	"github.com/gobby/infinoted/session"
)

// State is a sync-in's lifecycle stage.
type State int

const (
	StatePreSync State = iota
	StateSynchronizing
	StateInstalled
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StatePreSync:
		return "pre-sync"
	case StateSynchronizing:
		return "synchronizing-from-client"
	case StateInstalled:
		return "installed"
	case StateDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// SyncIn tracks one inbound session synchronization. It carries
// everything needed to commit the new node once synchronization
// completes, or to discard cleanly if it fails or the connection
// drops first.
type SyncIn struct {
	NodeID    int64
	ParentID  int64
	Name      string
	PluginID  string
	Acl       acl.SheetSet
	Proxy     *session.Proxy
	ConnID    string
	GroupID   string
	Seq       int64 // seq of the originating request, echoed on resolution
	Subscribe bool  // true for sync_in_subscribe: also join the client once installed

	state State
}

// New creates a sync-in in pre-sync state, wrapping proxy (already
// constructed against an empty plugin session).
func New(nodeID, parentID int64, name, pluginID string, sheets acl.SheetSet, proxy *session.Proxy, connID, groupID string, seq int64, subscribe bool) *SyncIn {
	return &SyncIn{
		NodeID:    nodeID,
		ParentID:  parentID,
		Name:      name,
		PluginID:  pluginID,
		Acl:       sheets,
		Proxy:     proxy,
		ConnID:    connID,
		GroupID:   groupID,
		Seq:       seq,
		Subscribe: subscribe,
		state:     StatePreSync,
	}
}

// State returns the current lifecycle stage.
func (s *SyncIn) State() State { return s.state }

// BeginTransfer transitions pre-sync to synchronizing-from-client,
// once the client's ack arrives and its initial content starts
// flowing.
func (s *SyncIn) BeginTransfer() error {
	if s.state != StatePreSync {
		return direrr.NewUnexpectedMessage("sync-in not in pre-sync state")
	}
	s.state = StateSynchronizing
	return nil
}

// Complete marks synchronization successful; the caller (server
// package) is then responsible for inserting the node into the tree,
// writing initial content to storage, and announcing it.
func (s *SyncIn) Complete() error {
	if s.state != StateSynchronizing {
		return direrr.NewUnexpectedMessage("sync-in not synchronizing")
	}
	s.state = StateInstalled
	return nil
}

// Discard marks the sync-in failed or abandoned, closing the
// pre-built proxy; the caller must fail the originating request.
// Discard is idempotent so it can be safely called from both a
// sync-failed event and a racing connection-closed event.
func (s *SyncIn) Discard() {
	if s.state == StateDiscarded || s.state == StateInstalled {
		return
	}
	s.state = StateDiscarded
	if s.Proxy != nil {
		s.Proxy.Close()
	}
}

// ClearParent records that the sync-in's parent node was removed
// mid-flight. The zero value 0 is a valid root id, so removal is
// tracked with a -1 sentinel.
func (s *SyncIn) ClearParent() { s.ParentID = -1 }

// ParentCleared reports whether ClearParent was called.
func (s *SyncIn) ParentCleared() bool { return s.ParentID == -1 }

// Table tracks every outstanding sync-in, keyed by the reserved node
// id. Each sync-in reserves a fresh id, so the key is unique.
type Table struct {
	byNodeID map[int64]*SyncIn
}

// NewTable returns an empty sync-in table.
func NewTable() *Table {
	return &Table{byNodeID: make(map[int64]*SyncIn)}
}

// Add registers s under its reserved node id.
func (t *Table) Add(s *SyncIn) { t.byNodeID[s.NodeID] = s }

// Get looks up the sync-in reserving nodeID.
func (t *Table) Get(nodeID int64) (*SyncIn, bool) {
	s, ok := t.byNodeID[nodeID]
	return s, ok
}

// Remove deletes the sync-in for nodeID once it resolves.
func (t *Table) Remove(nodeID int64) { delete(t.byNodeID, nodeID) }

// ForParent returns every outstanding sync-in whose ParentID is
// parentID, so the caller can clear their parent pointers when
// parentID's node is removed.
func (t *Table) ForParent(parentID int64) []*SyncIn {
	var out []*SyncIn
	for _, s := range t.byNodeID {
		if s.ParentID == parentID {
			out = append(out, s)
		}
	}
	return out
}

// ForConn returns every outstanding sync-in belonging to connID, for
// teardown on connection close.
func (t *Table) ForConn(connID string) []*SyncIn {
	var out []*SyncIn
	for _, s := range t.byNodeID {
		if s.ConnID == connID {
			out = append(out, s)
		}
	}
	return out
}
