// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package subscribe implements the subscription protocol: the subreq
// table, the three-way ack/nack handshake, and subscription groups.
package subscribe

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind is the tagged-union discriminant for a Subreq.
type Kind int

const (
	KindChat Kind = iota
	KindSession
	KindAddNode
	KindSyncIn
	KindSyncInSubscribe
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindSession:
		return "session"
	case KindAddNode:
		return "add_node"
	case KindSyncIn:
		return "sync_in"
	case KindSyncInSubscribe:
		return "sync_in_subscribe"
	default:
		return "unknown"
	}
}

// AddNodeData carries the auxiliary state needed to commit a
// subscribe-ack'd add_node into the tree.
type AddNodeData struct {
	ParentID int64
	TypeTag  string
	Name     string
	PluginID string
}

// Subreq is a pending subscription request awaiting the client's
// ack/nack.
type Subreq struct {
	ID int64 // id assigned to this subreq itself, used for lookup

	Kind    Kind
	ConnID  string
	GroupID string
	NodeID  int64 // 0 for chat; for add_node/sync_in, the reserved id
	SeqEcho int64 // seq of the originating request, to finish it later

	// ParentID is set to -1 if the parent node is removed while this
	// subreq is outstanding; -1 is distinguished from the valid root
	// id 0.
	ParentID int64

	AddNode *AddNodeData // set when Kind is KindAddNode or KindSyncIn*
}

// ParentCleared reports whether the subreq's parent node vanished
// between the server's reply and the client's ack.
func (s *Subreq) ParentCleared() bool { return s.ParentID == -1 }

// Table is the server-wide set of outstanding subreqs. Two subreqs
// may share a node id only for KindSession (multiple clients racing
// to subscribe the same session); KindAddNode and KindSyncIn* reserve
// a fresh node id each.
type Table struct {
	byID   map[int64]*Subreq
	nextID int64
}

// NewTable returns an empty subreq table.
func NewTable() *Table {
	return &Table{byID: make(map[int64]*Subreq)}
}

// NewGroupID allocates a subscription group name. A positive nodeID
// names the group after the node it serves (session, add_node and
// sync-in handshakes all pass the node's id); any other value, as the
// chat handshake passes, gets a random name so concurrent handshakes
// never collide.
func NewGroupID(nodeID int64) string {
	if nodeID > 0 {
		return fmt.Sprintf("session-%d", nodeID)
	}
	return "grp-" + uuid.NewString()
}

// Add inserts req, assigning it a fresh id, and returns that id.
func (t *Table) Add(req *Subreq) int64 {
	t.nextID++
	req.ID = t.nextID
	t.byID[req.ID] = req
	return req.ID
}

// Get looks up a subreq by its own id.
func (t *Table) Get(id int64) (*Subreq, bool) {
	r, ok := t.byID[id]
	return r, ok
}

// Remove deletes a subreq once its handshake resolves (ack, nack, or
// connection close).
func (t *Table) Remove(id int64) {
	delete(t.byID, id)
}

// ForNode returns every outstanding subreq targeting nodeID; several
// racing KindSession subreqs may share one node id.
func (t *Table) ForNode(nodeID int64) []*Subreq {
	var out []*Subreq
	for _, r := range t.byID {
		if r.NodeID == nodeID {
			out = append(out, r)
		}
	}
	return out
}

// ForParent returns every outstanding subreq whose ParentID is
// parentID, so the caller can clear them when parentID's node is
// removed.
func (t *Table) ForParent(parentID int64) []*Subreq {
	var out []*Subreq
	for _, r := range t.byID {
		if r.ParentID == parentID {
			out = append(out, r)
		}
	}
	return out
}

// ForConn returns every outstanding subreq belonging to connID, used
// to tear resources down on connection close.
func (t *Table) ForConn(connID string) []*Subreq {
	var out []*Subreq
	for _, r := range t.byID {
		if r.ConnID == connID {
			out = append(out, r)
		}
	}
	return out
}

// ForGroup returns every outstanding subreq referencing groupID, used
// to decide whether a group can be released when one of its referring
// subreqs tears down. Multiple clients can be acking the same newly
// added session, so teardown of one subreq must not take the group
// out from under the others.
func (t *Table) ForGroup(groupID string) []*Subreq {
	var out []*Subreq
	for _, r := range t.byID {
		if r.GroupID == groupID {
			out = append(out, r)
		}
	}
	return out
}
