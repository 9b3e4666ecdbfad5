// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package client

import "github.com/gobby/infinoted/proto"

// Node is the client-side mirror of a directory node: only the fields
// a browsing client actually needs to render a tree and answer "can I
// still see this node". Nothing the directory itself tracks for
// enforcement (subscriber sets, session proxies) survives the trip
// across the wire.
type Node struct {
	ID       int64
	ParentID int64
	Name     string
	Type     string // proto.AddNode.Type; the subdirectory type tag or a plugin id
	Explored bool
	Acl      []proto.Sheet
	Children []int64
}

func (n *Node) IsSubdirectory() bool { return n.Type == proto.TypeSubdirectory }

// Tree is the client's local mirror of the directory, built entirely
// from server announcements (explore-begin/add-node/explore-end,
// remove-node, set-acl). It is only ever touched from the Client's
// single actor goroutine, so it carries no locking of its own; this
// is the same single-owner discipline the directory itself uses.
type Tree struct {
	byID map[int64]*Node
}

const RootID = 0

func newTree() *Tree {
	t := &Tree{byID: make(map[int64]*Node)}
	t.byID[RootID] = &Node{ID: RootID, ParentID: -1, Type: proto.TypeSubdirectory}
	return t
}

func (t *Tree) Root() *Node { return t.byID[RootID] }

func (t *Tree) Get(id int64) (*Node, bool) {
	n, ok := t.byID[id]
	return n, ok
}

// insert records a node announced by the server, linking it under its
// parent if the parent is already known. An add-node for a node whose
// parent isn't mirrored yet is kept unlinked; the client never asked
// to explore that subtree.
func (t *Tree) insert(w proto.AddNode) *Node {
	if _, exists := t.byID[w.ID]; exists {
		return t.byID[w.ID]
	}
	n := &Node{ID: w.ID, ParentID: w.Parent, Name: w.Name, Type: w.Type, Acl: w.Acl}
	t.byID[n.ID] = n
	if parent, ok := t.byID[w.Parent]; ok {
		parent.Children = append(parent.Children, n.ID)
	}
	return n
}

// remove deletes id and its whole subtree from the mirror, unlinking
// it from its parent's child list, and reports every id removed (a
// client-side analogue of tree.FreeSubtree).
func (t *Tree) remove(id int64) []int64 {
	n, ok := t.byID[id]
	if !ok {
		return nil
	}
	if parent, ok := t.byID[n.ParentID]; ok {
		for i, c := range parent.Children {
			if c == id {
				parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
				break
			}
		}
	}
	var removed []int64
	var walk func(int64)
	walk = func(cur int64) {
		node, ok := t.byID[cur]
		if !ok {
			return
		}
		removed = append(removed, cur)
		children := append([]int64(nil), node.Children...)
		delete(t.byID, cur)
		for _, c := range children {
			walk(c)
		}
	}
	walk(id)
	return removed
}

func (t *Tree) setAcl(id int64, sheets []proto.Sheet) {
	if n, ok := t.byID[id]; ok {
		n.Acl = sheets
	}
}
