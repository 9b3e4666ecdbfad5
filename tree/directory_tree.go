// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package tree

import "github.com/gobby/infinoted/direrr"

// DetachHook is called by FreeSubtree for each note node in the freed
// subtree just before it is removed from the id hash, giving the
// session manager a chance to drop any resident session.
type DetachHook func(n *Node)

// Tree is the process-wide node hash plus the root of the sibling
// chains. Ids are drawn from a monotonically increasing counter that
// never reuses.
type Tree struct {
	root   *Node
	byID   map[int64]*Node
	nextID int64
	onFree DetachHook
}

// New creates a Tree with a fresh root subdirectory node (id 0).
func New() *Tree {
	root := &Node{
		ID:                    RootID,
		Name:                  "",
		TypeTag:               SubdirTypeTag,
		Kind:                  KindSubdirectory,
		SubscribedConnections: make(map[string]bool),
	}
	t := &Tree{
		byID:   map[int64]*Node{RootID: root},
		nextID: RootID + 1,
	}
	t.root = root
	return t
}

// SetDetachHook installs the hook FreeSubtree invokes per note before
// removing it from the id hash.
func (t *Tree) SetDetachHook(hook DetachHook) { t.onFree = hook }

// Root returns the tree's root node.
func (t *Tree) Root() *Node { return t.root }

// NextID reserves (but does not commit) the next node id. Used by the
// subscription protocol to hand out an id in its reply before the node
// is actually inserted.
func (t *Tree) NextID() int64 {
	id := t.nextID
	t.nextID++
	return id
}

// FindByID looks up a node by id.
func (t *Tree) FindByID(id int64) (*Node, bool) {
	n, ok := t.byID[id]
	return n, ok
}

// FindChildByName looks up a child of parent by casefolded name.
func (t *Tree) FindChildByName(parent *Node, name string) (*Node, bool) {
	folded := FoldName(name)
	for c := parent.Child; c != nil; c = c.Next {
		if FoldName(c.Name) == folded {
			return c, true
		}
	}
	return nil, false
}

// Insert creates a new node under parent with the given pre-allocated
// id (obtained from NextID), type and name, prepending it to parent's
// child list. Order within a subdirectory is not semantic.
func (t *Tree) Insert(parent *Node, id int64, kind Kind, typeTag, name string) (*Node, error) {
	if parent == nil || !parent.IsSubdirectory() {
		return nil, direrr.NewNotASubdirectory(Path(parent))
	}
	if !ValidateName(name) {
		return nil, direrr.NewInvalidName(name)
	}
	if _, exists := t.FindChildByName(parent, name); exists {
		return nil, direrr.NewNodeExists(name)
	}
	if _, exists := t.byID[id]; exists {
		return nil, direrr.NewNodeExists(name)
	}

	n := &Node{
		ID:      id,
		Parent:  parent,
		Name:    name,
		TypeTag: typeTag,
		Kind:    kind,
	}
	switch kind {
	case KindSubdirectory:
		n.SubscribedConnections = make(map[string]bool)
	case KindNoteKnown:
		n.Plugin = typeTag
	}

	n.Next = parent.Child
	if parent.Child != nil {
		parent.Child.Prev = n
	}
	parent.Child = n

	t.byID[id] = n
	if id >= t.nextID {
		t.nextID = id + 1
	}
	return n, nil
}

// Unlink removes n from its parent's sibling chain without freeing its
// subtree or removing it from the id hash. Used internally by
// FreeSubtree and by callers that re-parent a node.
func (t *Tree) Unlink(n *Node) {
	if n.Prev != nil {
		n.Prev.Next = n.Next
	} else if n.Parent != nil && n.Parent.Child == n {
		n.Parent.Child = n.Next
	}
	if n.Next != nil {
		n.Next.Prev = n.Prev
	}
	n.Prev = nil
	n.Next = nil
}

// FreeSubtree unlinks n from its parent, invokes the detach hook on
// every note in the subtree (so the session manager can drop
// sessions), then recursively removes every descendant from the id
// hash.
func (t *Tree) FreeSubtree(n *Node) {
	if n == t.root {
		return
	}
	t.Unlink(n)
	t.freeRecursive(n)
}

func (t *Tree) freeRecursive(n *Node) {
	if n.IsNote() && t.onFree != nil {
		t.onFree(n)
	}
	for c := n.Child; c != nil; {
		next := c.Next
		t.freeRecursive(c)
		c = next
	}
	delete(t.byID, n.ID)
}

// Ancestors returns the chain from n up to (and including) the root.
func Ancestors(n *Node) []*Node {
	var chain []*Node
	for cur := n; cur != nil; cur = cur.Parent {
		chain = append(chain, cur)
	}
	return chain
}

// IsAncestor reports whether candidate is an ancestor of n (or equal
// to it), used to guard against cycles.
func IsAncestor(candidate, n *Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == candidate {
			return true
		}
	}
	return false
}
