// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package tree implements the in-memory directory tree: a rooted tree
// of subdirectory and note nodes keyed by a process-unique id, with
// doubly-linked sibling lists and a hash index for O(1) lookup by id.
//
// Tree is not internally goroutine-safe. A single event loop drives
// every directory mutation, so no locking is done here; safety comes
// from the server package only ever calling into Tree from that loop.
package tree

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// Kind distinguishes the three node variants.
type Kind int

const (
	KindSubdirectory Kind = iota
	KindNoteKnown
	KindNoteUnknown
)

// RootID is reserved for "no node / root parent".
const RootID int64 = 0

// SubdirTypeTag is the internal sentinel type tag for subdirectory
// nodes. The wire schema spells subdirectories proto.TypeSubdirectory;
// the server translates at its edge.
const SubdirTypeTag = "subdirectory"

// SessionHandle is the minimal view Tree needs of a resident session.
// session.Proxy satisfies this structurally; Tree never imports the
// session package, keeping the dependency one-directional (the session
// holds a node id, not a pointer, so there is no reference cycle).
type SessionHandle interface {
	NodeID() int64
}

// Node is a single entry in the directory tree. Fields not relevant to
// a node's Kind are left zero.
type Node struct {
	ID     int64
	Parent *Node
	Prev   *Node
	Next   *Node
	Name   string

	// TypeTag is "subdirectory", a plugin identifier, or (for
	// KindNoteUnknown) the original tag preserved verbatim.
	TypeTag string
	Kind    Kind

	// Subdirectory fields.
	Explored              bool
	Child                 *Node
	SubscribedConnections map[string]bool

	// Note fields.
	Plugin          string
	session         SessionHandle
	sessionWeak     bool
	SaveTimerActive bool
}

// IsSubdirectory reports whether n is a subdirectory node.
func (n *Node) IsSubdirectory() bool { return n.Kind == KindSubdirectory }

// IsNote reports whether n is a note node (known or unknown plugin).
func (n *Node) IsNote() bool { return n.Kind == KindNoteKnown || n.Kind == KindNoteUnknown }

// Session returns the resident session handle, if any, and whether it
// is only weakly held.
func (n *Node) Session() (SessionHandle, bool) {
	return n.session, n.sessionWeak
}

// SetSession installs (or clears, with h == nil) the node's session
// handle. weak indicates a non-owning back-reference.
func (n *Node) SetSession(h SessionHandle, weak bool) {
	n.session = h
	n.sessionWeak = weak
}

// IsCold reports whether the note currently has no resident session.
func (n *Node) IsCold() bool { return n.session == nil }

var caseFold = cases.Fold()

// FoldName returns the Unicode-casefolded form of name. Sibling names
// are unique case-insensitively under Unicode casefolding, so every
// name comparison in the tree goes through this.
func FoldName(name string) string {
	return caseFold.String(name)
}

// ValidateName checks the structural rules on node names: non-empty
// after trim, no '/', all codepoints printable.
func ValidateName(name string) bool {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return false
	}
	if strings.ContainsRune(name, '/') {
		return false
	}
	for _, r := range name {
		if !isPrintable(r) {
			return false
		}
	}
	return true
}

func isPrintable(r rune) bool {
	// Letters, marks, numbers, punctuation, symbols and spaces are
	// printable; control, format, private-use and unassigned
	// codepoints are not.
	return unicode.IsGraphic(r)
}

// Path renders the slash-separated path from the root to n, e.g.
// "/a/b/c". The root itself renders as "/".
func Path(n *Node) string {
	if n == nil {
		return "/"
	}
	var parts []string
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Parent == nil {
			break
		}
		parts = append([]string{cur.Name}, parts...)
	}
	return "/" + strings.Join(parts, "/")
}
