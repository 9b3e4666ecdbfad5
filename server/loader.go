// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"io"

	"github.com/gobby/infinoted/plugin"
	"github.com/gobby/infinoted/session"
	"github.com/gobby/infinoted/tree"
)

// newPreSyncProxy creates a fresh, empty session for nodeID and wraps
// it in a resident Proxy without touching storage; sync-in and
// add_node handshakes start from this before any content exists.
func newPreSyncProxy(s *Server, nodeID int64, groupID string, pl plugin.Plugin) *session.Proxy {
	return session.NewProxy(nodeID, groupID, pl.CreateEmpty(), s.Dlog)
}

// backendLoader adapts storage.Backend's path-addressed session I/O
// to session.Manager's node-id-addressed Loader interface, resolving
// a node's path through the tree on every call.
type backendLoader struct {
	s *Server
}

func (l backendLoader) Open(nodeID int64) (io.ReadCloser, error) {
	n, ok := l.s.Tr.FindByID(nodeID)
	if !ok {
		return nil, errNoSuchNodeForLoad(nodeID)
	}
	return l.s.Backend.SessionReader(tree.Path(n))
}

func (l backendLoader) Create(nodeID int64) (io.WriteCloser, error) {
	n, ok := l.s.Tr.FindByID(nodeID)
	if !ok {
		return nil, errNoSuchNodeForLoad(nodeID)
	}
	return l.s.Backend.SessionWriter(tree.Path(n))
}

func errNoSuchNodeForLoad(nodeID int64) error {
	return &nodeLoadError{nodeID: nodeID}
}

type nodeLoadError struct{ nodeID int64 }

func (e *nodeLoadError) Error() string {
	return "session: no such node for load/save"
}
