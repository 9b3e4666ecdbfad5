// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"github.com/gobby/infinoted/acl"
	"github.com/gobby/infinoted/direrr"
	"github.com/gobby/infinoted/gobbyd"
	"github.com/gobby/infinoted/proto"
	"github.com/gobby/infinoted/storage"
	"github.com/gobby/infinoted/tree"
)

func (s *Server) nodeFor(id int64) (*tree.Node, error) {
	n, ok := s.Tr.FindByID(id)
	if !ok {
		return nil, direrr.NewNoSuchNode("")
	}
	return n, nil
}

func (s *Server) checkPerm(n *tree.Node, accountID string, perm acl.Mask) error {
	if !s.Acl.Check(n, accountID, perm) {
		return direrr.NewNotAuthorized(acl.NameOf(perm))
	}
	return nil
}

func (s *Server) handleExploreNode(ctx *gobbyd.Context, c *Conn, env proto.Envelope) error {
	var req proto.ExploreNode
	if err := env.Unmarshal(&req); err != nil {
		return direrr.NewUnexpectedMessage(proto.ElemExploreNode)
	}
	n, err := s.nodeFor(req.ID)
	if err != nil {
		return err
	}
	if !n.IsSubdirectory() {
		return direrr.NewNotASubdirectory(tree.Path(n))
	}
	if err := s.checkPerm(n, ctx.AccountID, acl.CanExploreNode); err != nil {
		return err
	}
	// Explored gates whether the backend has been read into the tree
	// at all; SubscribedConnections tracks which connections have
	// individually been told. A second connection exploring an
	// already-populated subdirectory gets the cached children instead
	// of a fresh backend read; only a connection that asked twice is
	// refused.
	if n.SubscribedConnections[c.ID] {
		return direrr.NewAlreadyExplored(tree.Path(n))
	}

	if !n.Explored {
		if s.Backend != nil {
			entries, err := s.Backend.ReadSubdirectory(tree.Path(n))
			if err != nil {
				return err
			}
			for _, e := range entries {
				kind := tree.KindNoteKnown
				typeTag := e.PluginID
				if e.Kind == storage.ChildSubdirectory {
					kind = tree.KindSubdirectory
					typeTag = tree.SubdirTypeTag
				}
				if _, err := s.Tr.Insert(n, s.Tr.NextID(), kind, typeTag, e.Name); err != nil {
					ctx.Elog.Printf("server: explore %s: skip child %q: %v", tree.Path(n), e.Name, err)
				}
			}
		}
		n.Explored = true
	}
	n.SubscribedConnections[c.ID] = true

	var children []*tree.Node
	for ch := n.Child; ch != nil; ch = ch.Next {
		children = append(children, ch)
	}

	begin, _ := proto.Marshal(proto.ElemExploreBegin, env.Seq, proto.ExploreBegin{Total: len(children)})
	if err := c.Send(begin); err != nil {
		return nil
	}
	for _, ch := range children {
		wire := addNodeWire(ch)
		m, _ := proto.Marshal(proto.ElemAddNode, env.Seq, wire)
		if err := c.Send(m); err != nil {
			return nil
		}
	}
	end, _ := proto.Marshal(proto.ElemExploreEnd, env.Seq, proto.ExploreEnd{})
	return c.Send(end)
}

func addNodeWire(n *tree.Node) proto.AddNode {
	typeTag := n.TypeTag
	if n.IsSubdirectory() {
		typeTag = proto.TypeSubdirectory
	}
	parentID := int64(0)
	if n.Parent != nil {
		parentID = n.Parent.ID
	}
	return proto.AddNode{ID: n.ID, Parent: parentID, Type: typeTag, Name: n.Name}
}

// handleAddNode implements the direct (no subscribe/sync-in) branch
// of add-node, always valid for subdirectories. Note content can only
// be seeded through a subscribe or sync-in handshake, so a bare
// add-node on a note type is rejected.
func (s *Server) handleAddNode(ctx *gobbyd.Context, c *Conn, env proto.Envelope) error {
	var req proto.AddNode
	if err := env.Unmarshal(&req); err != nil {
		return direrr.NewUnexpectedMessage(proto.ElemAddNode)
	}
	parent, err := s.nodeFor(req.Parent)
	if err != nil {
		return err
	}
	if !parent.IsSubdirectory() {
		return direrr.NewNotASubdirectory(tree.Path(parent))
	}

	isSubdir := req.Type == proto.TypeSubdirectory
	if !isSubdir {
		if req.Subscribe != nil {
			return s.beginAddNodeSubreq(ctx, c, env, req, parent)
		}
		return direrr.NewUnexpectedMessage("add-node for a note requires subscribe or sync-in")
	}

	if err := s.checkPerm(parent, ctx.AccountID, acl.CanAddSubdirectory); err != nil {
		return err
	}
	id := s.Tr.NextID()
	n, err := s.Tr.Insert(parent, id, tree.KindSubdirectory, tree.SubdirTypeTag, req.Name)
	if err != nil {
		return err
	}
	if len(req.Acl) > 0 {
		clean, _ := s.Acl.Verify(wireToSheets(req.Acl))
		s.Acl.ApplyChange(n, clean)
	}
	if s.Backend != nil {
		if err := s.Backend.CreateSubdirectory(tree.Path(n)); err != nil {
			s.Tr.FreeSubtree(n)
			return err
		}
	}
	s.announceAddNode(parent, n, env.Seq)
	return replyAddNode(c, env.Seq, n)
}

func replyAddNode(c *Conn, seq int64, n *tree.Node) error {
	env, err := proto.Marshal(proto.ElemAddNode, seq, addNodeWire(n))
	if err != nil {
		return err
	}
	return c.Send(env)
}

// announceAddNode tells every connection that has parent explored
// about the new child.
func (s *Server) announceAddNode(parent, n *tree.Node, seq int64) {
	wire := addNodeWire(n)
	for connID := range parent.SubscribedConnections {
		conn, ok := s.conns[connID]
		if !ok {
			continue
		}
		env, err := proto.Marshal(proto.ElemAddNode, 0, wire)
		if err != nil {
			continue
		}
		if err := conn.Send(env); err != nil {
			s.Elog.Printf("server: announce add-node to %s: %v", connID, err)
		}
	}
}

func (s *Server) handleRemoveNode(ctx *gobbyd.Context, c *Conn, env proto.Envelope) error {
	var req proto.RemoveNode
	if err := env.Unmarshal(&req); err != nil {
		return direrr.NewUnexpectedMessage(proto.ElemRemoveNode)
	}
	n, err := s.nodeFor(req.ID)
	if err != nil {
		return err
	}
	if n == s.Tr.Root() {
		return direrr.NewRootNodeRemoveAttempt()
	}
	if err := s.checkPerm(n, ctx.AccountID, acl.CanRemoveNode); err != nil {
		return err
	}
	parent := n.Parent

	s.forEachNode(n, func(d *tree.Node) {
		s.clearParentPointers(d)
		s.Acl.RemoveNode(d)
	})
	if s.Backend != nil {
		if err := s.Backend.RemoveNode(n.Plugin, tree.Path(n)); err != nil {
			return err
		}
	}
	s.Tr.FreeSubtree(n)

	s.announceRemoveNode(parent, n.ID)
	reply, _ := proto.Marshal(proto.ElemRemoveNode, env.Seq, proto.RemoveNode{ID: n.ID})
	return c.Send(reply)
}

// clearParentPointers clears the parent pointer of every subreq and
// sync-in parented directly under n, so a later ack/nack completes
// into a clean failure instead of dereferencing a freed node.
func (s *Server) clearParentPointers(n *tree.Node) {
	for _, req := range s.Subreqs.ForParent(n.ID) {
		req.ParentID = -1
	}
	for _, si := range s.SyncIns.ForParent(n.ID) {
		si.ClearParent()
	}
}

func (s *Server) announceRemoveNode(parent *tree.Node, nodeID int64) {
	if parent == nil {
		return
	}
	for connID := range parent.SubscribedConnections {
		conn, ok := s.conns[connID]
		if !ok {
			continue
		}
		env, err := proto.Marshal(proto.ElemRemoveNode, 0, proto.RemoveNode{ID: nodeID})
		if err != nil {
			continue
		}
		if err := conn.Send(env); err != nil {
			s.Elog.Printf("server: announce remove-node to %s: %v", connID, err)
		}
	}
}

// onNoteDetached is tree.Tree's DetachHook: it asks the session
// manager to drop any resident proxy before the node leaves the id
// hash.
func (s *Server) onNoteDetached(n *tree.Node) {
	if !n.IsNote() {
		return
	}
	s.Sessions.Evict(n.ID)
	n.SetSession(nil, false)
}
