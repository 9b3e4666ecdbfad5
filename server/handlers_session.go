// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"github.com/gobby/infinoted/acl"
	"github.com/gobby/infinoted/direrr"
	"github.com/gobby/infinoted/gobbyd"
	"github.com/gobby/infinoted/proto"
	"github.com/gobby/infinoted/syncin"
	"github.com/gobby/infinoted/tree"
)

// handleSaveSession flushes a note's content to storage through the
// resident proxy, which serializes the write against any concurrent
// Apply. Every request is handled to completion before the next is
// read off the event queue, so two save-session requests for the same
// node never actually race here; save-session-in-progress exists on
// the wire for a concurrent save path this server does not take.
func (s *Server) handleSaveSession(ctx *gobbyd.Context, c *Conn, env proto.Envelope) error {
	var req proto.SaveSession
	if err := env.Unmarshal(&req); err != nil {
		return direrr.NewUnexpectedMessage(proto.ElemSaveSession)
	}
	n, err := s.nodeFor(req.ID)
	if err != nil {
		return err
	}
	if !n.IsNote() {
		return direrr.NewNotANote(tree.Path(n))
	}
	p, ok := s.Sessions.Get(n.ID)
	if !ok {
		return direrr.NewNotInitiated()
	}
	if s.Backend == nil {
		return direrr.NewNoStorage()
	}
	pl, ok := s.Plugins.Get(n.Plugin)
	if !ok {
		return direrr.NewTypeUnknown(n.Plugin)
	}
	w, err := s.Backend.SessionWriter(tree.Path(n))
	if err != nil {
		return err
	}
	if err := p.Flush(w, pl); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	reply, err := proto.Marshal(proto.ElemSavedSession, env.Seq, proto.SavedSession{ID: n.ID})
	if err != nil {
		return err
	}
	return c.Send(reply)
}

// handleApplyOperation routes a single edit either into an in-flight
// sync-in transfer or, for an already-resident note, into its session
// and on to every other member of its subscription group. The two
// wire sentinels "sync-complete"/"sync-failed" close out a sync-in;
// the schema has no dedicated element for that.
func (s *Server) handleApplyOperation(ctx *gobbyd.Context, c *Conn, env proto.Envelope) error {
	var req proto.ApplyOperation
	if err := env.Unmarshal(&req); err != nil {
		return direrr.NewUnexpectedMessage(proto.ElemApplyOperation)
	}

	if si, ok := s.SyncIns.Get(req.NodeID); ok && si.State() != syncin.StateInstalled && si.State() != syncin.StateDiscarded {
		return s.applySyncInOperation(c, env, req, si)
	}
	return s.applySessionOperation(ctx, c, env, req)
}

func (s *Server) applySessionOperation(ctx *gobbyd.Context, c *Conn, env proto.Envelope, req proto.ApplyOperation) error {
	n, err := s.nodeFor(req.NodeID)
	if err != nil {
		return err
	}
	if !n.IsNote() {
		return direrr.NewNotANote(tree.Path(n))
	}
	if err := s.checkPerm(n, ctx.AccountID, acl.CanSubscribeSession); err != nil {
		return err
	}
	p, ok := s.Sessions.Get(n.ID)
	if !ok {
		return direrr.NewNotInitiated()
	}
	pl, ok := s.Plugins.Get(n.Plugin)
	if !ok {
		return direrr.NewTypeUnknown(n.Plugin)
	}
	op, err := pl.DecodeOperation(req.OpKind, req.Position, req.Chunk, req.ConcurrencyID)
	if err != nil {
		return err
	}
	if err := p.Apply(op, req.Author); err != nil {
		return err
	}
	s.broadcastOperation(p.GroupID(), c.ID, req)
	return nil
}

// broadcastOperation fans req out to every member of groupID except
// the originating connection.
func (s *Server) broadcastOperation(groupID, fromConnID string, req proto.ApplyOperation) {
	g, ok := s.Groups.Get(groupID)
	if !ok {
		return
	}
	for _, connID := range g.Members() {
		if connID == fromConnID {
			continue
		}
		conn, ok := s.conns[connID]
		if !ok {
			continue
		}
		env, err := proto.Marshal(proto.ElemApplyOperation, 0, req)
		if err != nil {
			continue
		}
		if err := conn.Send(env); err != nil {
			s.Elog.Printf("server: broadcast apply-operation to %s: %v", connID, err)
		}
	}
}

func (s *Server) applySyncInOperation(c *Conn, env proto.Envelope, req proto.ApplyOperation, si *syncin.SyncIn) error {
	if si.ConnID != c.ID {
		return direrr.NewUnexpectedMessage(proto.ElemApplyOperation)
	}
	switch req.OpKind {
	case "sync-complete":
		return s.completeSyncIn(env, si)
	case "sync-failed":
		s.teardownSyncIn(si, direrr.NewUnexpectedSyncIn())
		return nil
	default:
		if si.State() != syncin.StateSynchronizing {
			return direrr.NewUnexpectedSyncIn()
		}
		pl, ok := s.Plugins.Get(si.PluginID)
		if !ok {
			return direrr.NewTypeUnknown(si.PluginID)
		}
		op, err := pl.DecodeOperation(req.OpKind, req.Position, req.Chunk, req.ConcurrencyID)
		if err != nil {
			return err
		}
		return si.Proxy.Apply(op, req.Author)
	}
}

// completeSyncIn installs a synchronized-from-client node into the
// tree and storage, announces it, and finishes the originating
// request.
func (s *Server) completeSyncIn(env proto.Envelope, si *syncin.SyncIn) error {
	if err := si.Complete(); err != nil {
		return err
	}
	parent, ok := s.Tr.FindByID(si.ParentID)
	if !ok {
		si.Proxy.Close()
		s.SyncIns.Remove(si.NodeID)
		if c, ok := s.conns[si.ConnID]; ok {
			s.sendRemoveNode(c, si.NodeID)
		}
		return nil
	}

	// Re-check can_add_document at commit time, not just at the start
	// of the handshake: an ACL change mid-transfer must still block
	// the commit even though the bytes already synced at the network
	// layer.
	if conn, ok := s.conns[si.ConnID]; ok {
		if err := s.checkPerm(parent, conn.AccountID, acl.CanAddDocument); err != nil {
			si.Proxy.Close()
			s.SyncIns.Remove(si.NodeID)
			s.Groups.Release(si.GroupID)
			s.sendRemoveNode(conn, si.NodeID)
			s.failSeq(conn, si.Seq, err)
			return nil
		}
	}
	n, err := s.Tr.Insert(parent, si.NodeID, tree.KindNoteKnown, si.PluginID, si.Name)
	if err != nil {
		si.Proxy.Close()
		s.SyncIns.Remove(si.NodeID)
		return err
	}
	if len(si.Acl) > 0 {
		clean, _ := s.Acl.Verify(si.Acl)
		s.Acl.ApplyChange(n, clean)
	}
	if s.Backend != nil {
		if pl, ok := s.Plugins.Get(si.PluginID); ok {
			if w, err := s.Backend.SessionWriter(tree.Path(n)); err == nil {
				if ferr := si.Proxy.Flush(w, pl); ferr != nil {
					s.Elog.Printf("server: sync-in initial save for %s: %v", tree.Path(n), ferr)
				}
				w.Close()
			}
		}
	}
	s.Sessions.Install(n.ID, si.Proxy)
	n.SetSession(si.Proxy, false)
	if si.Subscribe {
		if g, ok := s.Groups.Get(si.GroupID); ok {
			g.Join(si.ConnID)
		}
		si.Proxy.Join(si.ConnID)
	} else {
		s.Groups.Release(si.GroupID)
	}
	s.SyncIns.Remove(si.NodeID)
	s.announceAddNode(parent, n, env.Seq)

	if c, ok := s.conns[si.ConnID]; ok {
		reply, err := proto.Marshal(proto.ElemApplyOperation, env.Seq, proto.ApplyOperation{NodeID: n.ID, OpKind: "sync-complete"})
		if err != nil {
			return err
		}
		return c.Send(reply)
	}
	return nil
}

// teardownSyncIn discards an in-flight sync-in and fails its
// originating request.
func (s *Server) teardownSyncIn(si *syncin.SyncIn, cause error) {
	si.Discard()
	s.SyncIns.Remove(si.NodeID)
	s.Groups.Release(si.GroupID)
	if c, ok := s.conns[si.ConnID]; ok {
		s.failSeq(c, si.Seq, cause)
	}
}
