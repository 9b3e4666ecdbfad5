// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"github.com/gobby/infinoted/acl"
	"github.com/gobby/infinoted/direrr"
	"github.com/gobby/infinoted/gobbyd"
	"github.com/gobby/infinoted/proto"
	"github.com/gobby/infinoted/subscribe"
	"github.com/gobby/infinoted/syncin"
	"github.com/gobby/infinoted/tree"
)

func (s *Server) handleSubscribeSession(ctx *gobbyd.Context, c *Conn, env proto.Envelope) error {
	var req proto.SubscribeSession
	if err := env.Unmarshal(&req); err != nil {
		return direrr.NewUnexpectedMessage(proto.ElemSubscribeSession)
	}
	n, err := s.nodeFor(req.ID)
	if err != nil {
		return err
	}
	if !n.IsNote() {
		return direrr.NewNotANote(tree.Path(n))
	}
	if err := s.checkPerm(n, ctx.AccountID, acl.CanSubscribeSession); err != nil {
		return err
	}

	var groupID string
	if p, ok := s.Sessions.Get(n.ID); ok {
		groupID = p.GroupID()
	} else {
		pl, ok := s.Plugins.Get(n.Plugin)
		if !ok {
			return direrr.NewTypeUnknown(n.Plugin)
		}
		groupID = subscribe.NewGroupID(n.ID)
		if _, err := s.Sessions.Load(n.ID, groupID, pl, backendLoader{s: s}); err != nil {
			return err
		}
	}
	if _, ok := s.Groups.Get(groupID); !ok {
		s.Groups.Reserve(groupID)
	}

	parentID := int64(-1)
	if n.Parent != nil {
		parentID = n.Parent.ID
	}
	s.Subreqs.Add(&subscribe.Subreq{
		Kind:     subscribe.KindSession,
		ConnID:   c.ID,
		GroupID:  groupID,
		NodeID:   n.ID,
		SeqEcho:  env.Seq,
		ParentID: parentID,
	})

	env2, err := proto.Marshal(proto.ElemSubscribeSession, env.Seq, proto.SubscribeSession{
		ID: n.ID, Group: groupID, Method: string(subscribe.MethodCentral),
	})
	if err != nil {
		return err
	}
	return c.Send(env2)
}

func (s *Server) handleSubscribeChat(ctx *gobbyd.Context, c *Conn, env proto.Envelope) error {
	if !s.chatEnabled {
		return direrr.NewChatDisabled()
	}
	if err := s.checkPerm(s.Tr.Root(), ctx.AccountID, acl.CanSubscribeChat); err != nil {
		return err
	}
	groupID := subscribe.NewGroupID(0)
	s.Groups.Reserve(groupID)
	s.Subreqs.Add(&subscribe.Subreq{
		Kind:     subscribe.KindChat,
		ConnID:   c.ID,
		GroupID:  groupID,
		NodeID:   0,
		SeqEcho:  env.Seq,
		ParentID: -1,
	})
	env2, err := proto.Marshal(proto.ElemSubscribeChat, env.Seq, proto.SubscribeChat{
		Group: groupID, Method: string(subscribe.MethodCentral),
	})
	if err != nil {
		return err
	}
	return c.Send(env2)
}

// beginAddNodeSubreq handles the add-node-with-subscribe branch of
// add-node: the new node id and a subscription group are reserved but
// the node is not yet registered into the tree.
func (s *Server) beginAddNodeSubreq(ctx *gobbyd.Context, c *Conn, env proto.Envelope, req proto.AddNode, parent *tree.Node) error {
	if err := s.checkPerm(parent, ctx.AccountID, acl.CanAddDocument); err != nil {
		return err
	}
	if _, ok := s.Plugins.Get(req.Type); !ok {
		return direrr.NewTypeUnknown(req.Type)
	}

	id := s.Tr.NextID()
	groupID := subscribe.NewGroupID(id)
	s.Groups.Reserve(groupID)

	s.Subreqs.Add(&subscribe.Subreq{
		Kind:     subscribe.KindAddNode,
		ConnID:   c.ID,
		GroupID:  groupID,
		NodeID:   id,
		SeqEcho:  env.Seq,
		ParentID: parent.ID,
		AddNode: &subscribe.AddNodeData{
			ParentID: parent.ID,
			TypeTag:  req.Type,
			Name:     req.Name,
			PluginID: req.Type,
		},
	})

	env2, err := proto.Marshal(proto.ElemAddNode, env.Seq, proto.AddNode{
		ID: id, Parent: parent.ID, Type: req.Type, Name: req.Name,
		Subscribe: &proto.Subscribe{Group: groupID, Method: string(subscribe.MethodCentral)},
	})
	if err != nil {
		return err
	}
	return c.Send(env2)
}

func (s *Server) handleSyncIn(ctx *gobbyd.Context, c *Conn, env proto.Envelope) error {
	var req proto.SyncIn
	if err := env.Unmarshal(&req); err != nil {
		return direrr.NewUnexpectedMessage(proto.ElemSyncIn)
	}
	parent, err := s.nodeFor(req.Parent)
	if err != nil {
		return err
	}
	if !parent.IsSubdirectory() {
		return direrr.NewNotASubdirectory(tree.Path(parent))
	}
	required := acl.CanAddDocument | acl.CanSyncIn
	subscribeAlso := req.Subscribe
	if subscribeAlso {
		required |= acl.CanSubscribeSession
	}
	if len(req.Acl) > 0 {
		required |= acl.CanSetAcl
	}
	if err := s.checkPerm(parent, ctx.AccountID, required); err != nil {
		return err
	}
	pl, ok := s.Plugins.Get(req.Type)
	if !ok {
		return direrr.NewTypeUnknown(req.Type)
	}

	id := s.Tr.NextID()
	groupID := subscribe.NewGroupID(id)
	s.Groups.Reserve(groupID)
	proxy := newPreSyncProxy(s, id, groupID, pl)

	kind := subscribe.KindSyncIn
	if subscribeAlso {
		kind = subscribe.KindSyncInSubscribe
	}
	s.Subreqs.Add(&subscribe.Subreq{
		Kind: kind, ConnID: c.ID, GroupID: groupID, NodeID: id, SeqEcho: env.Seq, ParentID: parent.ID,
		AddNode: &subscribe.AddNodeData{ParentID: parent.ID, TypeTag: req.Type, Name: req.Name, PluginID: req.Type},
	})
	s.SyncIns.Add(syncin.New(id, parent.ID, req.Name, req.Type, wireToSheets(req.Acl), proxy, c.ID, groupID, env.Seq, subscribeAlso))

	env2, err := proto.Marshal(proto.ElemSyncIn, env.Seq, proto.SyncIn{
		ID: id, Parent: parent.ID, Type: req.Type, Name: req.Name, Group: groupID, Method: string(subscribe.MethodCentral),
	})
	if err != nil {
		return err
	}
	return c.Send(env2)
}

func (s *Server) handleSubscribeAck(ctx *gobbyd.Context, c *Conn, env proto.Envelope) error {
	var req proto.SubscribeAck
	if err := env.Unmarshal(&req); err != nil {
		return direrr.NewUnexpectedMessage(proto.ElemSubscribeAck)
	}
	nodeID := int64(0)
	if req.ID != nil {
		nodeID = *req.ID
	}
	sr, ok := s.findSubreq(c.ID, nodeID)
	if !ok {
		return direrr.NewNoSuchSubscriptionRequest()
	}
	s.Subreqs.Remove(sr.ID)

	switch sr.Kind {
	case subscribe.KindChat:
		if g, ok := s.Groups.Get(sr.GroupID); ok {
			g.Join(c.ID)
		}
		return nil
	case subscribe.KindSession:
		return s.commitSessionAck(c, sr)
	case subscribe.KindAddNode:
		return s.commitAddNodeAck(c, sr)
	case subscribe.KindSyncIn, subscribe.KindSyncInSubscribe:
		return s.commitSyncInAck(c, sr)
	}
	return nil
}

func (s *Server) commitSessionAck(c *Conn, sr *subscribe.Subreq) error {
	if sr.ParentCleared() {
		if p, ok := s.Sessions.Get(sr.NodeID); ok {
			if p.Leave(c.ID) {
				s.Sessions.NoteIdle(sr.NodeID)
			}
		}
		s.failSeq(c, sr.SeqEcho, direrr.NewNoSuchNode(""))
		return nil
	}
	n, ok := s.Tr.FindByID(sr.NodeID)
	if !ok {
		s.failSeq(c, sr.SeqEcho, direrr.NewNoSuchNode(""))
		return nil
	}
	p, ok := s.Sessions.Get(sr.NodeID)
	if !ok {
		s.failSeq(c, sr.SeqEcho, direrr.NewNoSuchNode(""))
		return nil
	}
	n.SetSession(p, false)
	p.Join(c.ID)
	s.Sessions.NoteActive(sr.NodeID)
	if g, ok := s.Groups.Get(sr.GroupID); ok {
		g.Join(c.ID)
	}
	return nil
}

func (s *Server) commitAddNodeAck(c *Conn, sr *subscribe.Subreq) error {
	if sr.ParentCleared() {
		s.sendRemoveNode(c, sr.NodeID)
		return nil
	}
	parent, ok := s.Tr.FindByID(sr.ParentID)
	if !ok {
		s.sendRemoveNode(c, sr.NodeID)
		return nil
	}
	ad := sr.AddNode
	n, err := s.Tr.Insert(parent, sr.NodeID, tree.KindNoteKnown, ad.TypeTag, ad.Name)
	if err != nil {
		s.failSeq(c, sr.SeqEcho, err)
		return nil
	}
	// Note content is written to storage on save-session/idle-eviction,
	// not at creation time: unlike a subdirectory there is nothing to
	// persist yet.
	pl, _ := s.Plugins.Get(ad.TypeTag)
	proxy := newPreSyncProxy(s, n.ID, sr.GroupID, pl)
	s.Sessions.Install(n.ID, proxy)
	n.SetSession(proxy, false)
	proxy.Join(c.ID)
	if g, ok := s.Groups.Get(sr.GroupID); ok {
		g.Join(c.ID)
	}
	s.announceAddNode(parent, n, sr.SeqEcho)
	return nil
}

func (s *Server) commitSyncInAck(c *Conn, sr *subscribe.Subreq) error {
	si, ok := s.SyncIns.Get(sr.NodeID)
	if !ok {
		return nil
	}
	if err := si.BeginTransfer(); err != nil {
		s.failSeq(c, sr.SeqEcho, err)
		si.Discard()
		s.SyncIns.Remove(sr.NodeID)
		return nil
	}
	if si.Subscribe {
		if g, ok := s.Groups.Get(sr.GroupID); ok {
			g.Join(c.ID)
		}
		si.Proxy.Join(c.ID)
	}
	return nil
}

func (s *Server) handleSubscribeNack(ctx *gobbyd.Context, c *Conn, env proto.Envelope) error {
	var req proto.SubscribeNack
	if err := env.Unmarshal(&req); err != nil {
		return direrr.NewUnexpectedMessage(proto.ElemSubscribeNack)
	}
	nodeID := int64(0)
	if req.ID != nil {
		nodeID = *req.ID
	}
	sr, ok := s.findSubreq(c.ID, nodeID)
	if !ok {
		return direrr.NewNoSuchSubscriptionRequest()
	}
	s.teardownSubreq(sr, direrr.NewSubscriptionRejected())
	return nil
}

func (s *Server) findSubreq(connID string, nodeID int64) (*subscribe.Subreq, bool) {
	for _, sr := range s.Subreqs.ForConn(connID) {
		if sr.NodeID == nodeID {
			return sr, true
		}
	}
	return nil, false
}

// teardownSubreq tears down every resource req reserved: releases the
// group unless another subreq still references it, discards a
// pre-built proxy (sync_in) and fails the originating request.
func (s *Server) teardownSubreq(req *subscribe.Subreq, cause error) {
	s.Subreqs.Remove(req.ID)

	stillReferenced := false
	for _, other := range s.Subreqs.ForGroup(req.GroupID) {
		if other.ID != req.ID {
			stillReferenced = true
			break
		}
	}

	switch req.Kind {
	case subscribe.KindAddNode:
		// reserved id never committed; nothing to unwind in the tree.
	case subscribe.KindSyncIn, subscribe.KindSyncInSubscribe:
		if si, ok := s.SyncIns.Get(req.NodeID); ok {
			si.Discard()
			s.SyncIns.Remove(req.NodeID)
		}
	case subscribe.KindSession:
		if p, ok := s.Sessions.Get(req.NodeID); ok {
			if p.Leave(req.ConnID) {
				s.Sessions.NoteIdle(req.NodeID)
				if n, ok := s.Tr.FindByID(req.NodeID); ok {
					n.SetSession(p, true)
				}
			}
		}
	}
	if !stillReferenced {
		s.Groups.Release(req.GroupID)
	}
	if cause != nil {
		if c, ok := s.conns[req.ConnID]; ok {
			s.failSeq(c, req.SeqEcho, cause)
		}
	}
}

func (s *Server) sendRemoveNode(c *Conn, nodeID int64) {
	env, err := proto.Marshal(proto.ElemRemoveNode, 0, proto.RemoveNode{ID: nodeID})
	if err != nil {
		return
	}
	_ = c.Send(env)
}

func (s *Server) failSeq(c *Conn, seq int64, err error) {
	s.fail(c, seq, err)
}
