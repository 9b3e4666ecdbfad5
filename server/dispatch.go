// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"github.com/gobby/infinoted/account"
	"github.com/gobby/infinoted/acl"
	"github.com/gobby/infinoted/direrr"
	"github.com/gobby/infinoted/gobbyd"
	"github.com/gobby/infinoted/plugin"
	"github.com/gobby/infinoted/proto"
	"github.com/gobby/infinoted/tree"
)

// context assembles the per-request gobbyd.Context every handler
// receives: the connection's identity plus the daemon's loggers and
// static config.
func (s *Server) context(c *Conn) *gobbyd.Context {
	return &gobbyd.Context{
		AccountID: c.AccountID,
		ConnID:    c.ID,
		Config:    s.daemon,
		Dlog:      s.Dlog,
		Elog:      s.Elog,
		Wlog:      s.Wlog,
	}
}

func (s *Server) handleEvent(ev event) {
	switch ev.kind {
	case evConnect:
		s.handleConnect(ev.conn)
	case evDisconnect:
		s.handleDisconnect(ev.conn)
	case evMessage:
		s.handleMessage(ev.conn, ev.env)
	}
}

func (s *Server) handleConnect(c *Conn) {
	s.conns[c.ID] = c
	c.AccountID = account.DefaultAccountID

	rootSheets := s.Acl.SheetsForConnection(s.Tr.Root(), c.ID, c.AccountID)
	env, err := proto.Marshal(proto.ElemWelcome, 0, proto.Welcome{
		ProtocolVersion: ProtocolVersion,
		SequenceID:      c.ID,
		RootAcl:         sheetsToWire(rootSheets),
	})
	if err != nil {
		s.Elog.Printf("server: marshal welcome: %v", err)
		return
	}
	if err := c.Send(env); err != nil {
		s.Elog.Printf("server: send welcome to %s: %v", c.ID, err)
	}
}

func (s *Server) handleDisconnect(c *Conn) {
	defer c.Close()
	delete(s.conns, c.ID)

	for _, req := range s.Subreqs.ForConn(c.ID) {
		s.teardownSubreq(req, nil)
	}
	for _, si := range s.SyncIns.ForConn(c.ID) {
		si.Discard()
		s.SyncIns.Remove(si.NodeID)
	}
	s.Groups.LeaveAll(c.ID)

	s.forEachNode(s.Tr.Root(), func(n *tree.Node) {
		if n.IsSubdirectory() {
			delete(n.SubscribedConnections, c.ID)
		}
		if n.IsNote() {
			if p, ok := s.Sessions.Get(n.ID); ok {
				if p.Leave(c.ID) {
					s.Sessions.NoteIdle(n.ID)
					n.SetSession(p, true)
				}
			}
		}
	})
}

func (s *Server) forEachNode(n *tree.Node, fn func(*tree.Node)) {
	fn(n)
	for c := n.Child; c != nil; c = c.Next {
		s.forEachNode(c, fn)
	}
}

func (s *Server) handleMessage(c *Conn, env proto.Envelope) {
	ctx := s.context(c)
	var err error
	switch env.Element {
	case proto.ElemExploreNode:
		err = s.handleExploreNode(ctx, c, env)
	case proto.ElemAddNode:
		err = s.handleAddNode(ctx, c, env)
	case proto.ElemRemoveNode:
		err = s.handleRemoveNode(ctx, c, env)
	case proto.ElemSubscribeSession:
		err = s.handleSubscribeSession(ctx, c, env)
	case proto.ElemSubscribeChat:
		err = s.handleSubscribeChat(ctx, c, env)
	case proto.ElemSubscribeAck:
		err = s.handleSubscribeAck(ctx, c, env)
	case proto.ElemSubscribeNack:
		err = s.handleSubscribeNack(ctx, c, env)
	case proto.ElemSyncIn:
		err = s.handleSyncIn(ctx, c, env)
	case proto.ElemSaveSession:
		err = s.handleSaveSession(ctx, c, env)
	case proto.ElemQueryAclAccountList:
		err = s.handleQueryAclAccountList(ctx, c, env)
	case proto.ElemLookupAclAccounts:
		err = s.handleLookupAclAccounts(ctx, c, env)
	case proto.ElemCreateAclAccount:
		err = s.handleCreateAclAccount(ctx, c, env)
	case proto.ElemRemoveAclAccount:
		err = s.handleRemoveAclAccount(ctx, c, env)
	case proto.ElemQueryAcl:
		err = s.handleQueryAcl(ctx, c, env)
	case proto.ElemSetAcl:
		err = s.handleSetAcl(ctx, c, env)
	case proto.ElemApplyOperation:
		err = s.handleApplyOperation(ctx, c, env)
	default:
		err = direrr.NewUnexpectedMessage(env.Element)
	}
	if err != nil {
		s.fail(c, env.Seq, err)
	}
}

// fail sends a request-failed reply, echoing seq. Authorization
// failures carry the denied permission name in the attribute field
// alongside the "Permission denied" message.
func (s *Server) fail(c *Conn, seq int64, err error) {
	de, ok := err.(*direrr.Error)
	domain, code, msg, attr := "request", "unknown-error", err.Error(), ""
	if ok {
		domain, code = string(de.Domain), string(de.Code)
		msg, attr = de.Message, de.Path
	}
	env, merr := proto.Marshal(proto.ElemRequestFailed, seq, proto.RequestFailed{
		Domain:    domain,
		Code:      code,
		Message:   msg,
		Attribute: attr,
		Seq:       seq,
	})
	if merr != nil {
		return
	}
	if serr := c.Send(env); serr != nil {
		s.Elog.Printf("server: send request-failed to %s: %v", c.ID, serr)
	}
}

func sheetsToWire(set acl.SheetSet) []proto.Sheet {
	out := make([]proto.Sheet, 0, len(set))
	for acct, sheet := range set {
		out = append(out, proto.Sheet{Account: acct, Mask: uint64(sheet.Mask), Perms: uint64(sheet.Perms)})
	}
	return out
}

func wireToSheets(in []proto.Sheet) acl.SheetSet {
	out := make(acl.SheetSet, len(in))
	for _, w := range in {
		out[w.Account] = acl.Sheet{Mask: acl.Mask(w.Mask), Perms: acl.Mask(w.Perms)}
	}
	return out
}

func (s *Server) sweepIdle() {
	if s.Backend == nil {
		return
	}
	ids := s.Sessions.Sweep(s.pluginForNode, backendLoader{s: s})
	for _, id := range ids {
		s.Dlog.Printf("server: node %d idle-saved and evicted", id)
	}
}

func (s *Server) pluginForNode(nodeID int64) plugin.Plugin {
	n, ok := s.Tr.FindByID(nodeID)
	if !ok {
		return nil
	}
	pl, ok := s.Plugins.Get(n.Plugin)
	if !ok {
		return nil
	}
	return pl
}
