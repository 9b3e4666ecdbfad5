// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"encoding/pem"

	"github.com/gobby/infinoted/account"
	"github.com/gobby/infinoted/acl"
	"github.com/gobby/infinoted/direrr"
	"github.com/gobby/infinoted/gobbyd"
	"github.com/gobby/infinoted/proto"
	"github.com/gobby/infinoted/subscribe"
	"github.com/gobby/infinoted/tree"
)

func (s *Server) handleQueryAclAccountList(ctx *gobbyd.Context, c *Conn, env proto.Envelope) error {
	if err := s.checkPerm(s.Tr.Root(), ctx.AccountID, acl.CanQueryAccountList); err != nil {
		return err
	}
	list := s.Acct.List()

	begin, _ := proto.Marshal(proto.ElemAclAccountListBegin, env.Seq, proto.AclAccountListBegin{
		Total:                len(list),
		NotificationsEnabled: s.Acct.SupportsNotification(),
	})
	if err := c.Send(begin); err != nil {
		return nil
	}
	for _, a := range list {
		var namePtr *string
		if a.Name != "" {
			n := a.Name
			namePtr = &n
		}
		m, _ := proto.Marshal(proto.ElemAddAclAccount, env.Seq, proto.AddAclAccount{ID: a.ID, Name: namePtr})
		if err := c.Send(m); err != nil {
			return nil
		}
	}
	end, _ := proto.Marshal(proto.ElemAclAccountListEnd, env.Seq, proto.AclAccountListEnd{})
	return c.Send(end)
}

func (s *Server) handleLookupAclAccounts(ctx *gobbyd.Context, c *Conn, env proto.Envelope) error {
	var req proto.LookupAclAccounts
	if err := env.Unmarshal(&req); err != nil {
		return direrr.NewUnexpectedMessage(proto.ElemLookupAclAccounts)
	}
	seen := make(map[string]bool)
	var out []proto.AccountInfo
	for _, id := range req.IDs {
		if a, ok := s.Acct.Lookup(id); ok && !seen[a.ID] {
			seen[a.ID] = true
			out = append(out, proto.AccountInfo{ID: a.ID, Name: a.Name})
		}
	}
	for _, name := range req.Names {
		for _, a := range s.Acct.LookupByName(name) {
			if !seen[a.ID] {
				seen[a.ID] = true
				out = append(out, proto.AccountInfo{ID: a.ID, Name: a.Name})
			}
		}
	}
	reply, err := proto.Marshal(proto.ElemLookupAclAccounts, env.Seq, proto.LookupAclAccountsReply{Accounts: out})
	if err != nil {
		return err
	}
	return c.Send(reply)
}

// handleCreateAclAccount implements the certificate-based self-service
// account creation flow: the connection supplies a PEM-encoded
// certificate signing request, which the daemon's configured
// CertAuthority signs into a leaf certificate binding the new
// account's distinguished name.
func (s *Server) handleCreateAclAccount(ctx *gobbyd.Context, c *Conn, env proto.Envelope) error {
	if err := s.checkPerm(s.Tr.Root(), ctx.AccountID, acl.CanCreateAccount); err != nil {
		return err
	}
	if s.ca == nil {
		return direrr.NewOperationUnsupported()
	}
	var req proto.CreateAclAccount
	if err := env.Unmarshal(&req); err != nil {
		return direrr.NewUnexpectedMessage(proto.ElemCreateAclAccount)
	}
	block, _ := pem.Decode([]byte(req.Crq))
	if block == nil {
		return direrr.NewInvalidCertificate("not PEM encoded")
	}
	csr, err := account.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return err
	}
	a, err := s.Acct.Add(csr.Subject.CommonName, false, csr.Subject.String(), true)
	if err != nil {
		return err
	}
	certPEM, err := s.ca.Sign(csr)
	if err != nil {
		return err
	}
	reply, err := proto.Marshal(proto.ElemCreateAclAccount, env.Seq, proto.CreateAclAccountReply{
		Certificate: string(certPEM),
		Account:     proto.AccountInfo{ID: a.ID, Name: a.Name},
	})
	if err != nil {
		return err
	}
	s.announceAccountAdded(a)
	return c.Send(reply)
}

func (s *Server) handleRemoveAclAccount(ctx *gobbyd.Context, c *Conn, env proto.Envelope) error {
	var req proto.RemoveAclAccount
	if err := env.Unmarshal(&req); err != nil {
		return direrr.NewUnexpectedMessage(proto.ElemRemoveAclAccount)
	}
	allowed := s.Acl.Check(s.Tr.Root(), ctx.AccountID, acl.CanRemoveAccount) || ctx.AccountID == req.ID
	if err := s.Acct.Remove(req.ID, allowed); err != nil {
		return err
	}
	touched := s.Acl.PurgeAccount(req.ID)
	s.Acl.RecomputeRootEffective(account.UnavailableMask(s.acctStore, s.ca != nil))

	// Any connection still logged into the removed account is demoted
	// back to the default account and told so via change-acl-account.
	// Demotion changes its effective permission on every node, not
	// just the ones that carried a sheet for this account, so the
	// enforcement pass then has to walk the whole tree rather than
	// just touched.
	demoted := make(map[string]bool)
	for _, conn := range s.conns {
		if conn.AccountID == req.ID {
			conn.AccountID = account.DefaultAccountID
			demoted[conn.ID] = true
			s.sendChangeAclAccount(conn)
		}
	}
	if len(demoted) > 0 {
		s.enforceACLChange(s.Tr.Root())
	} else {
		for _, nodeID := range touched {
			if n, ok := s.Tr.FindByID(nodeID); ok {
				s.enforceACLChange(n)
			}
		}
	}
	// Every node that carried a sheet for the removed account gets a
	// set-acl announcement with an erasure entry (mask=0) for it, to
	// every connection that has queried that node's ACL.
	for _, nodeID := range touched {
		if n, ok := s.Tr.FindByID(nodeID); ok {
			s.announceSetAcl(n)
		}
	}
	s.announceAccountRemoved(req.ID, demoted)
	reply, err := proto.Marshal(proto.ElemRemoveAclAccount, env.Seq, proto.RemoveAclAccount{ID: req.ID})
	if err != nil {
		return err
	}
	return c.Send(reply)
}

func (s *Server) handleQueryAcl(ctx *gobbyd.Context, c *Conn, env proto.Envelope) error {
	var req proto.QueryAcl
	if err := env.Unmarshal(&req); err != nil {
		return direrr.NewUnexpectedMessage(proto.ElemQueryAcl)
	}
	n, err := s.nodeFor(req.ID)
	if err != nil {
		return err
	}
	if err := s.checkPerm(n, ctx.AccountID, acl.CanQueryAcl); err != nil {
		return err
	}
	if s.Acl.HasQueried(n, c.ID) {
		return direrr.NewAclAlreadyQueried()
	}
	s.Acl.MarkQueried(n, c.ID)
	sheets := s.Acl.NodeSheetSet(n)
	reply, err := proto.Marshal(proto.ElemQueryAcl, env.Seq, proto.QueryAcl{ID: n.ID})
	if err != nil {
		return err
	}
	if err := c.Send(reply); err != nil {
		return nil
	}
	setMsg, err := proto.Marshal(proto.ElemSetAcl, env.Seq, proto.SetAcl{ID: n.ID, Sheets: sheetsToWire(sheets)})
	if err != nil {
		return err
	}
	return c.Send(setMsg)
}

// handleSetAcl applies an ACL change to a node and runs the
// enforcement pass: any connection that loses can_explore_node or
// can_subscribe_session as a result is silently unexplored or
// unsubscribed rather than told via an error.
func (s *Server) handleSetAcl(ctx *gobbyd.Context, c *Conn, env proto.Envelope) error {
	var req proto.SetAcl
	if err := env.Unmarshal(&req); err != nil {
		return direrr.NewUnexpectedMessage(proto.ElemSetAcl)
	}
	n, err := s.nodeFor(req.ID)
	if err != nil {
		return err
	}
	if err := s.checkPerm(n, ctx.AccountID, acl.CanSetAcl); err != nil {
		return err
	}
	clean, removed := s.Acl.Verify(wireToSheets(req.Sheets))
	result := s.Acl.ApplyChange(n, clean)
	if n.ID == tree.RootID {
		s.Acl.RecomputeRootEffective(account.UnavailableMask(s.acctStore, s.ca != nil))
	}
	s.enforceACLChange(n)
	s.announceSetAcl(n)

	if len(removed) > 0 {
		ctx.Dlog.Printf("server: set-acl on %s dropped %d sheet(s) for unknown accounts", tree.Path(n), len(removed))
	}
	reply, err := proto.Marshal(proto.ElemSetAcl, env.Seq, proto.SetAcl{ID: n.ID, Sheets: sheetsToWire(result)})
	if err != nil {
		return err
	}
	return c.Send(reply)
}

// enforceACLChange walks n's subtree, unexploring any subdirectory a
// connection has explored but can no longer explore, unsubscribing
// any session a connection has joined but can no longer subscribe to,
// and revoking any "told the full ACL" status a connection can no
// longer hold because it lost can_query_acl. The revoked connection
// is sent a synthetic set-acl reply carrying only what
// SheetsForConnection still discloses to it, so its local mirror
// never retains sheets it is no longer entitled to see.
func (s *Server) enforceACLChange(n *tree.Node) {
	s.forEachNode(n, func(node *tree.Node) {
		if node.IsSubdirectory() && node.Explored {
			for connID := range node.SubscribedConnections {
				conn, ok := s.conns[connID]
				if !ok {
					continue
				}
				if !s.Acl.Check(node, conn.AccountID, acl.CanExploreNode) {
					// Losing explore access on an already-explored
					// subdirectory unexplores it on the connection's
					// behalf: every known child is reported removed, the
					// connection is dropped from the explored set, and
					// any add_node/sync_in it had in flight directly
					// under this node is killed rather than left to
					// resolve against a node it can no longer see.
					for ch := node.Child; ch != nil; ch = ch.Next {
						s.sendRemoveNode(conn, ch.ID)
					}
					delete(node.SubscribedConnections, connID)
					s.killSubreqsUnder(node.ID, connID)
				}
			}
		}
		if node.IsNote() {
			p, ok := s.Sessions.Get(node.ID)
			if ok {
				for connID, conn := range s.conns {
					if !s.Acl.Check(node, conn.AccountID, acl.CanSubscribeSession) {
						if g, ok := s.Groups.Get(p.GroupID()); ok {
							g.Leave(connID)
						}
						if p.Leave(connID) {
							s.Sessions.NoteIdle(node.ID)
							node.SetSession(p, true)
						}
					}
				}
			}
		}
		for connID, conn := range s.conns {
			if s.Acl.HasQueried(node, connID) && !s.Acl.Check(node, conn.AccountID, acl.CanQueryAcl) {
				s.Acl.ClearQueried(node, connID)
				v := s.Acl.SheetsForConnection(node, connID, conn.AccountID)
				env, err := proto.Marshal(proto.ElemSetAcl, 0, proto.SetAcl{ID: node.ID, Sheets: sheetsToWire(v)})
				if err != nil {
					continue
				}
				if err := conn.Send(env); err != nil {
					s.Elog.Printf("server: revoke acl visibility to %s: %v", connID, err)
				}
			}
		}
	})
}

// killSubreqsUnder cancels connID's outstanding add_node and sync_in
// subreqs parented directly under nodeID, mirroring the ForParent
// lookups clearParentPointers uses for a removed node (handlers_tree.go)
// but tearing the resource all the way down instead of just clearing a
// pointer: the connection just lost can_explore_node on nodeID, so any
// creation it had in flight there can never be committed.
func (s *Server) killSubreqsUnder(nodeID int64, connID string) {
	cause := direrr.NewNotAuthorized(acl.NameOf(acl.CanExploreNode))
	for _, req := range s.Subreqs.ForParent(nodeID) {
		if req.ConnID != connID {
			continue
		}
		switch req.Kind {
		case subscribe.KindAddNode, subscribe.KindSyncIn, subscribe.KindSyncInSubscribe:
			s.teardownSubreq(req, cause)
		}
	}
	for _, si := range s.SyncIns.ForParent(nodeID) {
		if si.ConnID != connID {
			continue
		}
		s.teardownSyncIn(si, cause)
	}
}

// announceSetAcl fans an ACL change out to every connection that has
// n visible, each receiving only the subset of the sheet set it is
// authorized to see. Connections for which that subset is empty get
// nothing.
func (s *Server) announceSetAcl(n *tree.Node) {
	for connID := range s.connsThatCanSee(n) {
		conn, ok := s.conns[connID]
		if !ok {
			continue
		}
		v := s.Acl.SheetsForConnection(n, connID, conn.AccountID)
		if len(v) == 0 {
			continue
		}
		env, err := proto.Marshal(proto.ElemSetAcl, 0, proto.SetAcl{ID: n.ID, Sheets: sheetsToWire(v)})
		if err != nil {
			continue
		}
		if err := conn.Send(env); err != nil {
			s.Elog.Printf("server: announce set-acl to %s: %v", connID, err)
		}
	}
}

// connsThatCanSee returns the set of connections that have n visible:
// everyone for the root, otherwise those with n's parent explored.
func (s *Server) connsThatCanSee(n *tree.Node) map[string]bool {
	out := make(map[string]bool)
	for connID := range s.conns {
		if n.ID == tree.RootID ||
			(n.Parent != nil && n.Parent.SubscribedConnections[connID]) {
			out[connID] = true
		}
	}
	return out
}

func (s *Server) announceAccountAdded(a account.Account) {
	var namePtr *string
	if a.Name != "" {
		n := a.Name
		namePtr = &n
	}
	for _, conn := range s.conns {
		if !s.Acl.Check(s.Tr.Root(), conn.AccountID, acl.CanQueryAccountList) {
			continue
		}
		env, err := proto.Marshal(proto.ElemAddAclAccount, 0, proto.AddAclAccount{ID: a.ID, Name: namePtr})
		if err != nil {
			continue
		}
		if err := conn.Send(env); err != nil {
			s.Elog.Printf("server: announce add-acl-account to %s: %v", conn.ID, err)
		}
	}
}

// announceAccountRemoved notifies every connection entitled to the
// account list, plus the former owners in also (they lost the account
// regardless of whether they may query the list).
func (s *Server) announceAccountRemoved(id string, also map[string]bool) {
	for connID, conn := range s.conns {
		if !s.Acl.Check(s.Tr.Root(), conn.AccountID, acl.CanQueryAccountList) && !also[connID] {
			continue
		}
		env, err := proto.Marshal(proto.ElemRemoveAclAccount, 0, proto.RemoveAclAccount{ID: id})
		if err != nil {
			continue
		}
		if err := conn.Send(env); err != nil {
			s.Elog.Printf("server: announce remove-acl-account to %s: %v", connID, err)
		}
	}
}

// sendChangeAclAccount tells conn its effective account changed,
// piggy-backing the new account's own sheet for every node conn
// currently has visible (the root plus every child of a subdirectory
// it has explored).
func (s *Server) sendChangeAclAccount(conn *Conn) {
	var entries []proto.NodeAclEntry
	s.forEachNode(s.Tr.Root(), func(n *tree.Node) {
		visible := n.ID == tree.RootID ||
			(n.Parent != nil && n.Parent.SubscribedConnections[conn.ID])
		if !visible {
			return
		}
		set := s.Acl.NodeSheetSet(n)
		if sheet, ok := set[conn.AccountID]; ok {
			entries = append(entries, proto.NodeAclEntry{
				NodeID: n.ID,
				Mask:   uint64(sheet.Mask),
				Perms:  uint64(sheet.Perms),
			})
		}
	})
	env, err := proto.Marshal(proto.ElemChangeAclAccount, 0, proto.ChangeAclAccount{
		ID:  conn.AccountID,
		Acl: entries,
	})
	if err != nil {
		return
	}
	if err := conn.Send(env); err != nil {
		s.Elog.Printf("server: send change-acl-account to %s: %v", conn.ID, err)
	}
}
