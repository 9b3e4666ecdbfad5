// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package client implements the client-side mirror of a directory
// connection: a read-only tree kept in sync with server
// announcements, a table of requests still awaiting a reply (indexed
// by both sequence number and node id), and the account list cache.
//
// Client is structured the same way as session.Proxy and
// server.Server: a single actor goroutine owns all mutable state (the
// tree mirror, the pending-request tables) and is reached only
// through a request channel, so none of that state needs a mutex.
package client

import (
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/gobby/infinoted/direrr"
	"github.com/gobby/infinoted/proto"
)

// ErrClosed is returned by every pending call once the connection
// drops or Close is called. The mirror is discarded with the
// connection; pending subscription requests are never re-emitted.
var ErrClosed = errors.New("client: connection closed")

// WelcomeTimeout bounds how long Welcome waits for the server's first
// message before giving up and closing the connection.
const WelcomeTimeout = 5 * time.Second

// pendingReq tracks one outstanding client->server request. nodeID is
// -1 unless the request reserved or referenced a specific node id, in
// which case a remove-node announcement for that id fails the request
// immediately instead of leaving it to time out.
type pendingReq struct {
	seq      int64
	nodeID   int64
	collect  bool // true for explore-node/acl-account-list begin...end streams
	children []proto.AddNode
	accounts []proto.AccountInfo
	resp     chan result
}

type result struct {
	env proto.Envelope
	err error
}

// request is the actor's local-call alphabet.
type request interface{ reqty() }

type sendReq struct {
	element string
	nodeID  int64 // -1 if this request isn't tied to a specific node id
	collect bool
	payload interface{}
	resp    chan result
}

func (*sendReq) reqty() {}

type ackReq struct {
	nodeID *int64
	accept bool
}

func (*ackReq) reqty() {}

type snapshotReq struct {
	resp chan *Tree
}

func (*snapshotReq) reqty() {}

type acctListReq struct {
	resp chan []proto.AccountInfo
}

func (*acctListReq) reqty() {}

// Client is one connection to a directory server.
type Client struct {
	nc  *net.UnixConn
	enc *json.Encoder
	dec *json.Decoder

	reqch  chan request
	wirech chan proto.Envelope
	done   chan struct{}

	welcome     chan proto.Welcome
	welcomeOnce bool
}

// Dial connects to the directory's Unix-domain socket and starts the
// client actor. The caller should receive from Welcome once before
// issuing any other request; welcome is the mandatory first message
// on the wire.
func Dial(path string) (*Client, error) {
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, err
	}
	nc, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, err
	}
	c := &Client{
		nc:      nc,
		enc:     json.NewEncoder(nc),
		dec:     json.NewDecoder(nc),
		reqch:   make(chan request),
		wirech:  make(chan proto.Envelope, 16),
		done:    make(chan struct{}),
		welcome: make(chan proto.Welcome, 1),
	}
	go c.readLoop()
	go c.run()
	return c, nil
}

// Welcome blocks until the server's welcome message arrives, the
// connection closes, or WelcomeTimeout elapses. On timeout the
// connection is closed and a no-welcome-message error returned.
func (c *Client) Welcome() (proto.Welcome, error) {
	t := time.NewTimer(WelcomeTimeout)
	defer t.Stop()
	select {
	case w := <-c.welcome:
		c.welcome <- w // leave it for any other caller that asks
		return w, nil
	case <-c.done:
		return proto.Welcome{}, ErrClosed
	case <-t.C:
		c.Close()
		return proto.Welcome{}, direrr.NewNoWelcomeMessage()
	}
}

// Close tears down the connection; every request still waiting for a
// reply is failed with ErrClosed.
func (c *Client) Close() {
	c.nc.Close()
}

func (c *Client) readLoop() {
	for {
		var env proto.Envelope
		if err := c.dec.Decode(&env); err != nil {
			close(c.done)
			return
		}
		select {
		case c.wirech <- env:
		case <-c.done:
			return
		}
	}
}

// actorState is the mutable state only the run() goroutine touches.
type actorState struct {
	tr            *Tree
	bySeq         map[int64]*pendingReq
	byNode        map[int64]*pendingReq
	nextSeq       int64
	acctListCache []proto.AccountInfo
}

func (c *Client) run() {
	st := &actorState{
		tr:     newTree(),
		bySeq:  make(map[int64]*pendingReq),
		byNode: make(map[int64]*pendingReq),
	}
	for {
		select {
		case req := <-c.reqch:
			c.handleLocal(st, req)
		case env := <-c.wirech:
			c.handleWire(st, env)
		case <-c.done:
			c.failAll(st, ErrClosed)
			return
		}
	}
}

func (c *Client) failAll(st *actorState, err error) {
	for _, p := range st.bySeq {
		p.resp <- result{err: err}
	}
}

func (c *Client) handleLocal(st *actorState, r request) {
	switch req := r.(type) {
	case *sendReq:
		st.nextSeq++
		seq := st.nextSeq
		env, err := proto.Marshal(req.element, seq, req.payload)
		if err != nil {
			req.resp <- result{err: err}
			return
		}
		p := &pendingReq{seq: seq, nodeID: req.nodeID, collect: req.collect, resp: req.resp}
		st.bySeq[seq] = p
		if req.nodeID >= 0 {
			st.byNode[req.nodeID] = p
		}
		if err := c.enc.Encode(&env); err != nil {
			delete(st.bySeq, seq)
			if req.nodeID >= 0 {
				delete(st.byNode, req.nodeID)
			}
			req.resp <- result{err: err}
		}
	case *ackReq:
		element := proto.ElemSubscribeAck
		if !req.accept {
			element = proto.ElemSubscribeNack
		}
		var body interface{}
		if req.accept {
			body = proto.SubscribeAck{ID: req.nodeID}
		} else {
			body = proto.SubscribeNack{ID: req.nodeID}
		}
		env, err := proto.Marshal(element, 0, body)
		if err != nil {
			return
		}
		c.enc.Encode(&env)
	case *snapshotReq:
		req.resp <- st.tr
	case *acctListReq:
		req.resp <- append([]proto.AccountInfo(nil), st.acctListCache...)
	case *sendRaw:
		c.enc.Encode(&req.env)
	}
}

func (c *Client) handleWire(st *actorState, env proto.Envelope) {
	switch env.Element {
	case proto.ElemWelcome:
		if !c.welcomeOnce {
			c.welcomeOnce = true
			var w proto.Welcome
			env.Unmarshal(&w)
			c.welcome <- w
		}
	case proto.ElemRequestFailed:
		var body proto.RequestFailed
		env.Unmarshal(&body)
		if p, ok := st.bySeq[body.Seq]; ok {
			c.resolve(st, p, result{err: &direrr.Error{
				Domain:  direrr.Domain(body.Domain),
				Code:    direrr.Code(body.Code),
				Message: body.Message,
				Path:    body.Attribute,
			}})
		}
	case proto.ElemExploreBegin:
		if p, ok := st.bySeq[env.Seq]; ok && p.collect {
			p.children = p.children[:0]
		}
	case proto.ElemAddNode:
		var w proto.AddNode
		env.Unmarshal(&w)
		if p, ok := st.bySeq[env.Seq]; ok && p.collect && env.Seq != 0 {
			p.children = append(p.children, w)
			st.tr.insert(w)
			return
		}
		st.tr.insert(w)
		if p, ok := st.bySeq[env.Seq]; ok && env.Seq != 0 {
			c.resolve(st, p, result{env: env})
		}
	case proto.ElemExploreEnd:
		if p, ok := st.bySeq[env.Seq]; ok && p.collect {
			// nodeID is the explored subdirectory's id for
			// explore-node requests.
			if n, ok := st.tr.Get(p.nodeID); ok {
				n.Explored = true
			}
			c.resolve(st, p, result{env: env})
		}
	case proto.ElemRemoveNode:
		var w proto.RemoveNode
		env.Unmarshal(&w)
		removed := st.tr.remove(w.ID)
		for _, id := range removed {
			if p, ok := st.byNode[id]; ok {
				c.resolve(st, p, result{err: direrr.NewNoSuchNode("")})
			}
		}
		if p, ok := st.bySeq[env.Seq]; ok && env.Seq != 0 {
			c.resolve(st, p, result{env: env})
		}
	case proto.ElemSetAcl:
		var w proto.SetAcl
		env.Unmarshal(&w)
		st.tr.setAcl(w.ID, w.Sheets)
		if p, ok := st.bySeq[env.Seq]; ok && env.Seq != 0 {
			c.resolve(st, p, result{env: env})
		}
	case proto.ElemSubscribeSession, proto.ElemSubscribeChat, proto.ElemSyncIn,
		proto.ElemSavedSession, proto.ElemQueryAcl, proto.ElemLookupAclAccounts,
		proto.ElemCreateAclAccount, proto.ElemRemoveAclAccount:
		if p, ok := st.bySeq[env.Seq]; ok {
			c.resolve(st, p, result{env: env})
		}
	case proto.ElemAclAccountListBegin:
		if p, ok := st.bySeq[env.Seq]; ok && p.collect {
			p.accounts = p.accounts[:0]
		}
	case proto.ElemAddAclAccount:
		var w proto.AddAclAccount
		env.Unmarshal(&w)
		name := ""
		if w.Name != nil {
			name = *w.Name
		}
		info := proto.AccountInfo{ID: w.ID, Name: name}
		if p, ok := st.bySeq[env.Seq]; ok && p.collect {
			p.accounts = append(p.accounts, info)
		}
	case proto.ElemAclAccountListEnd:
		if p, ok := st.bySeq[env.Seq]; ok && p.collect {
			st.acctListCache = append([]proto.AccountInfo(nil), p.accounts...)
			c.resolve(st, p, result{env: env})
		}
	case proto.ElemApplyOperation:
		// Session traffic relay: a full editing client would decode
		// and apply this against its local document model. The mirror
		// doesn't keep document content, only tree/ACL shape, so
		// there's nothing further to do with it here.
	}
}

func (c *Client) resolve(st *actorState, p *pendingReq, res result) {
	delete(st.bySeq, p.seq)
	if p.nodeID >= 0 {
		delete(st.byNode, p.nodeID)
	}
	p.resp <- res
}

func (c *Client) call(element string, nodeID int64, collect bool, payload interface{}) (proto.Envelope, error) {
	resp := make(chan result, 1)
	select {
	case c.reqch <- &sendReq{element: element, nodeID: nodeID, collect: collect, payload: payload, resp: resp}:
	case <-c.done:
		return proto.Envelope{}, ErrClosed
	}
	select {
	case r := <-resp:
		return r.env, r.err
	case <-c.done:
		return proto.Envelope{}, ErrClosed
	}
}

// ExploreNode requests a subdirectory's children and waits for the
// full explore-begin/add-node*/explore-end sequence.
func (c *Client) ExploreNode(id int64) ([]int64, error) {
	if _, err := c.call(proto.ElemExploreNode, id, true, proto.ExploreNode{ID: id}); err != nil {
		return nil, err
	}
	tr := c.Snapshot()
	n, ok := tr.Get(id)
	if !ok {
		return nil, direrr.NewNoSuchNode("")
	}
	return n.Children, nil
}

// AddSubdirectory creates a subdirectory under parent directly; notes
// require AddNoteSubscribe or SyncIn instead.
func (c *Client) AddSubdirectory(parent int64, name string) (int64, error) {
	env, err := c.call(proto.ElemAddNode, -1, false, proto.AddNode{Parent: parent, Name: name, Type: proto.TypeSubdirectory})
	if err != nil {
		return 0, err
	}
	var w proto.AddNode
	if err := env.Unmarshal(&w); err != nil {
		return 0, err
	}
	return w.ID, nil
}

// AddNoteSubscribe begins the three-way add-node-with-subscribe
// handshake: reserve, ack, join. It blocks until the server either
// confirms the new node's id or fails the request.
func (c *Client) AddNoteSubscribe(parent int64, name, pluginType string) (int64, string, error) {
	sub := &proto.Subscribe{Method: "central"}
	env, err := c.call(proto.ElemAddNode, -1, false, proto.AddNode{
		Parent: parent, Name: name, Type: pluginType, Subscribe: sub,
	})
	if err != nil {
		return 0, "", err
	}
	var w proto.AddNode
	if err := env.Unmarshal(&w); err != nil {
		return 0, "", err
	}
	group := ""
	if w.Subscribe != nil {
		group = w.Subscribe.Group
	}
	c.ack(&w.ID, true)
	return w.ID, group, nil
}

// SubscribeSession joins the session traffic for an already-existing
// note.
func (c *Client) SubscribeSession(nodeID int64) (string, error) {
	env, err := c.call(proto.ElemSubscribeSession, nodeID, false, proto.SubscribeSession{ID: nodeID})
	if err != nil {
		return "", err
	}
	var w proto.SubscribeSession
	if err := env.Unmarshal(&w); err != nil {
		return "", err
	}
	c.ack(&w.ID, true)
	return w.Group, nil
}

// RemoveNode asks the server to remove a node.
func (c *Client) RemoveNode(nodeID int64) error {
	_, err := c.call(proto.ElemRemoveNode, -1, false, proto.RemoveNode{ID: nodeID})
	return err
}

// QueryAcl requests a node's full sheet set.
func (c *Client) QueryAcl(nodeID int64) ([]proto.Sheet, error) {
	if _, err := c.call(proto.ElemQueryAcl, -1, false, proto.QueryAcl{ID: nodeID}); err != nil {
		return nil, err
	}
	tr := c.Snapshot()
	n, ok := tr.Get(nodeID)
	if !ok {
		return nil, direrr.NewNoSuchNode("")
	}
	return n.Acl, nil
}

// SetAcl merges sheets into a node's sheet set.
func (c *Client) SetAcl(nodeID int64, sheets []proto.Sheet) error {
	_, err := c.call(proto.ElemSetAcl, -1, false, proto.SetAcl{ID: nodeID, Sheets: sheets})
	return err
}

// QueryAclAccountList fetches the full set of known accounts and
// caches it for AccountList.
func (c *Client) QueryAclAccountList() ([]proto.AccountInfo, error) {
	_, err := c.call(proto.ElemQueryAclAccountList, -1, true, proto.QueryAclAccountList{})
	if err != nil {
		return nil, err
	}
	return c.AccountList(), nil
}

// AccountList returns the last account list QueryAclAccountList
// fetched, without round-tripping to the server.
func (c *Client) AccountList() []proto.AccountInfo {
	resp := make(chan []proto.AccountInfo, 1)
	select {
	case c.reqch <- &acctListReq{resp: resp}:
	case <-c.done:
		return nil
	}
	select {
	case list := <-resp:
		return list
	case <-c.done:
		return nil
	}
}

// SaveSession asks the server to flush a note's content to storage.
func (c *Client) SaveSession(nodeID int64) error {
	_, err := c.call(proto.ElemSaveSession, -1, false, proto.SaveSession{ID: nodeID})
	return err
}

// Snapshot returns the client's current tree mirror. The returned
// *Tree must be treated as read-only by the caller: it is the actor's
// live state, handed out without copying because every Client caller
// this package supports (cmd/infinotec) is single-threaded itself.
func (c *Client) Snapshot() *Tree {
	resp := make(chan *Tree, 1)
	select {
	case c.reqch <- &snapshotReq{resp: resp}:
	case <-c.done:
		return newTree()
	}
	select {
	case tr := <-resp:
		return tr
	case <-c.done:
		return newTree()
	}
}

func (c *Client) ack(nodeID *int64, accept bool) {
	select {
	case c.reqch <- &ackReq{nodeID: nodeID, accept: accept}:
	case <-c.done:
	}
}

// Apply sends a content operation for an already-subscribed session.
// The caller is responsible for encoding the operation the way the
// matching plugin expects; this package only relays it.
func (c *Client) Apply(nodeID int64, author string, opKind string, position int, chunk string, concurrencyID int) error {
	env, err := proto.Marshal(proto.ElemApplyOperation, 0, proto.ApplyOperation{
		NodeID: nodeID, Author: author, OpKind: opKind, Position: position,
		Chunk: chunk, ConcurrencyID: concurrencyID,
	})
	if err != nil {
		return err
	}
	select {
	case c.reqch <- &sendRaw{env: env}:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

type sendRaw struct{ env proto.Envelope }

func (*sendRaw) reqty() {}
