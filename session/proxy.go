// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package session implements the note session lifecycle: lazy load
// via plugin, idle detection with save-back, weak retention, and
// link/unlink of resident sessions.
//
// The Proxy type is a goroutine-driven actor with a request channel;
// all mutation of a resident session's content and subscriber set
// happens on its run loop.
package session

import (
	"fmt"
	"io"
	"log"

	"github.com/gobby/infinoted/direrr"
	"github.com/gobby/infinoted/plugin"
)

// State is the lifecycle state of a note's session.
type State int

const (
	StateCold State = iota
	StateLoading
	StateResident
	StateIdleResident
	StateWeaklyHeld
)

func (s State) String() string {
	switch s {
	case StateCold:
		return "cold"
	case StateLoading:
		return "loading"
	case StateResident:
		return "resident"
	case StateIdleResident:
		return "idle-resident"
	case StateWeaklyHeld:
		return "weakly-held"
	default:
		return "unknown"
	}
}

// request is the actor's request alphabet.
type request interface{ reqty() }

type joinReq struct {
	connID string
	resp   chan struct{}
}

func (*joinReq) reqty() {}

type leaveReq struct {
	connID string
	resp   chan bool // reports whether the subscriber set is now empty
}

func (*leaveReq) reqty() {}

type applyReq struct {
	op     plugin.Operation
	author string
	resp   chan error
}

func (*applyReq) reqty() {}

type saveReq struct {
	w    io.Writer
	pl   plugin.Plugin
	resp chan error
}

func (*saveReq) reqty() {}

type stateReq struct {
	resp chan State
}

func (*stateReq) reqty() {}

// Proxy is the server-side wrapper around a plugin session that
// mediates subscriber membership.
type Proxy struct {
	nodeID  int64
	groupID string

	reqch chan request
	kill  chan struct{}
	term  chan struct{}
}

// NodeID implements tree.SessionHandle.
func (p *Proxy) NodeID() int64 { return p.nodeID }

// GroupID returns the proxy's subscription group name.
func (p *Proxy) GroupID() string { return p.groupID }

type proxyState struct {
	nodeID      int64
	groupID     string
	sess        plugin.Session
	subscribers map[string]bool
	state       State
	elog        *log.Logger

	reqch chan request
	kill  chan struct{}
	term  chan struct{}
}

// NewProxy wraps sess as a resident session for nodeID, starting its
// actor loop. Linking the returned Proxy into its tree node
// (tree.Node.SetSession) is left to the caller.
func NewProxy(nodeID int64, groupID string, sess plugin.Session, elog *log.Logger) *Proxy {
	st := &proxyState{
		nodeID:      nodeID,
		groupID:     groupID,
		sess:        sess,
		subscribers: make(map[string]bool),
		state:       StateResident,
		elog:        elog,
		reqch:       make(chan request),
		kill:        make(chan struct{}),
		term:        make(chan struct{}),
	}
	go st.run()
	return &Proxy{nodeID: nodeID, groupID: groupID, reqch: st.reqch, kill: st.kill, term: st.term}
}

func (s *proxyState) run() {
	defer close(s.term)
	for {
		select {
		case r := <-s.reqch:
			s.handle(r)
		case <-s.kill:
			return
		}
	}
}

func (s *proxyState) handle(r request) {
	switch req := r.(type) {
	case *joinReq:
		s.subscribers[req.connID] = true
		if s.state == StateWeaklyHeld || s.state == StateIdleResident {
			s.state = StateResident
		}
		close(req.resp)
	case *leaveReq:
		delete(s.subscribers, req.connID)
		empty := len(s.subscribers) == 0
		if empty {
			s.state = StateWeaklyHeld
		}
		req.resp <- empty
	case *applyReq:
		req.resp <- s.sess.Apply(req.op, req.author)
	case *saveReq:
		req.resp <- req.pl.Write(req.w, s.sess)
	case *stateReq:
		req.resp <- s.state
	}
}

// Join adds connID as a subscriber, promoting the session back to
// resident if it was weakly-held or idle.
func (p *Proxy) Join(connID string) {
	resp := make(chan struct{})
	select {
	case p.reqch <- &joinReq{connID: connID, resp: resp}:
		<-resp
	case <-p.term:
	}
}

// Leave removes connID as a subscriber, reporting whether it was the
// last one. The session becomes weakly-held when the set empties; the
// caller is responsible for telling Manager to start the idle
// countdown.
func (p *Proxy) Leave(connID string) bool {
	resp := make(chan bool)
	select {
	case p.reqch <- &leaveReq{connID: connID, resp: resp}:
		return <-resp
	case <-p.term:
		return true
	}
}

// Apply applies op to the session content, attributed to author.
func (p *Proxy) Apply(op plugin.Operation, author string) error {
	resp := make(chan error)
	select {
	case p.reqch <- &applyReq{op: op, author: author, resp: resp}:
		return <-resp
	case <-p.term:
		return direrr.NewDisconnected()
	}
}

// State returns the proxy's current lifecycle state.
func (p *Proxy) State() State {
	resp := make(chan State)
	select {
	case p.reqch <- &stateReq{resp: resp}:
		return <-resp
	case <-p.term:
		return StateCold
	}
}

// Close tears the proxy down without saving; used when a sync-in or
// subscribe flow is cancelled before the session is ever installed.
func (p *Proxy) Close() {
	select {
	case <-p.kill:
	default:
		close(p.kill)
	}
	<-p.term
}

// Flush serializes the session's current content against w using pl,
// routed through the actor so it never races a concurrent Apply.
func (p *Proxy) Flush(w io.Writer, pl plugin.Plugin) error {
	resp := make(chan error)
	select {
	case p.reqch <- &saveReq{w: w, pl: pl, resp: resp}:
		if err := <-resp; err != nil {
			return fmt.Errorf("session save for node %d: %w", p.nodeID, err)
		}
		return nil
	case <-p.term:
		return direrr.NewDisconnected()
	}
}
