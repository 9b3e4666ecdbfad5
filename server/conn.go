// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2015,2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package server implements the directory request router and change
// propagation: per-connection transport, a single-threaded dispatch
// loop driving every directory package, the ACL enforcement pass, and
// fan-out of changes to subscribed peers.
//
// Each accepted connection gets a reader goroutine that forwards
// decoded messages to the Server's event loop; all directory state is
// mutated from that loop alone.
package server

import (
	"encoding/json"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/gobby/infinoted/proto"
)

// Conn is one accepted client connection. Every field the dispatch
// loop touches is read-only after construction or otherwise only
// mutated from the event loop goroutine; only sendLock guards the
// genuinely concurrent part (writing to the wire from the event loop
// while Close races it on teardown).
type Conn struct {
	ID string

	nc  *net.UnixConn
	enc *json.Encoder
	dec *json.Decoder

	sendLock sync.Mutex
	closed   bool

	AccountID string // resolved once the certificate handshake (if any) completes
}

// newConn wraps nc, assigning a fresh connection id; subreqs and
// subscriptions reference the connection by this id.
func newConn(nc *net.UnixConn) *Conn {
	return &Conn{
		ID:  uuid.NewString(),
		nc:  nc,
		enc: json.NewEncoder(nc),
		dec: json.NewDecoder(nc),
	}
}

// Send writes env to the wire, safe to call concurrently with other
// Conn methods (the event loop and Close can race on shutdown).
func (c *Conn) Send(env proto.Envelope) error {
	c.sendLock.Lock()
	defer c.sendLock.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	return c.enc.Encode(&env)
}

// read blocks for the next client envelope.
func (c *Conn) read() (proto.Envelope, error) {
	var env proto.Envelope
	err := c.dec.Decode(&env)
	return env, err
}

// Close closes the underlying connection. Safe to call more than
// once.
func (c *Conn) Close() {
	c.sendLock.Lock()
	defer c.sendLock.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.nc.Close()
}
