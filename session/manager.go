// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session

import (
	"io"
	"log"
	"time"

	"github.com/gobby/infinoted/plugin"
)

// DefaultIdleTimeout is how long a session with no subscribers sits
// weakly-held before the Manager sweeps it cold.
const DefaultIdleTimeout = 60 * time.Second

// Loader saves and loads note content through a plugin against
// whatever backing store the caller configured. Kept as a small local
// interface so this package never depends on storage.
type Loader interface {
	Open(nodeID int64) (io.ReadCloser, error)
	Create(nodeID int64) (io.WriteCloser, error)
}

// Manager is the single point of truth for which notes currently have
// a resident Proxy. It carries no mutex: every directory operation
// runs on one event loop, so Manager is driven exclusively from there
// and needs no internal locking, the same invariant tree.Tree and
// acl.Engine rely on.
type Manager struct {
	proxies map[int64]*Proxy
	idleAt  map[int64]time.Time
	wlog    *log.Logger
	timeout time.Duration
}

// NewManager returns an empty Manager. Failed idle-saves are logged
// as warnings to wlog and retried on the next sweep (pass a discard
// logger in tests).
func NewManager(wlog *log.Logger) *Manager {
	return &Manager{
		proxies: make(map[int64]*Proxy),
		idleAt:  make(map[int64]time.Time),
		wlog:    wlog,
		timeout: DefaultIdleTimeout,
	}
}

// SetIdleTimeout overrides DefaultIdleTimeout.
func (m *Manager) SetIdleTimeout(d time.Duration) { m.timeout = d }

// Get returns the resident Proxy for nodeID, if any.
func (m *Manager) Get(nodeID int64) (*Proxy, bool) {
	p, ok := m.proxies[nodeID]
	return p, ok
}

// Install registers p as the resident proxy for nodeID, marking it
// non-idle. Callers link p into the corresponding tree.Node themselves
// via tree.Node.SetSession.
func (m *Manager) Install(nodeID int64, p *Proxy) {
	m.proxies[nodeID] = p
	delete(m.idleAt, nodeID)
}

// NoteIdle records that nodeID's proxy has lost its last subscriber,
// starting its weakly-held countdown.
func (m *Manager) NoteIdle(nodeID int64) {
	m.idleAt[nodeID] = time.Now()
}

// NoteActive clears any pending idle countdown for nodeID because a
// new subscriber joined.
func (m *Manager) NoteActive(nodeID int64) {
	delete(m.idleAt, nodeID)
}

// Sweep evicts and saves every proxy that has been idle longer than
// the configured timeout, returning the ids that went cold. Callers
// are expected to invoke this periodically from the server's single
// event loop (e.g. on a time.Ticker), never concurrently with other
// directory operations.
func (m *Manager) Sweep(pluginFor func(nodeID int64) plugin.Plugin, loader Loader) []int64 {
	now := time.Now()
	var cold []int64
	for id, since := range m.idleAt {
		if now.Sub(since) < m.timeout {
			continue
		}
		pl := pluginFor(id)
		if pl == nil {
			continue
		}
		if err := m.evict(id, pl, loader); err != nil {
			m.wlog.Printf("session: idle save for node %d failed, keeping it resident: %v", id, err)
			continue
		}
		cold = append(cold, id)
	}
	return cold
}

func (m *Manager) evict(nodeID int64, pl plugin.Plugin, loader Loader) error {
	p, ok := m.proxies[nodeID]
	if !ok {
		delete(m.idleAt, nodeID)
		return nil
	}
	w, err := loader.Create(nodeID)
	if err != nil {
		return err
	}
	defer w.Close()
	if err := p.Flush(w, pl); err != nil {
		return err
	}
	p.Close()
	delete(m.proxies, nodeID)
	delete(m.idleAt, nodeID)
	return nil
}

// Evict forcibly tears down and forgets nodeID's proxy without saving,
// used when the underlying node is removed from the tree.
func (m *Manager) Evict(nodeID int64) {
	if p, ok := m.proxies[nodeID]; ok {
		p.Close()
		delete(m.proxies, nodeID)
	}
	delete(m.idleAt, nodeID)
}

// Load brings nodeID's session back to resident state by reading it
// from loader through pl, installing a fresh Proxy. This is the
// cold-to-resident transition driven by a subscribe request.
func (m *Manager) Load(nodeID int64, groupID string, pl plugin.Plugin, loader Loader) (*Proxy, error) {
	r, err := loader.Open(nodeID)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	sess, err := pl.Read(r)
	if err != nil {
		return nil, err
	}
	p := NewProxy(nodeID, groupID, sess, m.wlog)
	m.Install(nodeID, p)
	return p, nil
}
