// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"log"
	"net"
	"time"

	"github.com/coreos/go-systemd/v22/activation"

	"github.com/gobby/infinoted/account"
	"github.com/gobby/infinoted/acl"
	"github.com/gobby/infinoted/gobbyd"
	"github.com/gobby/infinoted/plugin"
	"github.com/gobby/infinoted/proto"
	"github.com/gobby/infinoted/session"
	"github.com/gobby/infinoted/storage"
	"github.com/gobby/infinoted/subscribe"
	"github.com/gobby/infinoted/syncin"
	"github.com/gobby/infinoted/tree"
)

// ProtocolVersion is advertised in every welcome message.
const ProtocolVersion = "1.0"

// Server is the directory: the single owner of every core package's
// state, driven entirely from one goroutine (Run). All other
// goroutines (one per connection, one ticker) only ever hand events
// to Server's channel; they never touch tree/acl/account/session/
// subscribe/syncin directly.
type Server struct {
	Tr       *tree.Tree
	Acl      *acl.Engine
	Acct     *account.Registry
	Sessions *session.Manager
	Subreqs  *subscribe.Table
	Groups   *subscribe.Registry
	SyncIns  *syncin.Table
	Plugins  *plugin.Registry
	Backend  storage.Backend

	Dlog *log.Logger
	Elog *log.Logger
	Wlog *log.Logger

	conns  map[string]*Conn
	events chan event

	daemon      *gobbyd.Config
	acctStore   account.Storage
	ca          *account.CertAuthority
	chatEnabled bool
}

// Config bundles the dependencies NewServer wires together. Daemon is
// the static daemon configuration exposed to handlers through
// gobbyd.Context; it may be nil in tests. Wlog defaults to Elog.
type Config struct {
	Backend      storage.Backend
	AccountStore account.Storage
	Plugins      *plugin.Registry
	CA           *account.CertAuthority
	Daemon       *gobbyd.Config
	ChatEnabled  bool
	Dlog, Elog   *log.Logger
	Wlog         *log.Logger
}

// NewServer constructs a Server with a fresh empty tree, wiring the
// account registry's Exists method into the ACL engine as the
// AccountExists adapter (see acl.AccountExists).
func NewServer(cfg Config) *Server {
	tr := tree.New()
	reg := account.NewRegistry(cfg.AccountStore, nil)
	eng := acl.NewEngine(tr, reg.Exists)
	eng.RecomputeRootEffective(account.UnavailableMask(cfg.AccountStore, cfg.CA != nil))

	wlog := cfg.Wlog
	if wlog == nil {
		wlog = cfg.Elog
	}
	s := &Server{
		Tr:          tr,
		Acl:         eng,
		Acct:        reg,
		Sessions:    session.NewManager(wlog),
		Subreqs:     subscribe.NewTable(),
		Groups:      subscribe.NewRegistry(),
		SyncIns:     syncin.NewTable(),
		Plugins:     cfg.Plugins,
		Backend:     cfg.Backend,
		Dlog:        cfg.Dlog,
		Elog:        cfg.Elog,
		Wlog:        wlog,
		conns:       make(map[string]*Conn),
		events:      make(chan event, 64),
		daemon:      cfg.Daemon,
		acctStore:   cfg.AccountStore,
		ca:          cfg.CA,
		chatEnabled: cfg.ChatEnabled,
	}
	tr.SetDetachHook(s.onNoteDetached)
	return s
}

// Listen opens the Unix-domain listener at path, or adopts a
// systemd-activated socket when one is present.
func Listen(path string) (*net.UnixListener, error) {
	listeners, err := activation.Listeners()
	if err == nil {
		for _, l := range listeners {
			if ul, ok := l.(*net.UnixListener); ok {
				return ul, nil
			}
		}
	}
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, err
	}
	return net.ListenUnix("unix", addr)
}

// Serve accepts connections on l until it errors, spawning a reader
// goroutine per connection. It blocks; call in its own goroutine
// alongside Run.
func (s *Server) Serve(l *net.UnixListener) error {
	for {
		nc, err := l.AcceptUnix()
		if err != nil {
			return err
		}
		c := newConn(nc)
		s.events <- event{kind: evConnect, conn: c}
		go s.readLoop(c)
	}
}

func (s *Server) readLoop(c *Conn) {
	for {
		env, err := c.read()
		if err != nil {
			s.events <- event{kind: evDisconnect, conn: c}
			return
		}
		s.events <- event{kind: evMessage, conn: c, env: env}
	}
}

// Run is the single event loop driving every directory mutation. It
// never returns until stop is closed.
func (s *Server) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case ev := <-s.events:
			s.handleEvent(ev)
		case <-ticker.C:
			s.sweepIdle()
		case <-stop:
			return
		}
	}
}

type evKind int

const (
	evConnect evKind = iota
	evDisconnect
	evMessage
)

type event struct {
	kind evKind
	conn *Conn
	env  proto.Envelope
}
