// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package gobbyd holds the daemon-wide Context and Config types shared
// by every connection handler: one struct threads identity and loggers
// through a request, the other holds static daemon configuration.
package gobbyd

import (
	"log"
	"log/syslog"
	"os"
	"path/filepath"
)

// Context is handed to every server-side request handler: identity of
// the caller plus the daemon's shared loggers and config, threaded
// explicitly rather than reached for via a global. The server builds
// one per dispatched request.
type Context struct {
	AccountID string
	ConnID    string
	Config    *Config
	Dlog      *log.Logger
	Elog      *log.Logger
	Wlog      *log.Logger
}

// Config is the daemon's static configuration, populated from flags
// and an optional settings file (see cmd/infinoted).
type Config struct {
	Socket          string
	PidFile         string
	LogFile         string
	StorageRoot     string
	SettingsFile    string
	SignKeyFile     string
	SignCertFile    string
	IdleSaveSeconds int
}

// NewLogger returns a syslog-backed log.Logger tagged with the
// running binary's basename.
func NewLogger(p syslog.Priority, logFlag int) (*log.Logger, error) {
	tag := filepath.Base(os.Args[0])
	s, err := syslog.New(p, tag)
	if err != nil {
		return nil, err
	}
	return log.New(s, "", logFlag), nil
}

// DiscardLogger is used in tests and whenever syslog is unavailable.
func DiscardLogger() *log.Logger {
	return log.New(discardWriter{}, "", 0)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
