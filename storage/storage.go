// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package storage defines the persistent storage backend interface
// the directory core drives, plus a filesystem-backed reference
// implementation. The core has no opinion on how a backend realizes
// the API; an on-disk tree and a SQL table are both valid.
package storage

import (
	"io"

	"github.com/gobby/infinoted/acl"
)

// ChildKind is reported by ReadSubdirectory for exploration.
type ChildKind int

const (
	ChildSubdirectory ChildKind = iota
	ChildNote
)

// ChildEntry describes one entry returned by ReadSubdirectory.
type ChildEntry struct {
	Name     string
	Kind     ChildKind
	PluginID string // set when Kind == ChildNote
}

// AclEntry is one row of a stored ACL.
type AclEntry struct {
	AccountID string
	Mask      acl.Mask
	Perms     acl.Mask
}

// Backend is the persistent storage API the directory drives. The
// directory never reaches into a backend's own storage medium
// directly; every access goes through this interface.
type Backend interface {
	ReadSubdirectory(path string) ([]ChildEntry, error)
	CreateSubdirectory(path string) error
	RemoveNode(pluginID, path string) error

	ReadAcl(path string) ([]AclEntry, error)
	WriteAcl(path string, sheets acl.SheetSet) error

	// SessionReader/SessionWriter open the byte stream backing a
	// note's session content; (de)serialization itself is delegated
	// fully to the plugin.
	SessionReader(path string) (io.ReadCloser, error)
	SessionWriter(path string) (io.WriteCloser, error)
}
