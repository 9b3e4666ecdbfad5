// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gobby/infinoted/acl"
	"github.com/gobby/infinoted/direrr"
)

// FSBackend is a reference persistent storage backend that lays the
// directory tree out on disk: subdirectories are directories, notes
// are regular files, and metadata (plugin id, ACL) lives in sidecar
// YAML files next to the node they describe.
type FSBackend struct {
	Root string
}

// NewFSBackend returns a Backend rooted at root, which must already
// exist.
func NewFSBackend(root string) *FSBackend {
	return &FSBackend{Root: root}
}

func (b *FSBackend) abs(path string) string {
	return filepath.Join(b.Root, filepath.FromSlash(path))
}

type nodeMeta struct {
	Kind   string         `yaml:"kind"`
	Plugin string         `yaml:"plugin,omitempty"`
	Acl    []aclEntryYAML `yaml:"acl,omitempty"`
}

type aclEntryYAML struct {
	Account string `yaml:"account"`
	Mask    uint64 `yaml:"mask"`
	Perms   uint64 `yaml:"perms"`
}

func metaPath(nodePath string) string {
	dir, name := filepath.Split(nodePath)
	return filepath.Join(dir, "."+name+".meta.yaml")
}

func (b *FSBackend) readMeta(path string) (nodeMeta, error) {
	var m nodeMeta
	f, err := os.Open(b.abs(metaPath(path)))
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return m, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&m); err != nil {
		return m, err
	}
	return m, nil
}

func (b *FSBackend) writeMeta(path string, m nodeMeta) error {
	f, err := os.Create(b.abs(metaPath(path)))
	if err != nil {
		return err
	}
	defer f.Close()
	enc := yaml.NewEncoder(f)
	defer enc.Close()
	return enc.Encode(&m)
}

func (b *FSBackend) ReadSubdirectory(path string) ([]ChildEntry, error) {
	entries, err := os.ReadDir(b.abs(path))
	if err != nil {
		return nil, err
	}
	var out []ChildEntry
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		childPath := filepath.ToSlash(filepath.Join(path, e.Name()))
		if e.IsDir() {
			out = append(out, ChildEntry{Name: e.Name(), Kind: ChildSubdirectory})
			continue
		}
		meta, _ := b.readMeta(childPath)
		out = append(out, ChildEntry{Name: e.Name(), Kind: ChildNote, PluginID: meta.Plugin})
	}
	return out, nil
}

func (b *FSBackend) CreateSubdirectory(path string) error {
	if err := os.MkdirAll(b.abs(path), 0o755); err != nil {
		return err
	}
	return b.writeMeta(path, nodeMeta{Kind: "subdirectory"})
}

func (b *FSBackend) RemoveNode(pluginID, path string) error {
	full := b.abs(path)
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return direrr.NewNoSuchNode(path)
		}
		return err
	}
	if info.IsDir() {
		if err := os.RemoveAll(full); err != nil {
			return err
		}
	} else if err := os.Remove(full); err != nil {
		return err
	}
	os.Remove(b.abs(metaPath(path)))
	return nil
}

func (b *FSBackend) ReadAcl(path string) ([]AclEntry, error) {
	meta, err := b.readMeta(path)
	if err != nil {
		return nil, err
	}
	out := make([]AclEntry, 0, len(meta.Acl))
	for _, e := range meta.Acl {
		out = append(out, AclEntry{AccountID: e.Account, Mask: acl.Mask(e.Mask), Perms: acl.Mask(e.Perms)})
	}
	return out, nil
}

func (b *FSBackend) WriteAcl(path string, sheets acl.SheetSet) error {
	meta, err := b.readMeta(path)
	if err != nil {
		return err
	}
	meta.Acl = meta.Acl[:0]
	for acct, sheet := range sheets {
		meta.Acl = append(meta.Acl, aclEntryYAML{Account: acct, Mask: uint64(sheet.Mask), Perms: uint64(sheet.Perms)})
	}
	return b.writeMeta(path, meta)
}

func (b *FSBackend) SessionReader(path string) (io.ReadCloser, error) {
	return os.Open(b.abs(path))
}

func (b *FSBackend) SessionWriter(path string) (io.WriteCloser, error) {
	return os.Create(b.abs(path))
}
