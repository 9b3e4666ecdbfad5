// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package plugin defines the capability interface note-type plugins
// implement, plus a registry of loaded plugins and one reference
// plugin ("text", see text.go).
//
// The operational-transform engine itself lives elsewhere; this
// package only defines the shapes (Operation.Transform/Apply/Revert/
// Copy/Flags) such an engine is handed.
package plugin

import (
	"io"

	"github.com/gobby/infinoted/direrr"
)

// OperationFlags carries the per-operation flags a transform engine
// consults.
type OperationFlags int

const (
	FlagNone OperationFlags = 0
	// FlagNeedConcurrencyID marks an operation whose transform rule
	// needs an externally supplied tie-breaker (e.g. insert-vs-insert).
	FlagNeedConcurrencyID OperationFlags = 1 << iota
)

// Session is the mutable content of a note plus enough surface for
// the directory to manage its lifecycle.
type Session interface {
	// Apply applies op to the session's content, attributed to author.
	Apply(op Operation, author string) error
	// Idle reports whether the session has seen no activity recently.
	Idle() bool
}

// Operation is a single edit operation. The transform engine consumes
// these via Transform; the directory only needs Apply/Revert/Copy/
// Flags to support save-on-idle and undo.
type Operation interface {
	Apply(s Session) error
	// Transform rewrites the receiver against a concurrently applied
	// operation "against", using concurrencyID as a tie-breaker when
	// NeedConcurrencyID reports one is needed.
	Transform(against Operation, concurrencyID int) (Operation, error)
	Revert() Operation
	Copy() Operation
	Flags() OperationFlags
	NeedConcurrencyID() bool
}

// Plugin is the per-note-type capability set.
type Plugin interface {
	TypeTag() string
	CreateEmpty() Session
	Read(r io.Reader) (Session, error)
	Write(w io.Writer, s Session) error
	// DecodeOperation builds an Operation from the generic wire shape
	// used by proto.ApplyOperation (kind, position, chunk,
	// concurrency id), keeping the server package ignorant of any
	// plugin's concrete operation types.
	DecodeOperation(kind string, position int, chunk string, concurrencyID int) (Operation, error)
}

// Registry is an explicit, constructed table of well-known plugins,
// passed through construction wherever it is needed; there is no
// global plugin state.
type Registry struct {
	byTag map[string]Plugin
}

// NewRegistry returns an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{byTag: make(map[string]Plugin)}
}

// Register adds p to the registry, keyed by its type tag.
func (r *Registry) Register(p Plugin) {
	r.byTag[p.TypeTag()] = p
}

// Get looks up a plugin by its wire type tag.
func (r *Registry) Get(typeTag string) (Plugin, bool) {
	p, ok := r.byTag[typeTag]
	return p, ok
}

// MustGet is Get but returns a direrr.Error for the type-unknown case,
// used by the node-creation path.
func (r *Registry) MustGet(typeTag string) (Plugin, error) {
	p, ok := r.byTag[typeTag]
	if !ok {
		return nil, direrr.NewTypeUnknown(typeTag)
	}
	return p, nil
}
