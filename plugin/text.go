// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package plugin

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gobby/infinoted/direrr"
)

// TextTypeTag is the wire type tag for the reference note plugin.
const TextTypeTag = "InfText"

// char is a single codepoint tagged with its author.
type char struct {
	r      rune
	author string
}

// TextSession is the text plugin's session content.
type TextSession struct {
	mu   sync.Mutex
	buf  []char
	idle bool
}

// NewTextSession returns an empty text session.
func NewTextSession() *TextSession {
	return &TextSession{idle: true}
}

// Len returns the number of codepoints currently in the buffer.
func (s *TextSession) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// String returns the buffer's current text content.
func (s *TextSession) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, c := range s.buf {
		b.WriteRune(c.r)
	}
	return b.String()
}

// Authors returns the per-position author tags.
func (s *TextSession) Authors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.buf))
	for i, c := range s.buf {
		out[i] = c.author
	}
	return out
}

// Idle implements plugin.Session.
func (s *TextSession) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

func (s *TextSession) setIdle(v bool) {
	s.mu.Lock()
	s.idle = v
	s.mu.Unlock()
}

// Apply implements plugin.Session by dispatching to the operation.
func (s *TextSession) Apply(op Operation, author string) error {
	s.setIdle(false)
	switch o := op.(type) {
	case *InsertOp:
		return s.applyInsert(o, author)
	case *DeleteOp:
		return s.applyDelete(o)
	case *SplitOp:
		if err := s.Apply(o.First, author); err != nil {
			return err
		}
		return s.Apply(o.Second, author)
	default:
		return direrr.NewOperationUnsupported()
	}
}

func (s *TextSession) applyInsert(op *InsertOp, author string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op.Position > len(s.buf) {
		return direrr.NewInvalidInsert()
	}
	chunk := make([]char, len(op.Chunk))
	for i, r := range op.Chunk {
		chunk[i] = char{r: r, author: author}
	}
	s.buf = append(s.buf[:op.Position:op.Position], append(chunk, s.buf[op.Position:]...)...)
	return nil
}

func (s *TextSession) applyDelete(op *DeleteOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := op.Position + len(op.Chunk)
	if op.Position < 0 || end > len(s.buf) {
		return direrr.NewInconsistentDelete()
	}
	for i, r := range op.Chunk {
		if s.buf[op.Position+i].r != r {
			return direrr.NewInconsistentDelete()
		}
	}
	s.buf = append(s.buf[:op.Position:op.Position], s.buf[end:]...)
	return nil
}

// InsertOp inserts Chunk at Position.
type InsertOp struct {
	Position      int
	Chunk         []rune
	ConcurrencyID int
}

func (op *InsertOp) Apply(s Session) error { return s.Apply(op, "") }

// Transform implements insert-vs-insert (tie-broken by concurrency
// id) and insert-vs-delete (shift by deleted chars before position).
func (op *InsertOp) Transform(against Operation, concurrencyID int) (Operation, error) {
	switch o := against.(type) {
	case *InsertOp:
		pos := op.Position
		if o.Position < pos || (o.Position == pos && o.ConcurrencyID < concurrencyID) {
			pos += len(o.Chunk)
		}
		return &InsertOp{Position: pos, Chunk: op.Chunk, ConcurrencyID: op.ConcurrencyID}, nil
	case *DeleteOp:
		pos := op.Position
		deletedBefore := overlapBefore(o.Position, len(o.Chunk), pos)
		pos -= deletedBefore
		return &InsertOp{Position: pos, Chunk: op.Chunk, ConcurrencyID: op.ConcurrencyID}, nil
	default:
		return nil, direrr.NewOperationUnsupported()
	}
}

// Revert returns the inverse of an insert: a delete of the same chunk.
func (op *InsertOp) Revert() Operation {
	return &DeleteOp{Position: op.Position, Chunk: op.Chunk}
}

func (op *InsertOp) Copy() Operation {
	chunk := make([]rune, len(op.Chunk))
	copy(chunk, op.Chunk)
	return &InsertOp{Position: op.Position, Chunk: chunk, ConcurrencyID: op.ConcurrencyID}
}

func (op *InsertOp) Flags() OperationFlags   { return FlagNeedConcurrencyID }
func (op *InsertOp) NeedConcurrencyID() bool { return true }

// DeleteOp deletes Chunk at Position; apply fails unless the buffer's
// current content there equals Chunk.
type DeleteOp struct {
	Position int
	Chunk    []rune
}

func (op *DeleteOp) Apply(s Session) error { return s.Apply(op, "") }

// Transform implements delete-vs-insert (splits the deletion around
// the insertion point) and delete-vs-delete (shrinks around overlap).
func (op *DeleteOp) Transform(against Operation, concurrencyID int) (Operation, error) {
	switch o := against.(type) {
	case *InsertOp:
		pos := op.Position
		if o.Position <= pos {
			pos += len(o.Chunk)
			return &DeleteOp{Position: pos, Chunk: op.Chunk}, nil
		}
		splitAt := o.Position - op.Position
		if splitAt >= len(op.Chunk) {
			return &DeleteOp{Position: pos, Chunk: op.Chunk}, nil
		}
		// The insertion lands inside the deleted range: split the
		// deletion around the inserted text. The second half is
		// deleted first so the first half's position stays valid.
		before := append([]rune{}, op.Chunk[:splitAt]...)
		after := append([]rune{}, op.Chunk[splitAt:]...)
		return &SplitOp{
			First:  &DeleteOp{Position: pos + splitAt + len(o.Chunk), Chunk: after},
			Second: &DeleteOp{Position: pos, Chunk: before},
		}, nil
	case *DeleteOp:
		pos, chunk := op.Position, op.Chunk
		oEnd := o.Position + len(o.Chunk)
		selfEnd := pos + len(chunk)
		if oEnd <= pos {
			return &DeleteOp{Position: pos - len(o.Chunk), Chunk: chunk}, nil
		}
		if o.Position >= selfEnd {
			return &DeleteOp{Position: pos, Chunk: chunk}, nil
		}
		// Overlapping deletes: keep only the part of our chunk that
		// the other delete did not also remove.
		var kept []rune
		if o.Position > pos {
			kept = append(kept, chunk[:o.Position-pos]...)
		}
		if oEnd < selfEnd {
			kept = append(kept, chunk[oEnd-pos:]...)
		}
		newPos := pos
		if pos > o.Position {
			newPos = o.Position
		}
		return &DeleteOp{Position: newPos, Chunk: kept}, nil
	default:
		return nil, direrr.NewOperationUnsupported()
	}
}

func overlapBefore(delPos, delLen, before int) int {
	end := delPos + delLen
	if end <= before {
		return delLen
	}
	if delPos >= before {
		return 0
	}
	return before - delPos
}

// Revert returns the inverse of a delete: re-inserting the same chunk.
func (op *DeleteOp) Revert() Operation {
	return &InsertOp{Position: op.Position, Chunk: op.Chunk}
}

func (op *DeleteOp) Copy() Operation {
	chunk := make([]rune, len(op.Chunk))
	copy(chunk, op.Chunk)
	return &DeleteOp{Position: op.Position, Chunk: chunk}
}

func (op *DeleteOp) Flags() OperationFlags   { return FlagNone }
func (op *DeleteOp) NeedConcurrencyID() bool { return false }

// SplitOp is a compound operation produced when a transform has to
// split a deletion around concurrently inserted text. First is
// applied before Second; First always targets the later buffer
// positions so Second's position stays valid.
type SplitOp struct {
	First  Operation
	Second Operation
}

func (op *SplitOp) Apply(s Session) error {
	if err := op.First.Apply(s); err != nil {
		return err
	}
	return op.Second.Apply(s)
}

func (op *SplitOp) Transform(against Operation, concurrencyID int) (Operation, error) {
	first, err := op.First.Transform(against, concurrencyID)
	if err != nil {
		return nil, err
	}
	second, err := op.Second.Transform(against, concurrencyID)
	if err != nil {
		return nil, err
	}
	return &SplitOp{First: first, Second: second}, nil
}

// Revert undoes both halves in reverse order.
func (op *SplitOp) Revert() Operation {
	return &SplitOp{First: op.Second.Revert(), Second: op.First.Revert()}
}

func (op *SplitOp) Copy() Operation {
	return &SplitOp{First: op.First.Copy(), Second: op.Second.Copy()}
}

func (op *SplitOp) Flags() OperationFlags { return op.First.Flags() | op.Second.Flags() }
func (op *SplitOp) NeedConcurrencyID() bool {
	return op.First.NeedConcurrencyID() || op.Second.NeedConcurrencyID()
}

// TextPlugin implements plugin.Plugin for the "text" note type.
type TextPlugin struct{}

func (TextPlugin) TypeTag() string      { return TextTypeTag }
func (TextPlugin) CreateEmpty() Session { return NewTextSession() }

func (TextPlugin) Read(r io.Reader) (Session, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("text plugin: read session: %w", err)
	}
	s := NewTextSession()
	for _, rn := range string(raw) {
		s.buf = append(s.buf, char{r: rn, author: "default"})
	}
	return s, nil
}

// DecodeOperation implements Plugin for the text type: "insert" and
// "delete" are the only two wire op kinds.
func (TextPlugin) DecodeOperation(kind string, position int, chunk string, concurrencyID int) (Operation, error) {
	switch kind {
	case "insert":
		return &InsertOp{Position: position, Chunk: []rune(chunk), ConcurrencyID: concurrencyID}, nil
	case "delete":
		return &DeleteOp{Position: position, Chunk: []rune(chunk)}, nil
	default:
		return nil, direrr.NewOperationUnsupported()
	}
}

func (TextPlugin) Write(w io.Writer, sess Session) error {
	ts, ok := sess.(*TextSession)
	if !ok {
		return direrr.NewOperationUnsupported()
	}
	_, err := io.WriteString(w, ts.String())
	return err
}
