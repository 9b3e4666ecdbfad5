// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package acl

import "github.com/gobby/infinoted/tree"

// AccountExists reports whether an account id is known to the
// registry. The acl package depends on account only through this
// function type, so neither package imports the other.
type AccountExists func(accountID string) bool

// Engine holds per-node sheet sets and answers authorization checks by
// walking from a node to the root.
type Engine struct {
	tr            *tree.Tree
	sheets        map[int64]SheetSet
	queriedBy     map[int64]map[string]bool
	accountExists AccountExists

	// The root's ACL is stored in two forms: configured (as loaded
	// from storage, never altered by enforcement) and effective
	// (configured minus bits the server cannot fulfill).
	rootConfigured SheetSet
	rootEffective  SheetSet
}

// NewEngine constructs an Engine over tr. The root's configured sheet
// set is seeded so the default account covers every bit; the
// permission walk in Effective relies on that to always terminate
// with a full decision.
func NewEngine(tr *tree.Tree, accountExists AccountExists) *Engine {
	e := &Engine{
		tr:            tr,
		sheets:        make(map[int64]SheetSet),
		queriedBy:     make(map[int64]map[string]bool),
		accountExists: accountExists,
	}
	e.rootConfigured = SheetSet{
		"default": {Mask: ALL, Perms: DEFAULT},
	}
	e.rootEffective = e.rootConfigured.Clone()
	return e
}

// SetRootConfigured installs a freshly-loaded root ACL (e.g. from
// storage at startup) and recomputes the effective form.
func (e *Engine) SetRootConfigured(sheets SheetSet, unavailable Mask) {
	merged := e.rootConfigured.Merge(sheets)
	if merged["default"].Mask&ALL != ALL {
		// The root default sheet must always decide every bit; fill
		// any gap left by a partial load with the built-in default.
		d := merged["default"]
		missing := ALL &^ d.Mask
		d.Perms |= DEFAULT & missing
		d.Mask |= ALL
		merged["default"] = d
	}
	e.rootConfigured = merged
	e.RecomputeRootEffective(unavailable)
}

// RecomputeRootEffective clears bits the server cannot currently
// fulfil (e.g. can_create_account with no signing key installed) from
// the root's effective form, used by authorization and announcements.
func (e *Engine) RecomputeRootEffective(unavailable Mask) {
	eff := e.rootConfigured.Clone()
	for acct, sheet := range eff {
		sheet.Perms &^= unavailable
		eff[acct] = sheet
	}
	e.rootEffective = eff
}

// RootConfigured returns the root's configured sheet set (writes
// target this form).
func (e *Engine) RootConfigured() SheetSet { return e.rootConfigured.Clone() }

// sheetSetFor returns the raw sheet set stored for a node (root uses
// the effective form).
func (e *Engine) sheetSetFor(n *tree.Node) SheetSet {
	if n.ID == tree.RootID {
		return e.rootEffective
	}
	return e.sheets[n.ID]
}

// NodeSheetSet returns a copy of the sheet set explicitly stored on n
// (not walked/merged with ancestors).
func (e *Engine) NodeSheetSet(n *tree.Node) SheetSet {
	return e.sheetSetFor(n).Clone()
}

// Effective computes the effective permission mask for (node, account)
// by walking from node to the root, accumulating bits only where not
// yet decided. At each level the account's own sheet decides first and
// the "default" sheet decides the bits it leaves open.
func (e *Engine) Effective(n *tree.Node, accountID string) Mask {
	var decidedMask, perms Mask
	for cur := n; cur != nil; cur = cur.Parent {
		remaining := ALL &^ decidedMask
		if remaining == 0 {
			break
		}
		set := e.sheetSetFor(cur)
		// An erasure sheet decides nothing, like an absent one.
		if sheet, ok := set[accountID]; ok && !sheet.IsErasure() {
			applicable := sheet.Mask & remaining
			perms |= sheet.Perms & applicable
			decidedMask |= applicable
			remaining &^= applicable
		}
		sheet := set["default"]
		applicable := sheet.Mask & remaining
		perms |= sheet.Perms & applicable
		decidedMask |= applicable
	}
	return perms
}

// Check resolves the effective permission for (node, account) and
// reports whether every bit of required is granted.
func (e *Engine) Check(n *tree.Node, accountID string, required Mask) bool {
	return e.Effective(n, accountID)&required == required
}

// ApplyChange merges newSheets into n's stored sheet set and returns
// the resulting set. The root targets its configured form; callers
// must call RecomputeRootEffective separately if unavailable bits may
// have changed. The caller is responsible for running the enforcement
// pass afterward; that orchestration lives in the server package since
// it touches connections and sessions the acl package does not know
// about.
func (e *Engine) ApplyChange(n *tree.Node, newSheets SheetSet) SheetSet {
	if n.ID == tree.RootID {
		e.rootConfigured = e.rootConfigured.Merge(newSheets)
		e.rootEffective = e.rootEffective.Merge(newSheets)
		return e.rootEffective.Clone()
	}
	existing := e.sheets[n.ID]
	merged := existing.Merge(newSheets)
	e.sheets[n.ID] = merged
	return merged.Clone()
}

// Verify drops any sheet whose account id is unknown to the registry,
// returning the cleaned set and the set of removed sheets (for
// notification).
func (e *Engine) Verify(sheets SheetSet) (clean SheetSet, removed SheetSet) {
	clean = make(SheetSet)
	removed = make(SheetSet)
	for acct, sheet := range sheets {
		if acct == "default" || e.accountExists(acct) {
			clean[acct] = sheet
		} else {
			removed[acct] = sheet
		}
	}
	return clean, removed
}

// SheetsForConnection returns the subset of n's sheet set the server
// will disclose to a connection: the full set if the connection has
// successfully run query-acl on this node, otherwise just the default
// sheet and the connection's own account sheet.
func (e *Engine) SheetsForConnection(n *tree.Node, connID, accountID string) SheetSet {
	if e.HasQueried(n, connID) {
		return e.sheetSetFor(n).Clone()
	}
	out := make(SheetSet, 2)
	set := e.sheetSetFor(n)
	if d, ok := set["default"]; ok {
		out["default"] = d
	}
	if accountID != "default" {
		if s, ok := set[accountID]; ok {
			out[accountID] = s
		}
	}
	return out
}

// MarkQueried records that conn has been told n's full ACL.
func (e *Engine) MarkQueried(n *tree.Node, connID string) {
	m, ok := e.queriedBy[n.ID]
	if !ok {
		m = make(map[string]bool)
		e.queriedBy[n.ID] = m
	}
	m[connID] = true
}

// ClearQueried revokes conn's "told the full ACL" status on n.
func (e *Engine) ClearQueried(n *tree.Node, connID string) {
	if m, ok := e.queriedBy[n.ID]; ok {
		delete(m, connID)
	}
}

// HasQueried reports whether conn has successfully queried n's ACL.
func (e *Engine) HasQueried(n *tree.Node, connID string) bool {
	m, ok := e.queriedBy[n.ID]
	return ok && m[connID]
}

// RemoveNode drops all engine-side bookkeeping for a removed node.
func (e *Engine) RemoveNode(n *tree.Node) {
	delete(e.sheets, n.ID)
	delete(e.queriedBy, n.ID)
}

// PurgeAccount replaces every sheet referencing accountID, on every
// node's sheet set, with an erasure sheet (empty mask, see
// Sheet.IsErasure) rather than deleting the entry outright, so a
// subsequent NodeSheetSet/SheetsForConnection call still surfaces it
// and the removal reaches every connection that can see the node's
// ACL as a sheet whose mask is empty, not silence. Returns the node
// ids actually touched.
func (e *Engine) PurgeAccount(accountID string) []int64 {
	var touched []int64
	if _, ok := e.rootConfigured[accountID]; ok {
		e.rootConfigured[accountID] = Sheet{}
		e.rootEffective[accountID] = Sheet{}
		touched = append(touched, tree.RootID)
	}
	for id, set := range e.sheets {
		if id == tree.RootID {
			continue
		}
		if _, ok := set[accountID]; ok {
			set[accountID] = Sheet{}
			touched = append(touched, id)
		}
	}
	return touched
}
