// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package acl implements the directory's ACL engine: per-node sheet
// sets keyed by account id, mask/perms bit algebra with inheritance of
// the default sheet, and the authorization check every remote request
// goes through.
package acl

import "math/bits"

// Mask is a bitmask over the fixed permission enumeration.
type Mask uint64

const (
	CanExploreNode Mask = 1 << iota
	CanSubscribeSession
	CanJoinUser
	CanQueryUserList
	CanSetAcl
	CanQueryAcl
	CanAddSubdirectory
	CanAddDocument
	CanSyncIn
	CanRemoveNode
	CanSubscribeChat
	CanQueryAccountList
	CanCreateAccount
	CanOverrideAccount
	CanRemoveAccount

	numPermissions = 15
)

// ALL is every permission bit.
const ALL Mask = (1 << numPermissions) - 1

// ROOT is the subset of bits that only apply to the root node.
const ROOT Mask = CanQueryAccountList | CanCreateAccount | CanOverrideAccount | CanRemoveAccount

// SUBDIRECTORY is the subset of bits that only apply to subdirectories.
const SUBDIRECTORY Mask = CanExploreNode | CanAddSubdirectory | CanAddDocument | CanSyncIn

// DEFAULT is the set of bits on for the default user on the root.
const DEFAULT Mask = CanExploreNode | CanSubscribeSession | CanJoinUser | CanQueryUserList |
	CanAddSubdirectory | CanAddDocument | CanSyncIn | CanSubscribeChat

// Names maps each bit to its wire name.
var Names = map[Mask]string{
	CanExploreNode:      "can_explore_node",
	CanSubscribeSession: "can_subscribe_session",
	CanJoinUser:         "can_join_user",
	CanQueryUserList:    "can_query_user_list",
	CanSetAcl:           "can_set_acl",
	CanQueryAcl:         "can_query_acl",
	CanAddSubdirectory:  "can_add_subdirectory",
	CanAddDocument:      "can_add_document",
	CanSyncIn:           "can_sync_in",
	CanRemoveNode:       "can_remove_node",
	CanSubscribeChat:    "can_subscribe_chat",
	CanQueryAccountList: "can_query_account_list",
	CanCreateAccount:    "can_create_account",
	CanOverrideAccount:  "can_override_account",
	CanRemoveAccount:    "can_remove_account",
}

// NameOf returns the wire name for a single-bit mask, or "" if m is
// not exactly one recognized bit.
func NameOf(m Mask) string {
	if bits.OnesCount64(uint64(m)) != 1 {
		return ""
	}
	return Names[m]
}

// Sheet is a (mask, perms) pair: mask marks which bits this sheet
// decides, perms carries the decision for those bits. Perms bits
// outside the mask are ignored.
type Sheet struct {
	Mask  Mask
	Perms Mask
}

// Merge combines two sheets so that b overrides a for the bits b
// decides.
func (a Sheet) Merge(b Sheet) Sheet {
	return Sheet{
		Mask:  a.Mask | b.Mask,
		Perms: (a.Perms &^ b.Mask) | (b.Perms & b.Mask),
	}
}

// IsErasure reports whether this sheet signals removal (empty mask),
// the convention used for account-removal cleanup announcements.
func (s Sheet) IsErasure() bool { return s.Mask == 0 }

// SheetSet is a collection of sheets keyed by account id, at most one
// sheet per account.
type SheetSet map[string]Sheet

// Clone returns a deep copy of s.
func (s SheetSet) Clone() SheetSet {
	out := make(SheetSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge combines two sheet sets per-account: mask_out = a|b,
// perms_out = (a&^b.mask)|(b.perms&b.mask); the second set overrides
// for the bits it decides.
func (a SheetSet) Merge(b SheetSet) SheetSet {
	out := make(SheetSet, len(a)+len(b))
	for acct, sheet := range a {
		out[acct] = sheet
	}
	for acct, sheet := range b {
		if existing, ok := out[acct]; ok {
			out[acct] = existing.Merge(sheet)
		} else {
			out[acct] = sheet
		}
	}
	return out
}
