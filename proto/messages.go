// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: MPL-2.0

// Package proto defines the wire messages exchanged between server
// and client, realized as tagged JSON envelopes: one struct per
// message, each carrying an explicit "element" discriminator so a
// single decode can dispatch on it. The set is asymmetric; it carries
// server-initiated announcements as well as request/reply pairs.
package proto

import "encoding/json"

// Envelope is the outer frame every message is wrapped in: Element
// names which concrete payload Body holds. Seq echoes the client's
// request seq on every response, including asynchronous failure.
type Envelope struct {
	Element string          `json:"element"`
	Seq     int64           `json:"seq,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// Element name constants, one per message.
const (
	ElemWelcome               = "welcome"
	ElemExploreNode           = "explore-node"
	ElemExploreBegin          = "explore-begin"
	ElemAddNode               = "add-node"
	ElemExploreEnd            = "explore-end"
	ElemRemoveNode            = "remove-node"
	ElemSubscribeSession      = "subscribe-session"
	ElemSubscribeChat         = "subscribe-chat"
	ElemSubscribeAck          = "subscribe-ack"
	ElemSubscribeNack         = "subscribe-nack"
	ElemSyncIn                = "sync-in"
	ElemSaveSession           = "save-session"
	ElemSavedSession          = "saved-session"
	ElemSaveSessionInProgress = "save-session-in-progress"
	ElemQueryAclAccountList   = "query-acl-account-list"
	ElemAclAccountListBegin   = "acl-account-list-begin"
	ElemAddAclAccount         = "add-acl-account"
	ElemAclAccountListEnd     = "acl-account-list-end"
	ElemLookupAclAccounts     = "lookup-acl-accounts"
	ElemCreateAclAccount      = "create-acl-account"
	ElemRemoveAclAccount      = "remove-acl-account"
	ElemChangeAclAccount      = "change-acl-account"
	ElemQueryAcl              = "query-acl"
	ElemSetAcl                = "set-acl"
	ElemRequestFailed         = "request-failed"
	ElemApplyOperation        = "apply-operation" // session-group traffic: text insert/delete
)

// TypeSubdirectory is the wire type tag for subdirectory nodes in
// add-node and explore replies. Note types carry their plugin's own
// tag (e.g. "InfText") instead.
const TypeSubdirectory = "InfSubdirectory"

// Sheet is one ACL sheet on the wire; mask and perms travel as 64-bit
// integers.
type Sheet struct {
	Account string `json:"account"`
	Mask    uint64 `json:"mask"`
	Perms   uint64 `json:"perms"`
}

// Welcome is the mandatory first server-to-client message.
type Welcome struct {
	ProtocolVersion string  `json:"protocol-version"`
	SequenceID      string  `json:"sequence-id"`
	Account         *string `json:"account,omitempty"`
	RootAcl         []Sheet `json:"root-acl,omitempty"`
}

// ExploreNode is a request to list a subdirectory's children.
type ExploreNode struct {
	ID int64 `json:"id"`
}

// ExploreBegin opens the explore-node reply sequence.
type ExploreBegin struct {
	Total int `json:"total"`
}

// AddNode is both the explore-node reply item and the client's
// add-node request.
type AddNode struct {
	ID        int64      `json:"id"`
	Parent    int64      `json:"parent"`
	Type      string     `json:"type"`
	Name      string     `json:"name"`
	Acl       []Sheet    `json:"acl,omitempty"`
	Subscribe *Subscribe `json:"subscribe,omitempty"`
	SyncIn    bool       `json:"sync-in,omitempty"`
}

// Subscribe is the optional add-node/sync-in subscribe sub-element.
type Subscribe struct {
	Group  string `json:"group,omitempty"`
	Method string `json:"method,omitempty"`
}

// ExploreEnd closes the explore-node reply sequence.
type ExploreEnd struct{}

// RemoveNode announces or requests removal of a node.
type RemoveNode struct {
	ID int64 `json:"id"`
}

// SubscribeSession is both request and reply: the request carries
// only ID; the reply adds Group/Method.
type SubscribeSession struct {
	ID     int64  `json:"id"`
	Group  string `json:"group,omitempty"`
	Method string `json:"method,omitempty"`
}

// SubscribeChat is both request and reply.
type SubscribeChat struct {
	Group  string `json:"group,omitempty"`
	Method string `json:"method,omitempty"`
}

// SubscribeAck/SubscribeNack complete a subreq handshake.
type SubscribeAck struct {
	ID *int64 `json:"id,omitempty"`
}

type SubscribeNack struct {
	ID *int64 `json:"id,omitempty"`
}

// SyncIn requests an inbound session synchronization. Subscribe marks
// the variant where the same group doubles as the post-sync
// subscription group.
type SyncIn struct {
	ID        int64   `json:"id"`
	Parent    int64   `json:"parent"`
	Type      string  `json:"type"`
	Name      string  `json:"name"`
	Group     string  `json:"group"`
	Method    string  `json:"method"`
	Subscribe bool    `json:"subscribe,omitempty"`
	Acl       []Sheet `json:"acl,omitempty"`
}

// SaveSession asks the server to flush a session to storage now.
type SaveSession struct {
	ID int64 `json:"id"`
}

type SavedSession struct {
	ID int64 `json:"id"`
}

type SaveSessionInProgress struct {
	ID int64 `json:"id"`
}

// QueryAclAccountList requests the full account list.
type QueryAclAccountList struct{}

type AclAccountListBegin struct {
	Total                int  `json:"total"`
	NotificationsEnabled bool `json:"notifications-enabled"`
}

type AddAclAccount struct {
	ID   string  `json:"id"`
	Name *string `json:"name,omitempty"`
}

type AclAccountListEnd struct{}

// LookupAclAccounts requests accounts matching any of IDs/Names.
type LookupAclAccounts struct {
	IDs   []string `json:"ids,omitempty"`
	Names []string `json:"names,omitempty"`
}

// LookupAclAccountsReply carries one Account element per match.
type LookupAclAccountsReply struct {
	Accounts []AccountInfo `json:"accounts"`
}

// AccountInfo is the account element of lookup and create replies.
type AccountInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// CreateAclAccount carries a PEM-encoded certificate signing request.
type CreateAclAccount struct {
	Crq string `json:"crq"`
}

// CreateAclAccountReply carries the signed certificate and new account.
type CreateAclAccountReply struct {
	Certificate string      `json:"certificate"`
	Account     AccountInfo `json:"account"`
}

// RemoveAclAccount is both request and server-initiated notification.
type RemoveAclAccount struct {
	ID string `json:"id"`
}

// ChangeAclAccount is a server-initiated notification that the
// connection's effective account changed, carrying the account's own
// sheet for every node the client currently has visible.
type ChangeAclAccount struct {
	ID  string         `json:"id"`
	Acl []NodeAclEntry `json:"acl"`
}

// NodeAclEntry is one per-node ACL entry of a change-acl-account
// notification.
type NodeAclEntry struct {
	NodeID int64  `json:"node-id"`
	Mask   uint64 `json:"mask"`
	Perms  uint64 `json:"perms"`
}

// QueryAcl / SetAcl share shape for request and notification.
type QueryAcl struct {
	ID int64 `json:"id"`
}

type SetAcl struct {
	ID     int64   `json:"id"`
	Sheets []Sheet `json:"sheets"`
}

// RequestFailed reports a failed request. Message is human-readable
// ("Permission denied"); Attribute names whatever the code refers to,
// e.g. the denied ACL permission for not-authorized.
type RequestFailed struct {
	Domain    string `json:"domain"`
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
	Attribute string `json:"attribute,omitempty"`
	Seq       int64  `json:"seq"`
}

// ApplyOperation carries a single text operation over a subscription
// group. Fields are shared across operation kinds; the transform
// engine itself lives behind the plugin boundary.
type ApplyOperation struct {
	NodeID        int64  `json:"node-id"`
	Author        string `json:"author"`
	OpKind        string `json:"op-kind"` // "insert" or "delete"
	Position      int    `json:"position"`
	Chunk         string `json:"chunk"`
	ConcurrencyID int    `json:"concurrency-id,omitempty"`
}

// Marshal wraps a payload into an Envelope with the given element name
// and seq.
func Marshal(element string, seq int64, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Element: element, Seq: seq, Body: raw}, nil
}

// Unmarshal decodes an Envelope's Body into dst.
func (e Envelope) Unmarshal(dst interface{}) error {
	return json.Unmarshal(e.Body, dst)
}
