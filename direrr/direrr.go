// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package direrr implements the domain-prefixed error kinds of the
// directory protocol: a stable, wire-marshallable error type with
// named constructors, rather than ad-hoc fmt.Errorf calls scattered
// across the core.
package direrr

import "fmt"

// Domain identifies which half of the protocol produced the error.
type Domain string

const (
	DomainDirectory Domain = "directory"
	DomainRequest   Domain = "request"
)

// Code is a stable error code; codes never change across protocol
// versions.
type Code string

const (
	NoSuchNode            Code = "no-such-node"
	NotASubdirectory      Code = "not-a-subdirectory"
	NotANote              Code = "not-a-note"
	AlreadyExplored       Code = "already-explored"
	NotInitiated          Code = "not-initiated"
	TooManyChildren       Code = "too-many-children"
	TooFewChildren        Code = "too-few-children"
	NodeExists            Code = "node-exists"
	InvalidName           Code = "invalid-name"
	TypeUnknown           Code = "type-unknown"
	AlreadySubscribed     Code = "already-subscribed"
	Unsubscribed          Code = "unsubscribed"
	UnexpectedSyncIn      Code = "unexpected-sync-in"
	NoSuchSubscriptionReq Code = "no-such-subscription-request"
	SubscriptionRejected  Code = "subscription-rejected"
	NoWelcomeMessage      Code = "no-welcome-message"
	VersionMismatch       Code = "version-mismatch"
	MethodUnsupported     Code = "method-unsupported"
	UnexpectedMessage     Code = "unexpected-message"
	NoStorage             Code = "no-storage"
	ChatDisabled          Code = "chat-disabled"
	NoSuchAccount         Code = "no-such-account"
	DuplicateAccount      Code = "duplicate-account"
	InvalidCertificate    Code = "invalid-certificate"
	OperationUnsupported  Code = "operation-unsupported"
	RootNodeRemoveAttempt Code = "root-node-remove-attempt"
	AclAlreadyQueried     Code = "acl-already-queried"
	AclNotQueried         Code = "acl-not-queried"

	NotAuthorized    Code = "not-authorized"
	NoSuchAttribute  Code = "no-such-attribute"
	InvalidSeq       Code = "invalid-seq"
	ReplyUnprocessed Code = "reply-unprocessed"
	UnknownDomain    Code = "unknown-domain"
	Disconnected     Code = "disconnected"

	// InvalidInsert is a text-plugin specific boundary error.
	InvalidInsert Code = "invalid-insert"
	// InconsistentDelete fires when a delete's chunk doesn't match content.
	InconsistentDelete Code = "inconsistent-delete"
)

// Error is the structured application error returned by every core
// operation. It renders directly into a request-failed message.
type Error struct {
	Domain  Domain
	Code    Code
	Message string
	Path    string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s/%s: %s (%s)", e.Domain, e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%s/%s: %s", e.Domain, e.Code, e.Message)
}

func dir(code Code, msg string) *Error {
	return &Error{Domain: DomainDirectory, Code: code, Message: msg}
}

func req(code Code, msg string) *Error {
	return &Error{Domain: DomainRequest, Code: code, Message: msg}
}

func NewNoSuchNode(path string) *Error {
	e := dir(NoSuchNode, "no such node")
	e.Path = path
	return e
}

func NewNotASubdirectory(path string) *Error {
	e := dir(NotASubdirectory, "node is not a subdirectory")
	e.Path = path
	return e
}

func NewNotANote(path string) *Error {
	e := dir(NotANote, "node is not a note")
	e.Path = path
	return e
}

func NewAlreadyExplored(path string) *Error {
	e := dir(AlreadyExplored, "subdirectory already explored")
	e.Path = path
	return e
}

func NewNotInitiated() *Error {
	return dir(NotInitiated, "session has not been initiated")
}

func NewTooManyChildren(path string) *Error {
	e := dir(TooManyChildren, "too many children")
	e.Path = path
	return e
}

func NewTooFewChildren(path string) *Error {
	e := dir(TooFewChildren, "too few children")
	e.Path = path
	return e
}

func NewNodeExists(name string) *Error {
	e := dir(NodeExists, "a node with this name already exists")
	e.Path = name
	return e
}

func NewInvalidName(name string) *Error {
	e := dir(InvalidName, "invalid node name")
	e.Path = name
	return e
}

func NewTypeUnknown(typ string) *Error {
	e := dir(TypeUnknown, "unknown note type")
	e.Path = typ
	return e
}

func NewAlreadySubscribed() *Error {
	return dir(AlreadySubscribed, "connection is already subscribed")
}

func NewUnsubscribed() *Error {
	return dir(Unsubscribed, "connection is not subscribed")
}

func NewUnexpectedSyncIn() *Error {
	return dir(UnexpectedSyncIn, "unexpected sync-in")
}

func NewNoSuchSubscriptionRequest() *Error {
	return dir(NoSuchSubscriptionReq, "no such subscription request")
}

func NewSubscriptionRejected() *Error {
	return dir(SubscriptionRejected, "subscription was rejected by the client")
}

func NewNoWelcomeMessage() *Error {
	return dir(NoWelcomeMessage, "no welcome message received")
}

func NewVersionMismatch() *Error {
	return dir(VersionMismatch, "protocol version mismatch")
}

func NewMethodUnsupported(method string) *Error {
	e := dir(MethodUnsupported, "subscription method unsupported")
	e.Path = method
	return e
}

func NewUnexpectedMessage(name string) *Error {
	e := dir(UnexpectedMessage, "unexpected message")
	e.Path = name
	return e
}

func NewNoStorage() *Error {
	return dir(NoStorage, "no storage backend configured")
}

func NewChatDisabled() *Error {
	return dir(ChatDisabled, "chat is disabled")
}

func NewNoSuchAccount(id string) *Error {
	e := dir(NoSuchAccount, "no such account")
	e.Path = id
	return e
}

func NewDuplicateAccount(name string) *Error {
	e := dir(DuplicateAccount, "an account with this name already exists")
	e.Path = name
	return e
}

func NewInvalidCertificate(msg string) *Error {
	return dir(InvalidCertificate, "invalid certificate: "+msg)
}

func NewOperationUnsupported() *Error {
	return dir(OperationUnsupported, "operation unsupported by backend")
}

func NewRootNodeRemoveAttempt() *Error {
	return dir(RootNodeRemoveAttempt, "the root node cannot be removed")
}

func NewAclAlreadyQueried() *Error {
	return dir(AclAlreadyQueried, "acl was already queried by this connection")
}

func NewAclNotQueried() *Error {
	return dir(AclNotQueried, "acl was not queried by this connection")
}

func NewNotAuthorized(permission string) *Error {
	e := req(NotAuthorized, "Permission denied")
	e.Path = permission
	return e
}

func NewNoSuchAttribute(attr string) *Error {
	e := req(NoSuchAttribute, "missing required attribute")
	e.Path = attr
	return e
}

func NewInvalidSeq() *Error {
	return req(InvalidSeq, "invalid seq attribute")
}

func NewReplyUnprocessed() *Error {
	return req(ReplyUnprocessed, "reply could not be processed")
}

func NewUnknownDomain(domain string) *Error {
	e := req(UnknownDomain, "unknown error domain")
	e.Path = domain
	return e
}

func NewInvalidInsert() *Error {
	return dir(InvalidInsert, "insert position is beyond the end of the buffer")
}

func NewInconsistentDelete() *Error {
	return dir(InconsistentDelete, "deleted chunk does not match buffer content")
}

func NewDisconnected() *Error {
	return req(Disconnected, "connection was closed")
}
