// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package account implements the account registry: transient and
// persistent accounts, certificate-based login, and add/remove with
// notifications so ACL sheets referencing removed accounts can be
// garbage-collected.
package account

import (
	"crypto/x509"
	"sync"

	"github.com/gobby/infinoted/direrr"
)

// DefaultAccountID is the always-present transient account.
const DefaultAccountID = "default"

// Account is a principal against which permissions are evaluated.
type Account struct {
	ID        string
	Name      string
	Transient bool
	// DN is the certificate distinguished name used for
	// certificate-based login, empty for accounts that don't support it.
	DN string
}

// Storage is the persistent account storage backend. A nil Storage
// means accounts are transient-only. The Supports* methods
// report the backend's feature flags (list_accounts, add_account,
// remove_account, certificate_login, notification); the registry
// adapts its behavior to what's reported, e.g. clearing
// can_create_account/can_remove_account from the root's effective ACL
// when the backend can't perform those operations.
type Storage interface {
	ListAccounts() ([]Account, error)
	AddAccount(a Account) error
	RemoveAccount(id string) error
	LookupAccount(id string) (Account, bool, error)
	SupportsListing() bool
	SupportsAdd() bool
	SupportsRemove() bool
	SupportsCertificateLogin() bool
	SupportsNotification() bool
}

// Notifier is called whenever an account is added or removed, so the
// server package can fan the event out to interested connections.
type Notifier interface {
	AccountAdded(a Account)
	AccountRemoved(id string)
}

// Registry is the union of transient accounts (always including
// "default") and accounts mirrored in Storage.
type Registry struct {
	mu        sync.RWMutex
	transient map[string]Account
	storage   Storage
	notifier  Notifier
	nextID    int
}

// NewRegistry creates a Registry backed by storage (may be nil).
func NewRegistry(storage Storage, notifier Notifier) *Registry {
	r := &Registry{
		transient: map[string]Account{
			DefaultAccountID: {ID: DefaultAccountID, Name: "default", Transient: true},
		},
		storage:  storage,
		notifier: notifier,
	}
	return r
}

// Lookup resolves an account id, checking transient accounts first,
// then storage.
func (r *Registry) Lookup(id string) (Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.transient[id]; ok {
		return a, true
	}
	if r.storage != nil {
		if a, ok, err := r.storage.LookupAccount(id); err == nil && ok {
			return a, true
		}
	}
	return Account{}, false
}

// Exists is an account.AccountExists-shaped adapter for acl.Engine.
func (r *Registry) Exists(id string) bool {
	_, ok := r.Lookup(id)
	return ok
}

// List returns every known account, transient and persistent, for the
// query-acl-account-list flow. Listing is best-effort when the storage
// backend doesn't support it: only transient accounts are reported.
func (r *Registry) List() []Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Account, 0, len(r.transient))
	for _, a := range r.transient {
		out = append(out, a)
	}
	if r.storage != nil && r.storage.SupportsListing() {
		all, err := r.storage.ListAccounts()
		if err == nil {
			out = append(out, all...)
		}
	}
	return out
}

// SupportsNotification reports whether the underlying storage can emit
// account add/remove notifications, surfaced to clients as the
// notifications-enabled flag of the account-list reply.
func (r *Registry) SupportsNotification() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.storage != nil && r.storage.SupportsNotification()
}

// LookupByName may return multiple accounts sharing a display name;
// transient accounts are included.
func (r *Registry) LookupByName(name string) []Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Account
	for _, a := range r.transient {
		if a.Name == name {
			out = append(out, a)
		}
	}
	if r.storage != nil && r.storage.SupportsListing() {
		all, err := r.storage.ListAccounts()
		if err == nil {
			for _, a := range all {
				if a.Name == name {
					out = append(out, a)
				}
			}
		}
	}
	return out
}

// LoginByCertificate resolves an account id from a certificate chain's
// leaf distinguished name: transient DN-keyed accounts are tried
// first, then storage; on miss it returns DefaultAccountID.
func (r *Registry) LoginByCertificate(chain []*x509.Certificate) string {
	if len(chain) == 0 {
		return DefaultAccountID
	}
	dn := chain[0].Subject.String()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.transient {
		if a.DN != "" && a.DN == dn {
			return a.ID
		}
	}
	if r.storage != nil && r.storage.SupportsCertificateLogin() && r.storage.SupportsListing() {
		all, err := r.storage.ListAccounts()
		if err == nil {
			for _, a := range all {
				if a.DN != "" && a.DN == dn {
					return a.ID
				}
			}
		}
	}
	return DefaultAccountID
}

// Add allocates a new account. requesterAllowed carries the caller's
// can_create_account check; bootstrap and system callers pass true.
func (r *Registry) Add(name string, transient bool, dn string, requesterAllowed bool) (Account, error) {
	if !requesterAllowed {
		return Account{}, direrr.NewNotAuthorized("can_create_account")
	}
	if len(r.LookupByName(name)) > 0 {
		return Account{}, direrr.NewDuplicateAccount(name)
	}
	if !transient && r.storage == nil {
		return Account{}, direrr.NewNoStorage()
	}

	r.mu.Lock()
	r.nextID++
	id := syntheticID(r.nextID)
	a := Account{ID: id, Name: name, Transient: transient, DN: dn}
	if transient {
		r.transient[id] = a
	}
	r.mu.Unlock()

	if !transient && r.storage != nil {
		if !r.storage.SupportsAdd() {
			r.mu.Lock()
			delete(r.transient, id)
			r.mu.Unlock()
			return Account{}, direrr.NewOperationUnsupported()
		}
		if err := r.storage.AddAccount(a); err != nil {
			r.mu.Lock()
			delete(r.transient, id)
			r.mu.Unlock()
			return Account{}, err
		}
	}
	if r.notifier != nil {
		r.notifier.AccountAdded(a)
	}
	return a, nil
}

// Remove deletes an account. Removing "default" always fails.
func (r *Registry) Remove(id string, requesterAllowed bool) error {
	if id == DefaultAccountID {
		return direrr.NewNoSuchAccount(id)
	}
	if !requesterAllowed {
		return direrr.NewNotAuthorized("can_remove_account")
	}
	a, ok := r.Lookup(id)
	if !ok {
		return direrr.NewNoSuchAccount(id)
	}

	r.mu.Lock()
	delete(r.transient, id)
	r.mu.Unlock()

	if !a.Transient && r.storage != nil {
		if !r.storage.SupportsRemove() {
			return direrr.NewOperationUnsupported()
		}
		if err := r.storage.RemoveAccount(id); err != nil {
			return err
		}
	}
	if r.notifier != nil {
		r.notifier.AccountRemoved(id)
	}
	return nil
}

// Reconcile performs a full diff against a newly swapped storage
// backend: best effort, falling back to cross-lookups when listing is
// unsupported on either side. If listing is unsupported on both old
// and new, it assumes no change; stale permissions can survive that
// case.
func (r *Registry) Reconcile(oldStorage, newStorage Storage) (added, removed []Account) {
	oldCanList := oldStorage != nil && oldStorage.SupportsListing()
	newCanList := newStorage != nil && newStorage.SupportsListing()

	if !oldCanList && !newCanList {
		r.storage = newStorage
		return nil, nil
	}

	var oldList, newList []Account
	if oldCanList {
		oldList, _ = oldStorage.ListAccounts()
	}
	if newCanList {
		newList, _ = newStorage.ListAccounts()
	}

	oldSet := map[string]Account{}
	for _, a := range oldList {
		oldSet[a.ID] = a
	}
	newSet := map[string]Account{}
	for _, a := range newList {
		newSet[a.ID] = a
	}

	if !oldCanList {
		for id, a := range newSet {
			if _, ok, _ := oldStorage.LookupAccount(id); !ok {
				added = append(added, a)
			}
		}
	} else if !newCanList {
		for id, a := range oldSet {
			if _, ok, _ := newStorage.LookupAccount(id); !ok {
				removed = append(removed, a)
			}
		}
	} else {
		for id, a := range newSet {
			if _, ok := oldSet[id]; !ok {
				added = append(added, a)
			}
		}
		for id, a := range oldSet {
			if _, ok := newSet[id]; !ok {
				removed = append(removed, a)
			}
		}
	}

	r.storage = newStorage
	if r.notifier != nil {
		for _, a := range added {
			r.notifier.AccountAdded(a)
		}
		for _, a := range removed {
			r.notifier.AccountRemoved(a.ID)
		}
	}
	return added, removed
}

func syntheticID(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	if n <= 0 {
		return "a0"
	}
	buf := make([]byte, 0, 8)
	for n > 0 {
		buf = append([]byte{alphabet[n%len(alphabet)]}, buf...)
		n /= len(alphabet)
	}
	return "a" + string(buf)
}

// ParseCertificateRequest decodes a DER-encoded certificate signing
// request (the caller strips any PEM armor first) for the
// create-acl-account flow, verifying its self-signature.
func ParseCertificateRequest(der []byte) (*x509.CertificateRequest, error) {
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, direrr.NewInvalidCertificate(err.Error())
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, direrr.NewInvalidCertificate(err.Error())
	}
	return csr, nil
}
