// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package account

import (
	"sync"

	"github.com/gobby/infinoted/acl"
	"github.com/gobby/infinoted/direrr"
)

// MemStorage is a reference account storage backend backed by an
// in-memory map. It supports every feature flag; filesystem or
// database-backed deployments implement the same Storage interface
// with different flags.
type MemStorage struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

// NewMemStorage returns an empty in-memory account storage backend.
func NewMemStorage() *MemStorage {
	return &MemStorage{accounts: make(map[string]Account)}
}

func (m *MemStorage) ListAccounts() ([]Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (m *MemStorage) AddAccount(a Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.ID]; ok {
		return direrr.NewDuplicateAccount(a.Name)
	}
	m.accounts[a.ID] = a
	return nil
}

func (m *MemStorage) RemoveAccount(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return direrr.NewNoSuchAccount(id)
	}
	delete(m.accounts, id)
	return nil
}

func (m *MemStorage) LookupAccount(id string) (Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	return a, ok, nil
}

func (m *MemStorage) SupportsListing() bool          { return true }
func (m *MemStorage) SupportsAdd() bool              { return true }
func (m *MemStorage) SupportsRemove() bool           { return true }
func (m *MemStorage) SupportsCertificateLogin() bool { return true }
func (m *MemStorage) SupportsNotification() bool     { return true }

// UnavailableMask computes the acl.Mask bits the registry cannot
// fulfil given storage's feature flags and whether a signing key is
// installed, for acl.Engine.RecomputeRootEffective.
func UnavailableMask(storage Storage, hasSigningKey bool) acl.Mask {
	var unavailable acl.Mask
	if storage == nil || !storage.SupportsAdd() || !hasSigningKey {
		unavailable |= acl.CanCreateAccount
	}
	if storage == nil || !storage.SupportsRemove() {
		unavailable |= acl.CanRemoveAccount
	}
	return unavailable
}
