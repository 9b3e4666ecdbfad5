// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package account_test

import (
	"testing"

	"github.com/gobby/infinoted/account"
	"github.com/gobby/infinoted/acl"
)

func TestUnavailableMaskClearsAccountBitsWithoutBackendSupport(t *testing.T) {
	got := account.UnavailableMask(nil, true)
	want := acl.CanCreateAccount | acl.CanRemoveAccount
	if got != want {
		t.Fatalf("nil storage unavailable mask = %v, want %v", got, want)
	}
}

func TestUnavailableMaskRequiresSigningKeyForCreateAccount(t *testing.T) {
	storage := account.NewMemStorage()
	got := account.UnavailableMask(storage, false)
	if got&acl.CanCreateAccount == 0 {
		t.Fatalf("can_create_account should be unavailable without a signing key even when storage supports add")
	}
	if got&acl.CanRemoveAccount != 0 {
		t.Fatalf("can_remove_account should be available when storage supports remove")
	}
}

func TestUnavailableMaskFullySupportedBackend(t *testing.T) {
	storage := account.NewMemStorage()
	got := account.UnavailableMask(storage, true)
	if got != 0 {
		t.Fatalf("fully-capable backend with signing key should leave no bits unavailable, got %v", got)
	}
}
