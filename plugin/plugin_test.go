// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package plugin_test

import (
	"testing"

	"github.com/gobby/infinoted/plugin"
)

func TestRegistryGetKnownAndUnknownTag(t *testing.T) {
	r := plugin.NewRegistry()
	r.Register(plugin.TextPlugin{})

	got, ok := r.Get(plugin.TextTypeTag)
	if !ok || got.TypeTag() != plugin.TextTypeTag {
		t.Fatalf("expected registered text plugin to be found")
	}
	if _, ok := r.Get("Unknown"); ok {
		t.Fatalf("unregistered type tag should not resolve")
	}
}

func TestRegistryMustGetReturnsTypeUnknown(t *testing.T) {
	r := plugin.NewRegistry()
	if _, err := r.MustGet("Unknown"); err == nil {
		t.Fatalf("expected type-unknown error for an unregistered tag")
	}
}
