// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package gobbyd_test

import (
	"testing"

	"github.com/gobby/infinoted/gobbyd"
)

func TestDiscardLoggerSwallowsOutput(t *testing.T) {
	l := gobbyd.DiscardLogger()
	l.Printf("anything, %d", 1)
}

func TestContextCarriesConfigAndIdentity(t *testing.T) {
	cfg := &gobbyd.Config{
		Socket:          "/run/infinoted.sock",
		StorageRoot:     "/var/lib/infinoted",
		IdleSaveSeconds: 60,
	}
	ctx := gobbyd.Context{
		AccountID: "alice",
		ConnID:    "conn-1",
		Config:    cfg,
		Dlog:      gobbyd.DiscardLogger(),
		Elog:      gobbyd.DiscardLogger(),
		Wlog:      gobbyd.DiscardLogger(),
	}
	if ctx.Config.StorageRoot != "/var/lib/infinoted" {
		t.Fatalf("Config.StorageRoot = %q, want /var/lib/infinoted", ctx.Config.StorageRoot)
	}
	if ctx.AccountID != "alice" || ctx.ConnID != "conn-1" {
		t.Fatalf("Context identity not wired through: %+v", ctx)
	}
}
