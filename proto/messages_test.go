// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: MPL-2.0

package proto_test

import (
	"reflect"
	"testing"

	"github.com/gobby/infinoted/proto"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	want := proto.AddNode{ID: 5, Parent: 0, Type: "InfText", Name: "note"}
	env, err := proto.Marshal(proto.ElemAddNode, 7, want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if env.Element != proto.ElemAddNode || env.Seq != 7 {
		t.Fatalf("envelope = %+v, want element %q seq 7", env, proto.ElemAddNode)
	}

	var got proto.AddNode
	if err := env.Unmarshal(&got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round-tripped AddNode = %+v, want %+v", got, want)
	}
}

func TestRequestFailedCarriesSeqAndPermission(t *testing.T) {
	env, err := proto.Marshal(proto.ElemRequestFailed, 42, proto.RequestFailed{
		Domain:    "request",
		Code:      "not-authorized",
		Message:   "Permission denied",
		Attribute: "can_query_acl",
		Seq:       42,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got proto.RequestFailed
	if err := env.Unmarshal(&got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Seq != 42 || got.Code != "not-authorized" {
		t.Fatalf("unexpected request-failed payload: %+v", got)
	}
	if got.Message != "Permission denied" || got.Attribute != "can_query_acl" {
		t.Fatalf("request-failed should carry the denial text and permission name, got %+v", got)
	}
}

func TestEnvelopeUnmarshalIntoCompatibleSubset(t *testing.T) {
	env, err := proto.Marshal(proto.ElemAddNode, 1, proto.AddNode{ID: 1, Name: "x"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got struct {
		ID int64 `json:"id"`
	}
	if err := env.Unmarshal(&got); err != nil {
		t.Fatalf("unmarshal into a structurally compatible subset should succeed: %v", err)
	}
	if got.ID != 1 {
		t.Fatalf("got.ID = %d, want 1", got.ID)
	}
}
