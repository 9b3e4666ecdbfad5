// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package subscribe

// Method is the transport method named in a subscribe reply. Only
// "central" (all traffic relayed through the server) is implemented;
// the wire format reserves the field for future direct/multicast
// methods.
type Method string

const MethodCentral Method = "central"

// Group is a named multi-peer messaging context carrying session
// traffic. Ownership is explicit and sequential: a Group is created
// owned by whichever Subreq reserved it, then handed to the resident
// session.Proxy once the handshake completes.
type Group struct {
	ID      string
	Method  Method
	members map[string]bool
}

// NewGroup creates an empty group named id.
func NewGroup(id string) *Group {
	return &Group{ID: id, Method: MethodCentral, members: make(map[string]bool)}
}

// Join adds connID as a member.
func (g *Group) Join(connID string) { g.members[connID] = true }

// Leave removes connID as a member.
func (g *Group) Leave(connID string) { delete(g.members, connID) }

// Members returns the connection ids currently joined to g.
func (g *Group) Members() []string {
	out := make([]string, 0, len(g.members))
	for id := range g.members {
		out = append(out, id)
	}
	return out
}

// Empty reports whether no connection is joined.
func (g *Group) Empty() bool { return len(g.members) == 0 }

// Registry tracks every live Group by name, handing the server package
// a single place to resolve a group id to its member set when fanning
// out a session message.
type Registry struct {
	groups map[string]*Group
}

// NewRegistry returns an empty group registry.
func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]*Group)}
}

// Reserve creates and registers a new group, used by a subreq handler
// before the handshake completes.
func (r *Registry) Reserve(id string) *Group {
	g := NewGroup(id)
	r.groups[id] = g
	return g
}

// Get looks up a group by name.
func (r *Registry) Get(id string) (*Group, bool) {
	g, ok := r.groups[id]
	return g, ok
}

// Release removes a group, used when its owning subreq is torn down
// without ever becoming a resident session.
func (r *Registry) Release(id string) {
	delete(r.groups, id)
}

// LeaveAll removes connID from every group, used on connection close.
func (r *Registry) LeaveAll(connID string) {
	for _, g := range r.groups {
		g.Leave(connID)
	}
}
