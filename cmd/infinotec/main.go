// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

/*
infinotec is a minimal command-line directory client: it dials a
running infinoted's socket, waits for the welcome message, runs one
action, and prints the result.

Usage:

	infinotec -socket=<path> explore <node-id>
	infinotec -socket=<path> mkdir <parent-id> <name>
	infinotec -socket=<path> rm <node-id>
	infinotec -socket=<path> accounts
*/
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/gobby/infinoted/client"
)

var socketPath = flag.String("socket", "/run/infinoted/infinoted.sock", "Path to the directory's Unix-domain socket.")

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -socket=<path> <explore|mkdir|rm|accounts> [args...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c, err := client.Dial(*socketPath)
	if err != nil {
		fail("infinotec: dial %s: %v", *socketPath, err)
	}
	defer c.Close()

	if _, err := c.Welcome(); err != nil {
		fail("infinotec: welcome: %v", err)
	}

	switch args[0] {
	case "explore":
		runExplore(c, args[1:])
	case "mkdir":
		runMkdir(c, args[1:])
	case "rm":
		runRemove(c, args[1:])
	case "accounts":
		runAccounts(c)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fail("infinotec: invalid node id %q: %v", s, err)
	}
	return id
}

func runExplore(c *client.Client, args []string) {
	if len(args) != 1 {
		fail("infinotec: explore requires exactly one node id")
	}
	id := parseID(args[0])
	children, err := c.ExploreNode(id)
	if err != nil {
		fail("infinotec: explore-node %d: %v", id, err)
	}
	tr := c.Snapshot()
	for _, childID := range children {
		n, ok := tr.Get(childID)
		if !ok {
			continue
		}
		kind := "note"
		if n.IsSubdirectory() {
			kind = "subdirectory"
		}
		fmt.Printf("%d\t%s\t%s\n", n.ID, kind, n.Name)
	}
}

func runMkdir(c *client.Client, args []string) {
	if len(args) != 2 {
		fail("infinotec: mkdir requires <parent-id> <name>")
	}
	parent := parseID(args[0])
	id, err := c.AddSubdirectory(parent, args[1])
	if err != nil {
		fail("infinotec: add-node %s under %d: %v", args[1], parent, err)
	}
	fmt.Println(id)
}

func runRemove(c *client.Client, args []string) {
	if len(args) != 1 {
		fail("infinotec: rm requires exactly one node id")
	}
	id := parseID(args[0])
	if err := c.RemoveNode(id); err != nil {
		fail("infinotec: remove-node %d: %v", id, err)
	}
}

func runAccounts(c *client.Client) {
	accounts, err := c.QueryAclAccountList()
	if err != nil {
		fail("infinotec: query-acl-account-list: %v", err)
	}
	for _, a := range accounts {
		fmt.Printf("%s\t%s\n", a.ID, a.Name)
	}
}
