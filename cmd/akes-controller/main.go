// Command akes-controller sends revocation requests and debug queries to
// AKES nodes.
//
// Usage:
//
//	akes-controller <command> [flags] [args]
//
// Commands:
//
//	revoke    Revoke a node on one or more nodes
//	sweep     Revoke a node on many nodes in repeated rounds
//	debug     Query a debug field
//	ping      Check that a node answers CoAP
//	discover  List nodes advertised via mDNS
//
// Examples:
//
//	# Revoke fd00000000000007 on one node
//	akes-controller revoke -key 000102030405060708090a0b0c0d0e0f -target fd00000000000007 [fd00::1]:5683
//
//	# Read the group key of a local node as JSON
//	akes-controller debug -format json 127.0.0.1:5683 broadcastKey
//
//	# Revoke every 5 minutes for an hour on all discovered nodes
//	akes-controller sweep -key ... -target fd00000000000007 -rounds 12 -interval 5m -backoff 30s -discover
package main

import (
	"fmt"
	"os"
)

const usage = `akes-controller - AKES Key Revocation Controller

Usage:
  akes-controller <command> [flags] [args]

Commands:
  revoke    Revoke a node on one or more nodes
  sweep     Revoke a node on many nodes in repeated rounds
  debug     Query a debug field
  ping      Check that a node answers CoAP
  discover  List nodes advertised via mDNS

Use "akes-controller <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "revoke":
		err = runRevoke(args)
	case "sweep":
		err = runSweep(args)
	case "debug":
		err = runDebug(args)
	case "ping":
		err = runPing(args)
	case "discover":
		err = runDiscover(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
