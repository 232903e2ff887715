// Package interactive provides the local console of akes-node.
//
// The console reads node state directly and is the privileged alternative
// to the network debug query.
package interactive

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/akes-protocol/akes-go/pkg/keystore"
	"github.com/akes-protocol/akes-go/pkg/status"
	"github.com/akes-protocol/akes-go/pkg/wire"
)

// Node is what the console operates on.
type Node struct {
	Store   *keystore.Store
	Querier *status.Querier

	// Save persists the node state.
	Save func() error
}

// Console handles interactive mode for akes-node.
type Console struct {
	node Node
	out  io.Writer
	rl   *readline.Instance
}

// New creates a console bound to the terminal. The node is attached by Run.
func New() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "akes> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{out: rl.Stdout(), rl: rl}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run starts the interactive command loop on node.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc, node Node) {
	defer c.rl.Close()

	c.node = node

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if c.Exec(line) {
			cancel()
			return
		}
	}
}

// Exec runs one command line and reports whether the console should exit.
func (c *Console) Exec(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "key", "k":
		c.cmdField(wire.FieldBroadcastKey)
	case "count", "c":
		c.cmdField(wire.FieldNeighborCount)
	case "stats":
		c.cmdField(wire.FieldStats)
	case "neighbors", "n":
		c.cmdNeighbors()
	case "revoked", "r":
		c.cmdRevoked()
	case "enroll", "e":
		c.cmdEnroll(args)
	case "save":
		c.cmdSave()
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
AKES Node Commands:
  key                            - Show the group key (hex)
  count                          - Show the neighbor count
  stats                          - Show request counters
  neighbors                      - List the neighbor table
  revoked                        - List the node revocation list
  enroll <id> [pairwise] [tent]  - Add a neighbor (pairwise key in hex)
  save                           - Write the state file
  quit                           - Exit`)
}

func (c *Console) cmdField(name string) {
	v, err := c.node.Querier.Query(name)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, v.String())
}

func (c *Console) cmdNeighbors() {
	snap := c.node.Store.Snapshot()
	if len(snap.Neighbors) == 0 {
		fmt.Fprintln(c.out, "No neighbors")
		return
	}
	fmt.Fprintf(c.out, "%-18s %-10s %-8s %s\n", "ID", "STATUS", "PAIRWISE", "ENROLLED")
	for _, n := range snap.Neighbors {
		pairwise := "-"
		if len(n.PairwiseKey) > 0 {
			pairwise = "yes"
		}
		fmt.Fprintf(c.out, "%-18s %-10s %-8s %s\n", n.ID, n.Status, pairwise, n.EnrolledAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(c.out, "%d neighbors, %d permanent\n", len(snap.Neighbors), len(snap.Permanent()))
}

func (c *Console) cmdRevoked() {
	revoked := c.node.Store.Revoked()
	if len(revoked) == 0 {
		fmt.Fprintln(c.out, "Revocation list is empty")
		return
	}
	for _, id := range revoked {
		fmt.Fprintln(c.out, id)
	}
}

func (c *Console) cmdEnroll(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.out, "Usage: enroll <id> [pairwise-key-hex] [tentative]")
		return
	}
	id, err := keystore.ParseNodeID(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}

	var pairwise []byte
	st := keystore.NeighborPermanent
	for _, a := range args[1:] {
		if strings.HasPrefix(a, "tent") {
			st = keystore.NeighborTentative
			continue
		}
		if pairwise, err = hex.DecodeString(a); err != nil {
			fmt.Fprintf(c.out, "Error: invalid pairwise key: %v\n", err)
			return
		}
	}

	if err := c.node.Store.Enroll(id, st, pairwise); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Enrolled %s (%s)\n", id, st)
}

func (c *Console) cmdSave() {
	if c.node.Save == nil {
		fmt.Fprintln(c.out, "No state file configured")
		return
	}
	if err := c.node.Save(); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "State saved")
}
