package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/akes-protocol/akes-go/pkg/discovery"
	"github.com/akes-protocol/akes-go/pkg/status"
	"github.com/akes-protocol/akes-go/pkg/sweep"
	"github.com/akes-protocol/akes-go/pkg/wire"
)

func runRevoke(args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	var opts clientOptions
	opts.register(fs, true)
	target := fs.String("target", "", "Node to revoke (16 hex digits)")
	material := fs.String("material", "", "Key material (hex); random when empty")
	materialText := fs.String("material-text", "", "Key material as text")
	size := fs.Int("material-size", wire.DefaultKeyMaterialSize, "Size of random key material")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: akes-controller revoke [flags] <node-addr>...")
		fs.PrintDefaults()
	}
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no node address given")
	}
	id, err := parseTarget(*target)
	if err != nil {
		return err
	}
	mat, err := parseMaterial(*material, *materialText, *size)
	if err != nil {
		return err
	}

	client, closeFn, err := opts.client()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	failed := 0
	for _, addr := range fs.Args() {
		st, err := client.Revoke(ctx, addr, id, mat)
		failed += printResult(os.Stdout, addr, st, err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d nodes did not apply the revocation", failed, fs.NArg())
	}
	return nil
}

// printResult writes one node result and returns 1 when it failed.
func printResult(w io.Writer, addr string, st wire.Status, err error) int {
	if err != nil {
		fmt.Fprintf(w, "%-30s ERROR %v\n", addr, err)
		return 1
	}
	fmt.Fprintf(w, "%-30s %d %s\n", addr, uint8(st), st)
	if st != wire.StatusSuccess {
		return 1
	}
	return 0
}

func runSweep(args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	var opts clientOptions
	opts.register(fs, true)
	target := fs.String("target", "", "Node to revoke (16 hex digits)")
	material := fs.String("material", "", "Key material (hex); random when empty")
	materialText := fs.String("material-text", "", "Key material as text")
	rounds := fs.Int("rounds", 1, "Number of rounds")
	interval := fs.Duration("interval", 0, "Round period")
	backoff := fs.Duration("backoff", 0, "Initial wait of every round")
	parallel := fs.Int("parallel", sweep.DefaultParallelism, "Concurrent requests")
	discover := fs.Bool("discover", false, "Add nodes found via mDNS")
	browse := fs.Duration("browse", discovery.BrowseTimeout, "mDNS browse duration")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: akes-controller sweep [flags] [node-addr...]")
		fs.PrintDefaults()
	}
	_ = fs.Parse(args)

	id, err := parseTarget(*target)
	if err != nil {
		return err
	}
	mat, err := parseMaterial(*material, *materialText, wire.DefaultKeyMaterialSize)
	if err != nil {
		return err
	}

	nodes := fs.Args()
	if *discover {
		found, err := browseNodes(*browse, "")
		if err != nil {
			return err
		}
		for _, svc := range found {
			if ep := svc.Endpoint(); ep != "" {
				nodes = append(nodes, ep)
			}
		}
	}

	client, closeFn, err := opts.client()
	if err != nil {
		return err
	}
	defer closeFn()

	// Rounds may outlast the per-request timeout.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := sweep.New(client, sweep.Config{
		Nodes:          nodes,
		Target:         id,
		Material:       mat,
		Rounds:         *rounds,
		Interval:       *interval,
		InitialBackoff: *backoff,
		Parallelism:    *parallel,
		OnResult: func(r sweep.Result) {
			printResult(os.Stdout, fmt.Sprintf("[%d] %s", r.Round, r.Node), r.Status, r.Err)
		},
	})
	if err != nil {
		return err
	}

	results, err := s.Run(ctx)
	if err != nil {
		return err
	}
	last := results[len(results)-1]
	if failed := last.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d nodes failed in the last round", len(failed), len(last.Results))
	}
	return nil
}

func runDebug(args []string) error {
	fs := flag.NewFlagSet("debug", flag.ExitOnError)
	var opts clientOptions
	opts.register(fs, false)
	format := fs.String("format", "text", "Response format: text, json, cbor")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: akes-controller debug [flags] <node-addr> <field>")
		fmt.Fprintf(os.Stderr, "Fields: %s, %s, %s, %s\n", wire.FieldBroadcastKey, wire.FieldNeighborCount, wire.FieldRevokedCount, wire.FieldStats)
		fs.PrintDefaults()
	}
	_ = fs.Parse(args)

	if fs.NArg() != 2 {
		fs.Usage()
		return errors.New("node address and field are required")
	}
	f, err := status.ParseFormat(*format)
	if err != nil {
		return err
	}

	client, closeFn, err := opts.client()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	v, err := client.Debug(ctx, fs.Arg(0), fs.Arg(1), f)
	if err != nil {
		return err
	}
	if f == status.FormatText {
		fmt.Println(v.String())
		return nil
	}
	out, err := v.JSON()
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runPing(args []string) error {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	var opts clientOptions
	opts.register(fs, false)
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		return errors.New("no node address given")
	}

	client, closeFn, err := opts.client()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	var failed int
	for _, addr := range fs.Args() {
		start := time.Now()
		if err := client.Ping(ctx, addr); err != nil {
			fmt.Printf("%-30s ERROR %v\n", addr, err)
			failed++
			continue
		}
		fmt.Printf("%-30s alive (%s)\n", addr, time.Since(start).Round(time.Microsecond))
	}
	if failed > 0 {
		return fmt.Errorf("%d nodes did not answer", failed)
	}
	return nil
}

func runDiscover(args []string) error {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	timeout := fs.Duration("timeout", discovery.BrowseTimeout, "Browse duration")
	iface := fs.String("interface", "", "Network interface")
	_ = fs.Parse(args)

	found, err := browseNodes(*timeout, *iface)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("No AKES nodes found")
		return nil
	}
	fmt.Printf("%-18s %-30s %-8s %-8s %s\n", "NODE", "ENDPOINT", "NONCE", "AAD", "PATH")
	for _, svc := range found {
		fmt.Printf("%-18s %-30s %-8s %-8s %s\n", svc.NodeID, svc.Endpoint(), svc.NonceScheme, svc.AAD, svc.Path)
	}
	return nil
}

func browseNodes(timeout time.Duration, iface string) ([]*discovery.NodeService, error) {
	browser := discovery.NewMDNSBrowser(discovery.BrowserConfig{BrowseTimeout: timeout, Interface: iface})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ch, err := browser.BrowseNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("browse failed: %w", err)
	}
	return discovery.Collect(ctx, ch, nil), nil
}
