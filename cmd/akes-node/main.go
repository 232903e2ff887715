// Command akes-node runs the key-revocation resource of an AKES node.
//
// The node serves akes/key-revocation over CoAP/UDP: controllers POST
// sealed revocation commands, and loopback (or allow-listed) peers may GET
// debug fields. Node state survives restarts in a JSON state file.
//
// Usage:
//
//	akes-node [flags]
//
// Flags:
//
//	-config string       Configuration file path (YAML)
//	-node-id string      Node identity (16 hex digits)
//	-listen string       UDP listen address (default ":5683")
//	-channel-key string  Controller channel key (32 hex digits)
//	-group-key string    Initial group key (32 hex digits)
//	-state string        State file path (default "akes-node.json")
//	-nonce string        Nonce scheme: decimal, binary (default "decimal")
//	-aad string          Associated data: none, context (default "none")
//	-derivation string   Group key derivation: truncate, hkdf
//	-debug-allow string  Comma-separated IPs allowed to query debug fields
//	-advertise           Advertise the node via mDNS
//	-protocol-log string Protocol log file (CBOR)
//	-log-level string    Log level: debug, info, warn, error (default "info")
//	-interactive         Start the interactive console
//
// Examples:
//
//	# Start a node from a config file
//	akes-node -config /etc/akes/node.yaml
//
//	# Start with the console and protocol capture
//	akes-node -config node.yaml -interactive -protocol-log node.cbor
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/akes-protocol/akes-go/cmd/akes-node/interactive"
	"github.com/akes-protocol/akes-go/pkg/discovery"
	"github.com/akes-protocol/akes-go/pkg/keystore"
	"github.com/akes-protocol/akes-go/pkg/log"
	"github.com/akes-protocol/akes-go/pkg/persistence"
	"github.com/akes-protocol/akes-go/pkg/revocation"
	"github.com/akes-protocol/akes-go/pkg/status"
	"github.com/akes-protocol/akes-go/pkg/transport"
	"github.com/akes-protocol/akes-go/pkg/update"
)

func main() {
	cfg, err := parseArgs(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		stdlog.Fatalf("akes-node: %v", err)
	}
}

func run(cfg Config) error {
	s, err := cfg.resolve()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var console *interactive.Console
	var logOut io.Writer = os.Stderr

	stateStore := persistence.NewNodeStateStore(cfg.StateFile)
	saved, err := stateStore.Load()
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	initial := s.groupKey
	if saved != nil {
		if initial, err = keystore.ParseGroupKey(saved.GroupKey); err != nil {
			return fmt.Errorf("state file %s: %w", cfg.StateFile, err)
		}
	}
	if initial.IsZero() {
		return errors.New("group key is required without a state file")
	}

	// The console owns the terminal, so logs go through it.
	if cfg.Interactive {
		if console, err = interactive.New(); err != nil {
			return err
		}
		logOut = console.Stdout()
	}

	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: s.logLevel}))
	stdlog.SetOutput(logOut)
	stdlog.SetFlags(stdlog.Ltime | stdlog.Lmicroseconds)

	store, err := keystore.New(keystore.Config{
		InitialKey:         initial,
		RevocationListSize: cfg.RevocationListSize,
		Logger:             logger,
	})
	if err != nil {
		return err
	}
	state := &nodeState{file: stateStore, nodeID: s.nodeID, store: store}
	save := state.save

	if saved != nil {
		if err := store.Restore(saved); err != nil {
			return fmt.Errorf("state file %s: %w", cfg.StateFile, err)
		}
		stdlog.Printf("Restored state from %s (%d neighbors)", cfg.StateFile, store.NeighborCount())
	} else {
		for _, n := range s.neighbors {
			if err := store.Enroll(n.id, n.status, n.pairwise); err != nil {
				return fmt.Errorf("enroll %s: %w", n.id, err)
			}
		}
		if err := save(); err != nil {
			return fmt.Errorf("failed to save state: %w", err)
		}
	}

	// Protocol capture
	events := []log.Logger{log.NewSlogAdapter(logger)}
	var fileLog *log.FileLogger
	if cfg.ProtocolLog != "" {
		if fileLog, err = log.NewFileLogger(cfg.ProtocolLog); err != nil {
			return err
		}
		defer fileLog.Close()
		events = append(events, fileLog)
	}
	protocolLog := log.Tee(events...)

	counters, err := updateCounters(saved)
	if err != nil {
		return fmt.Errorf("state file %s: %w", cfg.StateFile, err)
	}
	fanout, err := update.NewFanout(update.Config{
		NodeID:   s.nodeID,
		Sender:   &frameSender{nodeID: s.nodeID.String(), events: protocolLog, logger: logger},
		Counters: counters,
		Persist:  save,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	state.fanout = fanout

	engine, err := revocation.NewEngine(revocation.Config{
		Store:           store,
		ChannelKey:      s.channelKey,
		NonceScheme:     s.scheme,
		AAD:             s.aad,
		KeyMaterialSize: cfg.KeyMaterialSize,
		KeyDerivation:   s.derivation,
		Distributor:     fanout,
		OnApplied: func(target keystore.NodeID) {
			if err := save(); err != nil {
				logger.Error("failed to save state", "error", err)
			}
		},
		NodeID:         s.nodeID.String(),
		Logger:         logger,
		ProtocolLogger: protocolLog,
	})
	if err != nil {
		return err
	}
	querier := status.NewQuerier(store, engine)

	serverCfg := transport.ServerConfig{
		Address:        cfg.Listen,
		Path:           cfg.Path,
		Handler:        engine,
		Querier:        querier,
		NodeID:         s.nodeID.String(),
		Logger:         logger,
		ProtocolLogger: protocolLog,
	}
	if len(s.allow) > 0 {
		serverCfg.AllowDebug = transport.AllowList(s.allow...)
	}
	server, err := transport.NewServer(serverCfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	stdlog.Printf("AKES node %s listening on %s/%s", s.nodeID, server.Addr(), cfg.Path)
	stdlog.Printf("Neighbors: %d, nonce: %s, aad: %s", store.NeighborCount(), s.scheme, s.aad)

	var advertiser *discovery.MDNSAdvertiser
	if cfg.Advertise {
		advertiser = discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{
			Interface: cfg.Interface,
			TTL:       discovery.DefaultTTL,
		})
		info := &discovery.NodeInfo{
			NodeID:      s.nodeID.String(),
			Port:        listenPort(server.Addr()),
			Path:        cfg.Path,
			NonceScheme: s.scheme.String(),
			AAD:         s.aad.String(),
		}
		if err := advertiser.Advertise(ctx, info); err != nil {
			stdlog.Printf("Warning: mDNS advertisement failed: %v", err)
			advertiser = nil
		} else {
			stdlog.Printf("Advertising %s as %s", info.InstanceName(), discovery.ServiceType)
		}
	}

	if console != nil {
		go console.Run(ctx, cancel, interactive.Node{Store: store, Querier: querier, Save: save})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		stdlog.Printf("Received signal: %v", sig)
	case <-ctx.Done():
	}

	stdlog.Println("Shutting down...")
	if advertiser != nil {
		_ = advertiser.Stop()
	}
	if err := server.Stop(); err != nil {
		stdlog.Printf("Error stopping server: %v", err)
	}
	engine.Wait()
	if !engine.Halted() {
		if err := save(); err != nil {
			stdlog.Printf("Error saving state: %v", err)
		}
	}
	return nil
}

func listenPort(addr net.Addr) uint16 {
	if addr == nil {
		return 0
	}
	_, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	port, err := strconv.ParseUint(p, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(port)
}
