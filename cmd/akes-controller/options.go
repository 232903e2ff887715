package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/akes-protocol/akes-go/pkg/connection"
	"github.com/akes-protocol/akes-go/pkg/keystore"
	"github.com/akes-protocol/akes-go/pkg/log"
	"github.com/akes-protocol/akes-go/pkg/persistence"
	"github.com/akes-protocol/akes-go/pkg/replay"
	"github.com/akes-protocol/akes-go/pkg/revocation"
	"github.com/akes-protocol/akes-go/pkg/transport"
	"github.com/akes-protocol/akes-go/pkg/wire"
)

// clientOptions are the flags shared by commands that talk to nodes.
type clientOptions struct {
	channelKey     string
	nonce          string
	aad            string
	path           string
	nonConfirmable bool
	stateFile      string
	startID        uint
	timeout        time.Duration
	protocolLog    string
	logLevel       string
}

func (o *clientOptions) register(fs *flag.FlagSet, needKey bool) {
	if needKey {
		fs.StringVar(&o.channelKey, "key", "", "Channel key (32 hex digits)")
		fs.StringVar(&o.nonce, "nonce", "decimal", "Nonce scheme: decimal, binary")
		fs.StringVar(&o.aad, "aad", "none", "Associated data: none, context")
		fs.StringVar(&o.stateFile, "state", "", "Controller state file (message ID counters)")
		fs.UintVar(&o.startID, "start-id", transport.DefaultStartMessageID, "First message ID for new nodes")
	}
	fs.StringVar(&o.path, "path", transport.DefaultPath, "Revocation resource path")
	fs.BoolVar(&o.nonConfirmable, "non", false, "Send non-confirmable requests")
	fs.DurationVar(&o.timeout, "timeout", 2*time.Minute, "Overall timeout")
	fs.StringVar(&o.protocolLog, "protocol-log", "", "Protocol log file (CBOR)")
	fs.StringVar(&o.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
}

// client builds the transport client. The returned close function flushes
// the protocol log.
func (o *clientOptions) client() (*transport.Client, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := transport.ClientConfig{
		Path:           o.path,
		NonConfirmable: o.nonConfirmable,
		StartMessageID: uint16(o.startID),
		Transmitter: &connection.Transmitter{
			OnRetransmit: func(attempt int, wait time.Duration) {
				logger.Info("retransmitting", "attempt", attempt, "wait", wait)
			},
		},
		Logger: logger,
	}

	if o.channelKey != "" {
		key, err := hex.DecodeString(o.channelKey)
		if err != nil {
			return nil, nil, fmt.Errorf("channel key: %w", err)
		}
		cfg.ChannelKey = key
	}
	var err error
	if cfg.NonceScheme, err = replay.ParseNonceScheme(o.nonce); err != nil {
		return nil, nil, err
	}
	if cfg.AAD, err = revocation.ParseAADMode(o.aad); err != nil {
		return nil, nil, err
	}
	if o.stateFile != "" {
		cfg.StateStore = persistence.NewControllerStateStore(o.stateFile)
	}

	closeFn := func() {}
	if o.protocolLog != "" {
		fl, err := log.NewFileLogger(o.protocolLog)
		if err != nil {
			return nil, nil, err
		}
		cfg.ProtocolLogger = fl
		closeFn = func() { _ = fl.Close() }
	}

	c, err := transport.NewClient(cfg)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return c, closeFn, nil
}

// parseMaterial returns the key material from hex or text flags, or fresh
// random material of size bytes when both are empty.
func parseMaterial(hexMaterial, text string, size int) ([]byte, error) {
	switch {
	case hexMaterial != "" && text != "":
		return nil, fmt.Errorf("use either -material or -material-text")
	case hexMaterial != "":
		m, err := hex.DecodeString(hexMaterial)
		if err != nil {
			return nil, fmt.Errorf("material: %w", err)
		}
		return m, nil
	case text != "":
		return []byte(text), nil
	}
	if size <= 0 {
		size = wire.DefaultKeyMaterialSize
	}
	m := make([]byte, size)
	if _, err := rand.Read(m); err != nil {
		return nil, err
	}
	return m, nil
}

func parseTarget(s string) (keystore.NodeID, error) {
	if s == "" {
		return keystore.NodeID{}, fmt.Errorf("-target is required")
	}
	return keystore.ParseNodeID(s)
}
