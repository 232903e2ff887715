package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/akes-protocol/akes-go/pkg/keystore"
	"github.com/akes-protocol/akes-go/pkg/replay"
	"github.com/akes-protocol/akes-go/pkg/revocation"
	"github.com/akes-protocol/akes-go/pkg/transport"
)

// Config holds the node configuration as read from YAML and flags.
type Config struct {
	NodeID             string           `yaml:"node_id"`
	Listen             string           `yaml:"listen"`
	Path               string           `yaml:"path"`
	ChannelKey         string           `yaml:"channel_key"`
	GroupKey           string           `yaml:"group_key"`
	StateFile          string           `yaml:"state_file"`
	NonceScheme        string           `yaml:"nonce_scheme"`
	AAD                string           `yaml:"aad"`
	KeyDerivation      string           `yaml:"key_derivation"`
	KeyMaterialSize    int              `yaml:"key_material_size"`
	RevocationListSize int              `yaml:"revocation_list_size"`
	DebugAllow         []string         `yaml:"debug_allow"`
	Neighbors          []NeighborConfig `yaml:"neighbors"`
	Advertise          bool             `yaml:"advertise"`
	Interface          string           `yaml:"interface"`
	ProtocolLog        string           `yaml:"protocol_log"`
	LogLevel           string           `yaml:"log_level"`
	Interactive        bool             `yaml:"interactive"`
}

// NeighborConfig is a neighbor enrolled at first start.
type NeighborConfig struct {
	ID          string `yaml:"id"`
	PairwiseKey string `yaml:"pairwise_key"`
	Tentative   bool   `yaml:"tentative"`
}

// DefaultConfig returns the defaults applied before the config file.
func DefaultConfig() Config {
	return Config{
		Listen:      fmt.Sprintf(":%d", transport.DefaultPort),
		Path:        transport.DefaultPath,
		StateFile:   "akes-node.json",
		NonceScheme: replay.NonceDecimal.String(),
		AAD:         revocation.AADNone.String(),
		LogLevel:    "info",
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// parseArgs parses the command line. The config file, when given, is read
// first; flags that were set explicitly override it.
func parseArgs(args []string) (Config, error) {
	var configFile, debugAllow string
	fv := DefaultConfig()

	fs := flag.NewFlagSet("akes-node", flag.ContinueOnError)
	fs.StringVar(&configFile, "config", "", "Configuration file path (YAML)")
	fs.StringVar(&fv.NodeID, "node-id", "", "Node identity (16 hex digits)")
	fs.StringVar(&fv.Listen, "listen", fv.Listen, "UDP listen address")
	fs.StringVar(&fv.Path, "path", fv.Path, "Revocation resource path")
	fs.StringVar(&fv.ChannelKey, "channel-key", "", "Controller channel key (32 hex digits)")
	fs.StringVar(&fv.GroupKey, "group-key", "", "Initial group key (32 hex digits)")
	fs.StringVar(&fv.StateFile, "state", fv.StateFile, "State file path")
	fs.StringVar(&fv.NonceScheme, "nonce", fv.NonceScheme, "Nonce scheme: decimal, binary")
	fs.StringVar(&fv.AAD, "aad", fv.AAD, "Associated data: none, context")
	fs.StringVar(&fv.KeyDerivation, "derivation", "", "Group key derivation: truncate, hkdf")
	fs.IntVar(&fv.KeyMaterialSize, "material-size", 0, "Key material size in bytes")
	fs.StringVar(&debugAllow, "debug-allow", "", "Comma-separated IPs allowed to query debug fields")
	fs.BoolVar(&fv.Advertise, "advertise", false, "Advertise the node via mDNS")
	fs.StringVar(&fv.Interface, "interface", "", "Network interface for mDNS")
	fs.StringVar(&fv.ProtocolLog, "protocol-log", "", "Protocol log file (CBOR)")
	fs.StringVar(&fv.LogLevel, "log-level", fv.LogLevel, "Log level: debug, info, warn, error")
	fs.BoolVar(&fv.Interactive, "interactive", false, "Start the interactive console")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = LoadConfig(configFile); err != nil {
			return Config{}, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "node-id":
			cfg.NodeID = fv.NodeID
		case "listen":
			cfg.Listen = fv.Listen
		case "path":
			cfg.Path = fv.Path
		case "channel-key":
			cfg.ChannelKey = fv.ChannelKey
		case "group-key":
			cfg.GroupKey = fv.GroupKey
		case "state":
			cfg.StateFile = fv.StateFile
		case "nonce":
			cfg.NonceScheme = fv.NonceScheme
		case "aad":
			cfg.AAD = fv.AAD
		case "derivation":
			cfg.KeyDerivation = fv.KeyDerivation
		case "material-size":
			cfg.KeyMaterialSize = fv.KeyMaterialSize
		case "debug-allow":
			cfg.DebugAllow = splitList(debugAllow)
		case "advertise":
			cfg.Advertise = fv.Advertise
		case "interface":
			cfg.Interface = fv.Interface
		case "protocol-log":
			cfg.ProtocolLog = fv.ProtocolLog
		case "log-level":
			cfg.LogLevel = fv.LogLevel
		case "interactive":
			cfg.Interactive = fv.Interactive
		}
	})
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// settings is the validated, typed form of Config.
type settings struct {
	nodeID     keystore.NodeID
	channelKey []byte
	groupKey   keystore.GroupKey
	scheme     replay.NonceScheme
	aad        revocation.AADMode
	derivation revocation.KeyDerivation
	allow      []net.IP
	neighbors  []neighbor
	logLevel   slog.Level
}

type neighbor struct {
	id       keystore.NodeID
	status   keystore.NeighborStatus
	pairwise []byte
}

// resolve validates the config. The group key is optional here because a
// saved state file supplies it.
func (c *Config) resolve() (*settings, error) {
	var s settings
	var err error

	if c.NodeID == "" {
		return nil, errors.New("node id is required")
	}
	if s.nodeID, err = keystore.ParseNodeID(c.NodeID); err != nil {
		return nil, fmt.Errorf("node id: %w", err)
	}
	if s.channelKey, err = hex.DecodeString(c.ChannelKey); err != nil || len(s.channelKey) != 16 {
		return nil, fmt.Errorf("channel key must be 32 hex digits")
	}
	if c.GroupKey != "" {
		if s.groupKey, err = keystore.ParseGroupKey(c.GroupKey); err != nil {
			return nil, fmt.Errorf("group key: %w", err)
		}
	}
	if s.scheme, err = replay.ParseNonceScheme(c.NonceScheme); err != nil {
		return nil, err
	}
	if s.aad, err = revocation.ParseAADMode(c.AAD); err != nil {
		return nil, err
	}
	if c.KeyDerivation != "" {
		if s.derivation, err = revocation.ParseKeyDerivation(c.KeyDerivation); err != nil {
			return nil, err
		}
	}
	for _, a := range c.DebugAllow {
		ip := net.ParseIP(a)
		if ip == nil {
			return nil, fmt.Errorf("debug allow: invalid IP %q", a)
		}
		s.allow = append(s.allow, ip)
	}
	for _, n := range c.Neighbors {
		id, err := keystore.ParseNodeID(n.ID)
		if err != nil {
			return nil, fmt.Errorf("neighbor %q: %w", n.ID, err)
		}
		pw, err := hex.DecodeString(n.PairwiseKey)
		if err != nil {
			return nil, fmt.Errorf("neighbor %s pairwise key: %w", n.ID, err)
		}
		status := keystore.NeighborPermanent
		if n.Tentative {
			status = keystore.NeighborTentative
		}
		s.neighbors = append(s.neighbors, neighbor{id: id, status: status, pairwise: pw})
	}
	if err := s.logLevel.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return &s, nil
}
