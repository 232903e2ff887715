package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Advertiser announces a node on the local link.
type Advertiser interface {
	// Advertise announces info, replacing an earlier announcement.
	Advertise(ctx context.Context, info *NodeInfo) error
	Stop() error
}

// AdvertiserConfig selects where and how long records are announced.
type AdvertiserConfig struct {
	// Interface restricts announcements to one interface; empty for all.
	Interface string
	TTL       time.Duration
}

// DefaultAdvertiserConfig announces on all interfaces with DefaultTTL.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{TTL: DefaultTTL}
}

// MDNSAdvertiser announces nodes with zeroconf.
type MDNSAdvertiser struct {
	cfg AdvertiserConfig

	mu      sync.Mutex
	current *zeroconf.Server
	info    *NodeInfo
}

// NewMDNSAdvertiser returns an idle advertiser.
func NewMDNSAdvertiser(cfg AdvertiserConfig) *MDNSAdvertiser {
	return &MDNSAdvertiser{cfg: cfg}
}

// Advertise validates info and registers its service instance.
func (a *MDNSAdvertiser) Advertise(_ context.Context, info *NodeInfo) error {
	if err := validateNodeID(info.NodeID); err != nil {
		return err
	}
	name := info.InstanceName()
	if err := ValidateInstanceName(name); err != nil {
		return err
	}
	port := DefaultPort
	if info.Port != 0 {
		port = int(info.Port)
	}
	var opts []zeroconf.ServerOption
	if ttl := uint32(a.cfg.TTL / time.Second); ttl > 0 {
		opts = append(opts, zeroconf.TTL(ttl))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdown()

	srv, err := zeroconf.Register(name, ServiceType, Domain, port,
		TXTRecordsToStrings(EncodeNodeTXT(info)), interfaces(a.cfg.Interface), opts...)
	if err != nil {
		return fmt.Errorf("mdns register %s: %w", name, err)
	}
	a.current, a.info = srv, info
	return nil
}

// Advertising returns the announced node, or nil when idle.
func (a *MDNSAdvertiser) Advertising() *NodeInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info
}

// Stop withdraws the announcement. It returns ErrNotAdvertising when idle.
func (a *MDNSAdvertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return ErrNotAdvertising
	}
	a.shutdown()
	return nil
}

// shutdown must be called with mu held.
func (a *MDNSAdvertiser) shutdown() {
	if a.current != nil {
		a.current.Shutdown()
	}
	a.current, a.info = nil, nil
}

// interfaces resolves an interface name; nil selects all interfaces, also
// when the name is unknown.
func interfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	if iface, err := net.InterfaceByName(name); err == nil {
		return []net.Interface{*iface}
	}
	return nil
}

var _ Advertiser = (*MDNSAdvertiser)(nil)
