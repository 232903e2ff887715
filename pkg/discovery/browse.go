package discovery

import (
	"cmp"
	"context"
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Browser finds nodes on the local link.
type Browser interface {
	// BrowseNodes streams each node once. The channel closes with ctx.
	BrowseNodes(ctx context.Context) (<-chan *NodeService, error)

	// FindNode returns the node with nodeID.
	FindNode(ctx context.Context, nodeID string) (*NodeService, error)
}

// BrowserConfig bounds FindNode and selects the interface.
type BrowserConfig struct {
	BrowseTimeout time.Duration
	Interface     string
}

// DefaultBrowserConfig uses BrowseTimeout on all interfaces.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{BrowseTimeout: BrowseTimeout}
}

// FilterFunc accepts or drops a browse result.
type FilterFunc func(*NodeService) bool

// Collect gathers the results of in accepted by filter until in closes or
// ctx ends. A nil filter accepts everything.
func Collect(ctx context.Context, in <-chan *NodeService, filter FilterFunc) []*NodeService {
	var out []*NodeService
	for {
		select {
		case <-ctx.Done():
			return out
		case svc, ok := <-in:
			if !ok {
				return out
			}
			if filter == nil || filter(svc) {
				out = append(out, svc)
			}
		}
	}
}

// MDNSBrowser browses with zeroconf.
type MDNSBrowser struct {
	cfg BrowserConfig
}

// NewMDNSBrowser returns a browser; a zero BrowseTimeout selects the default.
func NewMDNSBrowser(cfg BrowserConfig) *MDNSBrowser {
	cfg.BrowseTimeout = cmp.Or(cfg.BrowseTimeout, BrowseTimeout)
	return &MDNSBrowser{cfg: cfg}
}

// BrowseNodes emits each node instance the first time it resolves. Later
// answers for the same instance, e.g. from another interface, only add
// addresses to the emitted value.
func (b *MDNSBrowser) BrowseNodes(ctx context.Context) (<-chan *NodeService, error) {
	var opts []zeroconf.ClientOption
	if ifaces := interfaces(b.cfg.Interface); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	out := make(chan *NodeService)
	go b.aggregate(ctx, entries, removed, out)
	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...)
	}()
	return out, nil
}

func (b *MDNSBrowser) aggregate(ctx context.Context, entries, removed <-chan *zeroconf.ServiceEntry, out chan<- *NodeService) {
	defer close(out)
	known := map[string]*NodeService{}
	for {
		var entry *zeroconf.ServiceEntry
		var ok bool
		select {
		case <-ctx.Done():
			return
		case gone, ok := <-removed:
			if ok {
				delete(known, gone.Instance)
			}
			continue
		case entry, ok = <-entries:
			if !ok {
				return
			}
		}

		svc := nodeFromEntry(entry.Instance, entry.HostName, entry.Port, entry.Text,
			slices.Concat(entry.AddrIPv4, entry.AddrIPv6))
		if svc == nil {
			continue
		}
		if prev := known[svc.InstanceName]; prev != nil {
			prev.Addresses = mergeAddresses(prev.Addresses, svc.Addresses)
			continue
		}
		known[svc.InstanceName] = svc
		select {
		case out <- svc:
		case <-ctx.Done():
			return
		}
	}
}

// FindNode browses until nodeID shows up or the browse timeout passes.
func (b *MDNSBrowser) FindNode(ctx context.Context, nodeID string) (*NodeService, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.BrowseTimeout)
	defer cancel()

	nodes, err := b.BrowseNodes(ctx)
	if err != nil {
		return nil, err
	}
	match := Collect(ctx, nodes, func(s *NodeService) bool {
		if strings.EqualFold(s.NodeID, nodeID) {
			cancel()
			return true
		}
		return false
	})
	if len(match) == 0 {
		return nil, fmt.Errorf("node %s not found: %w", nodeID, ctx.Err())
	}
	return match[0], nil
}

// nodeFromEntry builds a NodeService from a resolved instance. Instances
// without the node TXT records are other CoAP services and yield nil.
func nodeFromEntry(instance, host string, port int, text []string, ips []net.IP) *NodeService {
	info, err := DecodeNodeTXT(StringsToTXTRecords(text))
	if err != nil {
		return nil
	}
	info.Port = uint16(port)
	svc := &NodeService{InstanceName: instance, Host: host, Port: info.Port, NodeInfo: *info}
	for _, ip := range ips {
		svc.Addresses = append(svc.Addresses, ip.String())
	}
	return svc
}

// mergeAddresses appends the addresses of add missing from have.
func mergeAddresses(have, add []string) []string {
	for _, a := range add {
		if !slices.Contains(have, a) {
			have = append(have, a)
		}
	}
	return have
}

var _ Browser = (*MDNSBrowser)(nil)
