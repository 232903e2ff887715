package discovery

import (
	"errors"
	"time"
)

// Service constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of CoAP over UDP.
	ServiceType = "_coap._udp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the CoAP port.
	DefaultPort = 5683

	// InstancePrefix starts every node instance name.
	InstancePrefix = "AKES-"

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// TXT record keys.
const (
	TXTKeyNodeID = "id"
	TXTKeyPath   = "rt"
	TXTKeyNonce  = "nonce"
	TXTKeyAAD    = "aad"
)

// Timing constants.
const (
	// BrowseTimeout is the default browse duration.
	BrowseTimeout = 5 * time.Second

	// DefaultTTL is the default DNS record TTL.
	DefaultTTL = 120 * time.Second
)

// Errors.
var (
	ErrMissingRequired     = errors.New("missing required TXT record")
	ErrInvalidNodeID       = errors.New("invalid node id")
	ErrInstanceNameTooLong = errors.New("instance name too long")
	ErrNotAdvertising      = errors.New("not advertising")
)

// NodeInfo is what a node advertises.
type NodeInfo struct {
	// NodeID is the node identity in hex.
	NodeID string

	// Port is the CoAP port. Zero selects DefaultPort.
	Port uint16

	// Path is the revocation resource path.
	Path string

	// NonceScheme and AAD name the channel settings controllers must use.
	NonceScheme string
	AAD         string
}

// InstanceName returns the mDNS instance name for the node.
func (n *NodeInfo) InstanceName() string {
	name := InstancePrefix + n.NodeID
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}

// NodeService is a node found by browsing.
type NodeService struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string

	NodeInfo
}

// Endpoint returns "addr:port" for the first address, or "" when the
// service has no address.
func (s *NodeService) Endpoint() string {
	if len(s.Addresses) == 0 {
		return ""
	}
	return joinHostPort(s.Addresses[0], s.Port)
}
