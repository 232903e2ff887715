package transport

import (
	"context"
	"net"

	"github.com/akes-protocol/akes-go/pkg/revocation"
	"github.com/akes-protocol/akes-go/pkg/status"
)

// RevocationHandler runs revocation requests. Implemented by
// revocation.Engine.
type RevocationHandler interface {
	// Handle processes one request and returns the sealed response.
	Handle(ctx context.Context, req revocation.Request) (*revocation.Response, error)

	// Halted reports whether the handler refuses all requests.
	Halted() bool
}

// DebugQuerier answers debug queries. Implemented by status.Querier.
type DebugQuerier interface {
	Query(name string) (*status.Value, error)
}

// TransportServer represents an AKES CoAP server.
// Implemented by Server.
type TransportServer interface {
	// Start begins serving datagrams.
	Start(ctx context.Context) error

	// Stop stops the server and waits for in-flight requests.
	Stop() error

	// Addr returns the server's listen address.
	Addr() net.Addr
}

// Compile-time interface satisfaction checks.
var (
	_ RevocationHandler = (*revocation.Engine)(nil)
	_ DebugQuerier      = (*status.Querier)(nil)
	_ TransportServer   = (*Server)(nil)
)
