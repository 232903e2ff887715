// Package transport carries revocation exchanges over CoAP on UDP.
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│  Sealed command / status       │
//	├────────────────────────────────┤
//	│  CoAP (RFC 7252)               │
//	├────────────────────────────────┤
//	│  UDP                           │
//	└────────────────────────────────┘
//
// # Resource
//
// The node serves one resource, akes/key-revocation by default:
//
//	POST               sealed revocation command, answered 2.04 with the
//	                   sealed status code
//	GET ?debug=<name>  debug query, answered 2.05 in the format selected by
//	                   the Accept option (text/plain, JSON or CBOR)
//
// Confirmable requests get a piggybacked ACK carrying the same message ID.
// Non-confirmable requests get a NON reply with a fresh message ID; its
// status is still sealed for the request ID (see revocation.ReplyTo). A
// duplicate confirmable request is answered from the reply cache without
// reaching the engine again.
//
// Debug queries are served only to peers the AllowDebug policy accepts
// (loopback by default).
package transport
