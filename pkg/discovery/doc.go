// Package discovery advertises and finds AKES nodes with mDNS/DNS-SD.
//
// Nodes advertise the revocation resource as a _coap._udp service. Instance
// name format: AKES-<node-id>. TXT records:
//
//	id     node identity (16 hex digits)
//	rt     resource path
//	nonce  nonce scheme (decimal, binary)
//	aad    associated data mode (none, context)
//
// Controllers browse the service type and keep only instances carrying an
// id record, so other CoAP services on the link are ignored.
package discovery
