// Package status answers debug queries about a node's revocation state.
//
// A query names one field:
//
//	broadcastKey   the active group key
//	neighborCount  number of neighbor entries
//	revokedCount   entries on the node revocation list
//	stats          request counters of the revocation engine
//
// Values render as text/plain, JSON or CBOR. Access control is the caller's
// concern; the transport serves queries only to allowed peers.
package status
