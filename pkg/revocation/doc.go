// Package revocation implements the node-side revocation state machine.
//
// An Engine turns one inbound revocation request into one sealed response:
//
//	RECEIVED -> DECRYPTED -> VALIDATED -> APPLIED -> RESPONDING -> DONE
//	    |           |            |
//	    |           |            +-> TARGET_UNKNOWN / REPLAY_REJECTED -+
//	    |           +-> MALFORMED_PAYLOAD ----------------------------+
//	    +-> REPLAY_REJECTED / AUTH_FAILED ----------------------------+-> RESPONDING
//
// Every failure is reported to the requester as a distinct status code.
// Handle returns an error only when the service must stop: the key store
// reported corruption (ErrHalted), or the transport asked for a reply nonce
// equal to the request nonce (ErrNonceReuse).
package revocation
