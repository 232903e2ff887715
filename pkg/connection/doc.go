// Package connection provides message retransmission for confirmable CoAP
// exchanges.
//
// # Retransmission
//
// A confirmable request is retransmitted until a reply arrives or the
// retransmission budget is spent (RFC 7252 section 4.8):
//
//  1. Initial timeout: random between ACK_TIMEOUT and ACK_TIMEOUT * ACK_RANDOM_FACTOR
//  2. The timeout doubles after each retransmission
//  3. At most MAX_RETRANSMIT retransmissions
//
// With the defaults (2s, 1.5, 4) an exchange gives up after at most 93
// seconds.
//
// # Jitter
//
//	actual_delay = base_delay + random(0, base_delay * jitter)
//
// Jitter is drawn once per exchange for CoAP and on every step for general
// backoff use.
package connection
