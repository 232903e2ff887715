// Package aead implements the authenticated framing used by AKES revocation
// exchanges.
//
// Messages are protected with AES-CCM using an 8-byte authentication tag and
// a 13-byte nonce. Nonces shorter than 13 bytes are right-padded with 0xFF,
// which is how constrained nodes derive nonces from CoAP message metadata.
//
// The sealed form is ciphertext followed by the tag:
//
//	+----------------------+--------+
//	| ciphertext (len(m))  | tag(8) |
//	+----------------------+--------+
//
// Open always verifies the tag before any plaintext is handed back. There is
// no way to obtain decrypted bytes from a message that fails verification.
//
// Associated data is empty by default, matching deployed firmware. Use
// SealWithAAD/OpenWithAAD with BuildAAD to bind the CoAP resource and method
// into the tag.
package aead
