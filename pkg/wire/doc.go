// Package wire defines the plaintext payload formats of the AKES revocation
// resource.
//
// Revocation command (POST, after decryption):
//
//	+----------------------+------------------------------+
//	| target node id (8)   | new key material (fixed, 16+) |
//	+----------------------+------------------------------+
//
// Revocation response (after decryption): the status code as ASCII decimal,
// e.g. "0" for success.
//
// Debug answers and group-key UPDATE frames use CBOR with integer keys,
// encoded deterministically.
package wire
