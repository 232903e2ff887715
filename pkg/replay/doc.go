// Package replay derives message nonces and tracks per-peer replay watermarks.
//
// A nonce is derived from the CoAP message ID and message type of the
// exchange. Two schemes exist:
//   - NonceDecimal: the decimal text of the ID followed by the decimal text of
//     the type ("2000" + "0" = "20000"). Deployed firmware uses this form.
//   - NonceBinary: big-endian uint32 ID followed by a one-byte type.
//
// Both are right-padded to 13 bytes by the aead package.
//
// A Guard remembers the highest accepted message ID per peer. Guard performs
// no locking; the owner serializes Check and Advance together with whatever
// state change the accepted message causes.
package replay
