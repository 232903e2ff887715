package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pion/dtls/v3/pkg/crypto/ccm"
)

// Framing parameters.
const (
	// KeySize is the length of AES-128 channel and group keys.
	KeySize = 16

	// TagSize is the CCM authentication tag length.
	TagSize = 8

	// NonceSize is the CCM nonce length.
	NonceSize = 13

	// NoncePad is the byte used to right-pad short nonces.
	NoncePad = 0xFF
)

// Framing errors.
var (
	ErrAuthFailed      = errors.New("message authentication failed")
	ErrInvalidKey      = errors.New("invalid key")
	ErrNonceTooLong    = errors.New("nonce too long")
	ErrMessageTooShort = errors.New("sealed message shorter than tag")
)

// Codec seals and opens messages under a single key.
// A Codec is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// New creates a Codec for the given AES key.
func New(key []byte) (*Codec, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	c, err := ccm.NewCCM(block, TagSize, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create CCM: %w", err)
	}
	return &Codec{aead: c}, nil
}

// Seal encrypts plaintext and appends the authentication tag.
func (c *Codec) Seal(nonce, plaintext, aad []byte) ([]byte, error) {
	n, err := PadNonce(nonce)
	if err != nil {
		return nil, err
	}
	return c.aead.Seal(nil, n, plaintext, aad), nil
}

// Open verifies and decrypts sealed. On any verification failure it returns
// ErrAuthFailed and a nil slice.
func (c *Codec) Open(nonce, sealed, aad []byte) ([]byte, error) {
	n, err := PadNonce(nonce)
	if err != nil {
		return nil, err
	}
	if len(sealed) < TagSize {
		return nil, fmt.Errorf("%w: %w", ErrAuthFailed, ErrMessageTooShort)
	}
	plaintext, err := c.aead.Open(nil, n, sealed, aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// Seal encrypts plaintext under key with empty associated data.
func Seal(key, nonce, plaintext []byte) ([]byte, error) {
	return SealWithAAD(key, nonce, plaintext, nil)
}

// Open verifies and decrypts sealed under key with empty associated data.
func Open(key, nonce, sealed []byte) ([]byte, error) {
	return OpenWithAAD(key, nonce, sealed, nil)
}

// SealWithAAD encrypts plaintext under key, authenticating aad.
func SealWithAAD(key, nonce, plaintext, aad []byte) ([]byte, error) {
	c, err := New(key)
	if err != nil {
		return nil, err
	}
	return c.Seal(nonce, plaintext, aad)
}

// OpenWithAAD verifies and decrypts sealed under key, authenticating aad.
func OpenWithAAD(key, nonce, sealed, aad []byte) ([]byte, error) {
	c, err := New(key)
	if err != nil {
		return nil, err
	}
	return c.Open(nonce, sealed, aad)
}

// PadNonce returns a NonceSize copy of nonce, right-padded with NoncePad.
func PadNonce(nonce []byte) ([]byte, error) {
	if len(nonce) > NonceSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrNonceTooLong, len(nonce))
	}
	out := make([]byte, NonceSize)
	n := copy(out, nonce)
	for i := n; i < NonceSize; i++ {
		out[i] = NoncePad
	}
	return out, nil
}

// BuildAAD encodes a CoAP resource path and method code as associated data.
//
// Layout: pathLen(2, big endian) || path || code(1).
func BuildAAD(path string, code uint8) []byte {
	buf := make([]byte, 0, 2+len(path)+1)
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], uint16(len(path)))
	buf = append(buf, tmp[:]...)
	buf = append(buf, path...)
	buf = append(buf, code)
	return buf
}
