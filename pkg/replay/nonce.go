package replay

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// NonceScheme selects how nonces are derived from message metadata.
type NonceScheme uint8

const (
	// NonceDecimal concatenates the decimal message ID and message type.
	NonceDecimal NonceScheme = iota

	// NonceBinary encodes a big-endian uint32 ID followed by the type byte.
	NonceBinary
)

// String returns the configuration name of the scheme.
func (s NonceScheme) String() string {
	switch s {
	case NonceDecimal:
		return "decimal"
	case NonceBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// ParseNonceScheme parses a scheme name as produced by String.
func ParseNonceScheme(s string) (NonceScheme, error) {
	switch strings.ToLower(s) {
	case "", "decimal":
		return NonceDecimal, nil
	case "binary":
		return NonceBinary, nil
	default:
		return 0, fmt.Errorf("unknown nonce scheme %q", s)
	}
}

// Derive returns the unpadded nonce for a message.
func Derive(scheme NonceScheme, id uint32, typ uint8) []byte {
	if scheme == NonceBinary {
		buf := make([]byte, 5)
		binary.BigEndian.PutUint32(buf, id)
		buf[4] = typ
		return buf
	}
	buf := strconv.AppendUint(nil, uint64(id), 10)
	return strconv.AppendUint(buf, uint64(typ), 10)
}
