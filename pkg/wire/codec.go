package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Debug answers and UPDATE frames use Core Deterministic Encoding so the same
// value always yields the same bytes. Decoding rejects duplicate map keys
// and indefinite lengths; a constrained peer never sends either.
var (
	enc cbor.EncMode
	dec cbor.DecMode
)

func init() {
	var err error
	if enc, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(fmt.Sprintf("wire: cbor encoder: %v", err))
	}
	dec, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: cbor decoder: %v", err))
	}
}

func decode[T any](what string, data []byte) (*T, error) {
	v := new(T)
	if err := dec.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", what, err)
	}
	return v, nil
}

// EncodeDebug encodes a debug answer.
func EncodeDebug(d *DebugAnswer) ([]byte, error) {
	return enc.Marshal(d)
}

// DecodeDebug decodes a debug answer.
func DecodeDebug(data []byte) (*DebugAnswer, error) {
	return decode[DebugAnswer]("debug answer", data)
}

// EncodeUpdate validates and encodes an UPDATE frame.
func EncodeUpdate(u *Update) ([]byte, error) {
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("invalid update: %w", err)
	}
	return enc.Marshal(u)
}

// DecodeUpdate decodes and validates an UPDATE frame.
func DecodeUpdate(data []byte) (*Update, error) {
	u, err := decode[Update]("update", data)
	if err != nil {
		return nil, err
	}
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("invalid update: %w", err)
	}
	return u, nil
}
