package revocation

import (
	"fmt"

	"github.com/akes-protocol/akes-go/pkg/aead"
	"github.com/akes-protocol/akes-go/pkg/replay"
	"github.com/akes-protocol/akes-go/pkg/wire"
)

// Sealer is the controller side of the exchange: it seals commands and opens
// status responses under the channel key.
type Sealer struct {
	codec  *aead.Codec
	scheme replay.NonceScheme
	aad    AADMode
}

// NewSealer creates a Sealer. scheme and aad must match the node's engine.
func NewSealer(channelKey []byte, scheme replay.NonceScheme, aad AADMode) (*Sealer, error) {
	codec, err := aead.New(channelKey)
	if err != nil {
		return nil, err
	}
	return &Sealer{codec: codec, scheme: scheme, aad: aad}, nil
}

// SealCommand seals cmd for a request with the given message ID and type.
func (s *Sealer) SealCommand(id uint32, typ uint8, path string, code uint8, cmd *wire.Command) ([]byte, error) {
	return s.codec.Seal(replay.Derive(s.scheme, id, typ), wire.EncodeCommand(cmd), s.ad(path, code))
}

// OpenStatus opens a response sealed with the given reply message ID and type.
// path and code are those of the request.
func (s *Sealer) OpenStatus(id uint32, typ uint8, path string, code uint8, sealed []byte) (wire.Status, error) {
	plain, err := s.codec.Open(replay.Derive(s.scheme, id, typ), sealed, s.ad(path, code))
	if err != nil {
		return 0, fmt.Errorf("failed to open response: %w", err)
	}
	return wire.DecodeStatus(plain)
}

func (s *Sealer) ad(path string, code uint8) []byte {
	if s.aad == AADContext {
		return aead.BuildAAD(path, code)
	}
	return nil
}
