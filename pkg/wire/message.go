package wire

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Debug field names accepted by the revocation resource.
const (
	FieldBroadcastKey  = "broadcastKey"
	FieldNeighborCount = "neighborCount"
	FieldRevokedCount  = "revokedCount"
	FieldStats         = "stats"
)

// DebugAnswer is the structured answer to a debug query.
//
// CBOR encoding:
//
//	{
//	  1: field,      // text
//	  2: key,        // bytes, broadcastKey only
//	  3: count,      // uint, counts only
//	  4: counters    // map text->uint, stats only
//	}
type DebugAnswer struct {
	Field    string            `cbor:"1,keyasint"`
	Key      []byte            `cbor:"2,keyasint,omitempty"`
	Count    *uint64           `cbor:"3,keyasint,omitempty"`
	Counters map[string]uint64 `cbor:"4,keyasint,omitempty"`
}

// MarshalJSON renders the answer the way the node's JSON debug view does:
// the key as {"Key":"<hex>"}, counts under their field name.
func (d DebugAnswer) MarshalJSON() ([]byte, error) {
	switch {
	case d.Key != nil:
		return json.Marshal(map[string]string{"Key": hex.EncodeToString(d.Key)})
	case d.Count != nil:
		return json.Marshal(map[string]uint64{d.Field: *d.Count})
	case d.Counters != nil:
		return json.Marshal(d.Counters)
	default:
		return nil, fmt.Errorf("debug answer %q has no value", d.Field)
	}
}

// Update carries a new group key to one surviving neighbor.
//
// CBOR encoding:
//
//	{
//	  1: sender,     // bytes(8), node id of the rekeying node
//	  2: counter,    // uint32, per-neighbor frame counter (nonce input)
//	  3: sealedKey   // bytes, group key sealed under the neighbor's wrap key
//	}
type Update struct {
	Sender    [TargetSize]byte `cbor:"1,keyasint"`
	Counter   uint32           `cbor:"2,keyasint"`
	SealedKey []byte           `cbor:"3,keyasint"`
}

// Validate checks if the update is well formed.
func (u *Update) Validate() error {
	if len(u.SealedKey) == 0 {
		return fmt.Errorf("empty sealed key")
	}
	return nil
}
