package status

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/akes-protocol/akes-go/pkg/keystore"
	"github.com/akes-protocol/akes-go/pkg/revocation"
	"github.com/akes-protocol/akes-go/pkg/wire"
)

// Query errors.
var (
	ErrUnknownField  = errors.New("unknown debug field")
	ErrNotAcceptable = errors.New("format not acceptable")
)

// Format is a debug value rendering.
type Format uint8

const (
	FormatText Format = iota
	FormatJSON
	FormatCBOR
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatJSON:
		return "json"
	case FormatCBOR:
		return "cbor"
	default:
		return "unknown"
	}
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text", "plain":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "cbor":
		return FormatCBOR, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrNotAcceptable, s)
	}
}

// Source is the key store view a Querier reads.
type Source interface {
	GroupKey() keystore.GroupKey
	NeighborCount() int
	Revoked() []keystore.NodeID
}

// StatsSource provides engine counters.
type StatsSource interface {
	Stats() revocation.Stats
}

var (
	_ Source      = (*keystore.Store)(nil)
	_ StatsSource = (*revocation.Engine)(nil)
)

// Querier answers debug queries.
type Querier struct {
	store Source
	stats StatsSource
}

// NewQuerier creates a Querier. stats may be nil, in which case the stats
// field is unknown.
func NewQuerier(store Source, stats StatsSource) *Querier {
	return &Querier{store: store, stats: stats}
}

// Fields returns the field names the querier answers.
func (q *Querier) Fields() []string {
	fields := []string{wire.FieldBroadcastKey, wire.FieldNeighborCount, wire.FieldRevokedCount}
	if q.stats != nil {
		fields = append(fields, wire.FieldStats)
	}
	return fields
}

// Query reads one field. Each call takes a consistent view of the store.
func (q *Querier) Query(name string) (*Value, error) {
	a := wire.DebugAnswer{Field: name}
	switch name {
	case wire.FieldBroadcastKey:
		key := q.store.GroupKey()
		a.Key = key[:]
	case wire.FieldNeighborCount:
		a.Count = count(q.store.NeighborCount())
	case wire.FieldRevokedCount:
		a.Count = count(len(q.store.Revoked()))
	case wire.FieldStats:
		if q.stats == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
		a.Counters = q.stats.Stats().Map()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return &Value{answer: a}, nil
}

func count(n int) *uint64 {
	v := uint64(n)
	return &v
}

// Value is the answer to one query.
type Value struct {
	answer wire.DebugAnswer
}

// NewValue wraps a decoded answer.
func NewValue(a wire.DebugAnswer) *Value {
	return &Value{answer: a}
}

// Answer returns the structured answer.
func (v *Value) Answer() wire.DebugAnswer {
	return v.answer
}

// Text renders the value as text/plain: the raw key bytes for broadcastKey,
// the decimal count for counts, "NAME=n" lines for stats.
func (v *Value) Text() []byte {
	a := v.answer
	switch {
	case a.Key != nil:
		return slices.Clone(a.Key)
	case a.Count != nil:
		return strconv.AppendUint(nil, *a.Count, 10)
	default:
		var b strings.Builder
		for _, name := range slices.Sorted(maps.Keys(a.Counters)) {
			fmt.Fprintf(&b, "%s=%d\n", name, a.Counters[name])
		}
		return []byte(b.String())
	}
}

// JSON renders the value as JSON.
func (v *Value) JSON() ([]byte, error) {
	return json.Marshal(v.answer)
}

// CBOR renders the value as CBOR.
func (v *Value) CBOR() ([]byte, error) {
	return wire.EncodeDebug(&v.answer)
}

// Render returns the value in format f.
func (v *Value) Render(f Format) ([]byte, error) {
	switch f {
	case FormatText:
		return v.Text(), nil
	case FormatJSON:
		return v.JSON()
	case FormatCBOR:
		return v.CBOR()
	default:
		return nil, fmt.Errorf("%w: %d", ErrNotAcceptable, f)
	}
}

// Decode parses a rendered value of field name back into a Value. Text
// renderings of stats are not decodable.
func Decode(name string, f Format, data []byte) (*Value, error) {
	a := wire.DebugAnswer{Field: name}
	switch f {
	case FormatCBOR:
		d, err := wire.DecodeDebug(data)
		if err != nil {
			return nil, err
		}
		return &Value{answer: *d}, nil
	case FormatText:
		if name == wire.FieldBroadcastKey {
			a.Key = slices.Clone(data)
			return &Value{answer: a}, nil
		}
		n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid count %q: %w", data, err)
		}
		a.Count = &n
		return &Value{answer: a}, nil
	case FormatJSON:
		return decodeJSON(name, data)
	default:
		return nil, fmt.Errorf("%w: %d", ErrNotAcceptable, f)
	}
}

func decodeJSON(name string, data []byte) (*Value, error) {
	a := wire.DebugAnswer{Field: name}
	switch name {
	case wire.FieldBroadcastKey:
		var m struct{ Key string }
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("invalid key answer: %w", err)
		}
		key, err := keystore.ParseGroupKey(m.Key)
		if err != nil {
			return nil, err
		}
		a.Key = key[:]
	case wire.FieldStats:
		if err := json.Unmarshal(data, &a.Counters); err != nil {
			return nil, fmt.Errorf("invalid stats answer: %w", err)
		}
	default:
		var m map[string]uint64
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("invalid count answer: %w", err)
		}
		n, ok := m[name]
		if !ok {
			return nil, fmt.Errorf("count answer lacks %q", name)
		}
		a.Count = &n
	}
	return &Value{answer: a}, nil
}

// String returns a human readable rendering.
func (v *Value) String() string {
	if v.answer.Key != nil {
		return hex.EncodeToString(v.answer.Key)
	}
	return strings.TrimSpace(string(v.Text()))
}
