package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akes-protocol/akes-go/pkg/keystore"
	"github.com/akes-protocol/akes-go/pkg/revocation"
	"github.com/akes-protocol/akes-go/pkg/wire"
)

var groupKey = keystore.GroupKey([]byte("oldsecoldsecolds"))

type fakeStats struct{ s revocation.Stats }

func (f fakeStats) Stats() revocation.Stats { return f.s }

func newQuerier(t *testing.T, neighbors int) (*Querier, *keystore.Store) {
	t.Helper()
	store, err := keystore.New(keystore.Config{InitialKey: groupKey})
	require.NoError(t, err)
	for i := 1; i <= neighbors; i++ {
		require.NoError(t, store.Enroll(keystore.NodeID{0xfd, 7: byte(i)}, keystore.NeighborPermanent, nil))
	}
	return NewQuerier(store, fakeStats{revocation.Stats{Received: 4, Success: 3, ReplayRejected: 1}}), store
}

func TestQueryBroadcastKey(t *testing.T) {
	q, _ := newQuerier(t, 2)

	v, err := q.Query(wire.FieldBroadcastKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("oldsecoldsecolds"), v.Text())

	js, err := v.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"Key":"6f6c647365636f6c647365636f6c6473"}`, string(js))
	assert.Equal(t, "6f6c647365636f6c647365636f6c6473", v.String())
}

func TestQueryCounts(t *testing.T) {
	q, store := newQuerier(t, 27)

	v, err := q.Query(wire.FieldNeighborCount)
	require.NoError(t, err)
	assert.Equal(t, "27", string(v.Text()))

	_, err = store.RevokeAndRekey(keystore.NodeID{0xfd, 7: 3}, keystore.GroupKey([]byte("newsecnewsecnews")))
	require.NoError(t, err)

	v, err = q.Query(wire.FieldNeighborCount)
	require.NoError(t, err)
	assert.Equal(t, "26", string(v.Text()))

	js, err := v.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"neighborCount":26}`, string(js))

	v, err = q.Query(wire.FieldRevokedCount)
	require.NoError(t, err)
	assert.Equal(t, "1", v.String())
}

func TestQueryStats(t *testing.T) {
	q, _ := newQuerier(t, 0)

	v, err := q.Query(wire.FieldStats)
	require.NoError(t, err)
	assert.Contains(t, string(v.Text()), "RECEIVED=4\n")
	assert.Contains(t, string(v.Text()), "SUCCESS=3\n")

	noStats := NewQuerier(q.store, nil)
	_, err = noStats.Query(wire.FieldStats)
	assert.ErrorIs(t, err, ErrUnknownField)
	assert.NotContains(t, noStats.Fields(), wire.FieldStats)
}

func TestQueryUnknownField(t *testing.T) {
	q, _ := newQuerier(t, 0)

	for _, name := range []string{"", "pairwiseKey", "BROADCASTKEY"} {
		_, err := q.Query(name)
		assert.ErrorIs(t, err, ErrUnknownField, name)
	}
}

func TestRenderDecode(t *testing.T) {
	q, _ := newQuerier(t, 5)

	tests := []struct {
		field  string
		format Format
	}{
		{wire.FieldBroadcastKey, FormatText},
		{wire.FieldBroadcastKey, FormatJSON},
		{wire.FieldBroadcastKey, FormatCBOR},
		{wire.FieldNeighborCount, FormatText},
		{wire.FieldNeighborCount, FormatJSON},
		{wire.FieldNeighborCount, FormatCBOR},
		{wire.FieldStats, FormatJSON},
		{wire.FieldStats, FormatCBOR},
	}

	for _, tt := range tests {
		t.Run(tt.field+"/"+tt.format.String(), func(t *testing.T) {
			v, err := q.Query(tt.field)
			require.NoError(t, err)

			data, err := v.Render(tt.format)
			require.NoError(t, err)

			got, err := Decode(tt.field, tt.format, data)
			require.NoError(t, err)
			assert.Equal(t, v.String(), got.String())
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xml")
	assert.ErrorIs(t, err, ErrNotAcceptable)

	_, err = (&Value{}).Render(Format(9))
	assert.ErrorIs(t, err, ErrNotAcceptable)
}
