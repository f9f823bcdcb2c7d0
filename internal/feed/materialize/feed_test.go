package materialize

import (
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/mzsync/mzsync/internal/types"
)

var subscribeIdx = map[string]int{
	"mz_timestamp":  0,
	"mz_progressed": 1,
	"mz_state":      2,
	"key":           3,
	"value":         4,
}

func TestDecodeRowUpsert(t *testing.T) {
	row, err := decodeRow(subscribeIdx, []any{int64(100), false, "upsert", "a", "1"})
	require.NoError(t, err)
	require.Equal(t, types.FeedRow{
		LogicalTime: 100,
		State:       types.StateUpsert,
		Key:         "a",
		Value:       "1",
	}, row)
}

func TestDecodeRowDelete(t *testing.T) {
	row, err := decodeRow(subscribeIdx, []any{int64(110), false, "delete", "a", nil})
	require.NoError(t, err)
	require.Equal(t, types.StateDelete, row.State)
	require.Equal(t, "a", row.Key)
	require.Empty(t, row.Value)
}

func TestDecodeRowProgressCarriesNoPayload(t *testing.T) {
	row, err := decodeRow(subscribeIdx, []any{int64(120), true, nil, nil, nil})
	require.NoError(t, err)
	require.True(t, row.Progressed)
	require.Equal(t, uint64(120), row.LogicalTime)
	require.Empty(t, row.Key)
	require.Empty(t, row.State)
}

func TestDecodeRowNumericTimestamp(t *testing.T) {
	// mz_timestamp arrives as numeric(38,0) over the wire.
	num := pgtype.Numeric{Int: big.NewInt(1731947000123), Valid: true}
	row, err := decodeRow(subscribeIdx, []any{num, true, nil, nil, nil})
	require.NoError(t, err)
	require.Equal(t, uint64(1731947000123), row.LogicalTime)
}

func TestDecodeRowUnknownStatePassesThrough(t *testing.T) {
	row, err := decodeRow(subscribeIdx, []any{int64(130), false, "bogus", "a", "1"})
	require.NoError(t, err)
	require.Equal(t, types.RowState("bogus"), row.State)
}

func TestDecodeRowMissingTimestampColumn(t *testing.T) {
	_, err := decodeRow(map[string]int{"mz_progressed": 0}, []any{false})

	var transport *types.TransportError
	require.ErrorAs(t, err, &transport)
}

func TestAsUint64(t *testing.T) {
	got, err := asUint64("1731947000123")
	require.NoError(t, err)
	require.Equal(t, uint64(1731947000123), got)

	got, err = asUint64(uint64(7))
	require.NoError(t, err)
	require.Equal(t, uint64(7), got)

	_, err = asUint64(int64(-1))
	require.Error(t, err)

	_, err = asUint64(3.14)
	require.Error(t, err)
}

func TestAsString(t *testing.T) {
	require.Equal(t, "", asString(nil))
	require.Equal(t, "x", asString("x"))
	require.Equal(t, "raw", asString([]byte("raw")))
	require.Equal(t, "42", asString(int64(42)))
}
