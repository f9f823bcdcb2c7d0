package kafka

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestChangeEventJSON(t *testing.T) {
	b, err := json.Marshal(changeEvent{Op: "upsert", Key: "a", Value: "1", LogicalTime: 10})
	require.NoError(t, err)
	require.JSONEq(t, `{"op":"upsert","key":"a","value":"1","mz_timestamp":10}`, string(b))

	b, err = json.Marshal(changeEvent{Op: "delete", Key: "a", LogicalTime: 15})
	require.NoError(t, err)
	require.JSONEq(t, `{"op":"delete","key":"a","mz_timestamp":15}`, string(b))

	// Progress events carry no payload.
	b, err = json.Marshal(changeEvent{Op: "progress", LogicalTime: 20})
	require.NoError(t, err)
	require.JSONEq(t, `{"op":"progress","mz_timestamp":20}`, string(b))
}

func TestNewConfiguresWriter(t *testing.T) {
	p, err := New([]string{"localhost:9092"}, "kv-changes", zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, "kv-changes", p.writer.Topic)
	require.False(t, p.writer.Async)
	require.NoError(t, p.Close())
}
