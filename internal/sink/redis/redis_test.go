package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mzsync/mzsync/internal/config"
)

func newTestSink(t *testing.T, cfg config.RedisConfig) (*Sink, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	cfg.Addr = m.Addr()
	s, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, m
}

func TestFlushWritesDataThenWatermark(t *testing.T) {
	s, m := newTestSink(t, config.RedisConfig{WatermarkKey: "mz_timestamp"})
	ctx := context.Background()

	s.BufferUpsert("a", "1")
	s.BufferUpsert("b", "2")
	s.BufferWatermark(10)
	require.NoError(t, s.Flush(ctx))

	got, err := m.Get("a")
	require.NoError(t, err)
	require.Equal(t, "1", got)
	got, err = m.Get("b")
	require.NoError(t, err)
	require.Equal(t, "2", got)

	ts, ok, err := s.Watermark(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(10), ts)

	s.BufferDelete("a")
	s.BufferWatermark(20)
	require.NoError(t, s.Flush(ctx))

	require.False(t, m.Exists("a"))
	got, err = m.Get("b")
	require.NoError(t, err)
	require.Equal(t, "2", got)

	ts, ok, err = s.Watermark(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(20), ts)
}

func TestReplayIsIdempotent(t *testing.T) {
	s, m := newTestSink(t, config.RedisConfig{WatermarkKey: "mz_timestamp"})
	ctx := context.Background()

	interval := func() {
		s.BufferUpsert("a", "1")
		s.BufferUpsert("b", "2")
		s.BufferDelete("c")
		s.BufferWatermark(10)
		require.NoError(t, s.Flush(ctx))
	}

	m.Set("c", "stale")
	interval()
	first := snapshot(t, m)

	// Reprocessing the same interval, as recovery from a partial flush does,
	// must converge to the same state.
	interval()
	require.Equal(t, first, snapshot(t, m))
}

func TestKeyPrefix(t *testing.T) {
	s, m := newTestSink(t, config.RedisConfig{KeyPrefix: "cache"})
	ctx := context.Background()

	s.BufferUpsert("a", "1")
	require.NoError(t, s.Flush(ctx))

	got, err := m.Get("cache:a")
	require.NoError(t, err)
	require.Equal(t, "1", got)
	require.False(t, m.Exists("a"))

	s.BufferDelete("a")
	require.NoError(t, s.Flush(ctx))
	require.False(t, m.Exists("cache:a"))
}

func TestWatermarkAbsent(t *testing.T) {
	s, _ := newTestSink(t, config.RedisConfig{WatermarkKey: "mz_timestamp"})

	_, ok, err := s.Watermark(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWatermarkDisabled(t *testing.T) {
	s, m := newTestSink(t, config.RedisConfig{})
	ctx := context.Background()

	s.BufferUpsert("a", "1")
	s.BufferWatermark(10)
	require.NoError(t, s.Flush(ctx))

	// No watermark key configured: data lands, nothing else is written.
	require.Equal(t, []string{"a"}, m.Keys())
	_, ok, err := s.Watermark(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFlushClearsPendingBatch(t *testing.T) {
	s, m := newTestSink(t, config.RedisConfig{WatermarkKey: "mz_timestamp"})
	ctx := context.Background()

	s.BufferUpsert("a", "1")
	s.BufferWatermark(10)
	require.NoError(t, s.Flush(ctx))

	// An empty interval advances only the watermark.
	m.Set("a", "manual")
	s.BufferWatermark(20)
	require.NoError(t, s.Flush(ctx))

	got, err := m.Get("a")
	require.NoError(t, err)
	require.Equal(t, "manual", got, "flushed batch must not be resubmitted")

	ts, ok, err := s.Watermark(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(20), ts)
}

func snapshot(t *testing.T, m *miniredis.Miniredis) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for _, k := range m.Keys() {
		v, err := m.Get(k)
		require.NoError(t, err)
		out[k] = v
	}
	return out
}
