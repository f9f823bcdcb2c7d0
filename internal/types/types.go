package types

import "context"

// RowState is the change kind carried by a non-progress feed row.
type RowState string

const (
	StateUpsert RowState = "upsert"
	StateDelete RowState = "delete"
)

// FeedRow is one unit read from the upstream subscription cursor. When
// Progressed is true the row carries only a logical-time advance; otherwise
// it carries a keyed upsert or delete.
type FeedRow struct {
	LogicalTime uint64
	Progressed  bool
	State       RowState
	Key         string
	Value       string
}

// Sink accumulates pending writes for the current logical-time interval and
// flushes them, together with the staged watermark, as one ordered pipelined
// request. Buffered operations reach the store in buffering order and
// strictly before the watermark write, so a stored watermark never refers to
// an interval whose data writes are missing.
type Sink interface {
	BufferUpsert(key, value string)
	BufferDelete(key string)
	BufferWatermark(ts uint64)
	Flush(ctx context.Context) error

	// Watermark reads the last durably flushed watermark. ok is false when no
	// watermark has ever been stored or resumability is disabled.
	Watermark(ctx context.Context) (ts uint64, ok bool, err error)

	Close() error
}

// Cursor is an open subscription returning bounded batches of rows in
// upstream delivery order. Fetch blocks until rows are available.
type Cursor interface {
	Fetch(ctx context.Context, max int) ([]FeedRow, error)
}

// Feed is the upstream side of the replicator: it validates the base query's
// column contract and opens a subscription cursor, either from a full
// snapshot (resumeFrom nil) or strictly after a previous watermark.
type Feed interface {
	Validate(ctx context.Context) error
	Subscribe(ctx context.Context, resumeFrom *uint64) (Cursor, error)
	Close(ctx context.Context) error
}
