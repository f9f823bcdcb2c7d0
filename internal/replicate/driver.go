package replicate

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mzsync/mzsync/internal/telemetry"
	"github.com/mzsync/mzsync/internal/types"
)

// DefaultFetchBatch bounds how many rows one cursor fetch may return.
const DefaultFetchBatch = 100

// State is the driver's position in its lifecycle. The streaming state is
// never left on success; the driver runs until a fatal condition or external
// shutdown.
type State string

const (
	StateInit           State = "init"
	StateValidating     State = "validating"
	StateSubscribing    State = "subscribing"
	StateStreaming      State = "streaming"
	StateResyncRequired State = "resync_required"
	StateFailed         State = "failed"
)

// Changelog optionally mirrors applied changes to a secondary stream.
type Changelog interface {
	PublishUpsert(key, value string, ts uint64) error
	PublishDelete(key string, ts uint64) error
	PublishProgress(ts uint64) error
}

// Driver owns the consume loop: it loads the watermark, validates the query
// contract, opens the subscription and applies rows to the sink, flushing
// once per progress marker. A single goroutine owns the cursor and the
// sink's pending buffer; the driver performs no internal retries — restart
// policy belongs to whatever supervises the process.
type Driver struct {
	feed       types.Feed
	sink       types.Sink
	changelog  Changelog
	logger     *zap.Logger
	fetchBatch int

	mu         sync.Mutex
	state      State
	watermark  uint64
	hasWM      bool
	pendingOps int

	rowsTotal     telemetry.CounterVec
	flushes       telemetry.Counter
	flushDuration telemetry.Histogram
	watermarkTs   telemetry.Gauge
}

func NewDriver(feed types.Feed, sink types.Sink, changelog Changelog, fetchBatch int, logger *zap.Logger) *Driver {
	if fetchBatch <= 0 {
		fetchBatch = DefaultFetchBatch
	}
	return &Driver{
		feed:       feed,
		sink:       sink,
		changelog:  changelog,
		logger:     logger,
		fetchBatch: fetchBatch,
		state:      StateInit,

		rowsTotal:     telemetry.NewCounterVec("rows_total", "Feed rows consumed by kind", []string{"kind"}),
		flushes:       telemetry.NewCounter("flushes_total", "Completed interval flushes"),
		flushDuration: telemetry.NewHistogram("flush_duration_seconds", "Duration of interval flushes"),
		watermarkTs:   telemetry.NewGauge("watermark", "Last durably flushed logical timestamp"),
	}
}

// Run drives the subscription until a fatal error or context cancellation.
// Cancellation is a clean shutdown and returns nil; the next run resumes
// from the last flushed watermark.
func (d *Driver) Run(ctx context.Context) error {
	d.setState(StateInit)
	wm, ok, err := d.sink.Watermark(ctx)
	if err != nil {
		return d.fail(err)
	}

	d.setState(StateValidating)
	if err := d.feed.Validate(ctx); err != nil {
		return d.fail(err)
	}

	d.setState(StateSubscribing)
	var resume *uint64
	if ok {
		d.logger.Info("Resuming from stored watermark", zap.Uint64("mz_timestamp", wm))
		resume = &wm
		d.mu.Lock()
		d.watermark, d.hasWM = wm, true
		d.mu.Unlock()
	} else {
		d.logger.Info("No stored watermark, starting from a full snapshot")
	}

	cursor, err := d.feed.Subscribe(ctx, resume)
	if err != nil {
		return d.fail(err)
	}

	d.setState(StateStreaming)
	for {
		rows, err := cursor.Fetch(ctx, d.fetchBatch)
		if err != nil {
			if d.interrupted(ctx, err) {
				return nil
			}
			return d.fail(err)
		}
		for _, row := range rows {
			if err := d.apply(ctx, row); err != nil {
				if d.interrupted(ctx, err) {
					return nil
				}
				return d.fail(err)
			}
		}
	}
}

// interrupted reports whether err is the run's own cancellation surfacing
// through an in-flight fetch or flush; that is an external shutdown, not a
// failure.
func (d *Driver) interrupted(ctx context.Context, err error) bool {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		d.logger.Info("Shutdown requested, stopping stream")
		return true
	}
	return false
}

// apply handles one row in arrival order. A progress row closes the current
// interval: the new watermark is staged and the whole interval is flushed
// before the next row is looked at.
func (d *Driver) apply(ctx context.Context, row types.FeedRow) error {
	switch {
	case row.Progressed:
		return d.closeInterval(ctx, row.LogicalTime)

	case row.State == types.StateUpsert:
		d.sink.BufferUpsert(row.Key, row.Value)
		d.rowsTotal.With("upsert").Inc()
		d.mu.Lock()
		d.pendingOps++
		d.mu.Unlock()
		if d.changelog != nil {
			return d.changelog.PublishUpsert(row.Key, row.Value, row.LogicalTime)
		}
		return nil

	case row.State == types.StateDelete:
		d.sink.BufferDelete(row.Key)
		d.rowsTotal.With("delete").Inc()
		d.mu.Lock()
		d.pendingOps++
		d.mu.Unlock()
		if d.changelog != nil {
			return d.changelog.PublishDelete(row.Key, row.LogicalTime)
		}
		return nil

	default:
		return &types.ProtocolError{State: string(row.State)}
	}
}

func (d *Driver) closeInterval(ctx context.Context, ts uint64) error {
	d.sink.BufferWatermark(ts)
	start := time.Now()
	if err := d.sink.Flush(ctx); err != nil {
		return err
	}
	d.flushDuration.Observe(time.Since(start).Seconds())
	d.flushes.Inc()
	d.rowsTotal.With("progress").Inc()
	d.watermarkTs.Set(float64(ts))

	d.mu.Lock()
	d.watermark, d.hasWM = ts, true
	flushed := d.pendingOps
	d.pendingOps = 0
	d.mu.Unlock()

	d.logger.Info("Interval flushed",
		zap.Uint64("mz_timestamp", ts),
		zap.Int("ops", flushed))

	if d.changelog != nil {
		return d.changelog.PublishProgress(ts)
	}
	return nil
}

// fail records the terminal state for the error and passes it through.
func (d *Driver) fail(err error) error {
	var resync *types.ResyncRequiredError
	if errors.As(err, &resync) {
		d.setState(StateResyncRequired)
		d.logger.Error("Subscription requires resync", zap.Error(err))
		return err
	}
	d.setState(StateFailed)
	d.logger.Error("Subscription failed", zap.Error(err))
	return err
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
	d.logger.Debug("Driver state change", zap.String("state", string(s)))
}

type Status struct {
	State      State  `json:"state"`
	Watermark  string `json:"watermark"`
	PendingOps int    `json:"pending_ops"`
}

// Status snapshots the driver for the health endpoint.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	wm := ""
	if d.hasWM {
		wm = strconv.FormatUint(d.watermark, 10)
	}
	return Status{State: d.state, Watermark: wm, PendingOps: d.pendingOps}
}
