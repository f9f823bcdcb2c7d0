package materialize

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/mzsync/mzsync/internal/config"
	"github.com/mzsync/mzsync/internal/types"
)

// Feed owns the upstream Materialize connection. Materialize speaks the
// Postgres wire protocol, so the connection is an ordinary pgx session; the
// subscription is driven with SQL (DECLARE / FETCH), not a replication
// protocol.
type Feed struct {
	cfg    config.MaterializeConfig
	logger *zap.Logger
	conn   *pgx.Conn
}

func Connect(ctx context.Context, cfg config.MaterializeConfig, logger *zap.Logger) (*Feed, error) {
	pgCfg, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, &types.TransportError{Op: "parse dsn", Err: err}
	}
	if pgCfg.RuntimeParams == nil {
		pgCfg.RuntimeParams = map[string]string{}
	}
	pgCfg.RuntimeParams["application_name"] = "mzsync"
	// The welcome notice would otherwise bypass our logger.
	pgCfg.RuntimeParams["welcome_message"] = "off"

	logger.Info("Connecting to Materialize",
		zap.String("host", pgCfg.Host),
		zap.Uint16("port", pgCfg.Port),
		zap.String("database", pgCfg.Database),
		zap.String("user", pgCfg.User))

	conn, err := pgx.ConnectConfig(ctx, pgCfg)
	if err != nil {
		return nil, &types.TransportError{Op: "connect", Err: err}
	}

	f := &Feed{cfg: cfg, logger: logger, conn: conn}
	f.logEnvironment(ctx)
	return f, nil
}

// logEnvironment records which Materialize environment, role and cluster the
// feed is attached to. Best effort: failures here do not abort startup.
func (f *Feed) logEnvironment(ctx context.Context) {
	var envID, database, schema, role string
	err := f.conn.QueryRow(ctx,
		"SELECT mz_environment_id(), current_database(), current_schema(), current_role()").
		Scan(&envID, &database, &schema, &role)
	if err != nil {
		f.logger.Debug("Could not read Materialize environment metadata", zap.Error(err))
		return
	}

	var cluster string
	if err := f.conn.QueryRow(ctx, "SHOW CLUSTER").Scan(&cluster); err != nil {
		f.logger.Debug("Could not read current cluster", zap.Error(err))
	}

	f.logger.Info("Connected to Materialize environment",
		zap.String("environment", envID),
		zap.String("role", role))
	f.logger.Info("Using Materialize database",
		zap.String("database", database),
		zap.String("schema", schema),
		zap.String("cluster", cluster))
}

func (f *Feed) Validate(ctx context.Context) error {
	if err := validateColumns(ctx, f.conn, f.cfg.SQL); err != nil {
		return err
	}
	f.logger.Info("Query validation passed: columns are 'key' and 'value' with valid types")
	return nil
}

// Subscribe declares the subscription cursor inside an explicit transaction
// and returns a cursor fetching from it.
func (f *Feed) Subscribe(ctx context.Context, resumeFrom *uint64) (types.Cursor, error) {
	stmt := BuildSubscribe(f.cfg.SQL, resumeFrom)
	f.logger.Info("Opening subscription", zap.String("statement", stmt))

	var resumeTs uint64
	if resumeFrom != nil {
		resumeTs = *resumeFrom
	}

	tx, err := f.conn.Begin(ctx)
	if err != nil {
		return nil, &types.TransportError{Op: "begin", Err: err}
	}
	if _, err := tx.Exec(ctx, stmt); err != nil {
		_ = tx.Rollback(ctx)
		return nil, classifyUpstreamError("declare", err, resumeTs)
	}

	return &cursor{tx: tx, resumeFrom: resumeTs, logger: f.logger}, nil
}

func (f *Feed) Close(ctx context.Context) error {
	f.logger.Debug("Closing Materialize connection")
	return f.conn.Close(ctx)
}

type cursor struct {
	tx         pgx.Tx
	resumeFrom uint64
	logger     *zap.Logger
}

func (c *cursor) Fetch(ctx context.Context, max int) ([]types.FeedRow, error) {
	rows, err := c.tx.Query(ctx, fmt.Sprintf("FETCH %d %s", max, cursorName))
	if err != nil {
		return nil, classifyUpstreamError("fetch", err, c.resumeFrom)
	}
	defer rows.Close()

	idx := make(map[string]int, len(rows.FieldDescriptions()))
	for i, fd := range rows.FieldDescriptions() {
		idx[fd.Name] = i
	}

	var out []types.FeedRow
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, &types.TransportError{Op: "decode", Err: err}
		}
		row, err := decodeRow(idx, vals)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	// Errors the server raises mid-fetch (including an invalidated AS OF
	// timestamp) surface here rather than from Query.
	if err := rows.Err(); err != nil {
		return nil, classifyUpstreamError("fetch", err, c.resumeFrom)
	}

	return out, nil
}

// decodeRow maps one fetched row onto a FeedRow by column name. The state
// tag is carried through untouched; classifying it is the driver's job.
func decodeRow(idx map[string]int, vals []any) (types.FeedRow, error) {
	var row types.FeedRow

	i, ok := idx["mz_timestamp"]
	if !ok {
		return row, &types.TransportError{Op: "decode", Err: fmt.Errorf("row has no mz_timestamp column")}
	}
	ts, err := asUint64(vals[i])
	if err != nil {
		return row, &types.TransportError{Op: "decode", Err: fmt.Errorf("mz_timestamp: %w", err)}
	}
	row.LogicalTime = ts

	i, ok = idx["mz_progressed"]
	if !ok {
		return row, &types.TransportError{Op: "decode", Err: fmt.Errorf("row has no mz_progressed column")}
	}
	progressed, _ := vals[i].(bool)
	row.Progressed = progressed
	if progressed {
		return row, nil
	}

	if i, ok = idx["mz_state"]; ok {
		row.State = types.RowState(asString(vals[i]))
	}
	if i, ok = idx["key"]; ok {
		row.Key = asString(vals[i])
	}
	if i, ok = idx["value"]; ok {
		row.Value = asString(vals[i])
	}
	return row, nil
}

func asUint64(v any) (uint64, error) {
	switch t := v.(type) {
	case uint64:
		return t, nil
	case int64:
		if t < 0 {
			return 0, fmt.Errorf("negative logical time %d", t)
		}
		return uint64(t), nil
	case pgtype.Numeric:
		i, err := t.Int64Value()
		if err != nil {
			return 0, err
		}
		if i.Int64 < 0 {
			return 0, fmt.Errorf("negative logical time %d", i.Int64)
		}
		return uint64(i.Int64), nil
	case string:
		return strconv.ParseUint(t, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported logical time type %T", v)
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", v)
	}
}
