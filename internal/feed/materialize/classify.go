package materialize

import (
	"errors"
	"regexp"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mzsync/mzsync/internal/types"
)

// Materialize reports an expired AS OF timestamp as a generic SQL error with
// this message shape; there is no dedicated SQLSTATE for it. This pattern is
// the single place the condition is detected. Fragile by nature: it tracks
// unstructured upstream error text.
var resyncPattern = regexp.MustCompile(`Timestamp \(\d+\) is not valid for all inputs:`)

// classifyUpstreamError separates the feed-expiry condition, which needs the
// watermark discarded and a cold start, from ordinary transport failures.
func classifyUpstreamError(op string, err error, resumeFrom uint64) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && resyncPattern.MatchString(pgErr.Message) {
		return &types.ResyncRequiredError{RequestedTs: resumeFrom, Err: err}
	}
	return &types.TransportError{Op: op, Err: err}
}
