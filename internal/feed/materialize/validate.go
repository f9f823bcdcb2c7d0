package materialize

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/mzsync/mzsync/internal/types"
)

// column is one projected column of the probed base query.
type column struct {
	Name     string
	OID      uint32
	TypeName string
}

// validateColumns issues a zero-row probe of the base query and checks that
// it projects exactly the two columns the upsert envelope needs.
func validateColumns(ctx context.Context, conn *pgx.Conn, query string) error {
	rows, err := conn.Query(ctx, fmt.Sprintf("SELECT * FROM (%s) WHERE FALSE LIMIT 0", query))
	if err != nil {
		return &types.TransportError{Op: "probe", Err: err}
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]column, len(fields))
	for i, fd := range fields {
		name := "unknown"
		if dt, ok := conn.TypeMap().TypeForOID(fd.DataTypeOID); ok {
			name = dt.Name
		}
		cols[i] = column{Name: fd.Name, OID: fd.DataTypeOID, TypeName: name}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return &types.TransportError{Op: "probe", Err: err}
	}

	return checkColumns(cols)
}

// checkColumns enforces the {key, value} contract: exactly two columns with
// those names, each of a string, numeric or raw-binary type class.
func checkColumns(cols []column) error {
	found := make([]string, len(cols))
	seen := make(map[string]bool, len(cols))
	for i, c := range cols {
		found[i] = c.Name
		seen[c.Name] = true
	}

	var missing, extra []string
	for _, want := range []string{"key", "value"} {
		if !seen[want] {
			missing = append(missing, want)
		}
	}
	for _, c := range cols {
		if c.Name != "key" && c.Name != "value" {
			extra = append(extra, c.Name)
		}
	}

	if len(cols) != 2 || len(missing) > 0 {
		return &types.SchemaError{Found: found, Missing: missing, Extra: extra}
	}

	var typeErrors []string
	for _, c := range cols {
		if !scalarClass(c.OID) {
			typeErrors = append(typeErrors, fmt.Sprintf("%q has an invalid type: %s", c.Name, c.TypeName))
		}
	}
	if len(typeErrors) > 0 {
		return &types.SchemaError{Found: found, TypeErrors: typeErrors}
	}

	return nil
}

// scalarClass reports whether the type belongs to the string, numeric or
// raw-binary class the downstream store can hold.
func scalarClass(oid uint32) bool {
	switch oid {
	case pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID, pgtype.NameOID:
		return true
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID,
		pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID:
		return true
	case pgtype.ByteaOID:
		return true
	}
	return false
}
