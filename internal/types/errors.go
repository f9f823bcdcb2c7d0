package types

import (
	"fmt"
	"strings"
)

// ConfigError reports required configuration fields that were not supplied.
type ConfigError struct {
	Section string
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing required %s configuration: %s", e.Section, strings.Join(e.Missing, ", "))
}

// SchemaError reports a base query whose projection does not match the
// two-column {key, value} contract.
type SchemaError struct {
	Found      []string
	Missing    []string
	Extra      []string
	TypeErrors []string
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("query does not match the key/value contract")
	if len(e.Found) > 0 {
		fmt.Fprintf(&b, ": found %d columns (%s)", len(e.Found), strings.Join(e.Found, ", "))
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, "; missing columns: %s", strings.Join(e.Missing, ", "))
	}
	if len(e.Extra) > 0 {
		fmt.Fprintf(&b, "; extra columns: %s", strings.Join(e.Extra, ", "))
	}
	if len(e.TypeErrors) > 0 {
		fmt.Fprintf(&b, "; column type errors: %s", strings.Join(e.TypeErrors, ", "))
	}
	return b.String()
}

// ProtocolError indicates the upstream feed delivered a row whose state tag
// is not part of the upsert envelope contract.
type ProtocolError struct {
	State string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unknown subscribe row state %q", e.State)
}

// ResyncRequiredError indicates the upstream no longer retains history back
// to the requested resume timestamp. The only remedy is discarding the
// stored watermark and restarting from a full snapshot.
type ResyncRequiredError struct {
	RequestedTs uint64
	Err         error
}

func (e *ResyncRequiredError) Error() string {
	return fmt.Sprintf(
		"resume timestamp %d is no longer retained upstream (offline longer than the retention window); "+
			"discard the stored watermark and restart from a snapshot: %v", e.RequestedTs, e.Err)
}

func (e *ResyncRequiredError) Unwrap() error { return e.Err }

// StoreError wraps a downstream store I/O failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s failed: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// TransportError wraps an upstream I/O failure that is not a resync
// condition.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("upstream %s failed: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }
