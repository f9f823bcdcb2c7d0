package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchemaErrorMessage(t *testing.T) {
	err := &SchemaError{
		Found:   []string{"key", "value", "extra"},
		Extra:   []string{"extra"},
		Missing: nil,
	}
	require.Contains(t, err.Error(), "found 3 columns")
	require.Contains(t, err.Error(), "extra columns: extra")
}

func TestResyncRequiredErrorMessage(t *testing.T) {
	err := &ResyncRequiredError{RequestedTs: 42, Err: errors.New("expired")}
	require.Contains(t, err.Error(), "42")
	require.Contains(t, err.Error(), "retention window")
	require.Contains(t, err.Error(), "discard the stored watermark")
}

func TestErrorUnwrapping(t *testing.T) {
	cause := errors.New("broken pipe")
	wrapped := fmt.Errorf("run failed: %w", &TransportError{Op: "fetch", Err: cause})

	var transport *TransportError
	require.ErrorAs(t, wrapped, &transport)
	require.ErrorIs(t, wrapped, cause)

	store := &StoreError{Op: "flush", Err: cause}
	require.ErrorIs(t, store, cause)

	resync := &ResyncRequiredError{RequestedTs: 1, Err: cause}
	require.ErrorIs(t, resync, cause)
}

func TestConfigErrorMessage(t *testing.T) {
	err := &ConfigError{Section: "materialize", Missing: []string{"dsn", "sql"}}
	require.Equal(t, "missing required materialize configuration: dsn, sql", err.Error())
}
