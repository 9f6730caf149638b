package vendorlib

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/libteec.so", TEECSymbols)
	require.Error(t, err)
}

func TestLoadMissingSymbolFailsAndUnloads(t *testing.T) {
	// libc is present on any Linux test host but exports none of the TEEC
	// symbols, exercising the fail-fast-on-missing-symbol path without a
	// real vendor library.
	_, err := Load("libc.so.6", []string{"TEEC_InitializeContext"})
	require.Error(t, err)
}
