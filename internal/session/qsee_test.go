package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrimQSEEResponseDropsTrailingZeros(t *testing.T) {
	resp := make([]byte, 16)
	resp[0], resp[1], resp[2], resp[3] = 0, 0, 0, 0 // success status word
	resp[7] = 0xAB

	got := trimQSEEResponse(resp)
	require.Len(t, got, 8)
}

func TestTrimQSEEResponseTruncatesOnTAError(t *testing.T) {
	resp := make([]byte, 16)
	resp[0] = 1 // non-zero leading u32: TA error
	resp[10] = 0xFF

	got := trimQSEEResponse(resp)
	require.Len(t, got, 4)
}

func TestTrimQSEEResponseAllZeroKeepsFourBytes(t *testing.T) {
	resp := make([]byte, 12)
	got := trimQSEEResponse(resp)
	require.Len(t, got, 4)
}

func TestTrimQSEEResponseShortBufferPassesThrough(t *testing.T) {
	resp := []byte{1, 2, 3}
	got := trimQSEEResponse(resp)
	require.Equal(t, resp, got)
}
