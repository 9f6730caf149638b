package bufpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetReturnsZeroedBuffer(t *testing.T) {
	buf := Get(128)
	require.Len(t, buf, 128)
	for _, b := range buf {
		require.Equal(t, byte(0), b)
	}
}

func TestGetPutRoundTrip(t *testing.T) {
	buf := Get(4096)
	buf[0] = 0xFF
	Put(buf)

	reused := Get(4096)
	require.Equal(t, byte(0), reused[0], "buffer must be zeroed on reuse")
}

func TestOversizedBufferNotPooled(t *testing.T) {
	buf := Get(2 << 20)
	require.Len(t, buf, 2<<20)
	Put(buf) // must not panic
}
