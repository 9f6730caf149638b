package forkserver

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/tee-executor/internal/constants"
)

func TestIsChildReflectsEnv(t *testing.T) {
	os.Unsetenv(constants.EnvForkserverChild)
	require.False(t, IsChild())

	t.Setenv(constants.EnvForkserverChild, "1")
	require.True(t, IsChild())
}

func TestAcceptWithCancelReturnsOnConnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		conn.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	conn, err := acceptWithCancel(ctx, ln)
	require.NoError(t, err)
	conn.Close()
}

func TestAcceptWithCancelReturnsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = acceptWithCancel(ctx, ln)
	require.Error(t, err)
}
