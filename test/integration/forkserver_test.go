// Package integration exercises internal/forkserver's request loop
// end-to-end: a real accept loop, a real re-exec'd child process (this test
// binary, dispatched back into RunChild via TestMain), and a backend built
// from internal/session.Dispatcher plus a MockInvoker — the closest thing to
// a full run without a real vendor .so.
package integration

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	executor "github.com/behrlich/tee-executor"
	"github.com/behrlich/tee-executor/internal/forkserver"
	"github.com/behrlich/tee-executor/internal/interfaces"
	"github.com/behrlich/tee-executor/internal/session"
	"github.com/behrlich/tee-executor/internal/wire"
)

// echoBackend drives a MockInvoker-backed Dispatcher: a stand-in for a real
// vendor-library backend that still exercises the full TLV state machine,
// process re-exec, and exit-code plumbing end to end.
type echoBackend struct{}

func newEchoBackend() (interfaces.Backend, error) { return echoBackend{}, nil }

func (echoBackend) Init() error                            { return nil }
func (echoBackend) Deinit() error                           { return nil }
func (echoBackend) PreExecute(statusConn io.Writer) error   { return nil }
func (echoBackend) PostExecute(statusConn io.Writer) error  { return nil }

func (echoBackend) Execute(dataConn io.ReadWriter) int {
	d := &session.Dispatcher{Backend: "optee", Invoker: executor.NewMockInvoker()}
	return d.Run(dataConn)
}

// TestMain lets this binary play both roles forkserver needs: the parent
// test process, and (when re-exec'd by Server.spawnChild) the child that
// calls RunChild and exits, the same way cmd/executor's real main does.
func TestMain(m *testing.M) {
	if forkserver.IsChild() {
		os.Exit(forkserver.RunChild(forkserver.Config{NewBackend: newEchoBackend}))
	}
	os.Exit(m.Run())
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func tlvFrame(typ uint8, body []byte) []byte {
	hdr := make([]byte, 5)
	hdr[0] = typ
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(len(body)))
	return append(hdr, body...)
}

func dialWithRetry(t *testing.T, port int) net.Conn {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return conn
		}
		lastErr = err
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("dial 127.0.0.1:%d: %v", port, lastErr)
	return nil
}

// TestForkserverTerminateStopsTheLoop drives one full request through a real
// re-exec'd child process and confirms TERMINATE (child exit 130) stops
// Server.Run's loop, which then returns 0 (spec §4.7).
func TestForkserverTerminateStopsTheLoop(t *testing.T) {
	port := freePort(t)

	srv := forkserver.New(forkserver.Config{
		Target:     "optee",
		StatusPort: port,
		NewBackend: newEchoBackend,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan int, 1)
	go func() { runDone <- srv.Run(ctx) }()

	statusConn := dialWithRetry(t, port)
	defer statusConn.Close()

	dataConn := dialWithRetry(t, port+1)

	var stream []byte
	stream = append(stream, tlvFrame(wire.CmdStart, []byte("uuid-stub-16byte"))...)
	stream = append(stream, tlvFrame(wire.CmdTerminate, nil)...)
	_, err := dataConn.Write(stream)
	require.NoError(t, err)
	require.NoError(t, dataConn.Close())

	select {
	case code := <-runDone:
		require.Equal(t, 0, code, "Server.Run reports a clean stop even though the child exited 130")
	case <-time.After(10 * time.Second):
		t.Fatal("forkserver did not stop after TERMINATE")
	}
}

// TestForkserverServesMultipleRequestsBeforeEnd confirms the parent keeps
// looping across multiple END-terminated connections (the common case, as
// opposed to the TERMINATE shutdown path above).
func TestForkserverServesMultipleRequestsBeforeEnd(t *testing.T) {
	port := freePort(t)

	srv := forkserver.New(forkserver.Config{
		Target:     "optee",
		StatusPort: port,
		NewBackend: newEchoBackend,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan int, 1)
	go func() { runDone <- srv.Run(ctx) }()

	statusConn := dialWithRetry(t, port)
	defer statusConn.Close()

	sendBody := make([]byte, 20)
	binary.LittleEndian.PutUint32(sendBody[0:4], 1)

	for i := 0; i < 3; i++ {
		dataConn := dialWithRetry(t, port+1)

		var stream []byte
		stream = append(stream, tlvFrame(wire.CmdStart, []byte("uuid-stub-16byte"))...)
		stream = append(stream, tlvFrame(wire.CmdSend, sendBody)...)
		stream = append(stream, tlvFrame(wire.CmdEnd, nil)...)
		_, err := dataConn.Write(stream)
		require.NoError(t, err)

		resp := make([]byte, 4)
		_, err = io.ReadFull(dataConn, resp)
		require.NoError(t, err)
		require.Equal(t, int32(42), int32(binary.LittleEndian.Uint32(resp)), "EXECUTOR_SUCCESS status word")

		require.NoError(t, dataConn.Close())
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(10 * time.Second):
		t.Fatal("forkserver did not stop after context cancel")
	}
}
