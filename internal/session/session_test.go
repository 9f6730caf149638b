package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	executor "github.com/behrlich/tee-executor"
	"github.com/behrlich/tee-executor/internal/wire"
)

// conn is an in-memory io.ReadWriter: writes go to out, reads come from in.
type conn struct {
	in  *bytes.Reader
	out *bytes.Buffer
}

func (c *conn) Read(p []byte) (int, error)  { return c.in.Read(p) }
func (c *conn) Write(p []byte) (int, error) { return c.out.Write(p) }

var errOpenSessionFailed = errors.New("open session failed")

func tlvFrame(typ uint8, body []byte) []byte {
	hdr := make([]byte, 5)
	hdr[0] = typ
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(len(body)))
	return append(hdr, body...)
}

// sendBody builds a minimal well-formed SEND body: a 16-byte arg struct
// (cmd_id=cmdID, the rest zero) followed by a param_types word of all-NONE.
func sendBody(cmdID uint32) []byte {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint32(buf[0:4], cmdID)
	return buf
}

func TestDispatcherRunsStartSendEnd(t *testing.T) {
	inv := executor.NewMockInvoker()
	inv.RetCode = 0

	var stream []byte
	stream = append(stream, tlvFrame(wire.CmdStart, []byte("uuid-or-whatever"))...)
	stream = append(stream, tlvFrame(wire.CmdSend, sendBody(7))...)
	stream = append(stream, tlvFrame(wire.CmdEnd, nil)...)

	c := &conn{in: bytes.NewReader(stream), out: &bytes.Buffer{}}

	d := &Dispatcher{Backend: "optee", Invoker: inv}
	code := d.Run(c)

	require.Equal(t, ExitEnd, code)
	counts := inv.CallCounts()
	require.Equal(t, 1, counts["open_session"])
	require.Equal(t, 1, counts["invoke"])
	require.Equal(t, 1, counts["close"])
	require.Greater(t, c.out.Len(), 0)
}

func TestDispatcherTerminate(t *testing.T) {
	inv := executor.NewMockInvoker()

	var stream []byte
	stream = append(stream, tlvFrame(wire.CmdStart, []byte("x"))...)
	stream = append(stream, tlvFrame(wire.CmdTerminate, nil)...)

	c := &conn{in: bytes.NewReader(stream), out: &bytes.Buffer{}}
	d := &Dispatcher{Backend: "optee", Invoker: inv}
	code := d.Run(c)

	require.Equal(t, ExitTerminate, code)
}

func TestDispatcherSendBeforeStartFails(t *testing.T) {
	inv := executor.NewMockInvoker()

	stream := tlvFrame(wire.CmdSend, sendBody(1))
	c := &conn{in: bytes.NewReader(stream), out: &bytes.Buffer{}}
	d := &Dispatcher{Backend: "optee", Invoker: inv}
	code := d.Run(c)

	require.Equal(t, ExitError, code)
	require.Equal(t, 0, inv.CallCounts()["invoke"])
}

func TestDispatcherOpenSessionErrorReturnsError(t *testing.T) {
	inv := executor.NewMockInvoker()
	inv.OpenSessionErr = errOpenSessionFailed

	stream := tlvFrame(wire.CmdStart, []byte("x"))
	c := &conn{in: bytes.NewReader(stream), out: &bytes.Buffer{}}
	d := &Dispatcher{Backend: "optee", Invoker: inv}
	code := d.Run(c)

	require.Equal(t, ExitError, code)
	require.Equal(t, 0, inv.CallCounts()["close"])
}
