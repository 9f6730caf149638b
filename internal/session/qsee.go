// Backend driver for Qualcomm QSEE. QSEE receives the same host-wire
// Operation as the other three backends (spec §4.4), but its vendor entry
// points exchange one flat request buffer and one flat response buffer
// rather than a typed parameter array, and the reported response size is
// computed by trimming trailing zero padding instead of being carried
// explicitly (spec §4.5). Those are qseeInvoker's job; QSEEBackend itself
// follows TEECBackend's shape closely since the state machine and exit
// codes are identical.
package session

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/behrlich/tee-executor/internal/bytestream"
	"github.com/behrlich/tee-executor/internal/constants"
	"github.com/behrlich/tee-executor/internal/gp"
	"github.com/behrlich/tee-executor/internal/interfaces"
	"github.com/behrlich/tee-executor/internal/vendorlib"
	"github.com/behrlich/tee-executor/internal/wire"
)

// qseeInlineLimit is the largest request+response pair submitted through
// the plain QSEECom_send_cmd path; anything larger is staged through an ION
// buffer via QSEECom_send_modified_cmd (spec §9 supplemented feature).
const qseeInlineLimit = 4096

// QSEEBackend drives a Qualcomm QSEE target through libQSEEComAPI.so.
// Coverage feedback is OP-TEE-specific (spec §4.6), so QSEEBackend never
// touches internal/coverage.
type QSEEBackend struct {
	LibPath string

	Observer interfaces.Observer
	Log      interfaces.Logger
}

var _ interfaces.Backend = (*QSEEBackend)(nil)

// NewQSEEBackend builds a QSEEBackend bound to libPath (libQSEEComAPI.so).
func NewQSEEBackend(libPath string, obs interfaces.Observer, log interfaces.Logger) *QSEEBackend {
	return &QSEEBackend{LibPath: libPath, Observer: obs, Log: log}
}

func (b *QSEEBackend) Init() error {
	if b.LibPath == "" {
		return fmt.Errorf("session: qsee backend: empty vendor library path")
	}
	if _, err := os.Stat(b.LibPath); err != nil {
		return fmt.Errorf("session: qsee backend: vendor library %s: %w", b.LibPath, err)
	}
	return nil
}

func (b *QSEEBackend) Deinit() error { return nil }

// PreExecute/PostExecute are no-ops: QSEE carries no coverage plumbing.
func (b *QSEEBackend) PreExecute(statusConn io.Writer) error  { return nil }
func (b *QSEEBackend) PostExecute(statusConn io.Writer) error { return nil }

func (b *QSEEBackend) Execute(dataConn io.ReadWriter) int {
	client, err := vendorlib.NewQSEEComClient(b.LibPath)
	if err != nil {
		b.logf("load vendor library: %v", err)
		return ExitError
	}
	defer client.Close()

	inv := &qseeInvoker{client: client}
	defer inv.closeIfOpen()

	d := &Dispatcher{Backend: "qsee", Invoker: inv, Observer: b.Observer, Log: b.Log}
	return d.Run(dataConn)
}

func (b *QSEEBackend) logf(format string, args ...interface{}) {
	if b.Log != nil {
		b.Log.Errorf(format, args...)
	}
}

// qseeInvoker implements interfaces.Invoker against one loaded QSEE app.
type qseeInvoker struct {
	client  *vendorlib.QSEEComClient
	started bool

	// ionBuf backs the QSEECom_send_modified_cmd path (spec §4.5: "an ION
	// buffer must be allocated once"). It is allocated lazily on the first
	// oversized SEND and reused for the rest of the session, growing only
	// when a later command buffer no longer fits.
	ionBuf *vendorlib.IONBuffer
}

var _ interfaces.Invoker = (*qseeInvoker)(nil)

// OpenSession reads the START body's path/fname/sb_size named items (spec
// §6) and loads the named TA image.
func (inv *qseeInvoker) OpenSession(startBody []byte) error {
	s := bytestream.NewFromBuf(startBody)

	pathRaw, err := wire.RecvItemByName(s, "path", constants.MaxQSEEPathLen)
	if err != nil {
		return fmt.Errorf("session: read START path: %w", err)
	}
	fnameRaw, err := wire.RecvItemByName(s, "fname", constants.MaxQSEEFnameLen)
	if err != nil {
		return fmt.Errorf("session: read START fname: %w", err)
	}
	sbSizeRaw, err := wire.RecvItemByNameExact(s, "sb_size", 4)
	if err != nil {
		return fmt.Errorf("session: read START sb_size: %w", err)
	}
	sbSize := binary.LittleEndian.Uint32(sbSizeRaw)

	if err := inv.client.StartApp(string(pathRaw), string(fnameRaw), sbSize); err != nil {
		return fmt.Errorf("session: QSEECom_start_app: %w", err)
	}
	inv.started = true
	return nil
}

// Invoke treats the first MEMREF_TEMP_INPUT/INOUT parameter as the request
// buffer and the first MEMREF_TEMP_OUTPUT/INOUT parameter as the response
// buffer, matching a TA command's usual single-request/single-response
// shape (qsee.c's qsee_cmd_send). There is no vendor return code or origin
// distinct from the send call's own success/failure, so RetCode/RetOrigin
// are left at StatusSuccess-equivalent zero on success.
func (inv *qseeInvoker) Invoke(op *gp.Operation) error {
	if !inv.started {
		return fmt.Errorf("session: invoke before open session")
	}

	var reqParam, respParam *gp.Parameter
	for i := range op.Params {
		p := &op.Params[i]
		if reqParam == nil && (p.Type == gp.ParamMemrefTempInput || p.Type == gp.ParamMemrefTempInout) {
			reqParam = p
		}
		if respParam == nil && p.IsMemrefOutputClass() {
			respParam = p
		}
	}
	if reqParam == nil {
		return fmt.Errorf("session: qsee SEND has no request buffer parameter")
	}

	cmdBuf := reqParam.Buffer[:reqParam.Size]
	var respSize uint32
	if respParam != nil {
		respSize = respParam.Size
	}
	respBuf := make([]byte, respSize)

	inv.client.SetBandwidth(true)
	defer inv.client.SetBandwidth(false)

	var sendErr error
	if len(cmdBuf)+len(respBuf) > qseeInlineLimit {
		sendErr = inv.sendViaION(cmdBuf, respBuf)
	} else {
		sendErr = inv.client.SendCmd(cmdBuf, respBuf)
	}
	if sendErr != nil {
		return fmt.Errorf("session: QSEECom send_cmd: %w", sendErr)
	}

	if respParam != nil {
		trimmed := trimQSEEResponse(respBuf)
		n := copy(respParam.Buffer, trimmed)
		respParam.Size = uint32(n)
	}

	op.RetCode = 0
	op.RetOrigin = 0
	return nil
}

// ionCmdOffset is the byte offset within the shared ION buffer where the
// command payload starts (spec §4.5: "its fd passed with offset 4"); the
// leading 4 bytes are reserved for the secure-world side's own framing and
// are never written by the executor.
const ionCmdOffset = 4

func (inv *qseeInvoker) sendViaION(cmdBuf, respBuf []byte) error {
	need := ionCmdOffset + len(cmdBuf)
	if inv.ionBuf == nil || len(inv.ionBuf.Mem) < need {
		if inv.ionBuf != nil {
			inv.ionBuf.Close()
			inv.ionBuf = nil
		}
		ion, err := vendorlib.AllocateIONBuffer(need)
		if err != nil {
			return fmt.Errorf("allocate ion buffer: %w", err)
		}
		inv.ionBuf = ion
	}

	region := inv.ionBuf.Mem[ionCmdOffset : ionCmdOffset+len(cmdBuf)]
	copy(region, cmdBuf)
	if err := inv.client.SendModifiedCmd(region, respBuf, inv.ionBuf.FD); err != nil {
		return err
	}
	return nil
}

// trimQSEEResponse reproduces the on-device trimming quirk documented in
// spec §4.5/§9: the reported size is the index one past the last non-zero
// byte, scanning from offset 4; a non-zero leading u32 (TA error) truncates
// the response to 4 bytes outright.
func trimQSEEResponse(resp []byte) []byte {
	if len(resp) < 4 {
		return resp
	}
	if binary.LittleEndian.Uint32(resp[0:4]) != 0 {
		return resp[:4]
	}
	idx := 4
	for i := 4; i < len(resp); i++ {
		if resp[i] != 0 {
			idx = i + 1
		}
	}
	return resp[:idx]
}

func (inv *qseeInvoker) Close() error {
	inv.closeIfOpen()
	return nil
}

func (inv *qseeInvoker) closeIfOpen() {
	if inv.started {
		inv.client.ShutdownApp()
		inv.started = false
	}
	if inv.ionBuf != nil {
		inv.ionBuf.Close()
		inv.ionBuf = nil
	}
}
