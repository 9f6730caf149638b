// Backend driver for Huawei TrustedCore (TC). TC speaks the same host-wire
// Operation as OP-TEE and Beanpod (spec §4.4), but its native invocation
// buffer packs each VALUE parameter into one contiguous eight-byte slot and
// each memref into a size-then-buffer "double LV" region (see tcMarshalOp)
// rather than the four independent InvokeParam structs vendorlib.TEECSession
// takes. tcInvoker builds and tears down that native
// buffer around each vendorlib.TCSession.InvokeCommand call.
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

// TCBackend drives a Huawei TrustedCore target through libteec.so's TEEK_*
// entry points (spec §4.5). Init/Deinit are configuration-only for the same
// reason as TEECBackend: the vendor context is loaded fresh inside Execute.
type TCBackend struct {
	LibPath string

	Observer interfaces.Observer
	Log      interfaces.Logger
}

var _ interfaces.Backend = (*TCBackend)(nil)

// NewTCBackend builds a TCBackend bound to libPath.
func NewTCBackend(libPath string, obs interfaces.Observer, log interfaces.Logger) *TCBackend {
	return &TCBackend{LibPath: libPath, Observer: obs, Log: log}
}

func (b *TCBackend) Init() error {
	if b.LibPath == "" {
		return fmt.Errorf("session: tc backend: empty vendor library path")
	}
	if _, err := os.Stat(b.LibPath); err != nil {
		return fmt.Errorf("session: tc backend: vendor library %s: %w", b.LibPath, err)
	}
	return nil
}

func (b *TCBackend) Deinit() error { return nil }

func (b *TCBackend) PreExecute(statusConn io.Writer) error  { return nil }
func (b *TCBackend) PostExecute(statusConn io.Writer) error { return nil }

func (b *TCBackend) Execute(dataConn io.ReadWriter) int {
	client, err := vendorlib.NewTCClient(b.LibPath)
	if err != nil {
		b.logf("load vendor library: %v", err)
		return ExitError
	}
	defer client.Close()

	inv := &tcInvoker{client: client}
	defer inv.closeIfOpen()

	d := &Dispatcher{Backend: "tc", Invoker: inv, Observer: b.Observer, Log: b.Log}
	return d.Run(dataConn)
}

func (b *TCBackend) logf(format string, args ...interface{}) {
	if b.Log != nil {
		b.Log.Errorf(format, args...)
	}
}

// tcInvoker implements interfaces.Invoker against one open TC session.
type tcInvoker struct {
	client  *vendorlib.TCClient
	session *vendorlib.TCSession
}

var _ interfaces.Invoker = (*tcInvoker)(nil)

// OpenSession reads the START body's uuid/login_blob/process_name/uid named
// items (spec §6) and opens a session, presenting login_blob as the login
// data (process_name and uid are read for protocol compatibility and then
// discarded: the narrow TEEK_OpenSession entry point this driver binds to
// takes a single opaque login buffer, not separate identity fields, so
// process_name/uid are not layered into it).
func (inv *tcInvoker) OpenSession(startBody []byte) error {
	s := bytestream.NewFromBuf(startBody)

	uuidRaw, err := wire.RecvItemByNameExact(s, "uuid", 16)
	if err != nil {
		return fmt.Errorf("session: read START uuid: %w", err)
	}
	loginBlob, err := wire.RecvItemByName(s, "login_blob", constants.MaxTCLoginBlobLen)
	if err != nil {
		return fmt.Errorf("session: read START login_blob: %w", err)
	}
	if _, err := wire.RecvItemByName(s, "process_name", constants.MaxTCProcessNameLen); err != nil {
		return fmt.Errorf("session: read START process_name: %w", err)
	}
	if _, err := wire.RecvItemByNameExact(s, "uid", 4); err != nil {
		return fmt.Errorf("session: read START uid: %w", err)
	}

	u, err := gp.ParseRawUUID(uuidRaw)
	if err != nil {
		return fmt.Errorf("session: parse uuid: %w", err)
	}
	var dest [16]byte
	copy(dest[:], u[:])

	sess, origin, err := inv.client.OpenSession(dest, loginBlob)
	if err != nil {
		return fmt.Errorf("session: TEEK_OpenSession (origin %#x): %w", origin, err)
	}
	inv.session = sess
	return nil
}

func (inv *tcInvoker) Invoke(op *gp.Operation) error {
	if inv.session == nil {
		return fmt.Errorf("session: invoke before open session")
	}

	buf, layout := tcMarshalOp(op)
	rc, origin, err := inv.session.InvokeCommand(op.CmdID, buf)
	if err != nil {
		return fmt.Errorf("session: TEEK_InvokeCommand: %w", err)
	}
	tcUnmarshalOp(buf, layout, op)

	op.RetCode = rc
	op.RetOrigin = origin
	return nil
}

func (inv *tcInvoker) Close() error {
	inv.closeIfOpen()
	return nil
}

func (inv *tcInvoker) closeIfOpen() {
	if inv.session != nil {
		inv.session.Close()
		inv.session = nil
	}
}

// tcParamSlot records where one parameter landed in the native buffer, so
// output values can be copied back after TEEK_InvokeCommand mutates it in
// place.
type tcParamSlot struct {
	offset int
	length int
}

// tcMarshalOp packs op's four parameters into TC's native layout: a VALUE
// parameter occupies one contiguous eight-byte slot (valueA immediately
// followed by valueB, per spec §4.4's TC variant), and a MEMREF parameter
// occupies a four-byte size field immediately followed by its buffer bytes
// ("double LV": the size framing plus the buffer framing). The vendor call
// mutates this buffer in place for OUTPUT-class parameters.
func tcMarshalOp(op *gp.Operation) ([]byte, [4]tcParamSlot) {
	s := bytestream.New(0)
	var layout [4]tcParamSlot

	for i := range op.Params {
		p := &op.Params[i]
		offset := s.Pos()
		switch p.Type {
		case gp.ParamNone:
			// no bytes.
		case gp.ParamValueInput, gp.ParamValueOutput, gp.ParamValueInout:
			a := make([]byte, 4)
			binary.LittleEndian.PutUint32(a, p.ValueA)
			s.Write(a)
			b := make([]byte, 4)
			binary.LittleEndian.PutUint32(b, p.ValueB)
			s.Write(b)
		case gp.ParamMemrefTempInput, gp.ParamMemrefTempOutput, gp.ParamMemrefTempInout:
			sizeBuf := make([]byte, 4)
			binary.LittleEndian.PutUint32(sizeBuf, p.Size)
			s.Write(sizeBuf)
			s.Write(p.Buffer)
		}
		layout[i] = tcParamSlot{offset: offset, length: s.Pos() - offset}
	}
	return s.Bytes(), layout
}

// tcUnmarshalOp reads OUTPUT-class parameters back out of buf at the
// offsets tcMarshalOp recorded.
func tcUnmarshalOp(buf []byte, layout [4]tcParamSlot, op *gp.Operation) {
	for i := range op.Params {
		p := &op.Params[i]
		slot := layout[i]
		if slot.length == 0 {
			continue
		}
		region := buf[slot.offset : slot.offset+slot.length]

		if p.IsValueOutputClass() {
			p.ValueA = binary.LittleEndian.Uint32(region[0:4])
			p.ValueB = binary.LittleEndian.Uint32(region[4:8])
		}
		if p.IsMemrefOutputClass() {
			size := binary.LittleEndian.Uint32(region[0:4])
			if int(size) > len(region)-4 {
				size = uint32(len(region) - 4)
			}
			p.Size = size
			copy(p.Buffer, region[4:4+int(size)])
		}
	}
}
