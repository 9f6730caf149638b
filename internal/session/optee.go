// Backend drivers for the two TEEC-client-API-shaped targets: OP-TEE and
// Beanpod. Both speak the same GlobalPlatform client entry points (spec
// §4.2) through internal/vendorlib's TEECClient and differ only in how the
// 16-byte UUID in a START body is interpreted (spec §3, §9).
package session

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/behrlich/tee-executor/internal/bytestream"
	"github.com/behrlich/tee-executor/internal/coverage"
	"github.com/behrlich/tee-executor/internal/gp"
	"github.com/behrlich/tee-executor/internal/interfaces"
	"github.com/behrlich/tee-executor/internal/vendorlib"
	"github.com/behrlich/tee-executor/internal/wire"
)

// TEECBackend drives OP-TEE or Beanpod targets through libteec.so (spec
// §4.2, §4.6, §9). Init/Deinit are configuration-only: the vendor library is
// loaded fresh inside every Execute call, since the self re-exec substitute
// for fork() (internal/forkserver) gives each child an independent process
// image rather than a copy of the parent's already-initialized TEE context
// (contrast optee.c's OPTEE_STATE, shared across a real fork()).
// PreExecute/PostExecute run in the forkserver parent and operate purely on
// the coverage region's bytes — no vendor call is needed there, since
// scanning a shared mapping for new bits doesn't require a TEE context, only
// Execute's child-side Register call does.
type TEECBackend struct {
	Name    string
	LibPath string

	// Coverage is the parent's view of the shared coverage region (nil or
	// disabled when coverage is off). It is the same *coverage.Controller
	// passed to forkserver.Config.Coverage, so PreExecute/PostExecute here
	// observe exactly what the forkserver parent mmaps.
	Coverage *coverage.Controller

	// ParseUUID interprets a START body's 16 raw UUID bytes: gp.ParseRawUUID
	// for OP-TEE, gp.ParseBeanpodUUID for Beanpod.
	ParseUUID func([]byte) (uuid.UUID, error)

	Observer interfaces.Observer
	Log      interfaces.Logger
}

var _ interfaces.Backend = (*TEECBackend)(nil)

// Init validates the configured vendor library path exists; it does not
// load it, since only Execute's re-exec'd child process ever does that.
func (b *TEECBackend) Init() error {
	if b.LibPath == "" {
		return fmt.Errorf("session: %s backend: empty vendor library path", b.Name)
	}
	if _, err := os.Stat(b.LibPath); err != nil {
		return fmt.Errorf("session: %s backend: vendor library %s: %w", b.Name, b.LibPath, err)
	}
	return nil
}

// Deinit releases the coverage region. There is no vendor-library state to
// release in the parent: Init never loaded one.
func (b *TEECBackend) Deinit() error {
	if b.Coverage == nil {
		return nil
	}
	return b.Coverage.Close()
}

// PreExecute zeroes the dump-mode coverage buffer ahead of the next run
// (spec §4.6 step 4; a no-op in feedback mode or when coverage is disabled).
func (b *TEECBackend) PreExecute(statusConn io.Writer) error {
	if b.Coverage != nil {
		b.Coverage.PreExecute()
	}
	return nil
}

// PostExecute scans the coverage region after the child exits and, in
// feedback mode, reports a 4-byte little-endian 0/1 on statusConn mirroring
// optee.c's write(status_sock, &new_cov, sizeof(uint32_t)).
func (b *TEECBackend) PostExecute(statusConn io.Writer) error {
	if b.Coverage == nil || !b.Coverage.Enabled() {
		return nil
	}

	newCov, err := b.Coverage.PostExecute(os.Getpid())
	if err != nil {
		return fmt.Errorf("session: %s backend: coverage post_execute: %w", b.Name, err)
	}

	if b.Observer != nil {
		b.Observer.ObserveCoverage(b.Name, newCov)
	}

	if b.Coverage.Mode == coverage.ModeFeedback {
		var flag uint32
		if newCov {
			flag = 1
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, flag)
		if err := wire.SendAll(statusConn, buf); err != nil {
			return fmt.Errorf("session: %s backend: report coverage bit: %w", b.Name, err)
		}
	}
	return nil
}

// Execute runs in the re-exec'd child: it loads its own instance of the
// vendor library, registers the inherited coverage region with the TEE
// context and the shm_pta pseudo-TA if coverage is enabled, then drives the
// TLV state machine against dataConn via a Dispatcher.
func (b *TEECBackend) Execute(dataConn io.ReadWriter) int {
	client, err := vendorlib.NewTEECClient(b.LibPath, "")
	if err != nil {
		b.logf("load vendor library: %v", err)
		return ExitError
	}
	defer client.Close()

	if childCov, covErr := coverage.FromInheritedEnv(); covErr == nil && childCov.Enabled() {
		handle, regErr := coverage.Register(childCov, client)
		if regErr != nil {
			b.logf("register coverage shared memory: %v", regErr)
			return ExitError
		}
		defer handle.Deinit()
	} else if covErr != nil {
		b.logf("recover inherited coverage region: %v", covErr)
		return ExitError
	}

	inv := &teecInvoker{client: client, parseUUID: b.ParseUUID}
	defer inv.closeIfOpen()

	d := &Dispatcher{Backend: b.Name, Invoker: inv, Observer: b.Observer, Log: b.Log}
	return d.Run(dataConn)
}

func (b *TEECBackend) logf(format string, args ...interface{}) {
	if b.Log != nil {
		b.Log.Errorf(format, args...)
	}
}

// teecInvoker implements interfaces.Invoker against one open libteec.so
// session, translating between internal/gp's backend-agnostic Operation and
// vendorlib's InvokeParam wire shape (spec §3, §4.2).
type teecInvoker struct {
	client    *vendorlib.TEECClient
	parseUUID func([]byte) (uuid.UUID, error)
	session   *vendorlib.TEECSession
}

var _ interfaces.Invoker = (*teecInvoker)(nil)

func (inv *teecInvoker) OpenSession(startBody []byte) error {
	s := bytestream.NewFromBuf(startBody)
	raw, err := wire.RecvItemByNameExact(s, "uuid", 16)
	if err != nil {
		return fmt.Errorf("session: read START uuid: %w", err)
	}

	u, err := inv.parseUUID(raw)
	if err != nil {
		return fmt.Errorf("session: parse uuid: %w", err)
	}

	var dest [16]byte
	copy(dest[:], u[:])

	sess, origin, err := inv.client.OpenSession(dest)
	if err != nil {
		return fmt.Errorf("session: TEEC_OpenSession (origin %#x): %w", origin, err)
	}
	inv.session = sess
	return nil
}

func (inv *teecInvoker) Invoke(op *gp.Operation) error {
	if inv.session == nil {
		return fmt.Errorf("session: invoke before open session")
	}

	var params [4]vendorlib.InvokeParam
	for i := range op.Params {
		p := &op.Params[i]
		params[i] = vendorlib.InvokeParam{
			Type:   p.Type,
			ValueA: p.ValueA,
			ValueB: p.ValueB,
			Buffer: p.Buffer,
			Size:   p.Size,
		}
	}

	rc, origin, err := inv.session.InvokeCommand(op.CmdID, op.ParamTypes, &params)
	if err != nil {
		return fmt.Errorf("session: TEEC_InvokeCommand: %w", err)
	}

	for i := range op.Params {
		p := &op.Params[i]
		if p.IsValueOutputClass() {
			p.ValueA = params[i].ValueA
			p.ValueB = params[i].ValueB
		}
		if p.IsMemrefOutputClass() {
			p.Size = params[i].Size
		}
	}

	op.RetCode = rc
	op.RetOrigin = origin
	return nil
}

func (inv *teecInvoker) Close() error {
	inv.closeIfOpen()
	return nil
}

func (inv *teecInvoker) closeIfOpen() {
	if inv.session != nil {
		inv.session.Close()
		inv.session = nil
	}
}
