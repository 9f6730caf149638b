// Package session drives the per-connection TLV command state machine
// (START → SEND* → END/TERMINATE) against a backend's Invoker, independent
// of which TEE it talks to. A Backend.Execute implementation constructs one
// Dispatcher per data connection and calls Run; this package owns none of
// the process-level fork/wait/status-socket concerns, which live in
// internal/forkserver and each backend's PreExecute/PostExecute.
package session

import (
	"io"
	"time"

	"github.com/behrlich/tee-executor/internal/gp"
	"github.com/behrlich/tee-executor/internal/interfaces"
	"github.com/behrlich/tee-executor/internal/logging"
	"github.com/behrlich/tee-executor/internal/wire"
)

// Exit codes the child process reports to the forkserver parent (spec
// §4.5, §4.7).
const (
	ExitEnd       = 0
	ExitError     = 1
	ExitTerminate = 130
)

// Dispatcher drives one data connection's TLV command stream against a
// backend Invoker. It is backend-agnostic: START/SEND body marshaling is
// identical for every backend (internal/wire, internal/gp); only opening a
// session and invoking a command are backend-specific.
type Dispatcher struct {
	Backend  string
	Invoker  interfaces.Invoker
	Observer interfaces.Observer
	Log      interfaces.Logger
}

// Run reads commands from conn until END, TERMINATE, or a transport error,
// and returns the exit code the child process should report.
func (d *Dispatcher) Run(conn io.ReadWriter) int {
	started := false

	defer func() {
		if started {
			if err := d.Invoker.Close(); err != nil {
				d.logf("session close failed: %v", err)
			}
		}
	}()

	for {
		frame, err := wire.RecvTLV(conn)
		if err != nil {
			d.logf("recv_tlv failed: %v", err)
			return ExitError
		}

		switch frame.Type {
		case wire.CmdStart:
			if started {
				d.logf("START received on an already-started session")
				return ExitError
			}
			if err := d.Invoker.OpenSession(frame.Body); err != nil {
				d.logf("open session failed: %v", err)
				d.observeSession(false)
				return ExitError
			}
			started = true
			d.observeSession(true)

		case wire.CmdSend:
			if !started {
				d.logf("SEND received before START")
				return ExitError
			}
			if err := d.handleSend(conn, frame.Body); err != nil {
				d.logf("send failed: %v", err)
				return ExitError
			}

		case wire.CmdEnd:
			return ExitEnd

		case wire.CmdTerminate:
			return ExitTerminate

		default:
			d.logf("unrecognized command type %d", frame.Type)
			return ExitError
		}
	}
}

func (d *Dispatcher) handleSend(w io.Writer, body []byte) error {
	start := time.Now()

	op, err := gp.UnmarshalOperation(body)
	if err != nil {
		resp := gp.MarshalResponse(nil, err)
		d.observeCommand(time.Since(start), false)
		return wire.SendAll(w, resp)
	}

	invokeErr := d.Invoker.Invoke(op)

	if invokeErr != nil {
		gp.FreeOutputBuffers(op)
		resp := gp.MarshalResponse(nil, invokeErr)
		d.observeCommand(time.Since(start), false)
		return wire.SendAll(w, resp)
	}

	resp := gp.MarshalResponse(op, nil)
	gp.FreeOutputBuffers(op)
	d.observeCommand(time.Since(start), true)
	return wire.SendAll(w, resp)
}

func (d *Dispatcher) observeSession(success bool) {
	if d.Observer != nil {
		d.Observer.ObserveSession(d.Backend, success)
	}
}

func (d *Dispatcher) observeCommand(elapsed time.Duration, success bool) {
	if d.Observer != nil {
		d.Observer.ObserveCommand(d.Backend, "SEND", uint64(elapsed.Nanoseconds()), success)
	}
}

func (d *Dispatcher) logf(format string, args ...interface{}) {
	if d.Log != nil {
		d.Log.Errorf(format, args...)
		return
	}
	logging.Default().Errorf(format, args...)
}
