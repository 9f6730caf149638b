// Package interfaces provides internal interface definitions shared across
// the executor. These are separate from any public-facing API to avoid
// circular imports between cmd/executor and the backend session drivers.
package interfaces

import (
	"io"

	"github.com/behrlich/tee-executor/internal/gp"
)

// Backend is the capability record the forkserver drives, once per request-
// loop iteration, for whichever TEE (OP-TEE, QSEE, TC, Beanpod) the process
// was configured for (spec §4.7, §9). Init/Deinit run once per forkserver
// process; PreExecute/PostExecute run in the parent around each fork,
// with access to the status connection; Execute runs in the forked child
// and owns the entire per-connection TLV state machine.
//
// The Go substitute for fork() is a self re-exec (see internal/forkserver),
// which cannot carry a live vendor TEE context across the exec boundary the
// way a true fork() shares a parent's heap and open file descriptors.
// Backend implementations therefore treat Init/Deinit as configuration-only
// and load the vendor library fresh inside each Execute call; the one piece
// of state that does cross the boundary is the coverage shared-memory
// region, passed to the child as an inherited file descriptor.
type Backend interface {
	// Init validates configuration (the vendor library path) once at
	// forkserver startup.
	Init() error

	// PreExecute runs in the parent immediately before accepting the next
	// data connection, with access to the status connection.
	PreExecute(statusConn io.Writer) error

	// Execute runs in the re-exec'd child against dataConn: it parses
	// START, dispatches every SEND, and returns on END/TERMINATE/error with
	// the process exit code the forkserver should report (spec §4.7).
	Execute(dataConn io.ReadWriter) int

	// PostExecute runs in the parent immediately after the child exits,
	// e.g. to scan coverage and report a feedback bit on statusConn.
	PostExecute(statusConn io.Writer) error

	// Deinit releases process-wide resources (the coverage region) at
	// forkserver shutdown.
	Deinit() error
}

// Invoker is the narrow per-connection capability a Backend.Execute
// implementation hands to internal/session's TLV dispatch loop: open a
// session against the TA a START command names, invoke one operation per
// SEND, and close. Backend-specific marshaling (UUID byte order, QSEE's
// path/fname START body, TC's login blob) lives behind this boundary; the
// TLV framing and GP operation marshaling above it are identical for every
// backend.
type Invoker interface {
	// OpenSession parses a START command body and opens a session with the
	// TA/app it names.
	OpenSession(startBody []byte) error

	// Invoke dispatches op to the TEE and fills in its RetCode/RetOrigin and
	// any output parameters.
	Invoke(op *gp.Operation) error

	// Close closes the session and releases any per-connection resources.
	Close() error
}

// Logger is the narrow logging surface backend session drivers depend on,
// letting them be tested without the concrete internal/logging package.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Observer receives outcome counters for session lifecycle events and
// individual commands. Implementations must be safe to call from the
// forkserver's single-connection dispatch loop; there is no concurrent
// access within one process, but the same Observer is shared across forked
// children's parent-side bookkeeping.
type Observer interface {
	ObserveSession(backend string, success bool)
	ObserveCommand(backend string, command string, latencyNs uint64, success bool)
	ObserveCoverage(backend string, newCoverage bool)
}
