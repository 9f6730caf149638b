package constants

import "time"

// Process exit codes (spec §5). The forkserver parent interprets a child's
// exit status to decide whether to keep serving or begin graceful shutdown.
const (
	ExitOK        = 0
	ExitError     = 1
	ExitTerminate = 130 // 128 + SIGINT; a child exiting with this code asks the parent to stop
)

// Socket layout (spec §5): two TCP listeners, status on the requested port
// and data on the next one up.
const (
	DataPortOffset = 1
)

// TLV and hex-line framing limits (spec §4.4, §9).
const (
	// MaxTLVBodySize bounds a single TLV frame's body, guarding against a
	// malformed length field driving an unbounded allocation.
	MaxTLVBodySize = 16 << 20

	// MaxMemrefSize bounds a single MEMREF_TEMP parameter's buffer.
	MaxMemrefSize = 4 << 20
)

// Coverage environment variables (spec §4.6). Unset means "disabled" for
// SHM size and collection directory, and "bitmap mode" for feedback.
const (
	EnvShmSize       = "SHMSZ"
	EnvCovFeedback   = "COVFEEDBACK"
	EnvCovCollectDir = "COVCOLLECTDIR"

	// DefaultShmSize is OP-TEE's conventional coverage region size. It is
	// not used as a fallback: coverage is disabled when SHMSZ is unset.
	DefaultShmSize = 64 * 1024
)

// QSEE-specific defaults (spec §4.5).
const (
	DefaultQSEESBSize = 4096
	MaxQSEEPathLen    = 256
	MaxQSEEFnameLen   = 256
)

// TC-specific limits (spec §4.5, §6): a START body carries uuid, a login
// blob, a process name, and a uid.
const (
	MaxTCLoginBlobLen  = 2048
	MaxTCProcessNameLen = 256
)

// Vendor library defaults (spec §4.3). A backend with no explicit --lib flag
// loads the path listed here; no other location is searched.
var DefaultLibPaths = map[string]string{
	"optee":   "/usr/lib/libteec.so.1",
	"beanpod": "/usr/lib/libTEECommon.so",
	"qsee":    "/usr/lib/libQSEEComAPI.so",
	"tc":      "/usr/lib/libteec.so",
}

// Shutdown timing. internal/forkserver does not read ShutdownGracePeriod: the
// parent waits for an in-flight child without a time limit and never
// escalates after stop_soon is set.
const (
	ShutdownGracePeriod = 2 * time.Second
)

// Forkserver re-exec fd/env conventions (spec §4.7, §9's fork substitute).
// os/exec places ExtraFiles starting at fd 3; the data connection always
// occupies slot 0 (fd 3), and the coverage memfd, when coverage is enabled,
// always occupies slot 1 (fd 4). internal/forkserver assigns these on the
// parent side and internal/coverage/internal/session read them back on the
// child side, so the convention lives here rather than in either package.
const (
	ChildDataFD         = 3
	ChildCoverageFD     = 4
	EnvForkserverChild  = "TEE_EXECUTOR_CHILD"
	EnvInheritedCovSize = "TEE_EXECUTOR_COV_SIZE"
)
