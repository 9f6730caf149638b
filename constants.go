package executor

import "github.com/behrlich/tee-executor/internal/constants"

// Re-exported for callers embedding the executor as a library rather than
// driving it through cmd/executor.
const (
	ExitOK         = constants.ExitOK
	ExitError      = constants.ExitError
	ExitTerminate  = constants.ExitTerminate
	DataPortOffset = constants.DataPortOffset
	MaxTLVBodySize = constants.MaxTLVBodySize
	MaxMemrefSize  = constants.MaxMemrefSize
	DefaultShmSize = constants.DefaultShmSize
)
