package forkserver

import (
	"fmt"
	"os"

	"github.com/behrlich/tee-executor/internal/constants"
)

// RunChild is the entry point a re-exec'd child process calls instead of
// Server.Run (gated by IsChild). It reconstructs its own Backend, recovers
// the inherited data connection from the fixed ExtraFiles fd slot
// Server.spawnChild established, and runs exactly one Backend.Execute call
// before exiting with its result. A Backend that needs the inherited
// coverage region calls coverage.FromInheritedEnv itself during Execute.
func RunChild(cfg Config) int {
	dataFile := os.NewFile(uintptr(constants.ChildDataFD), "data")
	defer dataFile.Close()

	backend, err := cfg.NewBackend()
	if err != nil {
		fmt.Fprintf(os.Stderr, "forkserver: child construct backend: %v\n", err)
		return 1
	}

	return backend.Execute(dataFile)
}
