package coverage

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/behrlich/tee-executor/internal/constants"
)

// NewSharedRegion creates a memfd-backed shared region of size bytes. Unlike
// NewRegion's anonymous mapping, a memfd survives the self-re-exec substitute
// for fork() (spec §9): the forkserver parent passes the fd to each child via
// os/exec's ExtraFiles, and the child maps the identical pages with
// OpenInheritedRegion, preserving the "coverage region is shared across
// parent and child" invariant (spec §5) without requiring true fork().
func NewSharedRegion(size int) (*Region, int, error) {
	fd, err := unix.MemfdCreate("tee-executor-cov", 0)
	if err != nil {
		return nil, -1, fmt.Errorf("coverage: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, -1, fmt.Errorf("coverage: ftruncate memfd: %w", err)
	}

	buf, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, -1, fmt.Errorf("coverage: mmap memfd: %w", err)
	}

	return &Region{buf: buf, fd: fd}, fd, nil
}

// OpenInheritedRegion maps an inherited memfd of the given size. Called by a
// re-exec'd child that received the fd via ExtraFiles.
func OpenInheritedRegion(fd int, size int) (*Region, error) {
	buf, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("coverage: mmap inherited fd %d: %w", fd, err)
	}
	return &Region{buf: buf, fd: fd}, nil
}

// FD returns the underlying memfd, or -1 for an anonymous (non-shared)
// region created by NewRegion.
func (r *Region) FD() int {
	return r.fd
}

// NewChildController builds the minimal Controller a re-exec'd child needs
// to register the inherited coverage region with the TEE context and the
// shm_pta pseudo-TA (see Register). The child never scans the region itself
// — PreExecute/PostExecute run in the forkserver parent (spec §4.7) — so
// this skips the bitmap/CollectDir bookkeeping that only the parent uses.
func NewChildController(fd int, size int) (*Controller, error) {
	region, err := OpenInheritedRegion(fd, size)
	if err != nil {
		return nil, err
	}
	return &Controller{Region: region, Mode: ModeFeedback}, nil
}

// FromInheritedEnv rebuilds a re-exec'd child's view of the coverage region
// from the fd/env conventions internal/forkserver's parent side establishes
// (constants.ChildCoverageFD, constants.EnvInheritedCovSize). It returns a
// disabled controller, with no error, when coverage was not enabled for this
// run — the child-side counterpart to NewControllerFromEnv, which the
// forkserver parent uses instead. Backend drivers call this directly from
// Execute so they need not depend on internal/forkserver.
func FromInheritedEnv() (*Controller, error) {
	sizeStr := os.Getenv(constants.EnvInheritedCovSize)
	if sizeStr == "" {
		return &Controller{Mode: ModeDisabled}, nil
	}

	size, err := strconv.Atoi(sizeStr)
	if err != nil || size <= 0 {
		return nil, fmt.Errorf("coverage: invalid %s=%q", constants.EnvInheritedCovSize, sizeStr)
	}

	return NewChildController(constants.ChildCoverageFD, size)
}
