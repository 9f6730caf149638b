// Package coverage implements the OP-TEE coverage feedback path: a shared
// memory region mapped before fork and inherited by every child, registered
// with the TEE context and the shm_pta pseudo-TA, then scanned after every
// run for either a new-coverage bit or a per-run PC dump (spec §4.6).
package coverage

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/behrlich/tee-executor/internal/constants"
)

// Mode selects how PostExecute reports its findings.
type Mode int

const (
	ModeDisabled Mode = iota
	ModeFeedback
	ModeDump
)

// headerSize is sizeof({u64 nentries, u64 faddr}).
const headerSize = 16

// Region is a MAP_SHARED memory mapping: memfd-backed when created by
// NewSharedRegion (the forkserver parent's choice, so every re-exec'd child
// can map the same pages from the inherited fd), or anonymous when created
// by NewRegion.
type Region struct {
	buf []byte
	fd  int
}

// NewRegion mmaps an anonymous MAP_SHARED region of size bytes. This mapping
// does not survive the self-re-exec substitute for fork() (anonymous pages
// are process-private and vanish on execve); use NewSharedRegion for any
// region that must reach a re-exec'd child.
func NewRegion(size int) (*Region, error) {
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("coverage: mmap %d bytes: %w", size, err)
	}
	return &Region{buf: buf, fd: -1}, nil
}

// Bytes returns the raw mapped region.
func (r *Region) Bytes() []byte { return r.buf }

// Close unmaps the region and, for a memfd-backed region, closes the fd.
func (r *Region) Close() error {
	if r.buf == nil {
		return nil
	}
	err := unix.Munmap(r.buf)
	r.buf = nil
	if r.fd >= 0 {
		unix.Close(r.fd)
	}
	return err
}

// Controller owns one Region plus the mode-specific bookkeeping (the
// process-wide monotone bitmap for feedback mode, or the collection
// directory for dump mode).
type Controller struct {
	Region     *Region
	Mode       Mode
	CollectDir string

	bitmap []byte
}

// NewControllerFromEnv reads SHMSZ/COVFEEDBACK/COVCOLLECTDIR and builds a
// Controller, or a disabled one if SHMSZ is unset (spec §4.6, §6).
func NewControllerFromEnv() (*Controller, error) {
	shmszStr := os.Getenv(constants.EnvShmSize)
	if shmszStr == "" {
		return &Controller{Mode: ModeDisabled}, nil
	}

	var size int
	if _, err := fmt.Sscanf(shmszStr, "%d", &size); err != nil || size <= 0 {
		return nil, fmt.Errorf("coverage: invalid %s=%q", constants.EnvShmSize, shmszStr)
	}

	region, _, err := NewSharedRegion(size)
	if err != nil {
		return nil, err
	}

	c := &Controller{Region: region}

	if dir := os.Getenv(constants.EnvCovCollectDir); dir != "" {
		c.Mode = ModeDump
		c.CollectDir = dir
	} else {
		// COVFEEDBACK, or SHMSZ alone: feedback-bitmap mode is the default
		// consumer of an enabled coverage region.
		c.Mode = ModeFeedback
		c.bitmap = make([]byte, size)
	}

	return c, nil
}

// Enabled reports whether coverage collection is active at all.
func (c *Controller) Enabled() bool {
	return c != nil && c.Mode != ModeDisabled
}

// PreExecute zeroes the pcs[] portion of the region ahead of a run, in dump
// mode only (feedback mode relies on the monotone comparison instead).
func (c *Controller) PreExecute() {
	if !c.Enabled() || c.Mode != ModeDump {
		return
	}
	buf := c.Region.Bytes()
	if len(buf) > headerSize {
		for i := headerSize; i < len(buf); i++ {
			buf[i] = 0
		}
	}
}

// PostExecute scans the region after a run. In dump mode it writes a
// per-run .cov file (errors are logged by the caller, never fatal). In
// feedback mode it updates the monotone bitmap and reports whether any byte
// newly transitioned from zero to non-zero.
func (c *Controller) PostExecute(pid int) (newCoverage bool, err error) {
	if !c.Enabled() {
		return false, nil
	}

	switch c.Mode {
	case ModeDump:
		return false, c.writeDump(pid)
	case ModeFeedback:
		return c.diffBitmap(), nil
	default:
		return false, nil
	}
}

func (c *Controller) writeDump(pid int) error {
	buf := c.Region.Bytes()
	if len(buf) < headerSize {
		return fmt.Errorf("coverage: region too small for header")
	}

	nentries := binary.LittleEndian.Uint64(buf[0:8])
	if nentries == 0 {
		return nil
	}

	need := headerSize + int(nentries)*8
	if need > len(buf) {
		return fmt.Errorf("coverage: nentries=%d overruns region", nentries)
	}

	name := fmt.Sprintf("time:%08d,pid:%d.cov", uint32(time.Now().UnixMilli()), pid)
	path := c.CollectDir + "/" + name
	return os.WriteFile(path, buf[:need], 0o644)
}

func (c *Controller) diffBitmap() bool {
	buf := c.Region.Bytes()
	newCoverage := false
	for i, b := range buf {
		if b != 0 && c.bitmap[i] == 0 {
			newCoverage = true
			c.bitmap[i] = b
		} else if b > c.bitmap[i] {
			c.bitmap[i] = b
		}
	}
	return newCoverage
}

// Close unmaps the underlying region, if any.
func (c *Controller) Close() error {
	if c == nil || c.Region == nil {
		return nil
	}
	return c.Region.Close()
}
