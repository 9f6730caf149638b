package vendorlib

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ION support backs the QSEE backend's SendModifiedCmd path, for commands
// whose memref payload is too large for the inline command buffer (spec §9
// supplemented feature; grounded on qsee_shmem.c's finger_alloc_shared). No
// example repo ships a Go ion package, so this wraps the two ioctls
// finger_alloc_shared issues directly, the same way internal/vendorlib's
// TC and QSEE drivers wrap vendor entry points through a narrow surface
// rather than reimplementing a general ion client.
const ionDevPath = "/dev/ion"

// ion_allocation_data / ion_fd_data layouts (ion.h, ABI frozen since the
// ioctls were upstreamed). heapIDMask selects the system heap (bit 0).
type ionAllocationData struct {
	Len     uint64
	Align   uint64
	HeapIDMask uint32
	Flags   uint32
	Handle  uint32
	_       uint32 // pad to 8-byte alignment
}

type ionFdData struct {
	Handle uint32
	Fd     int32
}

const (
	ionHeapIDMaskSystem = 1 << 0

	ionIocMagic   = 'I'
	ionIocAlloc   = 0
	ionIocMap     = 2
)

func iowr(magic byte, nr, size uintptr) uintptr {
	const iocWrite = 1
	const iocRead = 2
	return (iocRead|iocWrite)<<30 | uintptr(magic)<<8 | nr | size<<16
}

// IONBuffer is a shared-memory region allocated through /dev/ion and mapped
// into this process, plus the dma-buf fd QSEECom_send_modified_cmd expects.
type IONBuffer struct {
	Mem     []byte
	FD      int32
	ionFD   int
	handle  uint32
}

// AllocateIONBuffer allocates size bytes from the ion system heap, maps the
// resulting dma-buf fd into the process, and returns both the mapping and
// the raw fd to hand to QSEECom_send_modified_cmd.
func AllocateIONBuffer(size int) (*IONBuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("vendorlib: ion alloc: invalid size %d", size)
	}

	ionFD, err := unix.Open(ionDevPath, unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("vendorlib: open %s: %w", ionDevPath, err)
	}

	// The ioctl size comes from the whole allocation struct, not from a
	// pointer to it (qsee_shmem.c sized its ion_info request as sizeof of a
	// pointer).
	alloc := ionAllocationData{
		Len:        uint64(size),
		Align:      0,
		HeapIDMask: ionHeapIDMaskSystem,
	}
	allocReq := iowr(ionIocMagic, ionIocAlloc, unsafe.Sizeof(alloc))
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(ionFD), allocReq, uintptr(unsafe.Pointer(&alloc))); errno != 0 {
		unix.Close(ionFD)
		return nil, fmt.Errorf("vendorlib: ION_IOC_ALLOC: %w", errno)
	}

	fdData := ionFdData{Handle: alloc.Handle}
	mapReq := iowr(ionIocMagic, ionIocMap, unsafe.Sizeof(fdData))
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(ionFD), mapReq, uintptr(unsafe.Pointer(&fdData))); errno != 0 {
		unix.Close(ionFD)
		return nil, fmt.Errorf("vendorlib: ION_IOC_MAP: %w", errno)
	}

	mem, err := unix.Mmap(int(fdData.Fd), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(int(fdData.Fd))
		unix.Close(ionFD)
		return nil, fmt.Errorf("vendorlib: mmap ion buffer: %w", err)
	}

	return &IONBuffer{Mem: mem, FD: fdData.Fd, ionFD: ionFD, handle: alloc.Handle}, nil
}

// Close unmaps the buffer and releases both the dma-buf and /dev/ion fds.
func (b *IONBuffer) Close() error {
	if err := unix.Munmap(b.Mem); err != nil {
		return fmt.Errorf("vendorlib: munmap ion buffer: %w", err)
	}
	unix.Close(int(b.FD))
	unix.Close(b.ionFD)
	return nil
}
