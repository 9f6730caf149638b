package coverage

import (
	"fmt"

	"github.com/behrlich/tee-executor/internal/gp"
	"github.com/behrlich/tee-executor/internal/vendorlib"
)

const (
	cmdShmPTAUnregister = 3
	cmdShmPTARegister   = 0
)

// Handle is the per-child state produced by Register: the shared-memory
// registration and the open shm_pta session, both torn down by Deinit.
type Handle struct {
	shm     *vendorlib.SharedMemory
	session *vendorlib.TEECSession
}

// Register registers the controller's region with client's TEE context and
// with the shm_pta pseudo-TA, clearing any prior registration first (spec
// §4.6 step 3). A no-op, returning (nil, nil), when coverage is disabled.
func Register(c *Controller, client *vendorlib.TEECClient) (*Handle, error) {
	if !c.Enabled() {
		return nil, nil
	}

	shm, err := client.RegisterSharedMemory(c.Region.Bytes())
	if err != nil {
		return nil, fmt.Errorf("coverage: register shared memory: %w", err)
	}

	var ptaUUID [16]byte
	copy(ptaUUID[:], gp.ShmPTAUUID[:])

	sess, _, err := client.OpenSession(ptaUUID)
	if err != nil {
		shm.Release()
		return nil, fmt.Errorf("coverage: open shm_pta session: %w", err)
	}

	clearParams := [4]vendorlib.InvokeParam{}
	if _, _, err := sess.InvokeCommand(cmdShmPTAUnregister, 0, &clearParams); err != nil {
		sess.Close()
		shm.Release()
		return nil, fmt.Errorf("coverage: shm_pta unregister: %w", err)
	}

	// spec §4.6 step 3 registers with MEMREF_PARTIAL_INOUT; gp.NormalizeParamType
	// collapses every partial-memref nibble onto its temp-memref counterpart, so
	// ParamMemrefTempInout is the post-normalization value the TEE actually sees.
	registerParams := [4]vendorlib.InvokeParam{
		{Type: gp.ParamMemrefTempInout, Buffer: c.Region.Bytes(), Size: uint32(len(c.Region.Bytes()))},
	}
	paramTypes := gp.ParamMemrefTempInout
	if _, _, err := sess.InvokeCommand(cmdShmPTARegister, paramTypes, &registerParams); err != nil {
		sess.Close()
		shm.Release()
		return nil, fmt.Errorf("coverage: shm_pta register: %w", err)
	}

	return &Handle{shm: shm, session: sess}, nil
}

// Deinit tears down the shm_pta session and shared-memory registration.
// Safe to call on a nil Handle.
func (h *Handle) Deinit() {
	if h == nil {
		return
	}
	if h.session != nil {
		h.session.Close()
	}
	if h.shm != nil {
		h.shm.Release()
	}
}
