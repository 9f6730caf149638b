package vendorlib

/*
#include <stdint.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
	uint32_t id[4];
} teec_uuid_t;

typedef struct {
	void *imp;
} teec_context_t;

typedef struct {
	void *imp;
} teec_session_t;

typedef struct {
	void *buffer;
	uint32_t size;
	uint32_t flags;
	void *imp;
} teec_shared_memory_t;

typedef struct {
	uint32_t a;
	uint32_t b;
} teec_value_t;

typedef struct {
	void *buffer;
	uint32_t size;
} teec_tmpmem_t;

typedef union {
	teec_tmpmem_t tmpmem;
	teec_value_t value;
} teec_parameter_t;

typedef struct {
	uint32_t started;
	uint32_t param_types;
	teec_parameter_t params[4];
	void *imp;
} teec_operation_t;

typedef uint32_t (*teec_initialize_context_fn)(const char *name, teec_context_t *ctx);
typedef void (*teec_finalize_context_fn)(teec_context_t *ctx);
typedef uint32_t (*teec_open_session_fn)(teec_context_t *ctx, teec_session_t *session,
	const teec_uuid_t *dest, uint32_t conn_method, const void *conn_data,
	teec_operation_t *op, uint32_t *ret_origin);
typedef void (*teec_close_session_fn)(teec_session_t *session);
typedef uint32_t (*teec_invoke_command_fn)(teec_session_t *session, uint32_t cmd_id,
	teec_operation_t *op, uint32_t *ret_origin);
typedef uint32_t (*teec_register_shared_memory_fn)(teec_context_t *ctx, teec_shared_memory_t *shm);
typedef void (*teec_release_shared_memory_fn)(teec_shared_memory_t *shm);
typedef void (*teec_request_cancellation_fn)(teec_operation_t *op);

static uint32_t call_initialize_context(void *fn, const char *name, teec_context_t *ctx) {
	return ((teec_initialize_context_fn)fn)(name, ctx);
}
static void call_finalize_context(void *fn, teec_context_t *ctx) {
	((teec_finalize_context_fn)fn)(ctx);
}
static uint32_t call_open_session(void *fn, teec_context_t *ctx, teec_session_t *session,
	const teec_uuid_t *dest, uint32_t conn_method, const void *conn_data,
	teec_operation_t *op, uint32_t *ret_origin) {
	return ((teec_open_session_fn)fn)(ctx, session, dest, conn_method, conn_data, op, ret_origin);
}
static void call_close_session(void *fn, teec_session_t *session) {
	((teec_close_session_fn)fn)(session);
}
static uint32_t call_invoke_command(void *fn, teec_session_t *session, uint32_t cmd_id,
	teec_operation_t *op, uint32_t *ret_origin) {
	return ((teec_invoke_command_fn)fn)(session, cmd_id, op, ret_origin);
}
static uint32_t call_register_shared_memory(void *fn, teec_context_t *ctx, teec_shared_memory_t *shm) {
	return ((teec_register_shared_memory_fn)fn)(ctx, shm);
}
static void call_release_shared_memory(void *fn, teec_shared_memory_t *shm) {
	((teec_release_shared_memory_fn)fn)(shm);
}
static void call_request_cancellation(void *fn, teec_operation_t *op) {
	((teec_request_cancellation_fn)fn)(op);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// TEECParamType mirrors the GlobalPlatform client API's packed parameter
// type nibbles, already normalized by the gp package before reaching here.
type TEECParamType = uint32

// TEECClient binds the narrow subset of libteec.so used by the OP-TEE and
// Beanpod session drivers (spec §4.2, §4.5).
type TEECClient struct {
	lib *Library
	ctx C.teec_context_t
}

// NewTEECClient loads libPath and initializes a TEEC context under name
// (the connected-application identity string; empty is conventional).
func NewTEECClient(libPath, name string) (*TEECClient, error) {
	lib, err := Load(libPath, TEECSymbols)
	if err != nil {
		return nil, err
	}

	c := &TEECClient{lib: lib}

	var cName *C.char
	if name != "" {
		cName = C.CString(name)
		defer C.free(unsafe.Pointer(cName))
	}

	rc := C.call_initialize_context(lib.Symbol("TEEC_InitializeContext"), cName, &c.ctx)
	if rc != 0 {
		_ = lib.Close()
		return nil, fmt.Errorf("vendorlib: TEEC_InitializeContext failed: %#x", uint32(rc))
	}
	return c, nil
}

// Close finalizes the context and unloads the library.
func (c *TEECClient) Close() error {
	C.call_finalize_context(c.lib.Symbol("TEEC_FinalizeContext"), &c.ctx)
	return c.lib.Close()
}

// TEECSession is an open session against one TA identified by UUID.
type TEECSession struct {
	client  *TEECClient
	session C.teec_session_t
}

// OpenSession opens a session with dest using TEEC_LOGIN_PUBLIC (spec §4.2
// treats login data as out of scope for the narrow capability set).
func (c *TEECClient) OpenSession(dest [16]byte) (*TEECSession, uint32, error) {
	var cUUID C.teec_uuid_t
	// The UUID arrives already in the byte order the backend's ParseUUID
	// produced (raw for OP-TEE, field-swapped for Beanpod); it is copied into
	// the native struct byte for byte.
	C.memcpy(unsafe.Pointer(&cUUID), unsafe.Pointer(&dest[0]), 16)

	sess := &TEECSession{client: c}
	var retOrigin C.uint32_t

	rc := C.call_open_session(c.lib.Symbol("TEEC_OpenSession"), &c.ctx, &sess.session,
		&cUUID, 0, nil, nil, &retOrigin)
	if rc != 0 {
		return nil, uint32(retOrigin), fmt.Errorf("vendorlib: TEEC_OpenSession failed: %#x", uint32(rc))
	}
	return sess, uint32(retOrigin), nil
}

// Close closes the session.
func (s *TEECSession) Close() {
	C.call_close_session(s.client.lib.Symbol("TEEC_CloseSession"), &s.session)
}

// InvokeParam is the boundary-crossing shape of one GP parameter, already
// normalized and clamped by internal/gp.
type InvokeParam struct {
	Type   uint32
	ValueA uint32
	ValueB uint32
	Buffer []byte
	Size   uint32
}

// SharedMemory is a registered TEEC shared-memory region backing the
// coverage plumbing (spec §4.6).
type SharedMemory struct {
	client *TEECClient
	native C.teec_shared_memory_t
}

// RegisterSharedMemory registers buf (caller-owned, typically an mmap'd
// region that survives fork) with the context as INPUT|OUTPUT.
func (c *TEECClient) RegisterSharedMemory(buf []byte) (*SharedMemory, error) {
	shm := &SharedMemory{client: c}
	shm.native.size = C.uint32_t(len(buf))
	shm.native.flags = C.uint32_t(3) // TEEC_MEM_INPUT | TEEC_MEM_OUTPUT
	if len(buf) > 0 {
		shm.native.buffer = unsafe.Pointer(&buf[0])
	}

	rc := C.call_register_shared_memory(c.lib.Symbol("TEEC_RegisterSharedMemory"), &c.ctx, &shm.native)
	if rc != 0 {
		return nil, fmt.Errorf("vendorlib: TEEC_RegisterSharedMemory failed: %#x", uint32(rc))
	}
	return shm, nil
}

// Release unregisters the shared memory region.
func (s *SharedMemory) Release() {
	C.call_release_shared_memory(s.client.lib.Symbol("TEEC_ReleaseSharedMemory"), &s.native)
}

// InvokeCommand invokes cmdID with four parameters, writing any
// output-class results (VALUE fields, memref bytes) back into *params in
// place. Returns the TEE's return code and origin. params is taken by
// pointer: the write-back loop below must reach the caller's array, not a
// function-local copy.
func (s *TEECSession) InvokeCommand(cmdID uint32, paramTypes uint32, params *[4]InvokeParam) (uint32, uint32, error) {
	var op C.teec_operation_t
	op.param_types = C.uint32_t(paramTypes)

	pins := make([]unsafe.Pointer, 4)
	for i := 0; i < 4; i++ {
		p := &params[i]
		switch p.Type {
		case 0x1, 0x2, 0x3: // VALUE_*
			valuePtr := (*C.teec_value_t)(unsafe.Pointer(&op.params[i]))
			valuePtr.a = C.uint32_t(p.ValueA)
			valuePtr.b = C.uint32_t(p.ValueB)
		case 0x5, 0x6, 0x7: // MEMREF_TEMP_*
			tmpPtr := (*C.teec_tmpmem_t)(unsafe.Pointer(&op.params[i]))
			tmpPtr.size = C.uint32_t(p.Size)
			if len(p.Buffer) > 0 {
				tmpPtr.buffer = unsafe.Pointer(&p.Buffer[0])
				pins[i] = tmpPtr.buffer
			}
		}
	}

	var retOrigin C.uint32_t
	rc := C.call_invoke_command(s.client.lib.Symbol("TEEC_InvokeCommand"), &s.session,
		C.uint32_t(cmdID), &op, &retOrigin)

	for i := 0; i < 4; i++ {
		p := &params[i]
		switch p.Type {
		case 0x2, 0x3: // VALUE_OUTPUT, VALUE_INOUT
			valuePtr := (*C.teec_value_t)(unsafe.Pointer(&op.params[i]))
			p.ValueA = uint32(valuePtr.a)
			p.ValueB = uint32(valuePtr.b)
		case 0x6, 0x7: // MEMREF_TEMP_OUTPUT, MEMREF_TEMP_INOUT
			tmpPtr := (*C.teec_tmpmem_t)(unsafe.Pointer(&op.params[i]))
			p.Size = uint32(tmpPtr.size)
		}
	}

	return uint32(rc), uint32(retOrigin), nil
}
