package vendorlib

/*
#include <stdint.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
	uint32_t id[4];
} teek_uuid_t;

typedef struct {
	void *imp;
} teek_context_t;

typedef struct {
	void *imp;
} teek_session_t;

typedef uint32_t (*teek_init_context_fn)(const char *name, teek_context_t *ctx);
typedef void (*teek_finalize_context_fn)(teek_context_t *ctx);
typedef uint32_t (*teek_open_session_fn)(teek_context_t *ctx, teek_session_t *session,
	const teek_uuid_t *dest, const void *login_data, uint32_t login_len, uint32_t *ret_origin);
typedef void (*teek_close_session_fn)(teek_session_t *session);
typedef uint32_t (*teek_invoke_command_fn)(teek_session_t *session, uint32_t cmd_id,
	void *op, uint32_t op_len, uint32_t *ret_origin);

static uint32_t call_teek_init_context(void *fn, const char *name, teek_context_t *ctx) {
	return ((teek_init_context_fn)fn)(name, ctx);
}
static void call_teek_finalize_context(void *fn, teek_context_t *ctx) {
	((teek_finalize_context_fn)fn)(ctx);
}
static uint32_t call_teek_open_session(void *fn, teek_context_t *ctx, teek_session_t *session,
	const teek_uuid_t *dest, const void *login_data, uint32_t login_len, uint32_t *ret_origin) {
	return ((teek_open_session_fn)fn)(ctx, session, dest, login_data, login_len, ret_origin);
}
static void call_teek_close_session(void *fn, teek_session_t *session) {
	((teek_close_session_fn)fn)(session);
}
static uint32_t call_teek_invoke_command(void *fn, teek_session_t *session, uint32_t cmd_id,
	void *op, uint32_t op_len, uint32_t *ret_origin) {
	return ((teek_invoke_command_fn)fn)(session, cmd_id, op, op_len, ret_origin);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// TCClient binds the narrow TEEK_* subset of Huawei TrustedCore's libteec.so
// (spec §4.5). TC sessions additionally take a login blob that the session
// driver supplies per call (the START command's login_blob item, passed
// through as received); vendorlib treats it as an opaque byte string.
type TCClient struct {
	lib *Library
	ctx C.teek_context_t
}

// NewTCClient loads libPath and initializes a TC context.
func NewTCClient(libPath string) (*TCClient, error) {
	lib, err := Load(libPath, TCSymbols)
	if err != nil {
		return nil, err
	}

	c := &TCClient{lib: lib}
	rc := C.call_teek_init_context(lib.Symbol("TEEK_InitContext"), nil, &c.ctx)
	if rc != 0 {
		_ = lib.Close()
		return nil, fmt.Errorf("vendorlib: TEEK_InitContext failed: %#x", uint32(rc))
	}
	return c, nil
}

// Close finalizes the context and unloads the library.
func (c *TCClient) Close() error {
	C.call_teek_finalize_context(c.lib.Symbol("TEEK_FinalizeContext"), &c.ctx)
	return c.lib.Close()
}

// TCSession is an open TC session.
type TCSession struct {
	client  *TCClient
	session C.teek_session_t
}

// OpenSession opens a session with dest, presenting loginBlob (the START
// command's login_blob item, unmodified) as the login data.
func (c *TCClient) OpenSession(dest [16]byte, loginBlob []byte) (*TCSession, uint32, error) {
	var cUUID C.teek_uuid_t
	C.memcpy(unsafe.Pointer(&cUUID), unsafe.Pointer(&dest[0]), 16)

	var loginPtr unsafe.Pointer
	if len(loginBlob) > 0 {
		loginPtr = unsafe.Pointer(&loginBlob[0])
	}

	sess := &TCSession{client: c}
	var retOrigin C.uint32_t

	rc := C.call_teek_open_session(c.lib.Symbol("TEEK_OpenSession"), &c.ctx, &sess.session,
		&cUUID, loginPtr, C.uint32_t(len(loginBlob)), &retOrigin)
	if rc != 0 {
		return nil, uint32(retOrigin), fmt.Errorf("vendorlib: TEEK_OpenSession failed: %#x", uint32(rc))
	}
	return sess, uint32(retOrigin), nil
}

// Close closes the session.
func (s *TCSession) Close() {
	C.call_teek_close_session(s.client.lib.Symbol("TEEK_CloseSession"), &s.session)
}

// InvokeCommand invokes cmdID with a pre-serialized operation blob (the TC
// backend marshals its own legacy parameter layout ahead of this call; see
// internal/session/tc.go) and returns the raw response bytes left in opBuf,
// plus the TEE's return code and origin.
func (s *TCSession) InvokeCommand(cmdID uint32, opBuf []byte) (uint32, uint32, error) {
	var opPtr unsafe.Pointer
	if len(opBuf) > 0 {
		opPtr = unsafe.Pointer(&opBuf[0])
	}

	var retOrigin C.uint32_t
	rc := C.call_teek_invoke_command(s.client.lib.Symbol("TEEK_InvokeCommand"), &s.session,
		C.uint32_t(cmdID), opPtr, C.uint32_t(len(opBuf)), &retOrigin)
	return uint32(rc), uint32(retOrigin), nil
}
