package vendorlib

/*
#include <stdint.h>
#include <stdlib.h>

typedef struct qseecom_handle qseecom_handle_t;

typedef int32_t (*qseecom_start_app_fn)(qseecom_handle_t **handle, const char *path,
	const char *name, uint32_t sb_size);
typedef int32_t (*qseecom_shutdown_app_fn)(qseecom_handle_t **handle);
typedef int32_t (*qseecom_send_cmd_fn)(qseecom_handle_t *handle, void *cmd_buf,
	uint32_t cmd_len, void *resp_buf, uint32_t resp_len);
typedef int32_t (*qseecom_send_modified_cmd_fn)(qseecom_handle_t *handle, void *cmd_buf,
	uint32_t cmd_len, void *resp_buf, uint32_t resp_len, int32_t ion_fd);
typedef int32_t (*qseecom_set_bandwidth_fn)(qseecom_handle_t *handle, int32_t high);
typedef int32_t (*qseecom_set_ion_fd_fn)(qseecom_handle_t *handle, int32_t ion_fd);

static int32_t call_qsee_start_app(void *fn, qseecom_handle_t **handle, const char *path,
	const char *name, uint32_t sb_size) {
	return ((qseecom_start_app_fn)fn)(handle, path, name, sb_size);
}
static int32_t call_qsee_shutdown_app(void *fn, qseecom_handle_t **handle) {
	return ((qseecom_shutdown_app_fn)fn)(handle);
}
static int32_t call_qsee_send_cmd(void *fn, qseecom_handle_t *handle, void *cmd_buf,
	uint32_t cmd_len, void *resp_buf, uint32_t resp_len) {
	return ((qseecom_send_cmd_fn)fn)(handle, cmd_buf, cmd_len, resp_buf, resp_len);
}
static int32_t call_qsee_send_modified_cmd(void *fn, qseecom_handle_t *handle, void *cmd_buf,
	uint32_t cmd_len, void *resp_buf, uint32_t resp_len, int32_t ion_fd) {
	return ((qseecom_send_modified_cmd_fn)fn)(handle, cmd_buf, cmd_len, resp_buf, resp_len, ion_fd);
}
static int32_t call_qsee_set_bandwidth(void *fn, qseecom_handle_t *handle, int32_t high) {
	return ((qseecom_set_bandwidth_fn)fn)(handle, high);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// QSEEComClient binds the narrow QSEECom_* subset used by the Qualcomm
// session driver (spec §4.5): app lifecycle plus plain and ION-backed
// command submission.
type QSEEComClient struct {
	lib    *Library
	handle *C.qseecom_handle_t
}

// NewQSEEComClient loads libPath without starting an app yet.
func NewQSEEComClient(libPath string) (*QSEEComClient, error) {
	lib, err := Load(libPath, QSEEComSymbols)
	if err != nil {
		return nil, err
	}
	return &QSEEComClient{lib: lib}, nil
}

// StartApp loads the TA image named name found under path, with a command
// buffer of sbSize bytes.
func (q *QSEEComClient) StartApp(path, name string, sbSize uint32) error {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	rc := C.call_qsee_start_app(q.lib.Symbol("QSEECom_start_app"), &q.handle, cPath, cName, C.uint32_t(sbSize))
	if rc != 0 {
		return fmt.Errorf("vendorlib: QSEECom_start_app failed: %d", int32(rc))
	}
	return nil
}

// ShutdownApp unloads the currently started TA.
func (q *QSEEComClient) ShutdownApp() error {
	rc := C.call_qsee_shutdown_app(q.lib.Symbol("QSEECom_shutdown_app"), &q.handle)
	if rc != 0 {
		return fmt.Errorf("vendorlib: QSEECom_shutdown_app failed: %d", int32(rc))
	}
	return nil
}

// SendCmd submits cmdBuf and fills respBuf via a plain (non-ION) exchange.
func (q *QSEEComClient) SendCmd(cmdBuf, respBuf []byte) error {
	var cmdPtr, respPtr unsafe.Pointer
	if len(cmdBuf) > 0 {
		cmdPtr = unsafe.Pointer(&cmdBuf[0])
	}
	if len(respBuf) > 0 {
		respPtr = unsafe.Pointer(&respBuf[0])
	}
	rc := C.call_qsee_send_cmd(q.lib.Symbol("QSEECom_send_cmd"), q.handle,
		cmdPtr, C.uint32_t(len(cmdBuf)), respPtr, C.uint32_t(len(respBuf)))
	if rc != 0 {
		return fmt.Errorf("vendorlib: QSEECom_send_cmd failed: %d", int32(rc))
	}
	return nil
}

// SendModifiedCmd submits cmdBuf/respBuf alongside an ION shared-buffer file
// descriptor, for commands carrying memref payloads too large for the
// inline command buffer (spec §9 supplemented feature).
func (q *QSEEComClient) SendModifiedCmd(cmdBuf, respBuf []byte, ionFD int32) error {
	var cmdPtr, respPtr unsafe.Pointer
	if len(cmdBuf) > 0 {
		cmdPtr = unsafe.Pointer(&cmdBuf[0])
	}
	if len(respBuf) > 0 {
		respPtr = unsafe.Pointer(&respBuf[0])
	}
	rc := C.call_qsee_send_modified_cmd(q.lib.Symbol("QSEECom_send_modified_cmd"), q.handle,
		cmdPtr, C.uint32_t(len(cmdBuf)), respPtr, C.uint32_t(len(respBuf)), C.int32_t(ionFD))
	if rc != 0 {
		return fmt.Errorf("vendorlib: QSEECom_send_modified_cmd failed: %d", int32(rc))
	}
	return nil
}

// SetBandwidth toggles the high-bandwidth bus vote around a burst of
// commands (spec §4.5 QSEE bandwidth toggling).
func (q *QSEEComClient) SetBandwidth(high bool) error {
	var h C.int32_t
	if high {
		h = 1
	}
	rc := C.call_qsee_set_bandwidth(q.lib.Symbol("QSEECom_set_bandwidth"), q.handle, h)
	if rc != 0 {
		return fmt.Errorf("vendorlib: QSEECom_set_bandwidth failed: %d", int32(rc))
	}
	return nil
}

// Close unloads the library. The caller is responsible for calling
// ShutdownApp first if an app is loaded.
func (q *QSEEComClient) Close() error {
	return q.lib.Close()
}
