package vendorlib

// Symbol tables name the fixed subset of each vendor client library's ABI
// that a backend session driver is allowed to touch (spec §1: "consumed
// through a narrow capability set"). Load fails fast if any of these is
// absent from the shared object.

// TEECSymbols is the OP-TEE / Beanpod libteec.so symbol set.
var TEECSymbols = []string{
	"TEEC_InitializeContext",
	"TEEC_FinalizeContext",
	"TEEC_OpenSession",
	"TEEC_CloseSession",
	"TEEC_InvokeCommand",
	"TEEC_RegisterSharedMemory",
	"TEEC_ReleaseSharedMemory",
	"TEEC_RequestCancellation",
}

// QSEEComSymbols is the Qualcomm QSEE libQSEEComAPI.so symbol set.
var QSEEComSymbols = []string{
	"QSEECom_start_app",
	"QSEECom_shutdown_app",
	"QSEECom_send_cmd",
	"QSEECom_send_modified_cmd",
	"QSEECom_set_bandwidth",
	"QSEECom_set_ion_fd",
}

// TCSymbols is the Huawei TrustedCore libteec.so symbol set. Sessions are
// driven through these TEEK_* library calls alone: the executor does not open
// the TC device node, issue its login or session ioctls, or search for a
// .sec TA image (see internal/session/tc.go).
var TCSymbols = []string{
	"TEEK_InitContext",
	"TEEK_FinalizeContext",
	"TEEK_OpenSession",
	"TEEK_CloseSession",
	"TEEK_InvokeCommand",
}
