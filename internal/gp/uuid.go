package gp

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// ShmPTAUUID is the fixed identity of the coverage pseudo-TA (spec §4.6).
var ShmPTAUUID = uuid.MustParse("3e1c44bf-f8c6-4c3c-1337-5da21400d0cb")

// ParseRawUUID interprets 16 raw bytes as a UUID with no reordering. This is
// the convention used by modern OP-TEE and by TC (spec §3).
func ParseRawUUID(b []byte) (uuid.UUID, error) {
	if len(b) != 16 {
		return uuid.UUID{}, fmt.Errorf("gp: uuid must be 16 bytes, got %d", len(b))
	}
	var u uuid.UUID
	copy(u[:], b)
	return u, nil
}

// ParseBeanpodUUID reassembles 16 raw bytes as a Beanpod-style grouped UUID:
// timeLow/timeMid/timeHiAndVersion are assembled big-endian from bytes 0-3,
// 4-5, 6-7 (beanpod.c:51-57's `b[0]<<24 | b[1]<<16 | ...` construction) into
// native uint32_t/uint16_t struct fields. Those fields live in memory in the
// device's little-endian byte order, so the assembled values are written
// back out little-endian here — the within-group swap this produces is what
// makes teecInvoker.OpenSession's raw memcpy of u[:] into the native
// teec_uuid_t diverge from the OP-TEE/TC raw path. The remaining 8 bytes
// (clockSeqAndNode) carry no such field and are taken raw. All 16 input
// bytes are treated as unsigned (spec §9 — the source's
// sign-extension-through-char hazard does not apply in Go, but the
// byte-by-byte reassembly here makes the unsigned treatment explicit).
func ParseBeanpodUUID(b []byte) (uuid.UUID, error) {
	if len(b) != 16 {
		return uuid.UUID{}, fmt.Errorf("gp: uuid must be 16 bytes, got %d", len(b))
	}

	timeLow := binary.BigEndian.Uint32(b[0:4])
	timeMid := binary.BigEndian.Uint16(b[4:6])
	timeHiAndVersion := binary.BigEndian.Uint16(b[6:8])

	var u uuid.UUID
	binary.LittleEndian.PutUint32(u[0:4], timeLow)
	binary.LittleEndian.PutUint16(u[4:6], timeMid)
	binary.LittleEndian.PutUint16(u[6:8], timeHiAndVersion)
	copy(u[8:16], b[8:16])
	return u, nil
}
