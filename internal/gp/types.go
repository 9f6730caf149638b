// Package gp implements binary marshaling of GlobalPlatform-style client API
// operations between the executor's wire format and the in-memory
// representation handed to a backend session driver.
package gp

import "unsafe"

// Parameter type tags, packed four-to-a-u32 as nibbles in Operation.ParamTypes.
const (
	ParamNone             uint32 = 0x0
	ParamValueInput       uint32 = 0x1
	ParamValueOutput      uint32 = 0x2
	ParamValueInout       uint32 = 0x3
	ParamMemrefTempInput  uint32 = 0x5
	ParamMemrefTempOutput uint32 = 0x6
	ParamMemrefTempInout  uint32 = 0x7

	// partialLowWatermark is the smallest raw nibble value treated as a
	// partial-memref variant requiring normalization (spec §3, §9).
	partialLowWatermark uint32 = 0xD
	partialHighWatermark uint32 = 0xF
	partialNormalizeShift uint32 = 0x8
)

// Executor status words (spec §4.4).
const (
	StatusSuccess int32 = 42
	StatusError   int32 = 1
)

// Parameter is a discriminated union over the seven recognized (normalized)
// parameter type tags.
type Parameter struct {
	Type uint32

	// VALUE fields.
	ValueA uint32
	ValueB uint32

	// MEMREF_TEMP fields. Buffer holds the data exchanged with the TEE;
	// Size is the value exposed to the TEE (which may differ from
	// len(Buffer): it is clamped to len(Buffer) on input, and is the
	// "signaled" size, possibly less than the allocated "actual" size, on
	// output).
	Buffer []byte
	Size   uint32
}

// IsMemrefOutputClass reports whether this parameter's output-side buffer
// (if any) must be serialized back to the host and freed after SEND.
func (p Parameter) IsMemrefOutputClass() bool {
	return p.Type == ParamMemrefTempOutput || p.Type == ParamMemrefTempInout
}

// IsValueOutputClass reports whether this parameter's value fields must be
// serialized back to the host.
func (p Parameter) IsValueOutputClass() bool {
	return p.Type == ParamValueOutput || p.Type == ParamValueInout
}

// Operation is one GP-style invocation: a command ID, four typed parameters,
// and (after SEND) the TEE's return code and origin.
type Operation struct {
	CmdID      uint32
	ParamTypes uint32
	Params     [4]Parameter
	RetCode    uint32
	RetOrigin  uint32
}

// ArgStruct is the portable stand-in for the vendor client library's native
// invocation struct. The executor treats it as mostly-opaque: it is received
// from the host, echoed back on the wire with RetCode/RetOrigin patched in,
// and only CmdID is consulted by the marshaling layer itself (the
// authoritative parameter-type word used to interpret parameter bodies
// travels separately on the wire, see UnmarshalOperation).
type ArgStruct struct {
	CmdID      uint32
	ParamTypes uint32
	RetCode    uint32
	RetOrigin  uint32
}

// ArgStructSize is the fixed wire size of ArgStruct.
const ArgStructSize = 16

var _ [ArgStructSize]byte = [unsafe.Sizeof(ArgStruct{})]byte{}

// NormalizeParamType subtracts 8 from partial-memref nibble values (0xD-0xF),
// mapping them onto their temp-memref counterparts (5-7). All other values
// pass through unchanged. This is the documented workaround (spec §3, §9)
// for avoiding partial-memref/shared-memory semantics.
func NormalizeParamType(t uint32) uint32 {
	if t >= partialLowWatermark && t <= partialHighWatermark {
		return t - partialNormalizeShift
	}
	return t
}

// NormalizeParamTypes applies NormalizeParamType to each of the four nibbles
// packed into a param_types word.
func NormalizeParamTypes(packed uint32) uint32 {
	var out uint32
	for i := 0; i < 4; i++ {
		nibble := (packed >> (i * 4)) & 0xF
		out |= NormalizeParamType(nibble) << (i * 4)
	}
	return out
}

// ParamTypeAt extracts the i'th (0-3) normalized parameter type nibble from a
// packed param_types word.
func ParamTypeAt(packed uint32, i int) uint32 {
	return NormalizeParamType((packed >> (i * 4)) & 0xF)
}
