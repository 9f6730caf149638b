package gp

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildArgStruct(cmdID uint32) []byte {
	return marshalArgStruct(&ArgStruct{CmdID: cmdID})
}

func TestNormalizeParamType(t *testing.T) {
	require.Equal(t, ParamMemrefTempInput, NormalizeParamType(0xD))
	require.Equal(t, ParamMemrefTempOutput, NormalizeParamType(0xE))
	require.Equal(t, ParamMemrefTempInout, NormalizeParamType(0xF))
	require.Equal(t, ParamValueInput, NormalizeParamType(0x1))
}

func TestPartialNormalizationMatchesTempWireBehavior(t *testing.T) {
	// spec §8: a param_types word with any nibble in {0xD,0xE,0xF} must
	// behave identically to the same word with 0x8 subtracted from each
	// such nibble.
	raw := uint32(0x0000000D)
	normalized := NormalizeParamTypes(raw)
	require.Equal(t, ParamMemrefTempInput, normalized&0xF)
}

func buildSendBody(t *testing.T, rawParamTypes uint32, paramBody []byte) []byte {
	t.Helper()
	body := append([]byte{}, buildArgStruct(7)...)
	ptBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(ptBuf, rawParamTypes)
	body = append(body, ptBuf...)
	body = append(body, paramBody...)
	return body
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func TestUnmarshalMemrefTempInoutRoundTrip(t *testing.T) {
	// slot 0: MEMREF_TEMP_INOUT with buffer "hello", slots 1-3: NONE.
	var paramBody []byte
	paramBody = append(paramBody, u32(5)...)
	paramBody = append(paramBody, []byte("hello")...)
	paramBody = append(paramBody, u32(5)...)

	body := buildSendBody(t, ParamMemrefTempInout, paramBody)
	op, err := UnmarshalOperation(body)
	require.NoError(t, err)
	require.Equal(t, uint32(7), op.CmdID)
	require.Equal(t, ParamMemrefTempInout, op.Params[0].Type)
	require.Equal(t, "hello", string(op.Params[0].Buffer[:5]))
	require.Equal(t, uint32(5), op.Params[0].Size)
	FreeOutputBuffers(op)
}

func TestMemrefClamping(t *testing.T) {
	// received buffer length 5, but size field claims 100: must clamp to 5.
	var paramBody []byte
	paramBody = append(paramBody, u32(5)...)
	paramBody = append(paramBody, []byte("hello")...)
	paramBody = append(paramBody, u32(100)...)

	body := buildSendBody(t, ParamMemrefTempInput, paramBody)
	op, err := UnmarshalOperation(body)
	require.NoError(t, err)
	require.Equal(t, uint32(5), op.Params[0].Size)
	FreeOutputBuffers(op)
}

func TestMemrefTempOutputAllocationSizing(t *testing.T) {
	var paramBody []byte
	paramBody = append(paramBody, u32(64)...)  // actual_size
	paramBody = append(paramBody, u32(8)...) // signaled_size

	body := buildSendBody(t, ParamMemrefTempOutput, paramBody)
	op, err := UnmarshalOperation(body)
	require.NoError(t, err)
	require.Len(t, op.Params[0].Buffer, 64)
	require.Equal(t, uint32(8), op.Params[0].Size)
	FreeOutputBuffers(op)
}

func TestValueOutputAllocatesBackingStorage(t *testing.T) {
	var paramBody []byte
	paramBody = append(paramBody, u32(0)...)
	paramBody = append(paramBody, u32(0)...)

	body := buildSendBody(t, ParamValueOutput, paramBody)
	op, err := UnmarshalOperation(body)
	require.NoError(t, err)
	require.Equal(t, ParamValueOutput, op.Params[0].Type)
}

func TestMarshalResponsePayloadSizeSelfConsistency(t *testing.T) {
	op := &Operation{
		CmdID:      1,
		ParamTypes: ParamMemrefTempInout,
		RetCode:    0,
	}
	op.Params[0] = Parameter{Type: ParamMemrefTempInout, Buffer: []byte("hello"), Size: 5}

	resp := MarshalResponse(op, nil)
	require.Equal(t, StatusSuccess, int32(binary.LittleEndian.Uint32(resp[0:4])))

	payloadSize := binary.LittleEndian.Uint32(resp[4:8])
	// total - sizeof(status) - sizeof(payload_size)
	require.Equal(t, uint32(len(resp)-8), payloadSize)
}

func TestMarshalResponseTEEErrorOmitsParams(t *testing.T) {
	op := &Operation{
		CmdID:     1,
		RetCode:   0xFFFF0007,
		RetOrigin: 3,
	}
	op.Params[0] = Parameter{Type: ParamMemrefTempOutput, Buffer: make([]byte, 16), Size: 16}

	resp := MarshalResponse(op, nil)
	status := int32(binary.LittleEndian.Uint32(resp[0:4]))
	require.Equal(t, StatusSuccess, status)

	// arg struct carries the ret code; no trailing parameter block.
	argStructSizeOff := 8
	argStructSize := binary.LittleEndian.Uint32(resp[argStructSizeOff : argStructSizeOff+4])
	require.Equal(t, uint32(ArgStructSize), argStructSize)
	require.Equal(t, len(resp), argStructSizeOff+4+int(argStructSize))
}

func TestMarshalResponseMarshalingFailure(t *testing.T) {
	resp := MarshalResponse(nil, errMarshalFailure)
	require.Equal(t, StatusError, int32(binary.LittleEndian.Uint32(resp[0:4])))
	require.Len(t, resp, 4)
}

func TestParseRawUUID(t *testing.T) {
	raw := make([]byte, 16)
	for i := range raw {
		raw[i] = byte(i)
	}
	u, err := ParseRawUUID(raw)
	require.NoError(t, err)
	require.Equal(t, raw, u[:])
}

func TestParseBeanpodUUIDLength(t *testing.T) {
	_, err := ParseBeanpodUUID(make([]byte, 15))
	require.Error(t, err)
}

func TestParseBeanpodUUIDDivergesFromRaw(t *testing.T) {
	raw := make([]byte, 16)
	for i := range raw {
		raw[i] = byte(i)
	}

	u, err := ParseBeanpodUUID(raw)
	require.NoError(t, err)

	// Within each of the first three groups, bytes come back reversed
	// relative to raw; the tail (clockSeqAndNode) is untouched.
	require.Equal(t, []byte{3, 2, 1, 0}, u[0:4])
	require.Equal(t, []byte{5, 4}, u[4:6])
	require.Equal(t, []byte{7, 6}, u[6:8])
	require.Equal(t, raw[8:16], u[8:16])
	require.NotEqual(t, raw, u[:])
}

var errMarshalFailure = errors.New("simulated marshaling failure")
