package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/tee-executor/internal/gp"
)

func TestTCMarshalUnmarshalValueRoundTrip(t *testing.T) {
	op := &gp.Operation{
		CmdID: 3,
		Params: [4]gp.Parameter{
			{Type: gp.ParamValueInput, ValueA: 10, ValueB: 20},
			{Type: gp.ParamValueInout, ValueA: 1, ValueB: 2},
			{Type: gp.ParamNone},
			{Type: gp.ParamNone},
		},
	}

	buf, layout := tcMarshalOp(op)
	require.Len(t, buf, 16) // two 8-byte VALUE slots

	// Unmarshal the buffer as marshaled; the INOUT slot reads back unchanged.
	out := &gp.Operation{Params: op.Params}
	tcUnmarshalOp(buf, layout, out)
	require.Equal(t, uint32(1), out.Params[1].ValueA)
	require.Equal(t, uint32(2), out.Params[1].ValueB)
}

func TestTCMarshalUnmarshalMemrefRoundTrip(t *testing.T) {
	op := &gp.Operation{
		CmdID: 9,
		Params: [4]gp.Parameter{
			{Type: gp.ParamMemrefTempInout, Buffer: []byte{0, 0, 0, 0}, Size: 4},
			{Type: gp.ParamNone},
			{Type: gp.ParamNone},
			{Type: gp.ParamNone},
		},
	}

	buf, layout := tcMarshalOp(op)

	// Simulate the vendor writing a shorter response into the buffer's
	// memref region, in place, then updating its size field.
	region := buf[layout[0].offset : layout[0].offset+layout[0].length]
	copy(region[4:], []byte{0xAA, 0xBB, 0xCC, 0xDD})
	region[0] = 2 // new size

	tcUnmarshalOp(buf, layout, op)
	require.Equal(t, uint32(2), op.Params[0].Size)
	require.Equal(t, []byte{0xAA, 0xBB}, op.Params[0].Buffer[:2])
}

func TestTCMarshalSkipsNoneParams(t *testing.T) {
	op := &gp.Operation{Params: [4]gp.Parameter{{Type: gp.ParamNone}, {Type: gp.ParamNone}, {Type: gp.ParamNone}, {Type: gp.ParamNone}}}
	buf, layout := tcMarshalOp(op)
	require.Empty(t, buf)
	for _, slot := range layout {
		require.Equal(t, 0, slot.length)
	}
}
