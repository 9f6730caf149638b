package gp

import (
	"encoding/binary"
	"fmt"

	"github.com/behrlich/tee-executor/internal/bufpool"
	"github.com/behrlich/tee-executor/internal/bytestream"
	"github.com/behrlich/tee-executor/internal/constants"
)

// marshalArgStruct manually marshals ArgStruct into its 16-byte wire layout.
func marshalArgStruct(a *ArgStruct) []byte {
	buf := make([]byte, ArgStructSize)
	binary.LittleEndian.PutUint32(buf[0:4], a.CmdID)
	binary.LittleEndian.PutUint32(buf[4:8], a.ParamTypes)
	binary.LittleEndian.PutUint32(buf[8:12], a.RetCode)
	binary.LittleEndian.PutUint32(buf[12:16], a.RetOrigin)
	return buf
}

// unmarshalArgStruct manually unmarshals the 16-byte wire layout into ArgStruct.
func unmarshalArgStruct(data []byte) (ArgStruct, error) {
	if len(data) < ArgStructSize {
		return ArgStruct{}, fmt.Errorf("gp: arg struct too short: %d < %d", len(data), ArgStructSize)
	}
	return ArgStruct{
		CmdID:      binary.LittleEndian.Uint32(data[0:4]),
		ParamTypes: binary.LittleEndian.Uint32(data[4:8]),
		RetCode:    binary.LittleEndian.Uint32(data[8:12]),
		RetOrigin:  binary.LittleEndian.Uint32(data[12:16]),
	}, nil
}

// UnmarshalOperation parses a SEND command body into an Operation, per the
// wire schema in spec.md §4.4: invoke_arg_struct bytes, then an authoritative
// param_types word, then four parameter bodies decoded according to it.
func UnmarshalOperation(body []byte) (*Operation, error) {
	s := bytestream.NewFromBuf(body)

	argBytes, err := s.Read(ArgStructSize)
	if err != nil {
		return nil, fmt.Errorf("gp: read arg struct: %w", err)
	}
	arg, err := unmarshalArgStruct(argBytes)
	if err != nil {
		return nil, err
	}

	ptBytes, err := s.Read(4)
	if err != nil {
		return nil, fmt.Errorf("gp: read param_types: %w", err)
	}
	rawParamTypes := binary.LittleEndian.Uint32(ptBytes)
	paramTypes := NormalizeParamTypes(rawParamTypes)

	op := &Operation{
		CmdID:      arg.CmdID,
		ParamTypes: paramTypes,
	}

	for i := 0; i < 4; i++ {
		pt := ParamTypeAt(paramTypes, i)
		param, err := unmarshalParameter(s, pt)
		if err != nil {
			return nil, fmt.Errorf("gp: param %d: %w", i, err)
		}
		op.Params[i] = param
	}

	return op, nil
}

func unmarshalParameter(s *bytestream.Stream, pt uint32) (Parameter, error) {
	switch pt {
	case ParamNone:
		return Parameter{Type: ParamNone}, nil

	case ParamValueInput, ParamValueInout:
		aBuf, err := s.Read(4)
		if err != nil {
			return Parameter{}, fmt.Errorf("read value.a: %w", err)
		}
		bBuf, err := s.Read(4)
		if err != nil {
			return Parameter{}, fmt.Errorf("read value.b: %w", err)
		}
		return Parameter{
			Type:   pt,
			ValueA: binary.LittleEndian.Uint32(aBuf),
			ValueB: binary.LittleEndian.Uint32(bBuf),
		}, nil

	case ParamValueOutput:
		// Placeholders still travel on the wire, zero-filled, but the
		// executor must allocate backing storage regardless so the vendor
		// call has somewhere to write.
		if _, err := s.Read(4); err != nil {
			return Parameter{}, fmt.Errorf("read value.a placeholder: %w", err)
		}
		if _, err := s.Read(4); err != nil {
			return Parameter{}, fmt.Errorf("read value.b placeholder: %w", err)
		}
		return Parameter{Type: pt}, nil

	case ParamMemrefTempInput, ParamMemrefTempInout:
		lenBuf, err := s.Read(4)
		if err != nil {
			return Parameter{}, fmt.Errorf("read memref len: %w", err)
		}
		length := binary.LittleEndian.Uint32(lenBuf)
		if length > constants.MaxMemrefSize {
			return Parameter{}, fmt.Errorf("memref len %d exceeds max %d", length, constants.MaxMemrefSize)
		}

		data, err := s.Read(int(length))
		if err != nil {
			return Parameter{}, fmt.Errorf("read memref buffer (len=%d): %w", length, err)
		}

		sizeBuf, err := s.Read(4)
		if err != nil {
			return Parameter{}, fmt.Errorf("read memref size: %w", err)
		}
		size := binary.LittleEndian.Uint32(sizeBuf)

		// Memref clamping (spec §8): the size field passed to the TEE is
		// min(received_buffer_length, received_size), preventing the TEE
		// from reading past our buffer.
		if length < size {
			size = length
		}

		buf := bufpool.Get(int(length))
		copy(buf, data)

		return Parameter{Type: pt, Buffer: buf, Size: size}, nil

	case ParamMemrefTempOutput:
		actualBuf, err := s.Read(4)
		if err != nil {
			return Parameter{}, fmt.Errorf("read memref actual_size: %w", err)
		}
		actualSize := binary.LittleEndian.Uint32(actualBuf)
		if actualSize > constants.MaxMemrefSize {
			return Parameter{}, fmt.Errorf("memref actual_size %d exceeds max %d", actualSize, constants.MaxMemrefSize)
		}

		signaledBuf, err := s.Read(4)
		if err != nil {
			return Parameter{}, fmt.Errorf("read memref signaled_size: %w", err)
		}
		signaledSize := binary.LittleEndian.Uint32(signaledBuf)

		buf := bufpool.Get(int(actualSize)) // zeroed by bufpool.Get

		return Parameter{Type: pt, Buffer: buf, Size: signaledSize}, nil

	default:
		return Parameter{}, fmt.Errorf("unrecognized parameter type %#x", pt)
	}
}

// FreeOutputBuffers returns every memref buffer (input and output) to the pool.
// Must be called after a response has been fully serialized (spec §4.4).
func FreeOutputBuffers(op *Operation) {
	for i := range op.Params {
		if op.Params[i].Buffer != nil {
			bufpool.Put(op.Params[i].Buffer)
			op.Params[i].Buffer = nil
		}
	}
}

// MarshalResponse serializes the result of a SEND invocation per spec §4.4:
// a status word, a back-patched payload_size, the (possibly updated) arg
// struct, and — only on TEE success — the per-parameter outputs.
func MarshalResponse(op *Operation, marshalErr error) []byte {
	s := bytestream.New(0)

	if marshalErr != nil {
		s.Write(i32le(StatusError))
		return s.Bytes()
	}

	s.Write(i32le(StatusSuccess))
	payloadSizeOffset := s.WritePlaceholder(4)

	payloadStart := s.Pos()

	arg := ArgStruct{
		CmdID:      op.CmdID,
		ParamTypes: op.ParamTypes,
		RetCode:    op.RetCode,
		RetOrigin:  op.RetOrigin,
	}
	argBytes := marshalArgStruct(&arg)
	s.Write(u32le(uint32(len(argBytes))))
	s.Write(argBytes)

	if op.RetCode == 0 {
		for i := range op.Params {
			marshalParameterOutput(s, op.Params[i])
		}
	}

	payloadSize := uint32(s.Pos() - payloadStart)
	_ = s.PatchAt(payloadSizeOffset, u32le(payloadSize))

	return s.Bytes()
}

func marshalParameterOutput(s *bytestream.Stream, p Parameter) {
	switch p.Type {
	case ParamNone, ParamValueInput, ParamMemrefTempInput:
		s.Write(u32le(0))

	case ParamValueOutput, ParamValueInout:
		s.Write(u32le(8))
		s.Write(u32le(p.ValueA))
		s.Write(u32le(p.ValueB))

	case ParamMemrefTempOutput, ParamMemrefTempInout:
		sz := p.Size
		if int(sz) > len(p.Buffer) {
			sz = uint32(len(p.Buffer))
		}
		s.Write(u32le(sz))
		if sz > 0 {
			s.Write(p.Buffer[:sz])
		}

	default:
		s.Write(u32le(0))
	}
}

func u32le(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}

func i32le(v int32) []byte {
	return u32le(uint32(v))
}
