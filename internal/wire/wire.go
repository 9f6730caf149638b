// Package wire implements the TLV command framing used on the data socket,
// length-value parsing from a byte stream, the legacy hex-line encoding, and
// the named-item sub-framing used inside START command bodies.
package wire

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/behrlich/tee-executor/internal/bytestream"
	"github.com/behrlich/tee-executor/internal/constants"
)

// Command codes for the TLV frame type byte (spec §6).
const (
	CmdStart     uint8 = 1
	CmdSend      uint8 = 2
	CmdEnd       uint8 = 3
	CmdTerminate uint8 = 4
)

// Frame is a decoded TLV command frame: a 1-byte type, a little-endian
// 4-byte body length, and the body itself.
type Frame struct {
	Type uint8
	Body []byte
}

// RecvTLV reads exactly 5+length bytes from r: a command byte, a
// little-endian u32 length, and that many body bytes. Any short read or EOF
// mid-frame is a transport-class failure.
func RecvTLV(r io.Reader) (Frame, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, fmt.Errorf("wire: recv tlv header: %w", err)
	}
	typ := hdr[0]
	length := binary.LittleEndian.Uint32(hdr[1:5])
	if length > constants.MaxTLVBodySize {
		return Frame{}, fmt.Errorf("wire: recv tlv body: length %d exceeds max %d", length, constants.MaxTLVBodySize)
	}

	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Frame{}, fmt.Errorf("wire: recv tlv body (len=%d): %w", length, err)
		}
	}
	return Frame{Type: typ, Body: body}, nil
}

// SendAll writes buf to w in full, blocking until done or an error occurs.
func SendAll(w io.Writer, buf []byte) error {
	n, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf("wire: send: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("wire: send: short write %d/%d", n, len(buf))
	}
	return nil
}

// SendTLV writes a command frame: type byte, little-endian u32 length, body.
func SendTLV(w io.Writer, typ uint8, body []byte) error {
	hdr := make([]byte, 5)
	hdr[0] = typ
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(len(body)))
	if err := SendAll(w, hdr); err != nil {
		return err
	}
	return SendAll(w, body)
}

// ParseLV reads a little-endian u32 length prefix from s, then that many
// bytes, and returns a view of the value.
func ParseLV(s *bytestream.Stream) ([]byte, error) {
	lenBytes, err := s.Read(4)
	if err != nil {
		return nil, fmt.Errorf("wire: parse lv length: %w", err)
	}
	sz := binary.LittleEndian.Uint32(lenBytes)
	val, err := s.Read(int(sz))
	if err != nil {
		return nil, fmt.Errorf("wire: parse lv value (len=%d): %w", sz, err)
	}
	return val, nil
}

// ReadHexLine reads a newline-terminated line of hex digits from r and
// decodes it. No backend in this repository calls it: the QSEE driver has no
// hex-line interact variant and uses TLV framing only. An odd-length or
// non-hex-digit line is a transport-class failure.
func ReadHexLine(r io.Reader) ([]byte, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				break
			}
			sb.WriteByte(buf[0])
		}
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("wire: read hex line: unexpected EOF")
			}
			return nil, fmt.Errorf("wire: read hex line: %w", err)
		}
	}
	line := sb.String()
	if len(line)%2 != 0 {
		return nil, fmt.Errorf("wire: malformed hex line: odd number of digits")
	}
	decoded, err := hex.DecodeString(line)
	if err != nil {
		return nil, fmt.Errorf("wire: malformed hex line: %w", err)
	}
	return decoded, nil
}

// WriteHex hex-encodes buf and writes it followed by a newline.
func WriteHex(w io.Writer, buf []byte) error {
	if len(buf) == 0 {
		return fmt.Errorf("wire: write hex: empty buffer")
	}
	encoded := hex.EncodeToString(buf)
	return SendAll(w, []byte(encoded+"\n"))
}

// SendItemByName writes a named-item sub-frame: 1-byte name length, the
// ASCII name, a little-endian u32 item length, then the item bytes.
func SendItemByName(w io.Writer, name string, item []byte) error {
	if len(name) > 255 {
		return fmt.Errorf("wire: item name too long: %d", len(name))
	}
	buf := make([]byte, 0, 1+len(name)+4+len(item))
	buf = append(buf, byte(len(name)))
	buf = append(buf, name...)
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(item)))
	buf = append(buf, lenBuf...)
	buf = append(buf, item...)
	return SendAll(w, buf)
}

// RecvItemByName reads a named-item sub-frame from s, verifies the name
// matches expectedName, and returns the item bytes. maxItemSz bounds the
// accepted item length; an item exactly maxItemSz bytes long is accepted
// (the boundary check is "<", not "<=", matching the reference behavior this
// framing was derived from).
func RecvItemByName(s *bytestream.Stream, expectedName string, maxItemSz int) ([]byte, error) {
	nameLenBuf, err := s.Read(1)
	if err != nil {
		return nil, fmt.Errorf("wire: recv item name length: %w", err)
	}
	nameLen := int(nameLenBuf[0])

	nameBuf, err := s.Read(nameLen)
	if err != nil {
		return nil, fmt.Errorf("wire: recv item name: %w", err)
	}
	name := string(nameBuf)
	if name != expectedName {
		return nil, fmt.Errorf("wire: expected item %q, got %q", expectedName, name)
	}

	itemLenBuf, err := s.Read(4)
	if err != nil {
		return nil, fmt.Errorf("wire: recv item length: %w", err)
	}
	itemLen := int(binary.LittleEndian.Uint32(itemLenBuf))

	if maxItemSz < itemLen {
		return nil, fmt.Errorf("wire: item %q exceeds max size %d > %d", name, itemLen, maxItemSz)
	}

	item, err := s.Read(itemLen)
	if err != nil {
		return nil, fmt.Errorf("wire: recv item body: %w", err)
	}
	return item, nil
}

// RecvItemByNameExact is RecvItemByName with an additional check that the
// received item is exactly expectedSz bytes.
func RecvItemByNameExact(s *bytestream.Stream, expectedName string, expectedSz int) ([]byte, error) {
	item, err := RecvItemByName(s, expectedName, expectedSz)
	if err != nil {
		return nil, err
	}
	if len(item) != expectedSz {
		return nil, fmt.Errorf("wire: item %q size mismatch: got %d want %d", expectedName, len(item), expectedSz)
	}
	return item, nil
}
