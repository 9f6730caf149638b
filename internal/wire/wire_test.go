package wire

import (
	"bytes"
	"testing"

	"github.com/behrlich/tee-executor/internal/bytestream"
	"github.com/stretchr/testify/require"
)

func TestRecvTLVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SendTLV(&buf, CmdSend, []byte("payload")))

	frame, err := RecvTLV(&buf)
	require.NoError(t, err)
	require.Equal(t, CmdSend, frame.Type)
	require.Equal(t, []byte("payload"), frame.Body)
}

func TestRecvTLVShortRead(t *testing.T) {
	_, err := RecvTLV(bytes.NewReader([]byte{1, 2, 3}))
	require.Error(t, err)
}

func TestParseLV(t *testing.T) {
	s := bytestream.New(0)
	s.Write([]byte{5, 0, 0, 0})
	s.Write([]byte("hello"))
	s2 := bytestream.NewFromBuf(s.Bytes())

	val, err := ParseLV(s2)
	require.NoError(t, err)
	require.Equal(t, "hello", string(val))
}

func TestHexLineRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHex(&buf, []byte{0xDE, 0xAD, 0xBE, 0xEF}))

	got, err := ReadHexLine(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, got)
}

func TestHexLineOddLength(t *testing.T) {
	_, err := ReadHexLine(bytes.NewReader([]byte("abc\n")))
	require.Error(t, err)
}

func TestItemByNameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SendItemByName(&buf, "uuid", make([]byte, 16)))

	s := bytestream.NewFromBuf(buf.Bytes())
	item, err := RecvItemByName(s, "uuid", 16)
	require.NoError(t, err)
	require.Len(t, item, 16)
}

func TestItemByNameMaxSizeBoundaryIsInclusive(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SendItemByName(&buf, "login_blob", make([]byte, 2048)))

	s := bytestream.NewFromBuf(buf.Bytes())
	_, err := RecvItemByName(s, "login_blob", 2048)
	require.NoError(t, err, "an item exactly at the max size must be accepted")
}

func TestItemByNameOverMaxSizeRejected(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SendItemByName(&buf, "login_blob", make([]byte, 2049)))

	s := bytestream.NewFromBuf(buf.Bytes())
	_, err := RecvItemByName(s, "login_blob", 2048)
	require.Error(t, err)
}

func TestItemByNameWrongNameRejected(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SendItemByName(&buf, "path", []byte("x")))

	s := bytestream.NewFromBuf(buf.Bytes())
	_, err := RecvItemByName(s, "fname", 256)
	require.Error(t, err)
}

func TestRecvItemByNameExactSizeMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SendItemByName(&buf, "uid", []byte{1, 2, 3}))

	s := bytestream.NewFromBuf(buf.Bytes())
	_, err := RecvItemByNameExact(s, "uid", 4)
	require.Error(t, err)
}
