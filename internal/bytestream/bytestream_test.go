package bytestream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadWriteRoundTrip(t *testing.T) {
	s := New(0)
	s.Write([]byte("hello"))
	s.Write([]byte("world"))
	require.Equal(t, 10, s.Pos())

	s.pos = 0
	got, err := s.Read(5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	got, err = s.Read(5)
	require.NoError(t, err)
	require.Equal(t, "world", string(got))
}

func TestReadPastEndFails(t *testing.T) {
	s := New(4)
	_, err := s.Read(5)
	require.Error(t, err)
}

func TestWriteGrows(t *testing.T) {
	s := New(2)
	s.Write([]byte("abcdef"))
	require.Equal(t, 6, s.Len())
}

func TestPlaceholderBackpatch(t *testing.T) {
	s := New(0)
	off := s.WritePlaceholder(4)
	s.Write([]byte("payload"))

	patched := make([]byte, 4)
	patched[0] = 0xAA
	require.NoError(t, s.PatchAt(off, patched))
	require.Equal(t, byte(0xAA), s.Bytes()[off])
}

func TestReset(t *testing.T) {
	s := New(0)
	s.Write([]byte("abc"))
	s.Reset()
	require.Equal(t, 0, s.Pos())
	for _, b := range s.Bytes() {
		require.Equal(t, byte(0), b)
	}
}

func TestNewFromBuf(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	s := NewFromBuf(buf)
	got, err := s.Read(4)
	require.NoError(t, err)
	require.Equal(t, buf, got)
}
