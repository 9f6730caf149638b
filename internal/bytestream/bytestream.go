// Package bytestream provides a growable byte arena with a read/write cursor,
// used to build and parse request and response bodies for the GP wire format.
package bytestream

import "fmt"

// Stream is a contiguous buffer with a cursor. Reads advance the cursor and
// fail if they would run past the end of the buffer; writes always succeed,
// growing the backing array as needed.
type Stream struct {
	data []byte
	pos  int
}

// New allocates a Stream with an initial capacity of sz zeroed bytes and the
// cursor at position 0.
func New(sz int) *Stream {
	return &Stream{data: make([]byte, sz)}
}

// NewFromBuf wraps an existing buffer without copying it. The cursor starts
// at position 0.
func NewFromBuf(buf []byte) *Stream {
	return &Stream{data: buf}
}

// Len returns the current capacity of the underlying buffer.
func (s *Stream) Len() int {
	return len(s.data)
}

// Pos returns the current cursor position.
func (s *Stream) Pos() int {
	return s.pos
}

// Bytes returns the full backing buffer. The caller must not retain it past
// the next Write that triggers a grow.
func (s *Stream) Bytes() []byte {
	return s.data
}

// Reset zeros the buffer and moves the cursor back to 0.
func (s *Stream) Reset() {
	for i := range s.data {
		s.data[i] = 0
	}
	s.pos = 0
}

// Read returns a view of n bytes starting at the cursor and advances it. The
// returned slice aliases the internal buffer and is only valid until the next
// grow-triggering Write.
func (s *Stream) Read(n int) ([]byte, error) {
	if s.pos+n > len(s.data) {
		return nil, fmt.Errorf("bytestream: read past end: pos=%d n=%d cap=%d", s.pos, n, len(s.data))
	}
	view := s.data[s.pos : s.pos+n]
	s.pos += n
	return view, nil
}

// Write appends n bytes at the cursor, growing the buffer if necessary, and
// returns a view of the written region.
func (s *Stream) Write(buf []byte) []byte {
	n := len(buf)
	if s.pos+n > len(s.data) {
		grown := make([]byte, s.pos+n)
		copy(grown, s.data)
		s.data = grown
	}
	copy(s.data[s.pos:s.pos+n], buf)
	view := s.data[s.pos : s.pos+n]
	s.pos += n
	return view
}

// WritePlaceholder reserves n zeroed bytes at the cursor and returns their
// offset so the caller can back-patch them once the final value is known
// (used for the size-prefix-computed-at-the-end pattern in GP response
// serialization).
func (s *Stream) WritePlaceholder(n int) int {
	offset := s.pos
	s.Write(make([]byte, n))
	return offset
}

// PatchAt overwrites len(buf) bytes starting at offset, without moving the
// cursor. offset+len(buf) must not exceed the current capacity.
func (s *Stream) PatchAt(offset int, buf []byte) error {
	if offset+len(buf) > len(s.data) {
		return fmt.Errorf("bytestream: patch past end: offset=%d n=%d cap=%d", offset, len(buf), len(s.data))
	}
	copy(s.data[offset:offset+len(buf)], buf)
	return nil
}
