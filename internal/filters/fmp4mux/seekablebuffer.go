package fmp4mux

import (
	"bytes"
	"errors"
	"io"
)

// seekableBuffer adapts a bytes.Buffer to io.WriteSeeker, which fmp4.Init
// and fmp4.Part both require in order to patch box sizes after writing
// their children.
type seekableBuffer struct {
	*bytes.Buffer
	pos int64
}

func (s *seekableBuffer) Write(p []byte) (int, error) {
	if int(s.pos) > s.Buffer.Len() {
		s.Buffer.Write(make([]byte, int(s.pos)-s.Buffer.Len()))
	}

	var n int
	var err error
	if int(s.pos) == s.Buffer.Len() {
		n, err = s.Buffer.Write(p)
	} else {
		b := s.Buffer.Bytes()
		n = copy(b[s.pos:], p)
		if n < len(p) {
			var m int
			m, err = s.Buffer.Write(p[n:])
			n += m
		}
	}
	s.pos += int64(n)
	return n, err
}

func (s *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = s.pos + offset
	case io.SeekEnd:
		newPos = int64(s.Buffer.Len()) + offset
	default:
		return 0, errors.New("fmp4mux: invalid whence")
	}
	if newPos < 0 {
		return 0, errors.New("fmp4mux: negative seek position")
	}
	s.pos = newPos
	return newPos, nil
}
