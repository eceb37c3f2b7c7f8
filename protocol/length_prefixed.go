package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// LengthPrefixed frames each envelope with a 4-byte big-endian length.
type LengthPrefixed struct {
	MaxBodySize int
}

// NewLengthPrefixed returns a LengthPrefixed framer accepting bodies up to maxBody
// bytes (DefaultMaxBodySize when maxBody <= 0).
func NewLengthPrefixed(maxBody int) LengthPrefixed {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}
	return LengthPrefixed{MaxBodySize: maxBody}
}

func (f LengthPrefixed) Name() string {
	return "length-prefixed"
}

func (f LengthPrefixed) limit() int {
	if f.MaxBodySize <= 0 {
		return DefaultMaxBodySize
	}
	return f.MaxBodySize
}

// WriteFrame writes the header and body with a single Write call, so frames
// from one writer never interleave at the syscall level.
func (f LengthPrefixed) WriteFrame(w io.Writer, body []byte) error {
	if len(body) > f.limit() {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(body), f.limit())
	}
	buf := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint32(buf[:HeaderSize], uint32(len(body)))
	copy(buf[HeaderSize:], body)
	return writeFull(w, buf)
}

func (f LengthPrefixed) NewReader(r io.Reader) FrameReader {
	return &prefixedReader{
		br:  bufio.NewReaderSize(r, HeaderSize+f.limit()),
		max: f.limit(),
	}
}

// prefixedReader peeks a whole frame before consuming it. A read that fails
// half way (e.g. a deadline) leaves the partial frame buffered, and the next
// ReadFrame picks up where it stopped.
type prefixedReader struct {
	br  *bufio.Reader
	max int
}

func (pr *prefixedReader) ReadFrame() ([]byte, error) {
	hdr, err := pr.br.Peek(HeaderSize)
	if err != nil {
		return nil, shortRead(len(hdr), err)
	}
	n := int(binary.BigEndian.Uint32(hdr))
	if n > pr.max {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, pr.max)
	}

	frame, err := pr.br.Peek(HeaderSize + n)
	if err != nil {
		return nil, shortRead(len(frame), err)
	}
	body := make([]byte, n)
	copy(body, frame[HeaderSize:])
	if _, err := pr.br.Discard(HeaderSize + n); err != nil {
		return nil, err
	}
	return body, nil
}

// shortRead turns EOF in the middle of a frame into io.ErrUnexpectedEOF.
func shortRead(got int, err error) error {
	if errors.Is(err, io.EOF) && got > 0 {
		return io.ErrUnexpectedEOF
	}
	return err
}
