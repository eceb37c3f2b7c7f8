package protocol

import "io"

// Raw treats each Read as one complete envelope.
type Raw struct {
	BufferSize int
}

// NewRaw returns a Raw framer reading into buffers of size bytes
// (ServerBufferSize when size <= 0).
func NewRaw(size int) Raw {
	if size <= 0 {
		size = ServerBufferSize
	}
	return Raw{BufferSize: size}
}

func (f Raw) Name() string {
	return "raw"
}

func (f Raw) NewReader(r io.Reader) FrameReader {
	size := f.BufferSize
	if size <= 0 {
		size = ServerBufferSize
	}
	return &rawReader{r: r, buf: make([]byte, size)}
}

// WriteFrame writes body as is. An empty body writes nothing, so the peer
// never sees it.
func (f Raw) WriteFrame(w io.Writer, body []byte) error {
	return writeFull(w, body)
}

type rawReader struct {
	r   io.Reader
	buf []byte
}

func (rr *rawReader) ReadFrame() ([]byte, error) {
	n, err := rr.r.Read(rr.buf)
	if n > 0 {
		// A pending error surfaces on the next read.
		return rr.buf[:n], nil
	}
	if err == nil {
		// Zero bytes means the peer is gone.
		return nil, io.EOF
	}
	return nil, err
}
