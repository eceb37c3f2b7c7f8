// Package protocol splits a TCP byte stream into encoded envelopes.
//
// Two framers are available:
//
// Raw (default) has no framing at all. Every Read of the stream is taken to be
// exactly one envelope:
//
//	┌───────────────────────────┐
//	│ encoded envelope (≤ buf)  │   one Read == one message
//	└───────────────────────────┘
//
// This only holds when peers exchange one message at a time and the transport
// never splits or coalesces writes. Loopback and LAN request/response traffic
// with small messages behaves that way in practice; anything else does not.
//
// LengthPrefixed is the hardened variant: a 4-byte big-endian body length
// precedes each envelope, so messages survive arbitrary segmentation.
//
//	0        4
//	┌────────┬──────────────────┐
//	│ bodyLen│   body ...        │
//	│ uint32 │  bodyLen bytes    │
//	└────────┴──────────────────┘
//
// Both peers must use the same framer; the two are not wire compatible.
package protocol

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// ServerBufferSize is the raw read buffer used by connection handlers.
	ServerBufferSize = 512
	// ClientBufferSize is the raw read buffer used by clients.
	ClientBufferSize = 1024
	// HeaderSize is the length prefix size of the LengthPrefixed framer.
	HeaderSize = 4
	// DefaultMaxBodySize bounds a single LengthPrefixed body.
	DefaultMaxBodySize = 64 * 1024
)

var (
	ErrFrameTooLarge = errors.New("protocol: frame too large")
)

// FrameReader yields one encoded envelope per call. The returned slice is only
// valid until the next call. At a clean end of stream it returns io.EOF.
// Errors that leave the stream position intact (read deadline timeouts) may be
// retried by calling ReadFrame again.
type FrameReader interface {
	ReadFrame() ([]byte, error)
}

// Framer creates per-connection readers and writes frames.
type Framer interface {
	NewReader(r io.Reader) FrameReader
	WriteFrame(w io.Writer, body []byte) error
	Name() string
}

// Parse returns the framer named in a config file: "raw" or "length-prefixed".
// bufSize is the raw read buffer; maxBody bounds length-prefixed bodies.
// Zero values select the defaults.
func Parse(name string, bufSize, maxBody int) (Framer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "raw":
		return NewRaw(bufSize), nil
	case "length-prefixed", "length_prefixed", "lp":
		return NewLengthPrefixed(maxBody), nil
	default:
		return nil, fmt.Errorf("protocol: unknown framing %q", name)
	}
}

// writeFull writes all of b, retrying short writes.
func writeFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		b = b[n:]
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}
