// Package codec turns envelopes into bytes and back.
//
// Two implementations are provided:
//   - ProtoCodec: Protocol Buffers wire format (default). Compact and compatible
//     with any protobuf peer using the ClientMessage/ServerMessage schema.
//   - JSONCodec: tagged JSON objects. Larger, but readable in a packet capture.
//
// Both are self-describing: the encoded bytes alone determine which variant
// (or no variant) was carried. Decoders hold no state between calls, and every
// decode failure wraps ErrDecode.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"echo-rpc/message"
)

// ErrDecode is returned (wrapped) when bytes do not form a valid envelope.
var ErrDecode = errors.New("codec: malformed envelope")

// Type identifies a codec on the command line and in config files.
type Type byte

const (
	TypeProto Type = 0
	TypeJSON  Type = 1
)

func (t Type) String() string {
	switch t {
	case TypeProto:
		return "proto"
	case TypeJSON:
		return "json"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}

// Codec encodes and decodes both envelope directions.
type Codec interface {
	EncodeRequest(req *message.Request) ([]byte, error)
	DecodeRequest(data []byte) (*message.Request, error)
	EncodeResponse(resp *message.Response) ([]byte, error)
	DecodeResponse(data []byte) (*message.Response, error)
	Type() Type
}

// Get returns the codec for t. Unknown types fall back to ProtoCodec.
func Get(t Type) Codec {
	if t == TypeJSON {
		return JSONCodec{}
	}
	return ProtoCodec{}
}

// ParseType maps a config name ("proto", "protobuf", "json") to a Type.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "proto", "protobuf":
		return TypeProto, nil
	case "json":
		return TypeJSON, nil
	default:
		return 0, fmt.Errorf("codec: unknown codec %q", name)
	}
}

func decodeErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}
