package codec

import (
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"

	"echo-rpc/message"
)

// ProtoCodec speaks the protobuf wire format of this schema:
//
//	message EchoMessage   { string content = 1; }
//	message AddRequest    { int32 a = 1; int32 b = 2; }
//	message AddResponse   { int32 result = 1; }
//	message ClientMessage { oneof message { EchoMessage echo_message = 1; AddRequest add_request = 2; } }
//	message ServerMessage { oneof message { EchoMessage echo_message = 1; AddResponse add_response = 2; } }
//
// Fields are written in field-number order and proto3 zero values are omitted,
// so encoding is deterministic. The oneof submessage itself is always written,
// which keeps Echo{""} distinct from an empty envelope (zero bytes).
type ProtoCodec struct{}

const (
	fieldEcho   protowire.Number = 1
	fieldAdd    protowire.Number = 2 // add_request or add_response
	fieldFirst  protowire.Number = 1 // content, a, result
	fieldSecond protowire.Number = 2 // b
)

func (ProtoCodec) Type() Type {
	return TypeProto
}

func (ProtoCodec) EncodeRequest(req *message.Request) ([]byte, error) {
	if req.Empty() {
		return []byte{}, nil
	}
	switch p := req.Payload.(type) {
	case message.Echo:
		return appendSubmessage(nil, fieldEcho, appendEcho(nil, p)), nil
	case message.AddRequest:
		var inner []byte
		inner = appendInt32(inner, fieldFirst, p.A)
		inner = appendInt32(inner, fieldSecond, p.B)
		return appendSubmessage(nil, fieldAdd, inner), nil
	default:
		return nil, fmt.Errorf("codec: unsupported request payload %T", p)
	}
}

func (ProtoCodec) EncodeResponse(resp *message.Response) ([]byte, error) {
	if resp.Empty() {
		return []byte{}, nil
	}
	switch p := resp.Payload.(type) {
	case message.Echo:
		return appendSubmessage(nil, fieldEcho, appendEcho(nil, p)), nil
	case message.AddResponse:
		return appendSubmessage(nil, fieldAdd, appendInt32(nil, fieldFirst, p.Result)), nil
	default:
		return nil, fmt.Errorf("codec: unsupported response payload %T", p)
	}
}

// DecodeRequest parses a ClientMessage. Unknown fields are skipped; when the
// oneof appears more than once the last occurrence wins.
func (ProtoCodec) DecodeRequest(data []byte) (*message.Request, error) {
	req := &message.Request{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldEcho:
			inner, n, err := consumeSubmessage(typ, b)
			if err != nil {
				return 0, err
			}
			echo, err := decodeEcho(inner)
			if err != nil {
				return 0, err
			}
			req.Payload = echo
			return n, nil
		case fieldAdd:
			inner, n, err := consumeSubmessage(typ, b)
			if err != nil {
				return 0, err
			}
			var add message.AddRequest
			err = walkFields(inner, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case fieldFirst:
					v, n, err := consumeInt32(typ, b)
					add.A = v
					return n, err
				case fieldSecond:
					v, n, err := consumeInt32(typ, b)
					add.B = v
					return n, err
				}
				return 0, nil
			})
			if err != nil {
				return 0, err
			}
			req.Payload = add
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// DecodeResponse parses a ServerMessage.
func (ProtoCodec) DecodeResponse(data []byte) (*message.Response, error) {
	resp := &message.Response{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldEcho:
			inner, n, err := consumeSubmessage(typ, b)
			if err != nil {
				return 0, err
			}
			echo, err := decodeEcho(inner)
			if err != nil {
				return 0, err
			}
			resp.Payload = echo
			return n, nil
		case fieldAdd:
			inner, n, err := consumeSubmessage(typ, b)
			if err != nil {
				return 0, err
			}
			var sum message.AddResponse
			err = walkFields(inner, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				if num == fieldFirst {
					v, n, err := consumeInt32(typ, b)
					sum.Result = v
					return n, err
				}
				return 0, nil
			})
			if err != nil {
				return 0, err
			}
			resp.Payload = sum
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func decodeEcho(b []byte) (message.Echo, error) {
	var echo message.Echo
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fieldFirst {
			return 0, nil
		}
		v, n, err := consumeString(typ, b)
		echo.Content = v
		return n, err
	})
	return echo, err
}

// fieldFunc handles the value of one field starting at b. It returns the
// number of bytes consumed, or 0 to have the field skipped as unknown.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func walkFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return decodeErr("tag: %v", protowire.ParseError(n))
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return decodeErr("field %d: %v", num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	return nil
}

func consumeSubmessage(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, decodeErr("submessage has wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, decodeErr("submessage: %v", protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeString(typ protowire.Type, b []byte) (string, int, error) {
	if typ != protowire.BytesType {
		return "", 0, decodeErr("string has wire type %d", typ)
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return "", 0, decodeErr("string: %v", protowire.ParseError(n))
	}
	if !utf8.ValidString(v) {
		return "", 0, decodeErr("string is not valid UTF-8")
	}
	return v, n, nil
}

func consumeInt32(typ protowire.Type, b []byte) (int32, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, decodeErr("int32 has wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, decodeErr("int32: %v", protowire.ParseError(n))
	}
	return int32(v), n, nil
}

func appendSubmessage(b []byte, num protowire.Number, inner []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

func appendEcho(b []byte, e message.Echo) []byte {
	if e.Content == "" {
		return b
	}
	b = protowire.AppendTag(b, fieldFirst, protowire.BytesType)
	return protowire.AppendString(b, e.Content)
}

// appendInt32 writes v as a sign-extended varint, as protobuf does for int32.
func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}
