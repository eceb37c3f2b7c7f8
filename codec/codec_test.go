package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"echo-rpc/message"
)

var codecs = []Codec{ProtoCodec{}, JSONCodec{}}

func TestEchoRoundTrip(t *testing.T) {
	contents := []string{
		"",
		"Hello, World!",
		"héllo wörld",
		"日本語のテキスト",
		"emoji 🚀🔥",
		"tabs\tand\nnewlines\x00nul",
	}
	for _, c := range codecs {
		for _, content := range contents {
			data, err := c.EncodeRequest(message.NewEcho(content))
			require.NoError(t, err)
			req, err := c.DecodeRequest(data)
			require.NoError(t, err, "%s: %q", c.Type(), content)
			assert.Equal(t, message.Echo{Content: content}, req.Payload, "%s", c.Type())

			data, err = c.EncodeResponse(&message.Response{Payload: message.Echo{Content: content}})
			require.NoError(t, err)
			resp, err := c.DecodeResponse(data)
			require.NoError(t, err)
			assert.Equal(t, message.Echo{Content: content}, resp.Payload, "%s", c.Type())
		}
	}
}

func TestAddRoundTrip(t *testing.T) {
	pairs := [][2]int32{
		{0, 0},
		{10, 20},
		{-1, 1},
		{math.MaxInt32, 1},
		{math.MinInt32, -1},
		{math.MinInt32, math.MaxInt32},
	}
	for _, c := range codecs {
		for _, p := range pairs {
			data, err := c.EncodeRequest(message.NewAdd(p[0], p[1]))
			require.NoError(t, err)
			req, err := c.DecodeRequest(data)
			require.NoError(t, err)
			assert.Equal(t, message.AddRequest{A: p[0], B: p[1]}, req.Payload, "%s", c.Type())

			data, err = c.EncodeResponse(&message.Response{Payload: message.AddResponse{Result: p[0]}})
			require.NoError(t, err)
			resp, err := c.DecodeResponse(data)
			require.NoError(t, err)
			assert.Equal(t, message.AddResponse{Result: p[0]}, resp.Payload, "%s", c.Type())
		}
	}
}

func TestEmptyEnvelopeIsDistinct(t *testing.T) {
	for _, c := range codecs {
		empty, err := c.EncodeRequest(&message.Request{})
		require.NoError(t, err)
		echo, err := c.EncodeRequest(message.NewEcho(""))
		require.NoError(t, err)
		assert.NotEqual(t, empty, echo, "%s", c.Type())

		req, err := c.DecodeRequest(empty)
		require.NoError(t, err)
		assert.True(t, req.Empty(), "%s", c.Type())
	}
}

func TestProtoWireBytes(t *testing.T) {
	c := ProtoCodec{}
	cases := []struct {
		name string
		req  *message.Request
		want []byte
	}{
		{"empty", &message.Request{}, []byte{}},
		{"empty echo", message.NewEcho(""), []byte{0x0a, 0x00}},
		{"echo", message.NewEcho("hi"), []byte{0x0a, 0x04, 0x0a, 0x02, 'h', 'i'}},
		{"add", message.NewAdd(10, 20), []byte{0x12, 0x04, 0x08, 0x0a, 0x10, 0x14}},
		{"add negative", message.NewAdd(-1, 0), []byte{
			0x12, 0x0b, 0x08, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := c.EncodeRequest(tc.req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)

			again, err := c.EncodeRequest(tc.req)
			require.NoError(t, err)
			assert.Equal(t, got, again, "encoding must be deterministic")
		})
	}

	resp, err := c.EncodeResponse(&message.Response{Payload: message.AddResponse{Result: 30}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x12, 0x02, 0x08, 0x1e}, resp)
}

func TestProtoSkipsUnknownFields(t *testing.T) {
	data := []byte{
		0x18, 0x05, // field 3, varint 5
		0x0a, 0x04, 0x0a, 0x02, 'o', 'k',
		0x22, 0x01, 0x00, // field 4, bytes
	}
	req, err := ProtoCodec{}.DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, message.Echo{Content: "ok"}, req.Payload)
}

func TestDecodeMalformed(t *testing.T) {
	proto := map[string][]byte{
		"truncated tag":       {0xff},
		"field zero":          {0x00},
		"length past end":     {0x0a, 0x05, 0x0a},
		"inner truncated":     {0x0a, 0x02, 0x0a, 0x05},
		"wrong wire type":     {0x08, 0x01},
		"int as bytes":        {0x12, 0x03, 0x0a, 0x01, 0x00},
		"invalid utf8":        {0x0a, 0x03, 0x0a, 0x01, 0xff},
		"truncated varint":    {0x12, 0x02, 0x08, 0x80},
		"stray end group tag": {0x0c},
	}
	for name, data := range proto {
		t.Run("proto/"+name, func(t *testing.T) {
			_, err := ProtoCodec{}.DecodeRequest(data)
			require.ErrorIs(t, err, ErrDecode)
			_, err = ProtoCodec{}.DecodeResponse(data)
			require.ErrorIs(t, err, ErrDecode)
		})
	}

	jsonCases := map[string]string{
		"not json":     "hello",
		"two variants": `{"echo":{"content":"x"},"add_request":{"a":1,"b":2}}`,
		"bad field":    `{"add_request":{"a":"one"}}`,
		"truncated":    `{"echo":`,
	}
	for name, data := range jsonCases {
		t.Run("json/"+name, func(t *testing.T) {
			_, err := JSONCodec{}.DecodeRequest([]byte(data))
			require.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestParseType(t *testing.T) {
	for in, want := range map[string]Type{"": TypeProto, "proto": TypeProto, "Protobuf": TypeProto, " json ": TypeJSON} {
		got, err := ParseType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, want, Get(got).Type())
	}
	_, err := ParseType("xml")
	assert.Error(t, err)
}
