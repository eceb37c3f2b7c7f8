package codec

import (
	"encoding/json"
	"fmt"

	"echo-rpc/message"
)

// JSONCodec encodes envelopes as objects keyed by variant name:
//
//	{"echo":{"content":"hi"}}
//	{"add_request":{"a":1,"b":2}}
//	{"add_response":{"result":3}}
//	{}                               (empty envelope)
//
// More than one variant key in one object is a decode error.
type JSONCodec struct{}

type jsonEcho struct {
	Content string `json:"content"`
}

type jsonAddRequest struct {
	A int32 `json:"a"`
	B int32 `json:"b"`
}

type jsonAddResponse struct {
	Result int32 `json:"result"`
}

type jsonRequest struct {
	Echo       *jsonEcho       `json:"echo,omitempty"`
	AddRequest *jsonAddRequest `json:"add_request,omitempty"`
}

type jsonResponse struct {
	Echo        *jsonEcho        `json:"echo,omitempty"`
	AddResponse *jsonAddResponse `json:"add_response,omitempty"`
}

func (JSONCodec) Type() Type {
	return TypeJSON
}

func (JSONCodec) EncodeRequest(req *message.Request) ([]byte, error) {
	var out jsonRequest
	if !req.Empty() {
		switch p := req.Payload.(type) {
		case message.Echo:
			out.Echo = &jsonEcho{Content: p.Content}
		case message.AddRequest:
			out.AddRequest = &jsonAddRequest{A: p.A, B: p.B}
		default:
			return nil, fmt.Errorf("codec: unsupported request payload %T", p)
		}
	}
	return json.Marshal(out)
}

func (JSONCodec) EncodeResponse(resp *message.Response) ([]byte, error) {
	var out jsonResponse
	if !resp.Empty() {
		switch p := resp.Payload.(type) {
		case message.Echo:
			out.Echo = &jsonEcho{Content: p.Content}
		case message.AddResponse:
			out.AddResponse = &jsonAddResponse{Result: p.Result}
		default:
			return nil, fmt.Errorf("codec: unsupported response payload %T", p)
		}
	}
	return json.Marshal(out)
}

func (JSONCodec) DecodeRequest(data []byte) (*message.Request, error) {
	var in jsonRequest
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, decodeErr("json: %v", err)
	}
	req := &message.Request{}
	switch {
	case in.Echo != nil && in.AddRequest != nil:
		return nil, decodeErr("json: more than one variant")
	case in.Echo != nil:
		req.Payload = message.Echo{Content: in.Echo.Content}
	case in.AddRequest != nil:
		req.Payload = message.AddRequest{A: in.AddRequest.A, B: in.AddRequest.B}
	}
	return req, nil
}

func (JSONCodec) DecodeResponse(data []byte) (*message.Response, error) {
	var in jsonResponse
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, decodeErr("json: %v", err)
	}
	resp := &message.Response{}
	switch {
	case in.Echo != nil && in.AddResponse != nil:
		return nil, decodeErr("json: more than one variant")
	case in.Echo != nil:
		resp.Payload = message.Echo{Content: in.Echo.Content}
	case in.AddResponse != nil:
		resp.Payload = message.AddResponse{Result: in.AddResponse.Result}
	}
	return resp, nil
}
