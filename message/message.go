// Package message defines the envelopes exchanged between client and server.
//
// A Request carries at most one RequestPayload and a Response carries at most
// one ResponsePayload. The payload sets are closed: only the variants declared
// here implement the marker methods, so handlers can switch on them exhaustively.
//
//	Request  { Echo | AddRequest | <empty> }
//	Response { Echo | AddResponse | <empty> }
//
// A nil payload is a valid envelope ("empty message") and is distinct from an
// Echo with empty content.
package message

import "fmt"

// RequestPayload is one variant of a Request envelope.
type RequestPayload interface {
	requestPayload()
}

// ResponsePayload is one variant of a Response envelope.
type ResponsePayload interface {
	responsePayload()
}

// Request is the client → server envelope.
type Request struct {
	Payload RequestPayload // nil for an empty envelope
}

// Response is the server → client envelope.
type Response struct {
	Payload ResponsePayload // nil for an empty envelope
}

// Echo asks the server to send Content back unchanged. It is valid in both
// directions.
type Echo struct {
	Content string
}

// AddRequest asks the server for A + B.
type AddRequest struct {
	A int32
	B int32
}

// AddResponse carries the sum for an AddRequest. Overflow wraps.
type AddResponse struct {
	Result int32
}

func (Echo) requestPayload()         {}
func (Echo) responsePayload()        {}
func (AddRequest) requestPayload()   {}
func (AddResponse) responsePayload() {}

// NewEcho builds a request envelope carrying an Echo.
func NewEcho(content string) *Request {
	return &Request{Payload: Echo{Content: content}}
}

// NewAdd builds a request envelope carrying an AddRequest.
func NewAdd(a, b int32) *Request {
	return &Request{Payload: AddRequest{A: a, B: b}}
}

// Empty reports whether the envelope carries no payload.
func (r *Request) Empty() bool {
	return r == nil || r.Payload == nil
}

// Empty reports whether the envelope carries no payload.
func (r *Response) Empty() bool {
	return r == nil || r.Payload == nil
}

// Kind names the payload variant, for logs and metric labels.
func (r *Request) Kind() string {
	if r.Empty() {
		return "empty"
	}
	return kindOf(r.Payload)
}

// Kind names the payload variant, for logs and metric labels.
func (r *Response) Kind() string {
	if r.Empty() {
		return "empty"
	}
	return kindOf(r.Payload)
}

func kindOf(p any) string {
	switch p.(type) {
	case Echo:
		return "echo"
	case AddRequest:
		return "add_request"
	case AddResponse:
		return "add_response"
	default:
		return fmt.Sprintf("%T", p)
	}
}

func (r *Request) String() string {
	if r.Empty() {
		return "Request{}"
	}
	return fmt.Sprintf("Request{%+v}", r.Payload)
}

func (r *Response) String() string {
	if r.Empty() {
		return "Response{}"
	}
	return fmt.Sprintf("Response{%+v}", r.Payload)
}
