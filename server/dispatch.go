package server

import (
	"context"

	"echo-rpc/message"
)

// Dispatch is the dispatch table at the core of the middleware chain. It
// returns nil for an envelope without payload.
//
//	Echo{c}          → Echo{c}
//	AddRequest{a, b} → AddResponse{a + b}   (int32, wraps on overflow)
func Dispatch(ctx context.Context, req *message.Request) *message.Response {
	switch p := req.Payload.(type) {
	case message.Echo:
		return &message.Response{Payload: message.Echo{Content: p.Content}}
	case message.AddRequest:
		return &message.Response{Payload: message.AddResponse{Result: p.A + p.B}}
	default:
		return nil
	}
}
