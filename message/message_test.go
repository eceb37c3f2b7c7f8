package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		kind string
		want string
	}{
		{"nil request", (*Request)(nil).Kind(), "empty"},
		{"empty request", (&Request{}).Kind(), "empty"},
		{"echo request", NewEcho("hi").Kind(), "echo"},
		{"add request", NewAdd(1, 2).Kind(), "add_request"},
		{"nil response", (*Response)(nil).Kind(), "empty"},
		{"echo response", (&Response{Payload: Echo{Content: "hi"}}).Kind(), "echo"},
		{"add response", (&Response{Payload: AddResponse{Result: 3}}).Kind(), "add_response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind)
		})
	}
}

func TestEmpty(t *testing.T) {
	assert.True(t, (*Request)(nil).Empty())
	assert.True(t, (&Request{}).Empty())
	assert.False(t, NewEcho("").Empty(), "an echo with empty content is still a message")
	assert.True(t, (&Response{}).Empty())
}

func TestString(t *testing.T) {
	assert.Equal(t, "Request{}", (&Request{}).String())
	assert.Equal(t, "Request{{A:1 B:2}}", NewAdd(1, 2).String())
	assert.Equal(t, "Response{{Content:hi}}", (&Response{Payload: Echo{Content: "hi"}}).String())
}
