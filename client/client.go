// Package client is the caller side of the echo/add protocol: connect, send
// one request, block for one response, disconnect.
//
// A Client holds at most one connection and never reconnects on its own. It
// is not safe for concurrent use; give each goroutine its own Client or borrow
// them from a Pool.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"echo-rpc/codec"
	"echo-rpc/message"
	"echo-rpc/protocol"
)

var (
	ErrNotConnected      = errors.New("client: no active connection")
	ErrAlreadyConnected  = errors.New("client: already connected")
	ErrPeerDisconnected  = errors.New("client: server disconnected")
	ErrAddressResolution = errors.New("client: invalid or unresolvable address")
	ErrConnect           = errors.New("client: connect failed")
	ErrTimeout           = errors.New("client: connect timed out")
)

type options struct {
	codec       codec.Codec
	framer      protocol.Framer
	logger      *zap.Logger
	readTimeout time.Duration
}

type Option func(*options)

func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithFramer must match the server's framing.
func WithFramer(f protocol.Framer) Option {
	return func(o *options) { o.framer = f }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithReadTimeout bounds each Receive. Zero (the default) blocks until data
// arrives or the server goes away.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) { o.readTimeout = d }
}

type Client struct {
	host    string
	port    int
	timeout time.Duration
	opts    options

	conn   net.Conn
	reader protocol.FrameReader
}

// New prepares a client for host:port. timeout bounds Connect (resolution
// and dial together). Nothing touches the network until Connect.
func New(host string, port int, timeout time.Duration, opts ...Option) *Client {
	o := options{
		codec:  codec.ProtoCodec{},
		framer: protocol.NewRaw(protocol.ClientBufferSize),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{host: host, port: port, timeout: timeout, opts: o}
}

// Addr returns the configured "host:port".
func (c *Client) Addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// Connected reports whether the client holds a connection.
func (c *Client) Connected() bool {
	return c.conn != nil
}

// Connect resolves the host and dials its addresses in order until one
// accepts, all within the client timeout.
func (c *Client) Connect() error {
	if c.conn != nil {
		return ErrAlreadyConnected
	}
	if c.port <= 0 || c.port > 65535 {
		return fmt.Errorf("%w: port %d", ErrAddressResolution, c.port)
	}

	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	addrs, err := net.DefaultResolver.LookupHost(ctx, c.host)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrAddressResolution, c.host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: %s: no addresses", ErrAddressResolution, c.host)
	}

	var dialer net.Dialer
	var lastErr error
	for _, ip := range addrs {
		addr := net.JoinHostPort(ip, strconv.Itoa(c.port))
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			c.conn = conn
			c.reader = c.opts.framer.NewReader(conn)
			c.opts.logger.Info("connected to the server", zap.String("addr", addr))
			return nil
		}
		if isTimeout(err) {
			return fmt.Errorf("%w: %w: %s after %s: %w", ErrConnect, ErrTimeout, addr, c.timeout, err)
		}
		lastErr = fmt.Errorf("%w: %s: %w", ErrConnect, addr, err)
	}
	return lastErr
}

// Disconnect closes both directions of the connection. Without a connection
// it does nothing and returns nil.
func (c *Client) Disconnect() error {
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn, c.reader = nil, nil
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("client: disconnect: %w", err)
	}
	c.opts.logger.Info("disconnected from the server")
	return nil
}

// Send encodes req and writes it in full.
func (c *Client) Send(req *message.Request) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	data, err := c.opts.codec.EncodeRequest(req)
	if err != nil {
		return fmt.Errorf("client: encode: %w", err)
	}
	if err := c.opts.framer.WriteFrame(c.conn, data); err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	c.opts.logger.Debug("sent message", zap.Stringer("request", req))
	return nil
}

// Receive blocks for one frame and decodes it as a response envelope.
func (c *Client) Receive() (*message.Response, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	var deadline time.Time
	if c.opts.readTimeout > 0 {
		deadline = time.Now().Add(c.opts.readTimeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("client: receive: %w", err)
	}

	frame, err := c.reader.ReadFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrPeerDisconnected
		}
		return nil, fmt.Errorf("client: receive: %w", err)
	}
	c.opts.logger.Debug("received bytes from the server", zap.Int("bytes", len(frame)))

	resp, err := c.opts.codec.DecodeResponse(frame)
	if err != nil {
		return nil, fmt.Errorf("client: decode response: %w", err)
	}
	return resp, nil
}

// Call sends req and waits for its response.
func (c *Client) Call(req *message.Request) (*message.Response, error) {
	if err := c.Send(req); err != nil {
		return nil, err
	}
	return c.Receive()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
