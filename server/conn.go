package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"echo-rpc/protocol"
)

// conn owns one accepted connection. Nothing in it is shared with other
// connections.
type conn struct {
	srv    *Server
	nc     net.Conn
	reader protocol.FrameReader
	logger *zap.Logger
}

func newConn(srv *Server, nc net.Conn) *conn {
	return &conn{
		srv:    srv,
		nc:     nc,
		reader: srv.opts.framer.NewReader(nc),
		logger: srv.logger.With(zap.Stringer("remote", nc.RemoteAddr())),
	}
}

// serve runs the handler until the peer leaves, an I/O error occurs, or the
// server stops.
func (c *conn) serve() {
	defer c.nc.Close()

	for c.srv.running.Load() {
		closed, err := c.handle()
		if err != nil {
			c.logger.Error("error handling client", zap.Error(err))
			return
		}
		if closed {
			return
		}
	}
	c.logger.Info("closing client connection, server stopped")
}

// handle reads and answers requests until the server stops or there is
// nothing to read for one poll interval (closed=false, the caller re-checks
// the running flag), the peer closes the connection (closed=true), or an I/O
// error occurs.
func (c *conn) handle() (closed bool, err error) {
	cdc := c.srv.opts.codec
	framer := c.srv.opts.framer

	for {
		if !c.srv.running.Load() {
			return false, nil
		}
		if err := c.nc.SetReadDeadline(time.Now().Add(c.srv.opts.pollInterval)); err != nil {
			return true, fmt.Errorf("set read deadline: %w", err)
		}
		frame, err := c.reader.ReadFrame()
		if err != nil {
			switch {
			case errors.Is(err, os.ErrDeadlineExceeded):
				return false, nil
			case errors.Is(err, io.EOF):
				c.logger.Info("client disconnected")
				return true, nil
			default:
				return true, fmt.Errorf("read: %w", err)
			}
		}

		req, err := cdc.DecodeRequest(frame)
		if err != nil {
			c.logger.Warn("failed to decode message", zap.Int("bytes", len(frame)), zap.Error(err))
			c.srv.opts.metrics.DecodeError()
			continue
		}
		if req.Empty() {
			c.logger.Warn("request envelope contained no message")
			c.srv.opts.metrics.EmptyEnvelope()
			continue
		}
		c.logger.Debug("decoded request", zap.Stringer("request", req))

		resp := c.srv.handler(c.srv.ctx, req)
		if resp.Empty() {
			continue
		}

		data, err := cdc.EncodeResponse(resp)
		if err != nil {
			c.logger.Error("failed to encode response", zap.Error(err))
			continue
		}
		if err := framer.WriteFrame(c.nc, data); err != nil {
			c.srv.opts.metrics.WriteError()
			return true, fmt.Errorf("send response: %w", err)
		}
	}
}
