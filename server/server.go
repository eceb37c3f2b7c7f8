// Package server implements the echo/add TCP server.
//
// Lifecycle:
//
//	New (listener bound) ──Run──► Running ──Stop──► Stopped
//	     Created
//
// Request processing:
//
//	accept loop (polls the running flag every AcceptPollInterval)
//	  → Dispatcher.Dispatch(one job per connection)
//	    → conn: read frame → decode → middleware chain → Dispatch → encode → write
//
// The running flag is the only state shared between the accept loop and the
// connection handlers. Handlers read with a deadline of PollInterval, so they
// notice Stop within one interval even when the peer is silent.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"echo-rpc/middleware"
	"echo-rpc/registry"
)

var (
	// ErrBind wraps listener failures from New.
	ErrBind = errors.New("server: bind failed")
	// ErrServerState is returned by Run on a server that is not Created.
	ErrServerState = errors.New("server: not in created state")
)

type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Server accepts connections and serves echo/add requests on them.
type Server struct {
	listener *net.TCPListener
	opts     options
	logger   *zap.Logger

	running atomic.Bool  // cleared by Stop; polled by the accept loop and every handler
	state   atomic.Int32 // State
	conns   sync.WaitGroup

	mu          sync.Mutex
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // built once in Run

	ctx    context.Context // cancelled by Stop, passed to the handler chain
	cancel context.CancelFunc
	done   chan struct{} // closed when Run returns
}

// New binds addr. The server does not accept connections until Run.
func New(addr string, opts ...Option) (*Server, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBind, addr, err)
	}
	if o.maxConns > 0 {
		o.workers = NewBoundedPool(o.maxConns)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		listener:    ln.(*net.TCPListener),
		opts:        o,
		logger:      o.logger,
		middlewares: o.middlewares,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	s.state.Store(int32(StateCreated))
	s.logger.Info("server bound", zap.Stringer("addr", s.Addr()))
	return s, nil
}

// Use registers a middleware. Middlewares are applied in the order they are
// added and must be registered before Run.
func (s *Server) Use(mw middleware.Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, mw)
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) State() State {
	return State(s.state.Load())
}

// Run accepts connections until Stop is called and returns nil once the
// listener is closed. Handlers of accepted connections may still be finishing
// when Run returns; Shutdown waits for them.
func (s *Server) Run() error {
	// Set the flag before leaving Created so a concurrent Stop cannot be lost.
	s.running.Store(true)
	if !s.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		s.running.Store(false)
		return ErrServerState
	}
	defer close(s.done)

	s.mu.Lock()
	s.handler = middleware.Chain(s.middlewares...)(Dispatch)
	s.mu.Unlock()

	s.register()
	s.logger.Info("server running", zap.Stringer("addr", s.Addr()))

	for s.running.Load() {
		if err := s.listener.SetDeadline(time.Now().Add(s.opts.acceptPollInterval)); err != nil {
			s.logger.Error("error setting accept deadline", zap.Error(err))
		}
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue // nothing pending
			}
			if errors.Is(err, net.ErrClosed) {
				s.logger.Error("listener closed underneath the accept loop", zap.Error(err))
				s.running.Store(false)
				break
			}
			s.logger.Error("error accepting connection", zap.Error(err))
			s.opts.metrics.AcceptError()
			continue
		}

		s.logger.Info("new client connected", zap.Stringer("remote", conn.RemoteAddr()))
		s.opts.metrics.ConnOpened()
		s.conns.Add(1)
		s.opts.workers.Dispatch(func() {
			defer s.conns.Done()
			defer s.opts.metrics.ConnClosed()
			newConn(s, conn).serve()
		})
	}

	s.state.Store(int32(StateStopped))
	s.opts.workers.Close()
	s.deregister()
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("error closing listener", zap.Error(err))
	}
	s.logger.Info("server stopped")
	return nil
}

// Stop clears the running flag. The accept loop exits within one accept poll
// interval and each handler closes its connection within one poll interval.
// Stop does not wait; use Shutdown for that. Calling Stop more than once is
// harmless.
func (s *Server) Stop() {
	if !s.running.Swap(false) && s.State() != StateCreated {
		return
	}
	s.cancel()
	if s.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
		// Run was never called: release the port and the workers here.
		s.listener.Close()
		s.opts.workers.Close()
		close(s.done)
	}
	s.logger.Info("server stopping")
}

// Shutdown stops the server and waits until Run has returned and every
// connection handler has finished, or ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Stop()

	finished := make(chan struct{})
	go func() {
		<-s.done
		s.conns.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("server: waiting for connections to finish: %w", ctx.Err())
	}
}

func (s *Server) advertiseAddr() string {
	if s.opts.advertiseAddr != "" {
		return s.opts.advertiseAddr
	}
	return s.Addr().String()
}

func (s *Server) register() {
	if s.opts.registry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultRegisterTimeout)
	defer cancel()
	inst := registry.ServiceInstance{Addr: s.advertiseAddr(), Weight: 1}
	if err := s.opts.registry.Register(ctx, s.opts.serviceName, inst, s.opts.ttl); err != nil {
		s.logger.Error("service registration failed",
			zap.String("service", s.opts.serviceName),
			zap.String("addr", inst.Addr),
			zap.Error(err),
		)
	}
}

// deregister runs before the listener closes so clients stop picking this
// instance first.
func (s *Server) deregister() {
	if s.opts.registry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultRegisterTimeout)
	defer cancel()
	if err := s.opts.registry.Deregister(ctx, s.opts.serviceName, s.advertiseAddr()); err != nil {
		s.logger.Warn("service deregistration failed", zap.String("service", s.opts.serviceName), zap.Error(err))
	}
}
