package server

import (
	"time"

	"go.uber.org/zap"

	"echo-rpc/codec"
	"echo-rpc/metrics"
	"echo-rpc/middleware"
	"echo-rpc/protocol"
	"echo-rpc/registry"
)

const (
	DefaultPollInterval       = 100 * time.Millisecond
	DefaultAcceptPollInterval = 10 * time.Millisecond
	defaultRegisterTimeout    = 3 * time.Second
)

type options struct {
	codec              codec.Codec
	framer             protocol.Framer
	logger             *zap.Logger
	metrics            *metrics.Metrics
	middlewares        []middleware.Middleware
	workers            Dispatcher
	maxConns           int // > 0 builds a BoundedPool once the listener is bound
	pollInterval       time.Duration
	acceptPollInterval time.Duration

	registry      registry.Registry
	serviceName   string
	advertiseAddr string
	ttl           int64
}

type Option func(*options)

func defaultOptions() options {
	return options{
		codec:              codec.ProtoCodec{},
		framer:             protocol.NewRaw(protocol.ServerBufferSize),
		logger:             zap.NewNop(),
		workers:            Unbounded(),
		pollInterval:       DefaultPollInterval,
		acceptPollInterval: DefaultAcceptPollInterval,
	}
}

func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

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

// WithMetrics records connection and decode counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithMiddleware appends middlewares around the dispatcher, outermost first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

// WithWorkers replaces the one-goroutine-per-connection default.
func WithWorkers(d Dispatcher) Option {
	return func(o *options) {
		if d != nil {
			o.workers = d
			o.maxConns = 0
		}
	}
}

// WithMaxConnections serves at most n connections at once; later ones queue.
// n <= 0 keeps the unbounded default.
func WithMaxConnections(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConns = n
		}
	}
}

// WithPollInterval sets how long a connection read blocks before the handler
// re-checks whether the server is still running.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithAcceptPollInterval sets how long Accept waits before the accept loop
// re-checks the running flag.
func WithAcceptPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.acceptPollInterval = d
		}
	}
}

// WithRegistry announces the server under serviceName at advertiseAddr while it
// runs. An empty advertiseAddr uses the listener address.
func WithRegistry(reg registry.Registry, serviceName, advertiseAddr string, ttl int64) Option {
	return func(o *options) {
		o.registry = reg
		o.serviceName = serviceName
		o.advertiseAddr = advertiseAddr
		o.ttl = ttl
	}
}
