package client

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrPoolClosed = errors.New("client: pool closed")

// Pool hands out connected clients to one address, one borrower at a time.
//
// The idle set is a buffered channel: FIFO, goroutine-safe, and blocking on
// empty comes for free. Clients are created lazily up to maxConns.
type Pool struct {
	mu       sync.Mutex
	idle     chan *Client
	freed    chan struct{}
	maxConns int
	curConns int
	closed   bool
	factory  func() (*Client, error)
}

// NewPool creates an empty pool of at most maxConns clients for host:port.
func NewPool(host string, port int, timeout time.Duration, maxConns int, opts ...Option) *Pool {
	if maxConns <= 0 {
		maxConns = 1
	}
	return &Pool{
		idle:     make(chan *Client, maxConns),
		freed:    make(chan struct{}, maxConns),
		maxConns: maxConns,
		factory: func() (*Client, error) {
			c := New(host, port, timeout, opts...)
			if err := c.Connect(); err != nil {
				return nil, err
			}
			return c, nil
		},
	}
}

// Get returns an idle client, dials a new one while under the limit, or
// blocks until a borrower returns one.
func (p *Pool) Get() (*Client, error) {
	select {
	case c, ok := <-p.idle:
		if !ok {
			return nil, ErrPoolClosed
		}
		return c, nil
	default:
	}

	for {
		c, err := p.createNew()
		if !errors.Is(err, errPoolExhausted) {
			return c, err
		}

		select {
		case c, ok := <-p.idle:
			if !ok {
				return nil, ErrPoolClosed
			}
			return c, nil
		case <-p.freed:
			// a broken client gave its slot back; try dialing again
		}
	}
}

// Put returns c to the pool. Pass broken=true after any Send or Receive
// error; the client is then disconnected and its slot freed.
func (p *Pool) Put(c *Client, broken bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if broken || p.closed || !c.Connected() {
		_ = c.Disconnect()
		p.curConns--
		select {
		case p.freed <- struct{}{}:
		default:
		}
		return
	}
	p.idle <- c
}

// Close disconnects every idle client. Clients still borrowed are
// disconnected when they come back.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.idle)

	var errs []error
	for c := range p.idle {
		if err := c.Disconnect(); err != nil {
			errs = append(errs, err)
		}
		p.curConns--
	}
	return errors.Join(errs...)
}

// Size reports how many clients the pool currently owns.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.curConns
}

var errPoolExhausted = errors.New("client: pool exhausted")

func (p *Pool) createNew() (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	if p.curConns >= p.maxConns {
		return nil, errPoolExhausted
	}

	c, err := p.factory()
	if err != nil {
		return nil, fmt.Errorf("client: pool dial: %w", err)
	}
	p.curConns++
	return c, nil
}
