package server

import (
	"sync"

	"github.com/eapache/queue"
)

// Dispatcher runs connection handlers. The server hands it one job per
// accepted connection.
type Dispatcher interface {
	Dispatch(job func())
	// Close stops taking new jobs. Jobs already handed over still run.
	Close()
}

type unbounded struct{}

// Unbounded runs every job on its own goroutine.
func Unbounded() Dispatcher {
	return unbounded{}
}

func (unbounded) Dispatch(job func()) {
	go job()
}

func (unbounded) Close() {}

// BoundedPool runs jobs on a fixed number of workers. Jobs that arrive while
// every worker is busy wait in a FIFO.
type BoundedPool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   *queue.Queue
	closed bool
	wg     sync.WaitGroup
}

func NewBoundedPool(workers int) *BoundedPool {
	if workers < 1 {
		workers = 1
	}
	p := &BoundedPool{jobs: queue.New()}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

// Dispatch queues job. After Close, job runs on a goroutine of its own so it
// is never lost.
func (p *BoundedPool) Dispatch(job func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		go job()
		return
	}
	p.jobs.Add(job)
	p.mu.Unlock()
	p.cond.Signal()
}

// Close lets the workers exit once the queue is drained.
func (p *BoundedPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Wait blocks until every worker has exited. Only meaningful after Close.
func (p *BoundedPool) Wait() {
	p.wg.Wait()
}

// Pending returns the number of queued jobs not yet picked up by a worker.
func (p *BoundedPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobs.Length()
}

func (p *BoundedPool) work() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for p.jobs.Length() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.jobs.Length() == 0 {
			p.mu.Unlock()
			return
		}
		job := p.jobs.Remove().(func())
		p.mu.Unlock()
		job()
	}
}
