// Package inproc is a transport.Fabric over bounded channels for workers in
// the same process.
package inproc

import (
	"context"
	"sync"

	"github.com/steve-o/hitsuji/transport"
)

type Fabric struct {
	requests chan []byte
	replies  chan []byte
	ready    chan struct{}
	done     chan struct{}
	once     sync.Once
}

var _ transport.Fabric = (*Fabric)(nil)

// New returns a fabric whose request and reply queues each hold up to hwm
// messages.
func New(hwm int) *Fabric {
	return &Fabric{
		requests: make(chan []byte, hwm),
		replies:  make(chan []byte, hwm),
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (f *Fabric) Producer() transport.Producer { return producer{f} }

func (f *Fabric) NewConsumer() (transport.Consumer, error) {
	select {
	case <-f.done:
		return nil, transport.ErrClosed
	default:
	}
	return consumer{f}, nil
}

func (f *Fabric) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *Fabric) closed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

type producer struct{ f *Fabric }

func (p producer) SendRequest(b []byte) error {
	if p.f.closed() {
		return transport.ErrClosed
	}
	select {
	case p.f.requests <- b:
		return nil
	default:
		return transport.ErrQueueFull
	}
}

func (p producer) Ready() <-chan struct{} { return p.f.ready }

func (p producer) TryRecvReply() ([]byte, bool) {
	select {
	case b := <-p.f.replies:
		return b, true
	default:
		return nil, false
	}
}

func (p producer) Close() error { return p.f.Close() }

type consumer struct{ f *Fabric }

func (c consumer) RecvRequest(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.f.requests:
		return b, nil
	case <-c.f.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c consumer) SendReply(b []byte) error {
	if c.f.closed() {
		return transport.ErrClosed
	}
	select {
	case c.f.replies <- b:
	default:
		return transport.ErrQueueFull
	}
	select {
	case c.f.ready <- struct{}{}:
	default:
	}
	return nil
}

func (c consumer) Close() error { return nil }
