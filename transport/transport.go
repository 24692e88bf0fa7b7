// Package transport moves encoded requests from the provider to any one idle
// worker and encoded replies from any worker back to the provider.
//
// Delivery is at most once to exactly one receiver. There is no ordering
// between replies and no affinity between requests and workers. Ownership of
// a sent buffer passes to the receiver.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrQueueFull is returned by non-blocking sends when the high water
	// mark is reached. The message was not delivered.
	ErrQueueFull = errors.New("transport: queue full")
	ErrClosed    = errors.New("transport: closed")
)

// Producer is the provider side: it submits requests and drains replies.
type Producer interface {
	SendRequest(b []byte) error
	// Ready is signalled after replies arrive. A receive does not mean a
	// reply is still pending; drain with TryRecvReply until it reports false.
	Ready() <-chan struct{}
	TryRecvReply() ([]byte, bool)
	Close() error
}

// Consumer is the worker side: it blocks for requests and submits replies.
type Consumer interface {
	RecvRequest(ctx context.Context) ([]byte, error)
	SendReply(b []byte) error
	Close() error
}

// Fabric connects one producer with any number of consumers.
type Fabric interface {
	Producer() Producer
	NewConsumer() (Consumer, error)
	Close() error
}
