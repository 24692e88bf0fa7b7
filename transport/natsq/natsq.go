// Package natsq is a transport.Fabric over NATS: requests are published to a
// subject consumed by a queue group of workers, replies to a subject
// subscribed by the provider.
package natsq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/steve-o/hitsuji/metrics"
	"github.com/steve-o/hitsuji/transport"
)

const (
	queueGroup   = "workers"
	drainTimeout = 2 * time.Second
)

type Fabric struct {
	nc          *nats.Conn
	log         *zap.Logger
	metrics     *metrics.Metrics
	requestSubj string
	replySubj   string
	hwm         int
	maxBuffered int
	replies     chan []byte
	ready       chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	replySub    *nats.Subscription
	prevHandler nats.ErrHandler

	mu           sync.Mutex
	consumerSubs map[*nats.Subscription]struct{}
	dropped      map[*nats.Subscription]int
}

var _ transport.Fabric = (*Fabric)(nil)

// New subscribes to the reply subject under prefix. Queues hold up to hwm
// messages; outgoing data buffered by the client beyond maxBuffered bytes
// makes sends fail with transport.ErrQueueFull. Messages NATS discards for
// slow subscribers are counted in m.
func New(nc *nats.Conn, prefix string, hwm, maxBuffered int, m *metrics.Metrics, log *zap.Logger) (*Fabric, error) {
	if m == nil {
		m = metrics.NewNop()
	}
	f := &Fabric{
		nc:           nc,
		log:          log.Named("natsq"),
		metrics:      m,
		requestSubj:  prefix + ".request",
		replySubj:    prefix + ".reply",
		hwm:          hwm,
		maxBuffered:  maxBuffered,
		replies:      make(chan []byte, hwm),
		ready:        make(chan struct{}, 1),
		done:         make(chan struct{}),
		consumerSubs: make(map[*nats.Subscription]struct{}),
		dropped:      make(map[*nats.Subscription]int),
	}
	sub, err := nc.Subscribe(f.replySubj, f.onReply)
	if err != nil {
		return nil, fmt.Errorf("subscribing %s: %w", f.replySubj, err)
	}
	if err := sub.SetPendingLimits(hwm, -1); err != nil {
		return nil, multierr.Append(fmt.Errorf("pending limits: %w", err), sub.Unsubscribe())
	}
	f.replySub = sub

	f.prevHandler = nc.ErrorHandler()
	nc.SetErrorHandler(func(c *nats.Conn, sub *nats.Subscription, err error) {
		if sub != nil && errors.Is(err, nats.ErrSlowConsumer) {
			f.countDropped(sub)
		}
		if f.prevHandler != nil {
			f.prevHandler(c, sub, err)
		}
	})
	return f, nil
}

// onReply blocks while the reply queue is full. Replies then back up in the
// subscription until its pending limit, past which NATS drops them and the
// drops are counted.
func (f *Fabric) onReply(msg *nats.Msg) {
	select {
	case f.replies <- msg.Data:
	case <-f.done:
		f.metrics.TransportDrops.WithLabelValues(metrics.QueueReply).Inc()
		return
	}
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

func (f *Fabric) countDropped(sub *nats.Subscription) {
	n, err := sub.Dropped()
	if err != nil {
		return
	}
	f.mu.Lock()
	delta := n - f.dropped[sub]
	f.dropped[sub] = n
	f.mu.Unlock()
	if delta <= 0 {
		return
	}
	queue := metrics.QueueRequest
	if sub == f.replySub {
		queue = metrics.QueueReply
	}
	f.metrics.TransportDrops.WithLabelValues(queue).Add(float64(delta))
	f.log.Warn("slow subscriber, messages dropped", zap.String("queue", queue), zap.Int("dropped", delta))
}

func (f *Fabric) publish(subj string, b []byte) error {
	if f.maxBuffered > 0 {
		if buffered, err := f.nc.Buffered(); err == nil && buffered > f.maxBuffered {
			return transport.ErrQueueFull
		}
	}
	err := f.nc.Publish(subj, b)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, nats.ErrReconnectBufExceeded), errors.Is(err, nats.ErrSlowConsumer):
		return transport.ErrQueueFull
	case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrConnectionDraining):
		return transport.ErrClosed
	default:
		return fmt.Errorf("publish %s: %w", subj, err)
	}
}

func (f *Fabric) Producer() transport.Producer { return producer{f} }

func (f *Fabric) NewConsumer() (transport.Consumer, error) {
	ch := make(chan *nats.Msg, f.hwm)
	sub, err := f.nc.ChanQueueSubscribe(f.requestSubj, queueGroup, ch)
	if err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return nil, transport.ErrClosed
		}
		return nil, fmt.Errorf("subscribing %s: %w", f.requestSubj, err)
	}
	f.mu.Lock()
	f.consumerSubs[sub] = struct{}{}
	f.mu.Unlock()
	return &consumer{f: f, sub: sub, ch: ch, closed: make(chan struct{})}, nil
}

func (f *Fabric) forget(sub *nats.Subscription) {
	f.mu.Lock()
	delete(f.consumerSubs, sub)
	delete(f.dropped, sub)
	f.mu.Unlock()
}

// Close unsubscribes everything. The connection stays open.
func (f *Fabric) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		f.nc.SetErrorHandler(f.prevHandler)

		f.mu.Lock()
		subs := []*nats.Subscription{f.replySub}
		for sub := range f.consumerSubs {
			subs = append(subs, sub)
		}
		f.consumerSubs = make(map[*nats.Subscription]struct{})
		f.mu.Unlock()

		for _, sub := range subs {
			err = multierr.Append(err, unsubscribe(sub))
		}
	})
	return err
}

func unsubscribe(sub *nats.Subscription) error {
	err := sub.Unsubscribe()
	if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
		return nil
	}
	return err
}

type producer struct{ f *Fabric }

func (p producer) SendRequest(b []byte) error { return p.f.publish(p.f.requestSubj, b) }
func (p producer) Ready() <-chan struct{}     { return p.f.ready }

func (p producer) TryRecvReply() ([]byte, bool) {
	select {
	case b := <-p.f.replies:
		return b, true
	default:
		return nil, false
	}
}

func (p producer) Close() error { return p.f.Close() }

type consumer struct {
	f      *Fabric
	sub    *nats.Subscription
	ch     chan *nats.Msg
	closed chan struct{}
	once   sync.Once
}

func (c *consumer) RecvRequest(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.ch:
		return msg.Data, nil
	case <-c.closed:
		return nil, transport.ErrClosed
	case <-c.f.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *consumer) SendReply(b []byte) error { return c.f.publish(c.f.replySubj, b) }

// Close stops delivery to this consumer and hands the requests already
// buffered for it back to the queue group. The subscription is drained first
// so that requests the server sent before the unsubscribe are not lost.
func (c *consumer) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		c.f.countDropped(c.sub)
		subClosed := c.sub.StatusChanged(nats.SubscriptionClosed)
		err = c.sub.Drain()
		switch {
		case err == nil:
			select {
			case <-subClosed:
			case <-time.After(drainTimeout):
				err = multierr.Append(
					fmt.Errorf("draining %s: timeout after %s", c.f.requestSubj, drainTimeout),
					unsubscribe(c.sub),
				)
			}
		case errors.Is(err, nats.ErrBadSubscription), errors.Is(err, nats.ErrConnectionClosed):
			err = nil
		}
		c.f.forget(c.sub)
		c.requeue()
	})
	return err
}

func (c *consumer) requeue() {
	for {
		select {
		case msg := <-c.ch:
			if err := c.f.publish(c.f.requestSubj, msg.Data); err != nil {
				c.f.metrics.TransportDrops.WithLabelValues(metrics.QueueRequest).Inc()
				c.f.log.Warn("requeueing buffered request", zap.Error(err))
			}
		default:
			return
		}
	}
}
