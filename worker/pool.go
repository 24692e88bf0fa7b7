package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/steve-o/hitsuji/message"
	"github.com/steve-o/hitsuji/transport"
)

// StartHook runs on the worker's goroutine, locked to its OS thread, before
// the first request. Errors are logged and the worker carries on.
type StartHook func(id int) error

// abortRetry is how long Stop waits for the aborted workers before sending
// more aborts. Fabrics that buffer per consumer may hand an abort to a worker
// that already stopped.
const abortRetry = 100 * time.Millisecond

type Pool struct {
	log       *zap.Logger
	producer  transport.Producer
	consumers []transport.Consumer
	workers   []*Worker
	onStart   StartHook
	done      chan struct{}
	err       error
}

// NewPool creates size workers, each with its own consumer of fabric.
func NewPool(fabric transport.Fabric, size int, deps Deps, onStart StartHook, log *zap.Logger) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("worker pool: size %d < 1", size)
	}
	p := &Pool{
		log:      log.Named("pool"),
		producer: fabric.Producer(),
		onStart:  onStart,
	}
	for id := 0; id < size; id++ {
		c, err := fabric.NewConsumer()
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("worker %d consumer: %w", id, err), p.closeConsumers())
		}
		p.consumers = append(p.consumers, c)
		w, err := New(id, c, deps, log)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("worker %d: %w", id, err), p.closeConsumers())
		}
		p.workers = append(p.workers, w)
	}
	return p, nil
}

func (p *Pool) Workers() []*Worker { return p.workers }

func (p *Pool) Size() int { return len(p.workers) }

// Running returns the number of workers not yet terminated.
func (p *Pool) Running() int {
	var n int
	for _, w := range p.workers {
		if w.State() != Terminated {
			n++
		}
	}
	return n
}

// Start launches every worker. A worker that fails only ends its own loop.
func (p *Pool) Start(ctx context.Context) {
	var g errgroup.Group
	for _, w := range p.workers {
		w := w
		g.Go(func() error {
			if p.onStart != nil {
				runtime.LockOSThread()
				defer runtime.UnlockOSThread()
				if err := p.onStart(w.id); err != nil {
					w.log.Warn("start hook failed", zap.Error(err))
				}
			}
			err := w.Run(ctx)
			if err != nil {
				w.log.Error("worker stopped", zap.Error(err))
			}
			return err
		})
	}
	p.done = make(chan struct{})
	go func() {
		p.err = g.Wait()
		close(p.done)
	}()
	p.log.Info("workers started", zap.Int("count", len(p.workers)))
}

// Abort submits n abort messages. Each stops exactly one worker.
func (p *Pool) Abort(ctx context.Context, n int) error {
	abort := message.NewAbort()
	for sent := 0; sent < n; {
		b, err := abort.Marshal()
		if err != nil {
			return err
		}
		err = p.producer.SendRequest(b)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, transport.ErrQueueFull):
			select {
			case <-ctx.Done():
				return fmt.Errorf("aborting workers: %w", ctx.Err())
			case <-time.After(time.Millisecond):
			}
		default:
			return fmt.Errorf("aborting workers: %w", err)
		}
	}
	return nil
}

// Stop aborts every worker, waits for them and releases their consumers.
// Aborts are sent again while workers keep running, until ctx is done.
func (p *Pool) Stop(ctx context.Context) error {
	return multierr.Append(p.stop(ctx), p.closeConsumers())
}

func (p *Pool) stop(ctx context.Context) error {
	if p.done == nil {
		return nil
	}
	retry := time.NewTicker(abortRetry)
	defer retry.Stop()
	for {
		if n := p.Running(); n > 0 {
			if err := p.Abort(ctx, n); err != nil {
				return err
			}
		}
		select {
		case <-p.done:
			return p.err
		case <-ctx.Done():
			return fmt.Errorf("stopping workers: %w", ctx.Err())
		case <-retry.C:
		}
	}
}

// Wait blocks until every worker has returned or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	if p.done == nil {
		return nil
	}
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}

func (p *Pool) closeConsumers() error {
	var err error
	for _, c := range p.consumers {
		err = multierr.Append(err, c.Close())
	}
	p.consumers = nil
	return err
}
