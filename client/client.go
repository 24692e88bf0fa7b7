// Package client requests snapshots from a provider over one connection.
// Requests are pipelined; replies are matched to requests by stream token.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/steve-o/hitsuji/consts"
	"github.com/steve-o/hitsuji/frameheader"
	"github.com/steve-o/hitsuji/message"
	"github.com/steve-o/hitsuji/omm"
)

var (
	ErrClosed  = errors.New("client: connection closed")
	ErrTimeout = errors.New("client: request timed out")
)

type Config struct {
	ServiceID              uint16
	RWFVersion             uint16
	Timeout                time.Duration
	MaxDataSize            int
	MaxInFlight            int // zero is unlimited
	UseAttribInfoInUpdates bool
}

func (c *Config) setDefaults() {
	if c.ServiceID == 0 {
		c.ServiceID = consts.DefaultServiceID
	}
	if c.RWFVersion == 0 {
		c.RWFVersion = consts.DefaultRWFVersion
	}
	if c.Timeout == 0 {
		c.Timeout = consts.DefaultTimeout
	}
	if c.MaxDataSize == 0 {
		c.MaxDataSize = consts.DefaultMaxDataSize
	}
}

type Client struct {
	conn     net.Conn
	cfg      Config
	log      *zap.Logger
	streams  *streams
	timeouts *timeoutQueue
	tokens   atomic.Int32
	closed   atomic.Bool
	wmu      sync.Mutex
}

var clientID atomic.Uint32

func Dial(ctx context.Context, addr string, cfg Config, log *zap.Logger) (*Client, error) {
	cfg.setDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return New(conn, cfg, log), nil
}

func New(conn net.Conn, cfg Config, log *zap.Logger) *Client {
	cfg.setDefaults()
	return &Client{
		conn:     conn,
		cfg:      cfg,
		log:      log.Named("client").With(zap.Uint32("client-id", clientID.Add(1))),
		streams:  newStreams(cfg.MaxInFlight),
		timeouts: newTimeoutQueue(cfg.Timeout),
	}
}

// Run reads replies until ctx is done or the connection fails. Requests
// still in flight when it returns end with an I/O error.
func (c *Client) Run(ctx context.Context) error {
	defer c.log.Debug("run done")

	go func() {
		for {
			token, ok := c.timeouts.Next()
			if !ok {
				return
			}
			if st := c.streams.GetAndDelete(token); st != nil {
				st.Timeout()
				st.End()
			}
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		_ = c.conn.SetReadDeadline(time.Now())
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return c.runReader(ctx)
	})
	err := g.Wait()

	c.closed.Store(true)
	c.timeouts.Close()
	reason := err
	if reason == nil {
		reason = ErrClosed
	}
	c.streams.Drain(func(st State) {
		st.IoError(reason)
		st.End()
	})
	return err
}

func (c *Client) runReader(ctx context.Context) error {
	framer := frameheader.NewFramer(c.cfg.MaxDataSize)
	buf := make([]byte, consts.RecieveBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading: %w", err)
		}
		framer.Fill(buf[:n])
		for {
			payload, status, err := framer.Next()
			if err != nil {
				return err
			}
			if status == frameheader.StatusNeedMore {
				break
			}
			if err := c.onFrame(append([]byte(nil), payload...)); err != nil {
				return err
			}
		}
	}
}

func (c *Client) onFrame(frame []byte) error {
	msg := new(omm.Msg)
	if err := msg.Unmarshal(frame); err != nil {
		return fmt.Errorf("decoding reply: %w", err)
	}
	st := c.streams.GetAndDelete(msg.StreamID)
	if st == nil {
		c.log.Debug("reply for unknown or expired token", zap.Int32("token", msg.StreamID))
		return nil
	}
	st.OnReply(msg)
	st.End()
	return nil
}

// Request sends a snapshot request for itemName; st receives the result.
// st is ended on failure too.
func (c *Client) Request(itemName string, st State) error {
	req := message.Request{
		RWFVersion: c.cfg.RWFVersion,
		Token:      c.tokens.Add(1),
		ServiceID:  c.cfg.ServiceID,
		Flags:      message.Flags(0).With(message.FlagUseAttribInfoInUpdates, c.cfg.UseAttribInfoInUpdates),
		ItemName:   []byte(itemName),
	}
	b, err := req.Marshal()
	if err != nil {
		st.IoError(err)
		st.End()
		return fmt.Errorf("encoding request %q: %w", itemName, err)
	}
	if c.closed.Load() {
		st.IoError(ErrClosed)
		st.End()
		return ErrClosed
	}

	c.streams.Acquire(req.Token, st)
	st.SetSize(len(b))
	c.timeouts.Add(req.Token)
	if c.closed.Load() {
		err = ErrClosed
	} else {
		c.wmu.Lock()
		err = frameheader.WriteFrame(c.conn, b)
		c.wmu.Unlock()
	}
	if err != nil {
		if st := c.streams.GetAndDelete(req.Token); st != nil {
			st.IoError(err)
			st.End()
		}
		return fmt.Errorf("sending request: %w", err)
	}
	return nil
}

// Snapshot requests itemName and waits for the refresh or close.
func (c *Client) Snapshot(ctx context.Context, itemName string) (*omm.Msg, error) {
	r := &result{done: make(chan struct{})}
	if err := c.Request(itemName, r); err != nil {
		return nil, err
	}
	select {
	case <-r.done:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitResponses blocks until no request is in flight.
func (c *Client) WaitResponses(ctx context.Context) {
	select {
	case <-c.streams.WaitAllReleased():
		c.log.Debug("all requests answered")
	case <-ctx.Done():
	}
}

func (c *Client) InFlight() int { return c.streams.InUse() }

func (c *Client) Close() error {
	c.closed.Store(true)
	c.timeouts.Close()
	return c.conn.Close()
}

type result struct {
	msg  *omm.Msg
	err  error
	done chan struct{}
}

func (r *result) SetSize(int)        {}
func (r *result) OnReply(m *omm.Msg) { r.msg = m }
func (r *result) IoError(err error)  { r.err = err }
func (r *result) Timeout()           { r.err = ErrTimeout }
func (r *result) End()               { close(r.done) }
