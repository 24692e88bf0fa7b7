// Package provider is the session layer that accepts client connections,
// hands snapshot requests to the dispatcher and writes replies back.
//
// Frames in both directions are a little-endian u32 length followed by the
// payload. Client frames carry an encoded message.Request; the handle field
// is ignored and overwritten with the connection's handle. Server frames
// carry an omm refresh or status message.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/steve-o/hitsuji/consts"
	"github.com/steve-o/hitsuji/dispatcher"
	"github.com/steve-o/hitsuji/message"
	"github.com/steve-o/hitsuji/metrics"
	"github.com/steve-o/hitsuji/omm"
	"github.com/steve-o/hitsuji/sbe"
	"github.com/steve-o/hitsuji/transport"
)

var errSlowConsumer = errors.New("send queue full")

type Config struct {
	ServiceName     string
	ServiceID       uint16
	MaxDataSize     int
	SessionCapacity int // zero is unlimited
}

func (c *Config) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = consts.DefaultServiceName
	}
	if c.ServiceID == 0 {
		c.ServiceID = consts.DefaultServiceID
	}
	if c.MaxDataSize == 0 {
		c.MaxDataSize = consts.DefaultMaxDataSize
	}
}

type eventKind int

const (
	evOpen eventKind = iota
	evRequest
	evClosed
)

type event struct {
	kind    eventKind
	session *session
	frame   []byte
	err     error
}

// Server owns the connection table. Everything but accepting and socket
// I/O runs on the goroutine of its event loop, including the dispatcher.
type Server struct {
	log        *zap.Logger
	cfg        Config
	metrics    *metrics.Metrics
	dispatcher *dispatcher.Dispatcher

	events   chan event
	sessions map[uint64]*session
	active   atomic.Int32
	handles  atomic.Uint64
	wg       sync.WaitGroup

	req     message.Request
	scratch []byte
}

var _ dispatcher.Network = (*Server)(nil)

func New(producer transport.Producer, cfg Config, m *metrics.Metrics, log *zap.Logger) *Server {
	cfg.setDefaults()
	if m == nil {
		m = metrics.NewNop()
	}
	s := &Server{
		log:      log.Named("provider").With(zap.String("service", cfg.ServiceName)),
		cfg:      cfg,
		metrics:  m,
		events:   make(chan event, consts.SendQueueSize),
		sessions: make(map[uint64]*session),
		scratch:  make([]byte, cfg.MaxDataSize),
	}
	s.dispatcher = dispatcher.New(producer, s, m, log)
	return s
}

// Sessions returns the number of connected clients.
func (s *Server) Sessions() int { return int(s.active.Load()) }

// Serve accepts connections on ln until ctx is done or accepting fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.SessionCapacity > 0 {
		ln = netutil.LimitListener(ln, s.cfg.SessionCapacity)
	}
	s.log.Info("accepting connections",
		zap.Stringer("addr", ln.Addr()),
		zap.Int("session-capacity", s.cfg.SessionCapacity),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		return s.acceptLoop(ctx, ln)
	})
	g.Go(func() error {
		return s.loop(ctx)
	})
	err := g.Wait()
	s.discardPending()
	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		sess := newSession(s.handles.Add(1), conn, s.log)
		select {
		case s.events <- event{kind: evOpen, session: sess}:
		case <-ctx.Done():
			return conn.Close()
		}
	}
}

func (s *Server) loop(ctx context.Context) error {
	defer s.closeAll()
	for {
		select {
		case ev := <-s.events:
			s.onEvent(ctx, ev)
		case <-s.dispatcher.Ready():
			s.dispatcher.OnReplyReadable()
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Server) onEvent(ctx context.Context, ev event) {
	switch ev.kind {
	case evOpen:
		s.sessions[ev.session.handle] = ev.session
		s.active.Add(1)
		s.metrics.Sessions.Inc()
		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			ev.session.readLoop(ctx, s.events, s.cfg.MaxDataSize)
		}()
		go func() {
			defer s.wg.Done()
			ev.session.writeLoop()
		}()
		ev.session.log.Info("client session opened", zap.Stringer("remote", ev.session.conn.RemoteAddr()))
	case evRequest:
		if _, ok := s.sessions[ev.session.handle]; ok {
			s.onRequest(ev.session, ev.frame)
		}
	case evClosed:
		s.drop(ev.session, ev.err)
	}
}

func (s *Server) onRequest(sess *session, frame []byte) {
	req := &s.req
	if err := req.Unmarshal(frame); err != nil {
		s.drop(sess, fmt.Errorf("undecodable request: %w", err))
		return
	}
	if req.Flags.Abort() {
		s.closeRequest(sess.handle, req, omm.StreamClosed, omm.CodeNotFound, omm.TextMalformed)
		return
	}

	err := s.dispatcher.OnRequest(
		sess.handle,
		req.RWFVersion,
		req.Token,
		req.ServiceID,
		req.ItemName,
		req.Flags.UseAttribInfoInUpdates(),
	)
	switch {
	case err == nil:
	case errors.Is(err, sbe.ErrVarDataTooLong):
		s.closeRequest(sess.handle, req, omm.StreamClosed, omm.CodeNotFound, omm.TextMalformed)
	default:
		sess.log.Warn("request not dispatched", zap.Int32("token", req.Token), zap.Error(err))
		s.closeRequest(sess.handle, req, omm.StreamClosedRecover, omm.CodeError, omm.TextInternal)
	}
}

func (s *Server) closeRequest(handle uint64, req *message.Request, state omm.StreamState, code omm.StatusCode, text string) {
	err := s.sendClose(
		handle,
		req.RWFVersion,
		req.Token,
		req.ServiceID,
		req.ItemName,
		req.Flags.UseAttribInfoInUpdates(),
		state, code, text,
	)
	if err != nil {
		s.log.Warn("sending close", zap.Uint64("handle", handle), zap.Int32("token", req.Token), zap.Error(err))
	}
}

// SendReply queues a pre-encoded payload on the connection. The payload is
// owned by the connection from here on.
func (s *Server) SendReply(handle uint64, token int32, payload []byte) error {
	sess, ok := s.sessions[handle]
	if !ok {
		return fmt.Errorf("%w: %d", dispatcher.ErrUnknownHandle, handle)
	}
	select {
	case sess.out <- payload:
		return nil
	default:
		s.drop(sess, errSlowConsumer)
		return fmt.Errorf("token %d: %w", token, errSlowConsumer)
	}
}

func (s *Server) SendClose(
	handle uint64,
	token int32,
	serviceID uint16,
	itemName []byte,
	useAttribInfoInUpdates bool,
	state omm.StreamState,
	code omm.StatusCode,
	text string,
) error {
	return s.sendClose(handle, consts.DefaultRWFVersion, token, serviceID, itemName, useAttribInfoInUpdates, state, code, text)
}

func (s *Server) sendClose(
	handle uint64,
	rwfVersion uint16,
	token int32,
	serviceID uint16,
	itemName []byte,
	useAttribInfoInUpdates bool,
	state omm.StreamState,
	code omm.StatusCode,
	text string,
) error {
	n, err := omm.WriteClose(s.scratch, rwfVersion, token, serviceID, itemName, useAttribInfoInUpdates, state, code, text)
	if err != nil {
		return fmt.Errorf("encoding close: %w", err)
	}
	return s.SendReply(handle, token, append([]byte(nil), s.scratch[:n]...))
}

func (s *Server) drop(sess *session, reason error) {
	if _, ok := s.sessions[sess.handle]; !ok {
		return
	}
	delete(s.sessions, sess.handle)
	s.active.Add(-1)
	s.metrics.Sessions.Dec()
	close(sess.out)
	if err := sess.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		sess.log.Debug("closing connection", zap.Error(err))
	}
	sess.log.Info("client session closed", zap.Error(reason))
}

// discardPending closes connections accepted after the loop stopped.
func (s *Server) discardPending() {
	for {
		select {
		case ev := <-s.events:
			if ev.kind == evOpen {
				_ = ev.session.conn.Close()
			}
		default:
			return
		}
	}
}

func (s *Server) closeAll() {
	for _, sess := range s.sessions {
		s.drop(sess, context.Canceled)
	}
}
