package provider

import (
	"bufio"
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/steve-o/hitsuji/consts"
	"github.com/steve-o/hitsuji/frameheader"
)

// session is one client connection. Its reader feeds frames to the event
// loop and its writer drains out, which only the event loop closes.
type session struct {
	handle uint64
	conn   net.Conn
	out    chan []byte
	log    *zap.Logger
}

func newSession(handle uint64, conn net.Conn, log *zap.Logger) *session {
	return &session{
		handle: handle,
		conn:   conn,
		out:    make(chan []byte, consts.SendQueueSize),
		log:    log.With(zap.Uint64("handle", handle)),
	}
}

func (c *session) readLoop(ctx context.Context, events chan<- event, maxDataSize int) {
	framer := frameheader.NewFramer(maxDataSize)
	buf := make([]byte, consts.RecieveBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			c.emit(ctx, events, event{kind: evClosed, session: c, err: fmt.Errorf("reading: %w", err)})
			return
		}
		framer.Fill(buf[:n])
		for {
			payload, status, err := framer.Next()
			if err != nil {
				c.emit(ctx, events, event{kind: evClosed, session: c, err: err})
				return
			}
			if status == frameheader.StatusNeedMore {
				break
			}
			frame := append([]byte(nil), payload...)
			if !c.emit(ctx, events, event{kind: evRequest, session: c, frame: frame}) {
				return
			}
		}
	}
}

func (c *session) emit(ctx context.Context, events chan<- event, ev event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *session) writeLoop() {
	w := bufio.NewWriter(c.conn)
	hdr := frameheader.NewFrameHeader()
	for payload := range c.out {
		hdr.SetLength(len(payload))
		_, err := w.Write(hdr)
		if err == nil {
			_, err = w.Write(payload)
		}
		if err == nil && len(c.out) == 0 {
			err = w.Flush()
		}
		if err != nil {
			c.log.Debug("write failed", zap.Error(err))
			_ = c.conn.Close()
			for range c.out {
			}
			return
		}
	}
}
