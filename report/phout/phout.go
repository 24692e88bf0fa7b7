// Package phout writes one phantom (phout) line per snapshot request, the
// format Yandex.Tank and Overload read.
package phout

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"syscall"
	"time"

	"github.com/steve-o/hitsuji/client"
	"github.com/steve-o/hitsuji/omm"
	"github.com/steve-o/hitsuji/utils/pool"
)

var now = time.Now

type Reporter struct {
	w    *bufio.Writer
	ch   chan *snapshotState
	pool *pool.SlicePool[*snapshotState]
}

var _ client.Reporter = (*Reporter)(nil)

func New(w io.Writer) *Reporter {
	r := &Reporter{
		w:  bufio.NewWriter(w),
		ch: make(chan *snapshotState, 256),
	}
	r.pool = pool.NewSlicePool(256, func() *snapshotState {
		return &snapshotState{reportLine: make([]byte, 128), reporter: r}
	})
	return r
}

func (r *Reporter) Run() error {
	for s := range r.ch {
		_, err := r.w.Write(s.result())
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		r.pool.Release(s)
	}
	return r.w.Flush()
}

func (r *Reporter) Close() error {
	close(r.ch)
	return nil
}

func (r *Reporter) Acquire(tag string) client.State {
	ss := r.pool.Acquire()
	ss.reset(tag)
	return ss
}

func (r *Reporter) accept(s *snapshotState) {
	r.ch <- s
}

type snapshotState struct {
	reportLine []byte
	reporter   *Reporter

	class    omm.MsgClass
	code     omm.StatusCode
	ioErr    error
	timedOut bool

	reqSize   int
	startTime time.Time
	endTime   time.Time
	tag       string
}

func (s *snapshotState) reset(tag string) {
	s.tag = tag
	s.startTime = now()

	s.class = 0
	s.code = omm.CodeNone
	s.ioErr = nil
	s.timedOut = false
	s.reqSize = 0
}

func (s *snapshotState) SetSize(size int) { s.reqSize = size }

func (s *snapshotState) OnReply(m *omm.Msg) {
	s.class = m.Class
	s.code = m.Code
}

func (s *snapshotState) IoError(err error) { s.ioErr = err }
func (s *snapshotState) Timeout()          { s.timedOut = true }

const tabChar = '\t'

func (s *snapshotState) result() []byte {
	s.reportLine = s.reportLine[:0]
	s.reportLine = strconv.AppendInt(s.reportLine, s.startTime.Unix(), 10)
	s.reportLine = append(s.reportLine, '.')
	s.reportLine = strconv.AppendInt(s.reportLine, int64(s.startTime.Nanosecond()/1e6), 10)
	s.reportLine = append(s.reportLine, tabChar)
	s.reportLine = append(s.reportLine, s.tag...)
	s.reportLine = append(s.reportLine, tabChar)

	// keyRTTMicro
	rtt := s.endTime.Sub(s.startTime).Microseconds()
	s.reportLine = strconv.AppendInt(s.reportLine, rtt, 10)
	s.reportLine = append(s.reportLine, tabChar)

	// keyConnectMicro, keySendMicro, keyLatencyMicro, keyReceiveMicro,
	// keyIntervalEventMicro
	for i := 0; i < 5; i++ {
		s.reportLine = append(s.reportLine, '0', tabChar)
	}
	// keyRequestBytes
	s.reportLine = strconv.AppendInt(s.reportLine, int64(s.reqSize), 10)
	s.reportLine = append(s.reportLine, tabChar)
	// keyResponseBytes
	s.reportLine = append(s.reportLine, '0', tabChar)
	// keyErrno
	var errNo syscall.Errno
	if s.ioErr != nil {
		if !errors.As(s.ioErr, &errNo) {
			errNo = 999
		}
		s.reportLine = strconv.AppendInt(s.reportLine, int64(errNo), 10)
		s.reportLine = append(s.reportLine, tabChar)
	} else {
		s.reportLine = append(s.reportLine, '0', tabChar)
	}
	// keyProtoCode
	switch {
	case s.timedOut:
		s.reportLine = append(s.reportLine, "timeout"...)
	case s.class == omm.ClassRefresh:
		s.reportLine = append(s.reportLine, "refresh"...)
	case s.class == omm.ClassStatus:
		s.reportLine = append(s.reportLine, "status_"...)
		s.reportLine = strconv.AppendInt(s.reportLine, int64(s.code), 10)
	default:
		s.reportLine = append(s.reportLine, "none"...)
	}
	s.reportLine = append(s.reportLine, '\n')
	return s.reportLine
}

func (s *snapshotState) End() {
	s.endTime = now()
	s.reporter.accept(s)
}
