// Package supersimple prints request and reply rates once a second.
package supersimple

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/steve-o/hitsuji/client"
	"github.com/steve-o/hitsuji/omm"
	"github.com/steve-o/hitsuji/utils/pool"
)

type Reporter struct {
	w       io.Writer
	pool    *pool.SlicePool[*snapshotState]
	closeCh chan struct{}

	start  time.Time
	ok     atomic.Uint32
	closed atomic.Uint32
	failed atomic.Uint32
	req    atomic.Uint32
	size   atomic.Uint64

	lastOk     uint32
	lastClosed uint32
	lastFailed uint32
	lastReq    uint32
	lastSize   uint64
	lastTime   time.Time
}

var _ client.Reporter = (*Reporter)(nil)

func New(w io.Writer) *Reporter {
	now := time.Now()
	a := &Reporter{
		w:        w,
		closeCh:  make(chan struct{}),
		start:    now,
		lastTime: now,
	}
	a.pool = pool.NewSlicePool(100, func() *snapshotState {
		return &snapshotState{reporter: a}
	})
	return a
}

func (a *Reporter) Run() error {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	defer a.total()
	for {
		select {
		case now := <-t.C:
			a.report(now)
		case <-a.closeCh:
			return nil
		}
	}
}

func (a *Reporter) Close() error {
	close(a.closeCh)
	return nil
}

func (a *Reporter) Acquire(string) client.State {
	a.req.Add(1)
	ss := a.pool.Acquire()
	ss.reset()
	return ss
}

func (a *Reporter) accept(s *snapshotState) {
	switch {
	case s.failed:
		a.failed.Add(1)
	case s.refresh:
		a.ok.Add(1)
	default:
		a.closed.Add(1)
	}
	a.pool.Release(s)
}

func (a *Reporter) write(ok, closed, failed, req uint32, size uint64, d time.Duration) {
	total := ok + closed + failed
	miliSeconds := d.Milliseconds()
	if miliSeconds > 0 {
		fmt.Fprintf(a.w,
			"total=%d ok=%d closed=%d failed=%d req=%d size=%s/s req/s=%.2f resp/s=%.2f\n",
			total, ok, closed, failed, req,
			humanize.Bytes(size*1000/uint64(miliSeconds)),
			float64(req)*1000/float64(miliSeconds), float64(total)*1000/float64(miliSeconds),
		)
	} else {
		fmt.Fprintf(a.w, "total=%d ok=%d closed=%d failed=%d req=%d\n", total, ok, closed, failed, req)
	}
}

func (a *Reporter) total() {
	fmt.Fprintln(a.w, "total")
	a.write(a.ok.Load(), a.closed.Load(), a.failed.Load(), a.req.Load(), a.size.Load(), time.Since(a.start))
}

func (a *Reporter) report(now time.Time) {
	ok, closed, failed, req, size := a.ok.Load(), a.closed.Load(), a.failed.Load(), a.req.Load(), a.size.Load()
	a.write(ok-a.lastOk, closed-a.lastClosed, failed-a.lastFailed, req-a.lastReq, size-a.lastSize, now.Sub(a.lastTime))
	a.lastOk, a.lastClosed, a.lastFailed, a.lastReq, a.lastSize, a.lastTime = ok, closed, failed, req, size, now
}

// snapshotState sorts a request into ok (refresh), closed (status) or
// failed (timeout or I/O error).
type snapshotState struct {
	reporter *Reporter
	refresh  bool
	failed   bool
}

func (s *snapshotState) reset() {
	s.refresh = false
	s.failed = false
}

func (s *snapshotState) SetSize(size int) { s.reporter.size.Add(uint64(size)) }

func (s *snapshotState) OnReply(m *omm.Msg) { s.refresh = m.Class == omm.ClassRefresh }

func (s *snapshotState) IoError(error) { s.failed = true }
func (s *snapshotState) Timeout()      { s.failed = true }

func (s *snapshotState) End() { s.reporter.accept(s) }
