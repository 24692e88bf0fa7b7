package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/steve-o/hitsuji/message"
	"github.com/steve-o/hitsuji/metrics"
	"github.com/steve-o/hitsuji/omm"
	"github.com/steve-o/hitsuji/sbe"
	"github.com/steve-o/hitsuji/tickstore"
	"github.com/steve-o/hitsuji/transport"
	"github.com/steve-o/hitsuji/transport/inproc"
	"github.com/steve-o/hitsuji/worker"
)

type sent struct {
	handle  uint64
	token   int32
	payload []byte
}

type network struct {
	mu      sync.Mutex
	dead    map[uint64]bool
	replies []sent
}

func (n *network) SendReply(handle uint64, token int32, payload []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.dead[handle] {
		return ErrUnknownHandle
	}
	n.replies = append(n.replies, sent{handle, token, append([]byte(nil), payload...)})
	return nil
}

func (n *network) SendClose(uint64, int32, uint16, []byte, bool, omm.StreamState, omm.StatusCode, string) error {
	return nil
}

func newTestDispatcher(t *testing.T, f transport.Fabric, n Network) (*Dispatcher, *metrics.Metrics) {
	m := metrics.NewNop()
	return New(f.Producer(), n, m, zaptest.NewLogger(t)), m
}

func TestOnRequestEncoding(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	f := inproc.New(4)
	d, m := newTestDispatcher(t, f, &network{})
	require.NoError(t, d.OnRequest(42, 14, 7, 1, []byte("MSFT.O"), true))

	c, err := f.NewConsumer()
	require.NoError(t, err)
	b, err := c.RecvRequest(context.Background())
	require.NoError(t, err)
	a.Len(b, sbe.HeaderSize+17+1+len("MSFT.O"))

	var req message.Request
	require.NoError(t, req.Unmarshal(b))
	a.EqualValues(42, req.Handle)
	a.EqualValues(14, req.RWFVersion)
	a.EqualValues(7, req.Token)
	a.EqualValues(1, req.ServiceID)
	a.True(req.Flags.UseAttribInfoInUpdates())
	a.False(req.Flags.Abort())
	a.Equal("MSFT.O", string(req.ItemName))
	a.Equal(1.0, testutil.ToFloat64(m.RequestsDispatched))
}

func TestOnRequestRejected(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	f := inproc.New(1)
	d, m := newTestDispatcher(t, f, &network{})

	err := d.OnRequest(1, 14, 1, 1, []byte(strings.Repeat("x", 255)), false)
	a.ErrorIs(err, sbe.ErrVarDataTooLong)

	a.NoError(d.OnRequest(1, 14, 2, 1, []byte("A"), false))
	a.ErrorIs(d.OnRequest(1, 14, 3, 1, []byte("B"), false), transport.ErrQueueFull)

	require.NoError(t, f.Close())
	a.ErrorIs(d.OnRequest(1, 14, 4, 1, []byte("C"), false), transport.ErrClosed)

	a.Equal(1.0, testutil.ToFloat64(m.RequestsRejected.WithLabelValues(metrics.ReasonEncoding)))
	a.Equal(1.0, testutil.ToFloat64(m.RequestsRejected.WithLabelValues(metrics.ReasonQueueFull)))
	a.Equal(1.0, testutil.ToFloat64(m.RequestsRejected.WithLabelValues(metrics.ReasonClosed)))
}

func sendReply(t *testing.T, c transport.Consumer, handle uint64, token int32, payload string) {
	t.Helper()
	r := message.Reply{Handle: handle, Token: token, Payload: []byte(payload)}
	b, err := r.Marshal()
	require.NoError(t, err)
	require.NoError(t, c.SendReply(b))
}

func TestReplyReordering(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	f := inproc.New(8)
	n := &network{}
	d, m := newTestDispatcher(t, f, n)
	c, err := f.NewConsumer()
	require.NoError(t, err)

	// Requests A then B, replies B then A.
	require.NoError(t, d.OnRequest(1, 14, 1, 1, []byte("A"), false))
	require.NoError(t, d.OnRequest(1, 14, 2, 1, []byte("B"), false))
	sendReply(t, c, 1, 2, "reply-B")
	sendReply(t, c, 1, 1, "reply-A")

	<-d.Ready()
	a.True(d.OnReplyReadable())
	a.False(d.OnReplyReadable())
	a.Equal([]sent{
		{1, 2, []byte("reply-B")},
		{1, 1, []byte("reply-A")},
	}, n.replies)
	a.Equal(2.0, testutil.ToFloat64(m.RepliesForwarded))
}

// gatedSource holds computations for one symbol until release is closed.
type gatedSource struct {
	*tickstore.Store
	symbol  string
	release chan struct{}
}

func (s gatedSource) Scan(symbol string, from, till time.Time, fn func(tickstore.Tick)) error {
	if symbol == s.symbol {
		<-s.release
	}
	return s.Store.Scan(symbol, from, till, fn)
}

func (s gatedSource) Bars(symbol string, from, till time.Time, interval time.Duration, fn func(tickstore.Bar)) error {
	if symbol == s.symbol {
		<-s.release
	}
	return s.Store.Bars(symbol, from, till, interval, fn)
}

func TestSlowComputationRepliesLater(t *testing.T) {
	t.Parallel()

	day := time.Date(2013, 11, 6, 0, 0, 0, 0, time.UTC)
	store := tickstore.New()
	store.Add("IBM.N", tickstore.Generate(day.Add(9*time.Hour), day.Add(10*time.Hour), time.Minute, 179, 1)...)
	store.Add("MSFT.O", tickstore.Generate(day.Add(9*time.Hour), day.Add(10*time.Hour), time.Minute, 38, 2)...)
	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	defer unblock()

	f := inproc.New(8)
	pool, err := worker.NewPool(f, 2, worker.Deps{
		Inventory: store,
		Source:    gatedSource{Store: store, symbol: "IBM.N", release: release},
		Now:       func() time.Time { return day.Add(16 * time.Hour) },
	}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool.Start(ctx)

	n := &network{}
	d, _ := newTestDispatcher(t, f, n)
	waitReplies := func(count int) {
		t.Helper()
		for len(n.replies) < count {
			select {
			case <-d.Ready():
				d.OnReplyReadable()
			case <-ctx.Done():
				t.Fatalf("got %d of %d replies", len(n.replies), count)
			}
		}
	}

	require.NoError(t, d.OnRequest(1, 14, 1, 1, []byte("IBM.N"), false))
	require.NoError(t, d.OnRequest(1, 14, 2, 1, []byte("MSFT.O"), false))

	waitReplies(1)
	assert.EqualValues(t, 2, n.replies[0].token)

	unblock()
	waitReplies(2)
	assert.EqualValues(t, 1, n.replies[1].token)
	require.NoError(t, pool.Stop(ctx))
}

func TestLateAndBadReplies(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	f := inproc.New(8)
	n := &network{dead: map[uint64]bool{9: true}}
	d, m := newTestDispatcher(t, f, n)
	c, err := f.NewConsumer()
	require.NoError(t, err)

	sendReply(t, c, 9, 1, "gone")
	require.NoError(t, c.SendReply([]byte{0xde, 0xad}))
	sendReply(t, c, 3, 1, "alive")

	a.True(d.OnReplyReadable())
	a.Equal([]sent{{3, 1, []byte("alive")}}, n.replies)
	a.Equal(1.0, testutil.ToFloat64(m.LateReplies))
	a.Equal(1.0, testutil.ToFloat64(m.BadReplies))
	a.Equal(1.0, testutil.ToFloat64(m.RepliesForwarded))
}

// Every request gets exactly one reply carrying its own handle and token.
func TestCorrelation(t *testing.T) {
	t.Parallel()

	const (
		requests = 2000
		workers  = 4
	)
	day := time.Date(2013, 11, 6, 0, 0, 0, 0, time.UTC)
	store := tickstore.New()
	store.Add("MSFT.O", tickstore.Generate(day.Add(9*time.Hour), day.Add(10*time.Hour), time.Second, 38, 1)...)

	f := inproc.New(requests)
	pool, err := worker.NewPool(f, workers, worker.Deps{
		Inventory: store,
		Source:    store,
		Now:       func() time.Time { return day.Add(16 * time.Hour) },
	}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool.Start(ctx)

	n := &network{}
	d, _ := newTestDispatcher(t, f, n)
	for i := 0; i < requests; i++ {
		item := "MSFT.O"
		if i%3 == 0 {
			item = "VOD.L"
		}
		require.NoError(t, d.OnRequest(uint64(i%7), 14, int32(i), 1, []byte(item), false))
	}

	for len(n.replies) < requests {
		select {
		case <-d.Ready():
			d.OnReplyReadable()
		case <-ctx.Done():
			t.Fatalf("got %d of %d replies", len(n.replies), requests)
		}
	}
	require.NoError(t, pool.Stop(ctx))
	d.OnReplyReadable()
	require.Len(t, n.replies, requests)

	seen := make(map[int32]bool, requests)
	for _, r := range n.replies {
		require.False(t, seen[r.token], "duplicate token %d", r.token)
		seen[r.token] = true
		assert.EqualValues(t, int(r.token)%7, r.handle)

		var msg omm.Msg
		require.NoError(t, msg.Unmarshal(r.payload))
		assert.Equal(t, r.token, msg.StreamID, fmt.Sprint(r.token))
		if r.token%3 == 0 {
			assert.Equal(t, omm.ClassStatus, msg.Class)
		} else {
			assert.Equal(t, omm.ClassRefresh, msg.Class)
		}
	}
}
