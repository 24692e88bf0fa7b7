package provider_test

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/steve-o/hitsuji/client"
	"github.com/steve-o/hitsuji/frameheader"
	"github.com/steve-o/hitsuji/message"
	"github.com/steve-o/hitsuji/omm"
	"github.com/steve-o/hitsuji/provider"
	"github.com/steve-o/hitsuji/tickstore"
	"github.com/steve-o/hitsuji/transport/inproc"
	"github.com/steve-o/hitsuji/worker"
)

var day = time.Date(2013, 11, 6, 0, 0, 0, 0, time.UTC)

type testServer struct {
	addr   string
	server *provider.Server
}

func startServer(t *testing.T, cfg provider.Config, workers, hwm int) *testServer {
	t.Helper()
	log := zaptest.NewLogger(t)

	store := tickstore.New()
	store.Add("MSFT.O", tickstore.Generate(day.Add(9*time.Hour), day.Add(10*time.Hour), time.Minute, 38, 1)...)

	fabric := inproc.New(hwm)
	ctx, cancel := context.WithCancel(context.Background())

	var pool *worker.Pool
	if workers > 0 {
		var err error
		pool, err = worker.NewPool(fabric, workers, worker.Deps{
			Inventory: store,
			Source:    store,
			Now:       func() time.Time { return day.Add(16 * time.Hour) },
		}, nil, log)
		require.NoError(t, err)
		pool.Start(ctx)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := provider.New(fabric.Producer(), cfg, nil, log)
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	t.Cleanup(func() {
		if pool != nil {
			assert.NoError(t, pool.Stop(context.Background()))
		}
		cancel()
		assert.NoError(t, <-done)
	})
	return &testServer{addr: ln.Addr().String(), server: s}
}

func dial(t *testing.T, addr string) *client.Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c, err := client.Dial(ctx, addr, client.Config{Timeout: 5 * time.Second}, zaptest.NewLogger(t))
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = c.Close()
	})
	return c
}

func TestSnapshots(t *testing.T) {
	t.Parallel()

	s := startServer(t, provider.Config{}, 2, 64)
	c := dial(t, s.addr)
	ctx := context.Background()

	t.Run("refresh", func(t *testing.T) {
		m, err := c.Snapshot(ctx, "MSFT.O")
		require.NoError(t, err)
		assert.Equal(t, omm.ClassRefresh, m.Class)
		assert.Equal(t, "MSFT.O", string(m.Key.Name))
		moves, ok := m.Field(omm.FidNumMoves)
		assert.True(t, ok)
		assert.Equal(t, omm.Real{Mantissa: 60}, moves)
	})
	t.Run("unknown symbol", func(t *testing.T) {
		m, err := c.Snapshot(ctx, "VOD.L")
		require.NoError(t, err)
		assert.Equal(t, omm.ClassStatus, m.Class)
		assert.Equal(t, omm.StreamClosed, m.StreamState)
		assert.Equal(t, omm.CodeNotFound, m.Code)
		assert.Equal(t, omm.TextNotFound, m.Text)
	})
	t.Run("malformed", func(t *testing.T) {
		m, err := c.Snapshot(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, omm.StreamClosed, m.StreamState)
		assert.Equal(t, omm.TextMalformed, m.Text)
	})
	assert.Equal(t, 1, s.server.Sessions())
}

func TestPipelinedClients(t *testing.T) {
	t.Parallel()

	const perClient = 300
	s := startServer(t, provider.Config{}, 4, 1024)

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 3; i++ {
		c := dial(t, s.addr)
		g.Go(func() error {
			results := make([]*state, perClient)
			for j := range results {
				results[j] = newState()
				item := "MSFT.O"
				if j%2 == 1 {
					item = "MSFT.O#close"
				}
				if err := c.Request(item, results[j]); err != nil {
					return err
				}
			}
			c.WaitResponses(ctx)
			for _, r := range results {
				<-r.done
				if !assert.NotNil(t, r.msg) {
					continue
				}
				assert.Equal(t, omm.ClassRefresh, r.msg.Class)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestRejectedRequests(t *testing.T) {
	t.Parallel()

	// No workers: the first request stays queued and the second finds the
	// queue full.
	s := startServer(t, provider.Config{}, 0, 1)
	conn, err := net.Dial("tcp", s.addr)
	require.NoError(t, err)
	defer conn.Close()

	send := func(req message.Request) {
		b, err := req.Marshal()
		require.NoError(t, err)
		require.NoError(t, frameheader.WriteFrame(conn, b))
	}
	recv := func() omm.Msg {
		hdr := frameheader.NewFrameHeader()
		_, err := io.ReadFull(conn, hdr)
		require.NoError(t, err)
		b := make([]byte, hdr.Length())
		_, err = io.ReadFull(conn, b)
		require.NoError(t, err)
		var m omm.Msg
		require.NoError(t, m.Unmarshal(b))
		return m
	}

	send(message.Request{RWFVersion: 14, Token: 1, ServiceID: 1, ItemName: []byte("MSFT.O")})
	send(message.Request{RWFVersion: 14, Token: 2, ServiceID: 1, ItemName: []byte("MSFT.O")})
	m := recv()
	assert.EqualValues(t, 2, m.StreamID)
	assert.Equal(t, omm.StreamClosedRecover, m.StreamState)
	assert.Equal(t, omm.CodeError, m.Code)
	assert.Equal(t, omm.TextInternal, m.Text)

	abort := message.NewAbort()
	abort.Token = 3
	send(abort)
	m = recv()
	assert.EqualValues(t, 3, m.StreamID)
	assert.Equal(t, omm.StreamClosed, m.StreamState)
	assert.Equal(t, omm.TextMalformed, m.Text)
}

func TestProtocolErrorsCloseConnection(t *testing.T) {
	t.Parallel()

	s := startServer(t, provider.Config{MaxDataSize: 64}, 1, 8)
	for name, frame := range map[string][]byte{
		"too large":   frameheader.AppendFrame(nil, make([]byte, 65)),
		"undecodable": frameheader.AppendFrame(nil, []byte{1, 2, 3}),
	} {
		t.Run(name, func(t *testing.T) {
			conn, err := net.Dial("tcp", s.addr)
			require.NoError(t, err)
			defer conn.Close()
			_, err = conn.Write(frame)
			require.NoError(t, err)
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
			_, err = conn.Read(make([]byte, 1))
			require.Error(t, err)
			var ne net.Error
			if errors.As(err, &ne) {
				assert.False(t, ne.Timeout(), "connection left open")
			}
		})
	}
}

func TestSessionCapacity(t *testing.T) {
	t.Parallel()

	s := startServer(t, provider.Config{SessionCapacity: 1}, 1, 8)
	first := dial(t, s.addr)
	_, err := first.Snapshot(context.Background(), "MSFT.O")
	require.NoError(t, err)

	second := dial(t, s.addr)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = second.Snapshot(ctx, "MSFT.O")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, s.server.Sessions())
}

type state struct {
	msg  *omm.Msg
	err  error
	done chan struct{}
}

func newState() *state { return &state{done: make(chan struct{})} }

func (s *state) SetSize(int)        {}
func (s *state) OnReply(m *omm.Msg) { s.msg = m }
func (s *state) IoError(err error)  { s.err = err }
func (s *state) Timeout()           { s.err = client.ErrTimeout }
func (s *state) End()               { close(s.done) }
