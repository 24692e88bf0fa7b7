package natsq

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/steve-o/hitsuji/metrics"
	"github.com/steve-o/hitsuji/transport"
)

func connect(t *testing.T, opts ...nats.Option) (*nats.Conn, func()) {
	t.Helper()
	srv := natsserver.RunRandClientPortServer()
	t.Cleanup(srv.Shutdown)
	nc, err := nats.Connect(srv.ClientURL(), opts...)
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc, srv.Shutdown
}

func newFabric(t *testing.T, nc *nats.Conn, hwm int, m *metrics.Metrics) *Fabric {
	t.Helper()
	f, err := New(nc, "hitsuji-test."+uuid.NewString(), hwm, 0, m, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, f.Close()) })
	return f
}

func recvAll(t *testing.T, c transport.Consumer, wait time.Duration) []string {
	t.Helper()
	var got []string
	for {
		ctx, cancel := context.WithTimeout(context.Background(), wait)
		b, err := c.RecvRequest(ctx)
		cancel()
		if err != nil {
			return got
		}
		got = append(got, string(b))
	}
}

func TestEachRequestReachesOneConsumer(t *testing.T) {
	t.Parallel()

	const requests = 100
	nc, _ := connect(t)
	f := newFabric(t, nc, requests, nil)
	c1, err := f.NewConsumer()
	require.NoError(t, err)
	c2, err := f.NewConsumer()
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	p := f.Producer()
	for i := 0; i < requests; i++ {
		require.NoError(t, p.SendRequest([]byte{byte(i)}))
	}
	require.NoError(t, nc.Flush())

	got := append(recvAll(t, c1, 200*time.Millisecond), recvAll(t, c2, 200*time.Millisecond)...)
	seen := make(map[string]bool, requests)
	for _, b := range got {
		assert.False(t, seen[b], "request %x delivered twice", b)
		seen[b] = true
	}
	assert.Len(t, seen, requests)
}

func TestReplies(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	nc, _ := connect(t)
	f := newFabric(t, nc, 4, nil)
	c, err := f.NewConsumer()
	require.NoError(t, err)
	p := f.Producer()

	require.NoError(t, c.SendReply([]byte("reply")))
	select {
	case <-p.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("no reply readiness")
	}
	b, ok := p.TryRecvReply()
	a.True(ok)
	a.Equal("reply", string(b))
	_, ok = p.TryRecvReply()
	a.False(ok)
}

func TestSlowReplyDropsAreCounted(t *testing.T) {
	t.Parallel()

	nc, _ := connect(t)
	m := metrics.NewNop()
	f := newFabric(t, nc, 2, m)
	c, err := f.NewConsumer()
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, c.SendReply([]byte{byte(i)}))
	}
	require.NoError(t, nc.Flush())

	dropped := m.TransportDrops.WithLabelValues(metrics.QueueReply)
	require.Eventually(t, func() bool { return testutil.ToFloat64(dropped) > 0 }, 5*time.Second, 10*time.Millisecond)

	var received int
	require.Eventually(t, func() bool {
		for {
			if _, ok := f.Producer().TryRecvReply(); !ok {
				break
			}
			received++
		}
		return received > 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, received+int(testutil.ToFloat64(dropped)), 50)
}

func TestSendRequestQueueFull(t *testing.T) {
	t.Parallel()

	nc, shutdown := connect(t,
		nats.ReconnectBufSize(256),
		nats.ReconnectWait(time.Minute),
		nats.MaxReconnects(-1),
	)
	f := newFabric(t, nc, 4, nil)
	shutdown()

	msg := make([]byte, 128)
	assert.Eventually(t, func() bool {
		return f.Producer().SendRequest(msg) == transport.ErrQueueFull
	}, 5*time.Second, 10*time.Millisecond)
}

func TestClosedConsumerRequeues(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	nc, _ := connect(t)
	f := newFabric(t, nc, 4, nil)
	stopping, err := f.NewConsumer()
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	p := f.Producer()
	require.NoError(t, p.SendRequest([]byte("first")))
	require.NoError(t, p.SendRequest([]byte("second")))
	require.Eventually(t, func() bool {
		return len(stopping.(*consumer).ch) == 2
	}, 5*time.Second, time.Millisecond)

	live, err := f.NewConsumer()
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, err := stopping.RecvRequest(ctx)
	require.NoError(t, err)
	a.Equal("first", string(b))
	require.NoError(t, stopping.Close())

	_, err = stopping.RecvRequest(ctx)
	a.ErrorIs(err, transport.ErrClosed)

	b, err = live.RecvRequest(ctx)
	require.NoError(t, err)
	a.Equal("second", string(b))
	a.NoError(stopping.Close())
}
