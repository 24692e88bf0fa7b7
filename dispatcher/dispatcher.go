// Package dispatcher bridges the network provider and the task queue. It
// encodes client requests for the workers and routes their replies back by
// connection handle and stream token.
package dispatcher

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/steve-o/hitsuji/message"
	"github.com/steve-o/hitsuji/metrics"
	"github.com/steve-o/hitsuji/omm"
	"github.com/steve-o/hitsuji/transport"
)

// ErrUnknownHandle is returned by a Network for replies addressed to a
// connection that has gone away.
var ErrUnknownHandle = errors.New("dispatcher: unknown connection handle")

// Network is the session layer that owns client connections.
type Network interface {
	SendReply(handle uint64, token int32, payload []byte) error
	SendClose(
		handle uint64,
		token int32,
		serviceID uint16,
		itemName []byte,
		useAttribInfoInUpdates bool,
		state omm.StreamState,
		code omm.StatusCode,
		text string,
	) error
}

// Dispatcher is driven by the provider's I/O goroutine only.
type Dispatcher struct {
	log      *zap.Logger
	producer transport.Producer
	network  Network
	metrics  *metrics.Metrics

	reply message.Reply
}

func New(producer transport.Producer, network Network, m *metrics.Metrics, log *zap.Logger) *Dispatcher {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Dispatcher{
		log:      log.Named("dispatcher"),
		producer: producer,
		network:  network,
		metrics:  m,
	}
}

// OnRequest encodes a snapshot request into an exactly sized buffer and
// submits it to the request queue. It returns once the transport owns the
// buffer.
func (d *Dispatcher) OnRequest(
	handle uint64,
	rwfVersion uint16,
	token int32,
	serviceID uint16,
	itemName []byte,
	useAttribInfoInUpdates bool,
) error {
	req := message.Request{
		Handle:     handle,
		RWFVersion: rwfVersion,
		Token:      token,
		ServiceID:  serviceID,
		Flags:      message.Flags(0).With(message.FlagUseAttribInfoInUpdates, useAttribInfoInUpdates),
		ItemName:   itemName,
	}
	b, err := req.Marshal()
	if err != nil {
		d.metrics.RequestsRejected.WithLabelValues(metrics.ReasonEncoding).Inc()
		return fmt.Errorf("encoding request: %w", err)
	}
	if err := d.producer.SendRequest(b); err != nil {
		reason := metrics.ReasonClosed
		if errors.Is(err, transport.ErrQueueFull) {
			reason = metrics.ReasonQueueFull
		}
		d.metrics.RequestsRejected.WithLabelValues(reason).Inc()
		return fmt.Errorf("submitting request: %w", err)
	}
	d.metrics.RequestsDispatched.Inc()
	return nil
}

// Ready fires when replies may be waiting; call OnReplyReadable.
func (d *Dispatcher) Ready() <-chan struct{} { return d.producer.Ready() }

// OnReplyReadable drains the reply queue and forwards every reply to the
// network. Readiness is re-checked after each reply so one arriving while the
// previous was handled is not missed. It reports whether any reply was taken.
func (d *Dispatcher) OnReplyReadable() bool {
	var drained bool
	for {
		b, ok := d.producer.TryRecvReply()
		if !ok {
			return drained
		}
		drained = true
		d.forward(b)
	}
}

func (d *Dispatcher) forward(b []byte) {
	if err := d.reply.Unmarshal(b); err != nil {
		d.metrics.BadReplies.Inc()
		d.log.Warn("dropping undecodable reply", zap.Error(err), zap.Int("size", len(b)))
		return
	}
	err := d.network.SendReply(d.reply.Handle, d.reply.Token, d.reply.Payload)
	switch {
	case err == nil:
		d.metrics.RepliesForwarded.Inc()
	case errors.Is(err, ErrUnknownHandle):
		d.metrics.LateReplies.Inc()
		d.log.Debug("late reply",
			zap.Uint64("handle", d.reply.Handle),
			zap.Int32("token", d.reply.Token),
		)
	default:
		d.log.Warn("forwarding reply",
			zap.Uint64("handle", d.reply.Handle),
			zap.Int32("token", d.reply.Token),
			zap.Error(err),
		)
	}
}
