// Package worker executes snapshot requests taken from the task queue and
// sends encoded replies back.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/steve-o/hitsuji/analytic"
	"github.com/steve-o/hitsuji/message"
	"github.com/steve-o/hitsuji/metrics"
	"github.com/steve-o/hitsuji/omm"
	"github.com/steve-o/hitsuji/permdata"
	"github.com/steve-o/hitsuji/sbe"
	"github.com/steve-o/hitsuji/transport"
)

// ErrAbort is returned by OnTask for the abort control message.
var ErrAbort = errors.New("worker: abort received")

// Inventory answers whether a symbol is served.
type Inventory interface {
	Exists(symbol string) bool
}

// Deps are the read-only collaborators shared by all workers.
type Deps struct {
	Inventory   Inventory
	Source      analytic.Source
	Permissions permdata.Store
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

type Worker struct {
	id        int
	log       *zap.Logger
	consumer  transport.Consumer
	inventory Inventory
	perms     permdata.Store
	metrics   *metrics.Metrics
	analytics []analytic.Analytic
	now       func() time.Time

	state   atomic.Int32
	req     message.Request
	payload []byte
}

func New(id int, consumer transport.Consumer, deps Deps, log *zap.Logger) (*Worker, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	if deps.Permissions == nil {
		deps.Permissions = permdata.None{}
	}
	w := &Worker{
		id:        id,
		log:       log.Named("worker").With(zap.Int("worker-id", id)),
		consumer:  consumer,
		inventory: deps.Inventory,
		perms:     deps.Permissions,
		metrics:   deps.Metrics,
		now:       deps.Now,
		payload:   make([]byte, sbe.MaxVarDataLength),
	}
	for _, k := range analytic.Kinds() {
		a, err := analytic.New(k, deps.Source, deps.Now)
		if err != nil {
			return nil, fmt.Errorf("analytic %s: %w", k, err)
		}
		w.analytics = append(w.analytics, a)
	}
	return w, nil
}

func (w *Worker) ID() int { return w.id }

func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) { w.state.Store(int32(s)) }

// Run processes requests until an abort message arrives, ctx is done or the
// transport fails. The consumer is closed on return so that requests are
// routed to the remaining workers.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("accepting requests")
	defer w.log.Info("muted")
	defer w.setState(Terminated)
	defer func() {
		if err := w.consumer.Close(); err != nil {
			w.log.Warn("closing consumer", zap.Error(err))
		}
	}()

	for {
		w.setState(Idle)
		b, err := w.consumer.RecvRequest(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving request: %w", err)
		}
		err = w.OnTask(ctx, b)
		if errors.Is(err, ErrAbort) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// OnTask handles one encoded request. Only ErrAbort and transport failures
// are returned; everything else is answered or logged.
func (w *Worker) OnTask(ctx context.Context, b []byte) error {
	w.setState(Decoding)
	if err := w.req.Unmarshal(b); err != nil {
		w.log.Warn("discarding undecodable request", zap.Error(err), zap.Int("size", len(b)))
		w.metrics.Tasks.WithLabelValues(metrics.OutcomeUndecodable).Inc()
		return nil
	}
	if w.req.Flags.Abort() {
		w.log.Info("abort flag received")
		return ErrAbort
	}

	w.metrics.BusyWorkers.Inc()
	defer w.metrics.BusyWorkers.Dec()
	start := w.now()

	n, outcome := w.process(ctx)
	if n < 0 {
		w.metrics.Tasks.WithLabelValues(metrics.OutcomeAbandoned).Inc()
		return nil
	}

	w.setState(Sending)
	if err := w.sendReply(w.payload[:n]); err != nil {
		if errors.Is(err, errUnsent) {
			w.log.Warn("abandoning task", zap.ByteString("item", w.req.ItemName), zap.Error(err))
			w.metrics.Tasks.WithLabelValues(metrics.OutcomeAbandoned).Inc()
			return nil
		}
		return err
	}

	took := w.now().Sub(start)
	w.metrics.Tasks.WithLabelValues(outcome).Inc()
	w.metrics.TaskDuration.Observe(took.Seconds())
	w.log.Debug("task done",
		zap.ByteString("item", w.req.ItemName),
		zap.Int32("token", w.req.Token),
		zap.String("outcome", outcome),
		zap.Duration("took", took),
	)
	return nil
}

// process writes the reply payload and returns its length, or -1 when
// nothing could be encoded.
func (w *Worker) process(ctx context.Context) (int, string) {
	req := &w.req

	w.setState(Validating)
	item, ok := parseItem(req.ItemName)
	if !ok {
		w.log.Info("closing invalid request", zap.ByteString("item", req.ItemName))
		return w.close(omm.StreamClosed, omm.CodeNotFound, omm.TextMalformed), metrics.OutcomeMalformed
	}
	if !w.inventory.Exists(item.symbol) {
		w.log.Info("closing request for unknown item", zap.String("symbol", item.symbol))
		return w.close(omm.StreamClosed, omm.CodeNotFound, omm.TextNotFound), metrics.OutcomeNotFound
	}
	a := w.analytics[item.kind]
	a.Reset()
	if item.hasQuery {
		if err := a.ParseParams(item.query); err != nil {
			w.log.Info("closing request with invalid parameters", zap.ByteString("item", req.ItemName), zap.Error(err))
			return w.close(omm.StreamClosed, omm.CodeNotFound, omm.TextMalformed), metrics.OutcomeMalformed
		}
	}

	lock, err := w.perms.Lookup(ctx, item.symbol)
	switch {
	case err == nil:
	case errors.Is(err, permdata.ErrNotFound):
		w.log.Debug("no permission data", zap.String("symbol", item.symbol))
		lock = nil
	default:
		w.metrics.PermissionFailures.Inc()
		w.log.Warn("permission lookup failed", zap.String("symbol", item.symbol), zap.Error(err))
		lock = nil
	}

	w.setState(Computing)
	if err := a.Calculate(item.symbol); err != nil {
		w.log.Error("analytic failed", zap.String("symbol", item.symbol), zap.Stringer("analytic", item.kind), zap.Error(err))
		return w.close(omm.StreamClosedRecover, omm.CodeError, omm.TextInternal), metrics.OutcomeInternal
	}

	w.setState(Encoding)
	n, err := a.WriteResult(w.payload, analytic.Item{
		RWFVersion: req.RWFVersion,
		Token:      req.Token,
		ServiceID:  req.ServiceID,
		Name:       req.ItemName,
		PermData:   lock,
	})
	if err != nil {
		w.log.Error("encoding refresh failed", zap.ByteString("item", req.ItemName), zap.Error(err))
		return w.close(omm.StreamClosedRecover, omm.CodeError, omm.TextInternal), metrics.OutcomeInternal
	}
	return n, metrics.OutcomeOK
}

func (w *Worker) close(state omm.StreamState, code omm.StatusCode, text string) int {
	w.setState(Encoding)
	req := &w.req
	n, err := omm.WriteClose(
		w.payload,
		req.RWFVersion,
		req.Token,
		req.ServiceID,
		req.ItemName,
		req.Flags.UseAttribInfoInUpdates(),
		state, code, text,
	)
	if err != nil {
		w.log.Error("encoding close failed, abandoning task",
			zap.ByteString("item", req.ItemName),
			zap.Stringer("state", state),
			zap.Error(err),
		)
		return -1
	}
	return n
}

var errUnsent = errors.New("reply not sent")

// sendReply hands an exactly sized reply message to the transport. Failures
// that only lose this reply wrap errUnsent.
func (w *Worker) sendReply(payload []byte) error {
	reply := message.Reply{Handle: w.req.Handle, Token: w.req.Token, Payload: payload}
	b, err := reply.Marshal()
	if err != nil {
		return fmt.Errorf("%w: encoding: %w", errUnsent, err)
	}
	err = w.consumer.SendReply(b)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transport.ErrQueueFull):
		return fmt.Errorf("%w: %w", errUnsent, err)
	default:
		return fmt.Errorf("sending reply: %w", err)
	}
}
