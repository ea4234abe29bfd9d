package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"

	screenerrors "github.com/spigell/screener/internal/errors"
	"github.com/spigell/screener/internal/metrics"
	"github.com/spigell/screener/internal/retry"
	"github.com/spigell/screener/internal/screening"
)

// Handler executes screening tasks. *screening.Orchestrator implements it.
type Handler interface {
	HandleJobTask(ctx context.Context, task screening.JobTask) (*screening.RunSummary, error)
	HandleApplicationTask(ctx context.Context, task screening.ApplicationTask) (*screening.Outcome, error)
	HandleEmbedTask(ctx context.Context, task screening.EmbedTask) error
}

type jetStreamSubscriber interface {
	QueueSubscribe(subj, queue string, cb nats.MsgHandler, opts ...nats.SubOpt) (*nats.Subscription, error)
}

// Consumer pulls tasks from the stream with one durable queue consumer per
// subject.
type Consumer struct {
	js      jetStreamSubscriber
	handler Handler
	cfg     Config
	backoff retry.Policy
	logger  *zap.Logger
	subs    []*nats.Subscription
}

func NewConsumer(js nats.JetStreamContext, handler Handler, cfg Config, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Consumer{
		js:      js,
		handler: handler,
		cfg:     cfg,
		backoff: retry.Policy{BaseDelay: cfg.BackoffBase, MaxDelay: cfg.BackoffMax},
		logger:  logger,
	}
}

// RegisterSubscriptions subscribes to every screening subject and
// unsubscribes when the application stops.
func (c *Consumer) RegisterSubscriptions(lc fx.Lifecycle) error {
	handlers := map[string]func(context.Context, []byte) error{
		SubjectJob:         c.handleJob,
		SubjectApplication: c.handleApplication,
		SubjectEmbed:       c.handleEmbed,
	}

	for _, subject := range []string{SubjectJob, SubjectApplication, SubjectEmbed} {
		handle := handlers[subject]
		sub, err := c.js.QueueSubscribe(subject, c.cfg.Queue,
			func(msg *nats.Msg) { c.dispatch(msg, handle) },
			nats.Durable(durableName(c.cfg.Queue, subject)),
			nats.ManualAck(),
			nats.AckExplicit(),
			nats.MaxDeliver(c.cfg.MaxDeliver),
			nats.AckWait(c.cfg.AckWait),
			nats.MaxAckPending(c.cfg.MaxAckPending),
		)
		if err != nil {
			c.unsubscribe()
			return fmt.Errorf("subscribe to %s: %w", subject, err)
		}
		c.subs = append(c.subs, sub)
	}

	c.logger.Info("registered nats subscriptions",
		zap.String("queue", c.cfg.Queue),
		zap.Int("max_deliver", c.cfg.MaxDeliver),
	)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			c.unsubscribe()
			return nil
		},
	})
	return nil
}

func (c *Consumer) unsubscribe() {
	for _, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("drain subscription", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	c.subs = nil
}

func (c *Consumer) dispatch(msg *nats.Msg, handle func(context.Context, []byte) error) {
	ctx, span := tracer.Start(context.Background(), "queue.Handle")
	defer span.End()

	var delivered uint64 = 1
	if meta, err := msg.Metadata(); err == nil {
		delivered = meta.NumDelivered
	}

	err := handle(ctx, msg.Data)
	act, delay := decide(err, delivered, c.cfg.MaxDeliver, c.backoff)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	log := c.logger.With(
		zap.String("subject", msg.Subject),
		zap.Uint64("delivered", delivered),
		zap.String("outcome", act.String()),
	)

	var ackErr error
	switch act {
	case actionAck:
		ackErr = msg.Ack()
	case actionNak:
		log.Warn("task failed, redelivering", zap.Duration("delay", delay), zap.Error(err))
		ackErr = msg.NakWithDelay(delay)
	case actionTerm:
		log.Error("task failed permanently", zap.Error(err))
		ackErr = msg.Term()
	}
	if ackErr != nil {
		log.Warn("failed to acknowledge message", zap.Error(ackErr))
	}
	metrics.TasksTotal.WithLabelValues(msg.Subject, act.String()).Inc()
}

func (c *Consumer) handleJob(ctx context.Context, data []byte) error {
	var task screening.JobTask
	if err := decode(data, &task); err != nil {
		return err
	}
	_, err := c.handler.HandleJobTask(ctx, task)
	return err
}

func (c *Consumer) handleApplication(ctx context.Context, data []byte) error {
	var task screening.ApplicationTask
	if err := decode(data, &task); err != nil {
		return err
	}
	_, err := c.handler.HandleApplicationTask(ctx, task)
	return err
}

func (c *Consumer) handleEmbed(ctx context.Context, data []byte) error {
	var task screening.EmbedTask
	if err := decode(data, &task); err != nil {
		return err
	}
	return c.handler.HandleEmbedTask(ctx, task)
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return screenerrors.InvalidInput("decode task", err)
	}
	return nil
}

type action int

const (
	actionAck action = iota
	actionNak
	actionTerm
)

func (a action) String() string {
	switch a {
	case actionAck:
		return "ack"
	case actionNak:
		return "nak"
	default:
		return "term"
	}
}

// decide maps a handler result onto an acknowledgement. Permanent errors and
// the last allowed delivery are terminated; everything else is redelivered
// after an exponential delay.
func decide(err error, delivered uint64, maxDeliver int, backoff retry.Policy) (action, time.Duration) {
	if err == nil {
		return actionAck, 0
	}
	if !screenerrors.IsRetriable(err) {
		return actionTerm, 0
	}
	if maxDeliver > 0 && delivered >= uint64(maxDeliver) {
		return actionTerm, 0
	}
	if delivered < 1 {
		delivered = 1
	}
	return actionNak, backoff.Backoff(int(delivered))
}

func durableName(queue, subject string) string {
	name := queue + "-" + subject
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		switch ch := name[i]; ch {
		case '.', '*', '>', ' ':
			out = append(out, '-')
		default:
			out = append(out, ch)
		}
	}
	return string(out)
}
