package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	screenerrors "github.com/spigell/screener/internal/errors"
	"github.com/spigell/screener/internal/screening"
	"github.com/spigell/screener/internal/telemetry"
)

var tracer = telemetry.GetTracer("github.com/spigell/screener/internal/queue")

type jetStreamPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher puts screening tasks on the stream. Message ids let JetStream
// drop duplicates published within the stream's duplicate window.
type Publisher struct {
	js     jetStreamPublisher
	logger *zap.Logger
}

func NewPublisher(js nats.JetStreamContext, logger *zap.Logger) *Publisher {
	return newPublisher(js, logger)
}

func newPublisher(js jetStreamPublisher, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{js: js, logger: logger}
}

var _ screening.Dispatcher = (*Publisher)(nil)

func (p *Publisher) DispatchJob(ctx context.Context, task screening.JobTask) error {
	return p.publish(ctx, SubjectJob, fmt.Sprintf("%s:job:%d", task.RunID, task.JobID), task)
}

func (p *Publisher) DispatchApplications(ctx context.Context, tasks []screening.ApplicationTask) error {
	for _, task := range tasks {
		id := fmt.Sprintf("%s:application:%d", task.RunID, task.ApplicationID)
		if err := p.publish(ctx, SubjectApplication, id, task); err != nil {
			return err
		}
	}
	return nil
}

// DispatchEmbed queues an embedding task. Forced tasks always get a fresh
// message id.
func (p *Publisher) DispatchEmbed(ctx context.Context, task screening.EmbedTask) error {
	id := fmt.Sprintf("embed:%s:%d", task.Kind, task.ID)
	if task.Force {
		id += ":" + uuid.NewString()
	}
	return p.publish(ctx, SubjectEmbed, id, task)
}

func (p *Publisher) publish(ctx context.Context, subject, msgID string, payload any) error {
	ctx, span := tracer.Start(ctx, "queue.Publish")
	defer span.End()

	data, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		return screenerrors.Internal("marshal task", err)
	}

	span.SetAttributes(
		telemetry.String("messaging.destination", subject),
		telemetry.String("messaging.message_id", msgID),
	)

	ack, err := p.js.Publish(subject, data, nats.MsgId(msgID), nats.Context(ctx))
	if err != nil {
		span.RecordError(err)
		p.logger.Error("failed to publish task",
			zap.String("subject", subject),
			zap.String("msg_id", msgID),
			zap.Error(err),
		)
		return screenerrors.Unavailable("publish to nats", err)
	}

	if ack != nil && ack.Duplicate {
		p.logger.Debug("task already queued", zap.String("subject", subject), zap.String("msg_id", msgID))
		return nil
	}
	p.logger.Debug("task queued", zap.String("subject", subject), zap.String("msg_id", msgID))
	return nil
}
