// Package queue carries screening tasks over NATS JetStream.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	SubjectJob         = "screening.job"
	SubjectApplication = "screening.application"
	SubjectEmbed       = "screening.embed"

	defaultStream     = "SCREENING"
	defaultQueue      = "screener-workers"
	defaultMaxDeliver = 5
	defaultAckWait    = 5 * time.Minute
	defaultBackoff    = 10 * time.Second
	defaultMaxBackoff = 10 * time.Minute
	defaultAckPending = 16
)

// Config describes the NATS connection and the JetStream consumers.
type Config struct {
	URL            string        `mapstructure:"url"`
	Stream         string        `mapstructure:"stream"`
	Queue          string        `mapstructure:"queue"`
	MaxDeliver     int           `mapstructure:"max-deliver"`
	MaxAckPending  int           `mapstructure:"max-ack-pending"`
	AckWait        time.Duration `mapstructure:"ack-wait"`
	BackoffBase    time.Duration `mapstructure:"backoff-base"`
	BackoffMax     time.Duration `mapstructure:"backoff-max"`
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"`
}

func (c Config) Enabled() bool {
	return c.URL != ""
}

func (c Config) withDefaults() Config {
	if c.Stream == "" {
		c.Stream = defaultStream
	}
	if c.Queue == "" {
		c.Queue = defaultQueue
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = defaultMaxDeliver
	}
	if c.MaxAckPending <= 0 {
		c.MaxAckPending = defaultAckPending
	}
	if c.AckWait <= 0 {
		c.AckWait = defaultAckWait
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaultBackoff
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = defaultMaxBackoff
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	return c
}

// Connect opens a NATS connection that keeps reconnecting in the background.
func Connect(cfg Config, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	opts := []nats.Option{
		nats.Name("screener"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

// EnsureStream creates the work-queue stream holding all screening subjects
// if it does not exist yet.
func EnsureStream(js nats.JetStreamManager, cfg Config) error {
	cfg = cfg.withDefaults()

	_, err := js.StreamInfo(cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", cfg.Stream, err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{SubjectJob, SubjectApplication, SubjectEmbed},
		Retention:  nats.WorkQueuePolicy,
		Storage:    nats.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", cfg.Stream, err)
	}
	return nil
}
