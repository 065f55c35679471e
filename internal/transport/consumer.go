package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/intake-engine/internal/engine"
	"github.com/capitalize-ai/intake-engine/internal/model"
	"github.com/capitalize-ai/intake-engine/pkg/logger"
)

// Consumer pulls inbound user messages off the intake stream, runs each
// through the engine, and publishes the replies.
type Consumer struct {
	client *Client
	engine *engine.Engine
	pub    *OutboundPublisher
	logger *logger.Logger
}

// NewConsumer creates the inbound message consumer.
func NewConsumer(client *Client, eng *engine.Engine, pub *OutboundPublisher, log *logger.Logger) *Consumer {
	return &Consumer{client: client, engine: eng, pub: pub, logger: log}
}

// Start creates the durable consumer and begins consuming. It returns once
// consumption is running; stop by cancelling ctx.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.client.JetStream().CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		FilterSubject: fmt.Sprintf("%s.>", SubjectInboundPrefix),
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    3,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create inbound consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		c.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	go func() {
		<-ctx.Done()
		cc.Stop()
	}()

	c.logger.Info("inbound consumer started", zap.String("stream", StreamName), zap.String("durable", ConsumerName))
	return nil
}

// handle processes a single inbound message. A panic in one turn must not
// take down the consumer loop.
func (c *Consumer) handle(ctx context.Context, msg jetstream.Msg) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic handling inbound message", zap.Any("panic", r), zap.String("subject", msg.Subject()))
			_ = msg.Term()
		}
	}()

	var in model.InboundMessage
	if err := json.Unmarshal(msg.Data(), &in); err != nil {
		c.logger.Warn("dropping undecodable inbound message", zap.Error(err), zap.String("subject", msg.Subject()))
		_ = msg.Term()
		return
	}

	replies, err := c.engine.HandleMessage(ctx, in)
	if err != nil {
		// Redeliver; the dedup claim makes a retried turn safe to skip
		// if another instance already won it.
		c.logger.Error("failed to handle inbound message", zap.Error(err), zap.String("thread_id", in.ThreadID))
		_ = msg.Nak()
		return
	}

	for _, reply := range replies {
		if err := c.pub.Publish(ctx, reply); err != nil {
			c.logger.Error("failed to publish reply", zap.Error(err), zap.String("thread_id", reply.ThreadID))
		}
	}

	if err := msg.Ack(); err != nil {
		c.logger.Warn("failed to ack inbound message", zap.Error(err))
	}
}
