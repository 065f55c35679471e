package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the name of the intake stream.
	StreamName = "INTAKE"

	// Subjects carried by the intake stream.
	SubjectInboundPrefix = "intake.in"
	SubjectOutbound      = "intake.out"
	SubjectUnrecognized  = "intake.sidelog.unrecognized"
	SubjectApproval      = "intake.approval.requested"
	SubjectCompletion    = "intake.metrics.completion"

	// ConsumerName is the durable consumer for inbound messages.
	ConsumerName = "intake-engine"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the intake stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	// Check if stream exists
	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil // Stream already exists
	}

	// Create stream
	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name: StreamName,
		Subjects: []string{
			fmt.Sprintf("%s.>", SubjectInboundPrefix),
			fmt.Sprintf("%s.>", SubjectOutbound),
			SubjectUnrecognized,
			SubjectApproval,
			SubjectCompletion,
		},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Intake conversation messages and downstream events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// InboundSubject returns the subject an inbound message arrives on.
func InboundSubject(channel string) string {
	return fmt.Sprintf("%s.%s", SubjectInboundPrefix, channel)
}

// OutboundSubject returns the subject a reply is published on.
func OutboundSubject(channel string) string {
	return fmt.Sprintf("%s.%s", SubjectOutbound, channel)
}
