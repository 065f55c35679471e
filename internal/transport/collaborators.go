package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/intake-engine/internal/model"
	"github.com/capitalize-ai/intake-engine/pkg/logger"
)

// Collaborators publishes engine side effects to JetStream: approval
// requests, completion metric events, and unrecognized-turn records.
// Everything except RequestApproval is fire-and-forget.
type Collaborators struct {
	client *Client
	logger *logger.Logger
}

// NewCollaborators creates the NATS-backed collaborator set.
func NewCollaborators(client *Client, log *logger.Logger) *Collaborators {
	return &Collaborators{client: client, logger: log}
}

// RequestApproval publishes the completed intake to the approval workflow
// and returns the work item ID assigned to it.
func (c *Collaborators) RequestApproval(ctx context.Context, req model.ApprovalRequest) (string, error) {
	workItemID := uuid.Must(uuid.NewV7()).String()

	payload := struct {
		WorkItemID string `json:"work_item_id"`
		model.ApprovalRequest
	}{WorkItemID: workItemID, ApprovalRequest: req}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal approval request: %w", err)
	}
	if _, err := c.client.JetStream().Publish(ctx, SubjectApproval, data); err != nil {
		return "", fmt.Errorf("failed to publish approval request: %w", err)
	}
	return workItemID, nil
}

// EmitCompletion publishes a terminal-transition metric event.
func (c *Collaborators) EmitCompletion(ctx context.Context, m model.CompletionMetric) {
	data, err := json.Marshal(m)
	if err != nil {
		c.logger.Warn("failed to marshal completion event", zap.Error(err))
		return
	}
	if _, err := c.client.JetStream().Publish(ctx, SubjectCompletion, data); err != nil {
		c.logger.Warn("failed to publish completion event", zap.Error(err))
	}
}

// LogUnrecognizedTurn publishes a zero-field turn record to the side log.
func (c *Collaborators) LogUnrecognizedTurn(ctx context.Context, t model.UnrecognizedTurn) {
	data, err := json.Marshal(t)
	if err != nil {
		c.logger.Warn("failed to marshal unrecognized turn", zap.Error(err))
		return
	}
	if _, err := c.client.JetStream().Publish(ctx, SubjectUnrecognized, data); err != nil {
		c.logger.Warn("failed to publish unrecognized turn", zap.Error(err))
	}
}

// AlertOperators pushes an operator alert over core NATS. Alerts are
// best-effort; a failed alert is logged and dropped.
func (c *Collaborators) AlertOperators(ctx context.Context, message string) {
	data, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return
	}
	if err := c.client.Conn().Publish("intake.alerts", data); err != nil {
		c.logger.Error("failed to publish operator alert", zap.Error(err), zap.String("alert", message))
	}
}

// OutboundPublisher delivers replies to the channel adapters over JetStream.
type OutboundPublisher struct {
	client *Client
	logger *logger.Logger
}

// NewOutboundPublisher creates a publisher for outbound messages.
func NewOutboundPublisher(client *Client, log *logger.Logger) *OutboundPublisher {
	return &OutboundPublisher{client: client, logger: log}
}

// Publish sends one outbound message on the channel's outbound subject.
func (p *OutboundPublisher) Publish(ctx context.Context, msg model.OutboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal outbound message: %w", err)
	}
	if _, err := p.client.JetStream().Publish(ctx, OutboundSubject(msg.Channel), data); err != nil {
		return fmt.Errorf("failed to publish outbound message: %w", err)
	}
	return nil
}
