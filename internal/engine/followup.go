package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/intake-engine/internal/extract"
	"github.com/capitalize-ai/intake-engine/internal/intent"
	"github.com/capitalize-ai/intake-engine/internal/model"
	"github.com/capitalize-ai/intake-engine/pkg/logger"
	"github.com/capitalize-ai/intake-engine/pkg/metrics"
)

// beginFollowUps runs once the last required field is filled: classify the
// request, generate the tailored question list, and either start stepping
// through it or go straight to confirmation when the list comes back empty.
func (e *Engine) beginFollowUps(ctx context.Context, conv *model.Conversation, in model.InboundMessage, log *logger.Logger) []model.OutboundMessage {
	types, class, err := e.extractor.ClassifyTypes(ctx, conv.Data)
	if err != nil {
		log.Warn("request-type classification failed", zap.Error(err))
		types = []string{"general"}
		class = model.ClassificationUndetermined
	}
	conv.Classification = class
	conv.Data.RequestTypes = model.JoinTypes(types)

	questions, err := e.extractor.GenerateFollowUps(ctx, types, conv.Data)
	if err != nil {
		// The orchestrator works without a list; an empty one means
		// straight to confirmation.
		log.Warn("follow-up generation failed", zap.Error(err))
		questions = nil
	}
	if questions == nil {
		questions = []model.FollowUpQuestion{}
	}
	conv.Data.FollowUps = questions

	out := []model.OutboundMessage{model.Reply(in, msgCoreDone)}
	return append(out, e.askFollowUpAt(conv, in, 0)...)
}

// handleFollowUpReply interprets one reply against the current question,
// with lookahead against the upcoming ones so bundled answers skip them.
func (e *Engine) handleFollowUpReply(ctx context.Context, conv *model.Conversation, in model.InboundMessage, log *logger.Logger) []model.OutboundMessage {
	q, ok := currentFollowUp(conv)
	if !ok {
		return e.toConfirming(conv, in)
	}

	upcoming := conv.Data.FollowUps[conv.Step.Index+1:]
	ex, err := e.extractor.Interpret(ctx, in.Text, q, upcoming, conv.Data)
	if err != nil {
		log.Error("follow-up interpretation failed", zap.Error(err))
		return []model.OutboundMessage{model.Reply(in, msgTrouble)}
	}

	applied := extract.Merge(ex, &conv.Data, false)

	var out []model.OutboundMessage
	if ack := acknowledgment(ex, in.Text); ack != "" {
		out = append(out, model.Reply(in, ack))
	}

	if applied == 0 {
		usedFallback := false
		if intent.IsSubstantive(in.Text) {
			usedFallback = extract.RawFallback(&conv.Data, q.FieldKey, in.Text)
			if usedFallback {
				metrics.RawFallbackTotal.Inc()
			}
		}
		e.logZeroFieldTurn(ctx, conv, in, ex.Confidence, usedFallback)
	}

	// Re-asks the current question when it is still unanswered, otherwise
	// moves past it and anything the lookahead already covered.
	return append(out, e.askFollowUpAt(conv, in, conv.Step.Index)...)
}

// askFollowUpAt asks the first pending question at or after index from,
// or transitions to confirmation when none remain.
func (e *Engine) askFollowUpAt(conv *model.Conversation, in model.InboundMessage, from int) []model.OutboundMessage {
	idx := nextPendingFollowUp(conv, from)
	if idx < 0 {
		return e.toConfirming(conv, in)
	}
	conv.Step = model.FollowUpStep(idx)
	return []model.OutboundMessage{model.Reply(in, conv.Data.FollowUps[idx].Question)}
}

// askNext asks the next unanswered required field, or starts the follow-up
// phase when none remain. Used when a skip or discuss lands while a field
// question is on the table.
func (e *Engine) askNext(ctx context.Context, conv *model.Conversation, in model.InboundMessage, log *logger.Logger) []model.OutboundMessage {
	next := conv.Data.NextUnansweredField()
	if next == "" {
		return e.beginFollowUps(ctx, conv, in, log)
	}
	conv.Step = model.FieldStep(next)
	return []model.OutboundMessage{model.Reply(in, questionFor(next, conv.Data))}
}

// toConfirming renders the full summary and waits for the verdict.
func (e *Engine) toConfirming(conv *model.Conversation, in model.InboundMessage) []model.OutboundMessage {
	conv.Status = model.StatusConfirming
	conv.Step = model.NoStep
	return []model.OutboundMessage{
		model.Reply(in, renderSummary(conv)),
		model.Reply(in, msgConfirmPrompt),
	}
}

// currentFollowUp returns the question the step index points at.
func currentFollowUp(conv *model.Conversation) (model.FollowUpQuestion, bool) {
	if conv.Step.Kind != model.StepFollowUp {
		return model.FollowUpQuestion{}, false
	}
	qs := conv.Data.FollowUps
	if conv.Step.Index < 0 || conv.Step.Index >= len(qs) {
		return model.FollowUpQuestion{}, false
	}
	return qs[conv.Step.Index], true
}

// nextPendingFollowUp finds the first question at or after from that has
// neither an answer nor a discussion flag, returning -1 when the list is
// exhausted.
func nextPendingFollowUp(conv *model.Conversation, from int) int {
	qs := conv.Data.FollowUps
	for i := from; i < len(qs); i++ {
		if i < 0 {
			continue
		}
		if _, answered := conv.Data.AdditionalDetails[qs[i].FieldKey]; answered {
			continue
		}
		if flagged(conv.Data.DiscussionFlags, qs[i].FieldKey) {
			continue
		}
		return i
	}
	return -1
}

func flagged(flags []string, key string) bool {
	for _, f := range flags {
		if f == key {
			return true
		}
	}
	return false
}
