// Package engine implements the conversational intake state machine: it
// drives each inbound message through intent classification, field
// extraction and merge, the follow-up orchestrator, and the confirmation
// loop, persisting the conversation row exactly once per turn.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/intake-engine/internal/extract"
	"github.com/capitalize-ai/intake-engine/internal/intent"
	"github.com/capitalize-ai/intake-engine/internal/model"
	"github.com/capitalize-ai/intake-engine/internal/store"
	"github.com/capitalize-ai/intake-engine/pkg/logger"
	"github.com/capitalize-ai/intake-engine/pkg/metrics"
)

// Collaborators is the outbound port to external systems: the approval
// workflow, the metrics sink, the unrecognized-turn side log, and the
// internal operator channel. Implementations must not block the turn;
// failures are the implementation's problem to log.
type Collaborators interface {
	// RequestApproval hands the collected data to the approval workflow
	// and returns the created work item id.
	RequestApproval(ctx context.Context, req model.ApprovalRequest) (string, error)

	// EmitCompletion publishes a terminal-transition metric event.
	EmitCompletion(ctx context.Context, m model.CompletionMetric)

	// LogUnrecognizedTurn publishes a zero-field turn record.
	LogUnrecognizedTurn(ctx context.Context, t model.UnrecognizedTurn)

	// AlertOperators surfaces a failure a human needs to remediate.
	AlertOperators(ctx context.Context, message string)
}

// Engine is the conversation state machine.
type Engine struct {
	store         store.Store
	extractor     extract.Service
	collaborators Collaborators
	logger        *logger.Logger
	window        time.Duration
	now           func() time.Time
}

// New creates an engine. window is the idle timeout granted after every
// user turn.
func New(st store.Store, ex extract.Service, collab Collaborators, window time.Duration, log *logger.Logger) *Engine {
	return &Engine{
		store:         st,
		extractor:     ex,
		collaborators: collab,
		logger:        log,
		window:        window,
		now:           time.Now,
	}
}

// HandleMessage processes one inbound message as an independent unit of
// work: claim, load-or-create, classify, phase logic, persist. It returns
// the replies to deliver. A persistence failure propagates; the caller must
// fail loudly rather than silently drop the user's answer.
func (e *Engine) HandleMessage(ctx context.Context, in model.InboundMessage) ([]model.OutboundMessage, error) {
	if in.MessageID != "" {
		claimed, err := e.store.ClaimMessage(ctx, in.MessageID)
		if err != nil {
			// Can't know whether another instance has it; processing
			// beats dropping the user's answer.
			e.logger.Warn("message claim failed", zap.Error(err), zap.String("message_id", in.MessageID))
		} else if !claimed {
			return nil, nil
		}
	}

	now := e.now()

	conv, err := e.store.ActiveByThread(ctx, in.Channel, in.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	isNew := conv == nil
	if isNew {
		conv = e.newConversation(in, now)
		other, lookupErr := e.store.ActiveByUser(ctx, in.UserID)
		if lookupErr != nil {
			e.logger.Warn("duplicate-conversation lookup failed", zap.Error(lookupErr))
		} else if other != nil && !(other.Channel == in.Channel && other.ThreadID == in.ThreadID) {
			conv.DupCheckPending = true
		}
	}

	log := e.logger.WithConversation(conv.ID, conv.UserID)

	out := e.step(ctx, conv, in, isNew, now, log)

	if !conv.Status.Terminal() {
		conv.Touch(now, e.window)
	} else {
		conv.UpdatedAt = now
	}

	if err := e.store.Save(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to persist conversation: %w", err)
	}
	return out, nil
}

func (e *Engine) newConversation(in model.InboundMessage, now time.Time) *model.Conversation {
	data := model.NewCollectedData()
	data.RequesterName = in.UserName
	return &model.Conversation{
		ID:             uuid.Must(uuid.NewV7()).String(),
		UserID:         in.UserID,
		UserName:       in.UserName,
		Channel:        in.Channel,
		ThreadID:       in.ThreadID,
		Status:         model.StatusGathering,
		Step:           model.FieldStep(model.RequiredFields[0]),
		Data:           data,
		Classification: model.ClassificationUndetermined,
		ExpiresAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (e *Engine) step(ctx context.Context, conv *model.Conversation, in model.InboundMessage, isNew bool, now time.Time, log *logger.Logger) []model.OutboundMessage {
	if conv.DupCheckPending {
		return e.handleDupCheck(ctx, conv, in, isNew, now, log)
	}

	phase := phaseOf(conv, isNew)
	tag := intent.Classify(in.Text, phase)
	metrics.RecordTurn(phaseName(phase), string(tag))

	switch tag {
	case intent.Cancel:
		e.finalize(ctx, conv, model.StatusCancelled, model.StatusCancelled, now, log)
		return []model.OutboundMessage{model.Reply(in, msgCancelled)}

	case intent.Reset:
		conv.Data.Reset()
		conv.Classification = model.ClassificationUndetermined
		conv.WorkItemID = ""
		conv.Status = model.StatusGathering
		next := conv.Data.NextUnansweredField()
		conv.Step = model.FieldStep(next)
		return []model.OutboundMessage{
			model.Reply(in, msgReset),
			model.Reply(in, questionFor(next, conv.Data)),
		}

	case intent.Nudge:
		return e.handleNudge(conv, in)

	case intent.Confirm:
		if phase == intent.PhaseFollowUp {
			// Submit-as-is shortcut: stop asking, go to confirmation.
			return e.toConfirming(conv, in)
		}
		return e.submit(ctx, conv, in, now, log)

	case intent.Skip:
		if conv.Step.Kind == model.StepFollowUp {
			return e.askFollowUpAt(conv, in, conv.Step.Index+1)
		}
		return e.askNext(ctx, conv, in, log)

	case intent.Discuss:
		if conv.Step.Kind == model.StepFollowUp {
			if q, ok := currentFollowUp(conv); ok {
				conv.Data.FlagDiscussion(q.FieldKey)
			}
			return e.askFollowUpAt(conv, in, conv.Step.Index+1)
		}
		if conv.Step.Kind == model.StepField {
			conv.Data.FlagDiscussion(conv.Step.Field)
		}
		return e.askNext(ctx, conv, in, log)

	case intent.IDK:
		return e.handleIDK(ctx, conv, in, log)
	}

	switch conv.Status {
	case model.StatusGathering:
		if conv.Step.Kind == model.StepFollowUp {
			return e.handleFollowUpReply(ctx, conv, in, log)
		}
		return e.handleGathering(ctx, conv, in, isNew, now, log)
	case model.StatusConfirming:
		return e.handleConfirmEdit(ctx, conv, in, now, log)
	case model.StatusPendingApproval:
		return []model.OutboundMessage{model.Reply(in, msgAlreadySubmitted)}
	}
	return nil
}

// handleDupCheck runs the continue-there / start-fresh exchange before
// gathering begins. Controlling intents stay live inside it: cancel drops
// this conversation, and a whole-message reset is the start-fresh choice
// by another name.
func (e *Engine) handleDupCheck(ctx context.Context, conv *model.Conversation, in model.InboundMessage, isNew bool, now time.Time, log *logger.Logger) []model.OutboundMessage {
	if isNew {
		return []model.OutboundMessage{model.Reply(in, msgDupCheck)}
	}

	tag := intent.Classify(in.Text, intent.PhaseGathering)
	metrics.RecordTurn("dup_check", string(tag))
	switch tag {
	case intent.Cancel:
		e.finalize(ctx, conv, model.StatusCancelled, model.StatusCancelled, now, log)
		return []model.OutboundMessage{model.Reply(in, msgCancelled)}
	case intent.Reset:
		return e.startFresh(ctx, conv, in, now, log)
	}

	switch classifyDupChoice(in.Text) {
	case dupChoiceFresh:
		return e.startFresh(ctx, conv, in, now, log)

	case dupChoiceContinue:
		conv.DupCheckPending = false
		e.finalize(ctx, conv, model.StatusWithdrawn, model.StatusWithdrawn, now, log)
		return []model.OutboundMessage{model.Reply(in, msgContinueThere)}
	}

	return []model.OutboundMessage{model.Reply(in, msgDupCheck)}
}

// startFresh resolves the duplicate check in favor of this conversation:
// the prior one is withdrawn and gathering begins here.
func (e *Engine) startFresh(ctx context.Context, conv *model.Conversation, in model.InboundMessage, now time.Time, log *logger.Logger) []model.OutboundMessage {
	if other, err := e.store.ActiveByUser(ctx, conv.UserID); err == nil && other != nil && other.ID != conv.ID {
		e.finalize(ctx, other, model.StatusWithdrawn, model.StatusWithdrawn, now, log)
		other.UpdatedAt = now
		if err := e.store.Save(ctx, other); err != nil {
			log.Error("failed to withdraw prior conversation", zap.Error(err))
		}
	}
	conv.DupCheckPending = false
	return []model.OutboundMessage{
		model.Reply(in, greeting(conv.Data.RequesterName)),
		model.Reply(in, questionFor(conv.Data.NextUnansweredField(), conv.Data)),
	}
}

// handleGathering runs one required-field turn: extract, merge, fall back,
// advance.
func (e *Engine) handleGathering(ctx context.Context, conv *model.Conversation, in model.InboundMessage, isNew bool, now time.Time, log *logger.Logger) []model.OutboundMessage {
	field := conv.Step.Field
	if field == "" {
		field = conv.Data.NextUnansweredField()
	}

	ex, err := e.extractor.General(ctx, in.Text, conv.Data, now, field)
	if err != nil {
		log.Error("general extraction failed", zap.Error(err))
		return []model.OutboundMessage{model.Reply(in, msgTrouble)}
	}

	applied := extract.Merge(ex, &conv.Data, false)

	var out []model.OutboundMessage
	if isNew {
		out = append(out, model.Reply(in, greeting(conv.Data.RequesterName)))
	}

	if ack := acknowledgment(ex, in.Text); ack != "" {
		out = append(out, model.Reply(in, ack))
	}

	if applied == 0 {
		usedFallback := false
		if intent.IsSubstantive(in.Text) {
			usedFallback = extract.RawFallback(&conv.Data, field, in.Text)
			if usedFallback {
				metrics.RawFallbackTotal.Inc()
			}
		}
		e.logZeroFieldTurn(ctx, conv, in, ex.Confidence, usedFallback)
	}

	next := conv.Data.NextUnansweredField()
	if next == "" {
		return append(out, e.beginFollowUps(ctx, conv, in, log)...)
	}

	conv.Step = model.FieldStep(next)
	return append(out, model.Reply(in, questionFor(next, conv.Data)))
}

// handleConfirmEdit treats any non-confirm substantive reply during
// confirmation as an edit: extraction runs in edit mode so populated fields
// may be replaced, then the summary is re-rendered.
func (e *Engine) handleConfirmEdit(ctx context.Context, conv *model.Conversation, in model.InboundMessage, now time.Time, log *logger.Logger) []model.OutboundMessage {
	ex, err := e.extractor.General(ctx, in.Text, conv.Data, now, "")
	if err != nil {
		log.Error("edit extraction failed", zap.Error(err))
		return []model.OutboundMessage{model.Reply(in, msgTrouble)}
	}

	applied := extract.Merge(ex, &conv.Data, true)
	if applied == 0 {
		e.logZeroFieldTurn(ctx, conv, in, ex.Confidence, false)
		return []model.OutboundMessage{
			model.Reply(in, msgEditNotUnderstood),
			model.Reply(in, renderSummary(conv)),
		}
	}

	return []model.OutboundMessage{
		model.Reply(in, msgUpdated),
		model.Reply(in, renderSummary(conv)),
	}
}

// submit creates the external work item (once) and moves the conversation
// to pending approval. A workflow failure is never surfaced to the
// requester; operators get the specifics.
func (e *Engine) submit(ctx context.Context, conv *model.Conversation, in model.InboundMessage, now time.Time, log *logger.Logger) []model.OutboundMessage {
	if conv.WorkItemID == "" {
		id, err := e.collaborators.RequestApproval(ctx, model.ApprovalRequest{
			ConversationID: conv.ID,
			UserID:         conv.UserID,
			UserName:       conv.UserName,
			Channel:        conv.Channel,
			ThreadID:       conv.ThreadID,
			DisplayName:    displayName(conv),
			Classification: conv.Classification,
			Data:           conv.Data,
			RequestedAt:    now,
		})
		if err != nil {
			log.Error("approval workflow failed", zap.Error(err))
			e.collaborators.AlertOperators(ctx, fmt.Sprintf(
				"work item creation failed for conversation %s (%s): %v", conv.ID, displayName(conv), err))
		} else {
			conv.WorkItemID = id
		}
	}

	conv.Status = model.StatusPendingApproval
	conv.Step = model.NoStep
	return []model.OutboundMessage{model.Reply(in, msgSubmitted)}
}

func (e *Engine) handleNudge(conv *model.Conversation, in model.InboundMessage) []model.OutboundMessage {
	out := []model.OutboundMessage{model.Reply(in, msgPickingBackUp)}
	switch {
	case conv.Status == model.StatusConfirming:
		out = append(out, model.Reply(in, renderSummary(conv)))
	case conv.Step.Kind == model.StepFollowUp:
		if q, ok := currentFollowUp(conv); ok {
			out = append(out, model.Reply(in, q.Question))
		}
	case conv.Step.Kind == model.StepField:
		out = append(out, model.Reply(in, questionFor(conv.Step.Field, conv.Data)))
	}
	return out
}

func (e *Engine) handleIDK(ctx context.Context, conv *model.Conversation, in model.InboundMessage, log *logger.Logger) []model.OutboundMessage {
	question := ""
	fallbackField := ""
	if q, ok := currentFollowUp(conv); ok {
		question = q.Question
	} else if conv.Step.Kind == model.StepField {
		question = questionFor(conv.Step.Field, conv.Data)
		fallbackField = conv.Step.Field
	}

	guidance, err := e.extractor.Guidance(ctx, question, conv.Data)
	if err != nil || guidance == "" {
		if err != nil {
			log.Warn("guidance generation failed", zap.Error(err))
		}
		guidance = staticGuidance(fallbackField)
	}

	out := []model.OutboundMessage{model.Reply(in, guidance)}
	if question != "" {
		out = append(out, model.Reply(in, question))
	}
	return out
}

// finalize marks a terminal transition and records the completion metric
// everywhere it goes: the durable store, the event stream, and Prometheus.
func (e *Engine) finalize(ctx context.Context, conv *model.Conversation, status, finalStatus model.Status, now time.Time, log *logger.Logger) {
	conv.Status = status
	conv.Step = model.NoStep

	m := model.CompletionMetric{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		UserID:         conv.UserID,
		FinalStatus:    finalStatus,
		Duration:       now.Sub(conv.CreatedAt),
		Classification: conv.Classification,
		RecordedAt:     now,
	}
	if err := e.store.RecordCompletion(ctx, m); err != nil {
		log.Error("failed to record completion metric", zap.Error(err))
	}
	e.collaborators.EmitCompletion(ctx, m)
	metrics.RecordCompletion(string(finalStatus), string(conv.Classification))
}

// logZeroFieldTurn records a turn that extracted nothing. Both sinks are
// fire-and-forget: errors are logged, never returned.
func (e *Engine) logZeroFieldTurn(ctx context.Context, conv *model.Conversation, in model.InboundMessage, confidence float64, usedFallback bool) {
	metrics.ZeroFieldTurnsTotal.Inc()

	t := model.UnrecognizedTurn{
		ConversationID: conv.ID,
		Step:           conv.Step.String(),
		Text:           in.Text,
		Confidence:     confidence,
		RawFallback:    usedFallback,
		At:             e.now(),
	}
	if err := e.store.LogUnrecognized(ctx, t); err != nil {
		e.logger.Warn("failed to log unrecognized turn", zap.Error(err))
	}
	e.collaborators.LogUnrecognizedTurn(ctx, t)
}

// acknowledgment returns the extraction's acknowledgment sentence, with a
// short reassurance clause appended when the message hedged. One message,
// never two.
func acknowledgment(ex model.ExtractedFields, text string) string {
	ack := ex.Acknowledgment
	if ack == "" {
		return ""
	}
	if intent.DetectHedge(text) {
		ack += " " + msgHedgeReassurance
	}
	return ack
}

func phaseOf(conv *model.Conversation, isNew bool) intent.Phase {
	if isNew {
		return intent.PhaseNew
	}
	switch conv.Status {
	case model.StatusConfirming:
		return intent.PhaseConfirming
	default:
		if conv.Step.Kind == model.StepFollowUp {
			return intent.PhaseFollowUp
		}
		if isOptionalField(conv.Step.Field) {
			return intent.PhaseGatheringOptional
		}
		return intent.PhaseGathering
	}
}

func isOptionalField(field string) bool {
	switch field {
	case model.FieldApprovals, model.FieldConstraints, model.FieldLinks:
		return true
	}
	return false
}

func phaseName(p intent.Phase) string {
	switch p {
	case intent.PhaseNew:
		return "new"
	case intent.PhaseFollowUp:
		return "follow_up"
	case intent.PhaseConfirming, intent.PhaseConfirmEdit:
		return "confirming"
	default:
		return "gathering"
	}
}

type dupChoice int

const (
	dupChoiceNone dupChoice = iota
	dupChoiceContinue
	dupChoiceFresh
)

var (
	dupFreshPattern    = regexp.MustCompile(`(?i)\b(fresh|start (over|new|a new one)|new one|this one|here)\b`)
	dupContinuePattern = regexp.MustCompile(`(?i)\b(continue|there|existing|other( one| thread)?|keep)\b`)
)

// classifyDupChoice reads the reply to the duplicate-conversation prompt.
// Fresh is checked first: a reply can name the other conversation while
// rejecting it ("I don't want the other one, start fresh"), and that is
// still a fresh choice.
func classifyDupChoice(text string) dupChoice {
	switch {
	case dupFreshPattern.MatchString(text):
		return dupChoiceFresh
	case dupContinuePattern.MatchString(text):
		return dupChoiceContinue
	}
	return dupChoiceNone
}
