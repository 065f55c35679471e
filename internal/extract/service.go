// Package extract wraps the LLM service behind the four request shapes the
// intake engine needs: general multi-field extraction, single-question
// interpretation, multi-label request-type classification, and follow-up
// question generation. Malformed service output always degrades to an
// empty, zero-confidence result; only transport failures surface as errors.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/intake-engine/internal/llm"
	"github.com/capitalize-ai/intake-engine/internal/model"
	"github.com/capitalize-ai/intake-engine/pkg/logger"
	"github.com/capitalize-ai/intake-engine/pkg/metrics"
)

// Service is the extraction port consumed by the engine.
type Service interface {
	// General extracts any intake fields present in a free-text message.
	// The current step is passed as a hint so an ambiguous answer maps to
	// the field being asked, but bundled answers may populate others too.
	General(ctx context.Context, message string, collected model.CollectedData, today time.Time, stepHint string) (model.ExtractedFields, error)

	// Interpret reads a reply against the current follow-up question and
	// opportunistically against upcoming ones (lookahead).
	Interpret(ctx context.Context, message string, current model.FollowUpQuestion, upcoming []model.FollowUpQuestion, collected model.CollectedData) (model.ExtractedFields, error)

	// ClassifyTypes assigns one or more request-type labels plus the
	// quick/full complexity classification.
	ClassifyTypes(ctx context.Context, collected model.CollectedData) ([]string, model.Classification, error)

	// GenerateFollowUps produces the ordered type-specific question list,
	// skipping anything already known. An empty list is a valid result.
	GenerateFollowUps(ctx context.Context, types []string, collected model.CollectedData) ([]model.FollowUpQuestion, error)

	// Guidance produces contextual help for a question the requester said
	// they don't know how to answer.
	Guidance(ctx context.Context, question string, collected model.CollectedData) (string, error)
}

// LLMService implements Service on top of an llm.Client.
type LLMService struct {
	client  llm.Client
	model   string
	timeout time.Duration
	logger  *logger.Logger
}

// NewLLMService creates the extraction service. timeout bounds each
// individual service call.
func NewLLMService(client llm.Client, modelName string, timeout time.Duration, log *logger.Logger) *LLMService {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &LLMService{
		client:  client,
		model:   modelName,
		timeout: timeout,
		logger:  log,
	}
}

const generalSystem = `You extract structured intake fields from a requester's chat message.
Respond with a single JSON object and nothing else, using exactly these keys:
department, audience, background, outcomes, due_date, approvals, constraints (string or null),
deliverables, links, existing_assets, related_projects, keywords (array of strings, [] if none),
due_date_parsed (the due date as YYYY-MM-DD resolved against today's date, or null),
confidence (number 0-1), acknowledgment (one short sentence echoing what you understood, or "").
Only fill a key when the message clearly states it. Prefer mapping an ambiguous answer to the
field currently being asked. Never invent values.`

// General implements Service.
func (s *LLMService) General(ctx context.Context, message string, collected model.CollectedData, today time.Time, stepHint string) (model.ExtractedFields, error) {
	prompt := fmt.Sprintf("Today's date: %s\nField currently being asked: %s\nAlready collected:\n%s\n\nRequester message:\n%s",
		today.Format("2006-01-02"), orNone(stepHint), collectedJSON(collected), message)

	raw, err := s.complete(ctx, "general", generalSystem, prompt)
	if err != nil {
		return model.ExtractedFields{}, err
	}

	var out model.ExtractedFields
	if !decodePayload(raw, &out) {
		s.logger.Warn("unparseable general extraction payload",
			zap.String("step_hint", stepHint))
		return model.ExtractedFields{}, nil
	}
	clampConfidence(&out)
	return out, nil
}

const interpretSystem = `You interpret a requester's reply to one follow-up question in an intake
interview. Respond with a single JSON object and nothing else:
{"answers": {<field_key>: <answer string>, ...}, "confidence": 0-1, "acknowledgment": ""}.
Always try to fill the current question's field key. If the reply also clearly answers any of the
upcoming questions, include those field keys too so they can be skipped. Never invent answers.`

// Interpret implements Service.
func (s *LLMService) Interpret(ctx context.Context, message string, current model.FollowUpQuestion, upcoming []model.FollowUpQuestion, collected model.CollectedData) (model.ExtractedFields, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Current question (field_key=%s): %s\n", current.FieldKey, current.Question)
	if len(upcoming) > 0 {
		b.WriteString("Upcoming questions:\n")
		for _, q := range upcoming {
			fmt.Fprintf(&b, "- (field_key=%s) %s\n", q.FieldKey, q.Question)
		}
	}
	fmt.Fprintf(&b, "Already collected:\n%s\n\nRequester reply:\n%s", collectedJSON(collected), message)

	raw, err := s.complete(ctx, "interpret", interpretSystem, b.String())
	if err != nil {
		return model.ExtractedFields{}, err
	}

	var out model.ExtractedFields
	if !decodePayload(raw, &out) {
		s.logger.Warn("unparseable interpretation payload",
			zap.String("field_key", current.FieldKey))
		return model.ExtractedFields{}, nil
	}
	clampConfidence(&out)
	return out, nil
}

const classifySystem = `You classify a content request from its collected intake fields.
Respond with a single JSON object and nothing else:
{"types": [...], "classification": "quick"|"full"}.
types is one or more of: conference, webinar, dinner, email, design, general. A request may carry
several labels. classification is "quick" for small single-deliverable asks, otherwise "full".`

// ClassifyTypes implements Service.
func (s *LLMService) ClassifyTypes(ctx context.Context, collected model.CollectedData) ([]string, model.Classification, error) {
	raw, err := s.complete(ctx, "classify", classifySystem, "Collected intake fields:\n"+collectedJSON(collected))
	if err != nil {
		return nil, model.ClassificationUndetermined, err
	}

	var payload struct {
		Types          []string `json:"types"`
		Classification string   `json:"classification"`
	}
	if !decodePayload(raw, &payload) || len(payload.Types) == 0 {
		return []string{"general"}, model.ClassificationUndetermined, nil
	}

	class := model.ClassificationUndetermined
	switch payload.Classification {
	case string(model.ClassificationQuick):
		class = model.ClassificationQuick
	case string(model.ClassificationFull):
		class = model.ClassificationFull
	}
	return payload.Types, class, nil
}

const followUpSystem = `You write follow-up questions for an intake interview, tailored to the
request's type labels. Respond with a single JSON object and nothing else:
{"questions": [{"question": "...", "field_key": "snake_case_key"}, ...]}.
Write between 3 and 7 questions covering the details those request types need. Do not ask about
anything already present in the collected fields, and never repeat a field key.`

// maxFollowUps caps the generated question list regardless of what the
// service returns.
const maxFollowUps = 7

// GenerateFollowUps implements Service.
func (s *LLMService) GenerateFollowUps(ctx context.Context, types []string, collected model.CollectedData) ([]model.FollowUpQuestion, error) {
	prompt := fmt.Sprintf("Request types: %s\nCollected intake fields:\n%s",
		strings.Join(types, ", "), collectedJSON(collected))

	raw, err := s.complete(ctx, "follow_ups", followUpSystem, prompt)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Questions []struct {
			Question string `json:"question"`
			FieldKey string `json:"field_key"`
		} `json:"questions"`
	}
	if !decodePayload(raw, &payload) {
		// An unparseable list is valid: the orchestrator goes straight
		// to confirmation.
		return []model.FollowUpQuestion{}, nil
	}

	seen := map[string]bool{}
	out := make([]model.FollowUpQuestion, 0, len(payload.Questions))
	for _, q := range payload.Questions {
		key := strings.TrimSpace(q.FieldKey)
		text := strings.TrimSpace(q.Question)
		if key == "" || text == "" || seen[key] {
			continue
		}
		if _, known := collected.AdditionalDetails[key]; known {
			continue
		}
		seen[key] = true
		out = append(out, model.FollowUpQuestion{
			ID:       uuid.Must(uuid.NewV7()).String(),
			Question: text,
			FieldKey: key,
		})
		if len(out) == maxFollowUps {
			break
		}
	}
	return out, nil
}

const guidanceSystem = `A requester said they don't know how to answer an intake question. Write
two or three short sentences helping them answer it, using what is already known about the request.
Respond with plain text only.`

// Guidance implements Service.
func (s *LLMService) Guidance(ctx context.Context, question string, collected model.CollectedData) (string, error) {
	prompt := fmt.Sprintf("Question: %s\nAlready collected:\n%s", question, collectedJSON(collected))
	raw, err := s.complete(ctx, "guidance", guidanceSystem, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

func (s *LLMService) complete(ctx context.Context, shape, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.client.Complete(ctx, &llm.CompletionRequest{
		Model: s.model,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		metrics.RecordExtraction(shape, s.client.Name(), "error", time.Since(start).Seconds(), 0, 0)
		return "", fmt.Errorf("extraction call %s: %w", shape, err)
	}

	metrics.RecordExtraction(shape, s.client.Name(), "ok", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)
	return resp.Content, nil
}

// decodePayload tolerantly decodes a JSON object out of model output:
// code fences and surrounding prose are stripped before unmarshalling.
func decodePayload(raw string, v any) bool {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return false
	}

	return json.Unmarshal([]byte(cleaned[start:end+1]), v) == nil
}

func clampConfidence(e *model.ExtractedFields) {
	if e.Confidence < 0 {
		e.Confidence = 0
	}
	if e.Confidence > 1 {
		e.Confidence = 1
	}
}

func collectedJSON(c model.CollectedData) string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
