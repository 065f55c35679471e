package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/intake-engine/internal/model"
	"github.com/capitalize-ai/intake-engine/pkg/logger"
)

// fakeStore is an in-memory Store keyed the same way SQLite is.
type fakeStore struct {
	convs      map[string]*model.Conversation
	claims     map[string]bool
	metrics    []model.CompletionMetric
	sidelog    []model.UnrecognizedTurn
	saveErr    error
	claimErr   error
	saveCount  int
	claimCount int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		convs:  map[string]*model.Conversation{},
		claims: map[string]bool{},
	}
}

func (s *fakeStore) ActiveByThread(_ context.Context, channel, threadID string) (*model.Conversation, error) {
	for _, c := range s.convs {
		if c.Channel == channel && c.ThreadID == threadID && !c.Status.Terminal() {
			return copyConv(c), nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ActiveByUser(_ context.Context, userID string) (*model.Conversation, error) {
	var oldest *model.Conversation
	for _, c := range s.convs {
		if c.UserID != userID || c.Status.Terminal() {
			continue
		}
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	if oldest == nil {
		return nil, nil
	}
	return copyConv(oldest), nil
}

func (s *fakeStore) ByID(_ context.Context, id string) (*model.Conversation, error) {
	if c, ok := s.convs[id]; ok {
		return copyConv(c), nil
	}
	return nil, errors.New("conversation not found")
}

func (s *fakeStore) Save(_ context.Context, conv *model.Conversation) error {
	s.saveCount++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.convs[conv.ID] = copyConv(conv)
	return nil
}

func (s *fakeStore) ClaimMessage(_ context.Context, messageID string) (bool, error) {
	s.claimCount++
	if s.claimErr != nil {
		return false, s.claimErr
	}
	if s.claims[messageID] {
		return false, nil
	}
	s.claims[messageID] = true
	return true, nil
}

func (s *fakeStore) NotifyPending(_ context.Context, now time.Time) ([]*model.Conversation, error) {
	var out []*model.Conversation
	for _, c := range s.convs {
		if !c.Status.Terminal() && !c.TimeoutNotified && c.ExpiresAt.Before(now) {
			out = append(out, copyConv(c))
		}
	}
	return out, nil
}

func (s *fakeStore) ReapPending(_ context.Context, now time.Time) ([]*model.Conversation, error) {
	var out []*model.Conversation
	for _, c := range s.convs {
		if !c.Status.Terminal() && c.TimeoutNotified && c.ExpiresAt.Before(now) {
			out = append(out, copyConv(c))
		}
	}
	return out, nil
}

func (s *fakeStore) RecordCompletion(_ context.Context, m model.CompletionMetric) error {
	s.metrics = append(s.metrics, m)
	return nil
}

func (s *fakeStore) LogUnrecognized(_ context.Context, t model.UnrecognizedTurn) error {
	s.sidelog = append(s.sidelog, t)
	return nil
}

func copyConv(c *model.Conversation) *model.Conversation {
	dup := *c
	return &dup
}

// fakeExtractor answers with scripted extractions and canned lists.
type fakeExtractor struct {
	general    func(message, stepHint string) model.ExtractedFields
	generalErr error
	interpret  func(message string, current model.FollowUpQuestion) model.ExtractedFields
	types      []string
	class      model.Classification
	followUps  []model.FollowUpQuestion
	guidance   string
}

func (f *fakeExtractor) General(_ context.Context, message string, _ model.CollectedData, _ time.Time, stepHint string) (model.ExtractedFields, error) {
	if f.generalErr != nil {
		return model.ExtractedFields{}, f.generalErr
	}
	if f.general == nil {
		return model.ExtractedFields{}, nil
	}
	return f.general(message, stepHint), nil
}

func (f *fakeExtractor) Interpret(_ context.Context, message string, current model.FollowUpQuestion, _ []model.FollowUpQuestion, _ model.CollectedData) (model.ExtractedFields, error) {
	if f.interpret == nil {
		return model.ExtractedFields{}, nil
	}
	return f.interpret(message, current), nil
}

func (f *fakeExtractor) ClassifyTypes(_ context.Context, _ model.CollectedData) ([]string, model.Classification, error) {
	if f.types == nil {
		return []string{"general"}, model.ClassificationUndetermined, nil
	}
	return f.types, f.class, nil
}

func (f *fakeExtractor) GenerateFollowUps(_ context.Context, _ []string, _ model.CollectedData) ([]model.FollowUpQuestion, error) {
	return f.followUps, nil
}

func (f *fakeExtractor) Guidance(_ context.Context, _ string, _ model.CollectedData) (string, error) {
	return f.guidance, nil
}

// fakeCollaborators records everything it is handed.
type fakeCollaborators struct {
	approvals   []model.ApprovalRequest
	approvalErr error
	workItemID  string
	completions []model.CompletionMetric
	sidelog     []model.UnrecognizedTurn
	alerts      []string
}

func (f *fakeCollaborators) RequestApproval(_ context.Context, req model.ApprovalRequest) (string, error) {
	f.approvals = append(f.approvals, req)
	if f.approvalErr != nil {
		return "", f.approvalErr
	}
	if f.workItemID == "" {
		return "wi-1", nil
	}
	return f.workItemID, nil
}

func (f *fakeCollaborators) EmitCompletion(_ context.Context, m model.CompletionMetric) {
	f.completions = append(f.completions, m)
}

func (f *fakeCollaborators) LogUnrecognizedTurn(_ context.Context, t model.UnrecognizedTurn) {
	f.sidelog = append(f.sidelog, t)
}

func (f *fakeCollaborators) AlertOperators(_ context.Context, message string) {
	f.alerts = append(f.alerts, message)
}

const testWindow = 48 * time.Hour

func newTestEngine(st *fakeStore, ex *fakeExtractor, collab *fakeCollaborators) *Engine {
	return New(st, ex, collab, testWindow, logger.NewNop())
}

func inbound(text string) model.InboundMessage {
	return model.InboundMessage{
		UserID:   "U1",
		UserName: "Jordan Lee",
		Channel:  "slack",
		ThreadID: "T1",
		Text:     text,
	}
}

func texts(out []model.OutboundMessage) []string {
	res := make([]string, len(out))
	for i, m := range out {
		res[i] = m.Text
	}
	return res
}

func joined(out []model.OutboundMessage) string {
	return strings.Join(texts(out), "\n")
}

// activeConv returns the single active conversation in the store.
func activeConv(t *testing.T, st *fakeStore) *model.Conversation {
	t.Helper()
	conv, err := st.ActiveByThread(context.Background(), "slack", "T1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	return conv
}

func TestFirstTurnGreetsAndAsksFirstField(t *testing.T) {
	st := newFakeStore()
	ex := &fakeExtractor{general: func(message, stepHint string) model.ExtractedFields {
		return model.ExtractedFields{}
	}}
	eng := newTestEngine(st, ex, &fakeCollaborators{})

	out, err := eng.HandleMessage(context.Background(), inbound("hi"))
	require.NoError(t, err)

	assert.Contains(t, joined(out), "Hi Jordan!")
	assert.Contains(t, joined(out), "which department")
	conv := activeConv(t, st)
	assert.Equal(t, model.StatusGathering, conv.Status)
	assert.Equal(t, model.FieldStep(model.FieldDepartment), conv.Step)
}

func TestSubstantiveAnswerAppliesAndAdvances(t *testing.T) {
	st := newFakeStore()
	audience := "Real estate agents"
	ex := &fakeExtractor{general: func(message, stepHint string) model.ExtractedFields {
		if stepHint == model.FieldAudience {
			return model.ExtractedFields{Audience: &audience, Confidence: 0.9}
		}
		return model.ExtractedFields{}
	}}
	eng := newTestEngine(st, ex, &fakeCollaborators{})

	seed := seedConversation(t, st, model.StatusGathering, model.FieldStep(model.FieldAudience))
	seed.Data.Department = "Marketing"
	require.NoError(t, st.Save(context.Background(), seed))

	out, err := eng.HandleMessage(context.Background(), inbound("Real estate agents"))
	require.NoError(t, err)

	conv := activeConv(t, st)
	assert.Equal(t, "Real estate agents", conv.Data.Audience)
	assert.Equal(t, model.FieldStep(model.FieldBackground), conv.Step, "advances to the next unanswered field")
	assert.Contains(t, joined(out), "context or background")
	assert.Empty(t, st.sidelog, "an applied turn is not a zero-field turn")
}

func TestZeroFieldTurnFallsBackToRawText(t *testing.T) {
	st := newFakeStore()
	ex := &fakeExtractor{general: func(message, stepHint string) model.ExtractedFields {
		return model.ExtractedFields{Confidence: 0.1}
	}}
	collab := &fakeCollaborators{}
	eng := newTestEngine(st, ex, collab)

	seed := seedConversation(t, st, model.StatusGathering, model.FieldStep(model.FieldAudience))
	require.NoError(t, st.Save(context.Background(), seed))

	_, err := eng.HandleMessage(context.Background(), inbound("folks who flip houses on the side"))
	require.NoError(t, err)

	conv := activeConv(t, st)
	assert.Equal(t, "folks who flip houses on the side", conv.Data.Audience, "raw text stored verbatim")
	require.Len(t, st.sidelog, 1)
	assert.True(t, st.sidelog[0].RawFallback)
	assert.Len(t, collab.sidelog, 1, "side log also published downstream")
}

func TestExtractionFailureDoesNotAdvance(t *testing.T) {
	st := newFakeStore()
	ex := &fakeExtractor{generalErr: errors.New("upstream 500")}
	eng := newTestEngine(st, ex, &fakeCollaborators{})

	seed := seedConversation(t, st, model.StatusGathering, model.FieldStep(model.FieldAudience))
	require.NoError(t, st.Save(context.Background(), seed))

	out, err := eng.HandleMessage(context.Background(), inbound("Real estate agents"))
	require.NoError(t, err, "an extraction failure is not a turn failure")

	assert.Contains(t, joined(out), "trouble")
	conv := activeConv(t, st)
	assert.Empty(t, conv.Data.Audience)
	assert.Equal(t, model.FieldStep(model.FieldAudience), conv.Step, "same question stays on the table")
}

func TestLastFieldTriggersFollowUps(t *testing.T) {
	st := newFakeStore()
	due := "March 15"
	parsed := "2026-03-15"
	ex := &fakeExtractor{
		general: func(message, stepHint string) model.ExtractedFields {
			return model.ExtractedFields{DueDate: &due, DueDateParsed: &parsed}
		},
		types: []string{"conference", "email"},
		class: model.ClassificationFull,
		followUps: []model.FollowUpQuestion{
			{ID: "q1", Question: "Where is the event?", FieldKey: "venue"},
			{ID: "q2", Question: "Booth size?", FieldKey: "booth_size"},
		},
	}
	eng := newTestEngine(st, ex, &fakeCollaborators{})

	seed := seedConversation(t, st, model.StatusGathering, model.FieldStep(model.FieldDueDate))
	fillRequiredExcept(seed, model.FieldDueDate)
	require.NoError(t, st.Save(context.Background(), seed))

	out, err := eng.HandleMessage(context.Background(), inbound("March 15"))
	require.NoError(t, err)

	conv := activeConv(t, st)
	assert.Equal(t, model.ClassificationFull, conv.Classification)
	assert.Equal(t, "conference, email", conv.Data.RequestTypes)
	assert.Equal(t, model.FollowUpStep(0), conv.Step)
	assert.Contains(t, joined(out), "Where is the event?")
}

func TestEmptyFollowUpListGoesStraightToConfirmation(t *testing.T) {
	st := newFakeStore()
	due := "next Friday"
	ex := &fakeExtractor{
		general: func(message, stepHint string) model.ExtractedFields {
			return model.ExtractedFields{DueDate: &due}
		},
		types:     []string{"email"},
		class:     model.ClassificationQuick,
		followUps: []model.FollowUpQuestion{},
	}
	eng := newTestEngine(st, ex, &fakeCollaborators{})

	seed := seedConversation(t, st, model.StatusGathering, model.FieldStep(model.FieldDueDate))
	fillRequiredExcept(seed, model.FieldDueDate)
	require.NoError(t, st.Save(context.Background(), seed))

	out, err := eng.HandleMessage(context.Background(), inbound("next Friday"))
	require.NoError(t, err)

	conv := activeConv(t, st)
	assert.Equal(t, model.StatusConfirming, conv.Status)
	assert.Contains(t, joined(out), "everything I have")
}

func TestFollowUpLookaheadSkipsAnsweredQuestions(t *testing.T) {
	st := newFakeStore()
	ex := &fakeExtractor{
		interpret: func(message string, current model.FollowUpQuestion) model.ExtractedFields {
			return model.ExtractedFields{Answers: map[string]string{
				"venue":      "Austin convention center",
				"booth_size": "10x20",
			}}
		},
	}
	eng := newTestEngine(st, ex, &fakeCollaborators{})

	seed := seedConversation(t, st, model.StatusGathering, model.FollowUpStep(0))
	fillRequiredExcept(seed, "")
	seed.Data.FollowUps = []model.FollowUpQuestion{
		{ID: "q1", Question: "Where is the event?", FieldKey: "venue"},
		{ID: "q2", Question: "Booth size?", FieldKey: "booth_size"},
		{ID: "q3", Question: "Who speaks?", FieldKey: "speakers"},
	}
	require.NoError(t, st.Save(context.Background(), seed))

	out, err := eng.HandleMessage(context.Background(), inbound("Austin convention center, booth is 10x20"))
	require.NoError(t, err)

	conv := activeConv(t, st)
	assert.Equal(t, model.FollowUpStep(2), conv.Step, "lookahead answer skips the second question")
	assert.Contains(t, joined(out), "Who speaks?")
}

func TestDiscussOnLastFollowUpFlagsAndConfirms(t *testing.T) {
	st := newFakeStore()
	eng := newTestEngine(st, &fakeExtractor{}, &fakeCollaborators{})

	seed := seedConversation(t, st, model.StatusGathering, model.FollowUpStep(0))
	fillRequiredExcept(seed, "")
	seed.Data.FollowUps = []model.FollowUpQuestion{
		{ID: "q1", Question: "What's the budget?", FieldKey: "budget"},
	}
	require.NoError(t, st.Save(context.Background(), seed))

	out, err := eng.HandleMessage(context.Background(), inbound("let's discuss that later"))
	require.NoError(t, err)

	conv := activeConv(t, st)
	assert.Equal(t, model.StatusConfirming, conv.Status)
	assert.Contains(t, conv.Data.DiscussionFlags, "budget")
	assert.Contains(t, joined(out), "To discuss live")
}

func TestSubmitAsIsDuringFollowUps(t *testing.T) {
	st := newFakeStore()
	eng := newTestEngine(st, &fakeExtractor{}, &fakeCollaborators{})

	seed := seedConversation(t, st, model.StatusGathering, model.FollowUpStep(0))
	fillRequiredExcept(seed, "")
	seed.Data.FollowUps = []model.FollowUpQuestion{
		{ID: "q1", Question: "Where is the event?", FieldKey: "venue"},
	}
	require.NoError(t, st.Save(context.Background(), seed))

	out, err := eng.HandleMessage(context.Background(), inbound("just submit"))
	require.NoError(t, err)

	conv := activeConv(t, st)
	assert.Equal(t, model.StatusConfirming, conv.Status, "skips straight to confirmation, not submission")
	assert.Contains(t, joined(out), "Reply *yes* to submit")
}

func TestConfirmSubmitsOnce(t *testing.T) {
	st := newFakeStore()
	collab := &fakeCollaborators{workItemID: "wi-77"}
	eng := newTestEngine(st, &fakeExtractor{}, collab)

	seed := seedConversation(t, st, model.StatusConfirming, model.NoStep)
	fillRequiredExcept(seed, "")
	require.NoError(t, st.Save(context.Background(), seed))

	out, err := eng.HandleMessage(context.Background(), inbound("yes"))
	require.NoError(t, err)
	assert.Contains(t, joined(out), "submitted for approval")

	conv := activeConv(t, st)
	assert.Equal(t, model.StatusPendingApproval, conv.Status)
	assert.Equal(t, "wi-77", conv.WorkItemID)
	require.Len(t, collab.approvals, 1)
	assert.Equal(t, seed.ID, collab.approvals[0].ConversationID)

	// Another message in the same thread does not create a second item.
	out, err = eng.HandleMessage(context.Background(), inbound("thanks!"))
	require.NoError(t, err)
	assert.Contains(t, joined(out), "already in for approval")
	assert.Len(t, collab.approvals, 1)
}

// A confirmation reply that starts affirmative but carries a correction is
// still treated as a confirm; the correction is dropped.
func TestConfirmPrefixSwallowsCorrection(t *testing.T) {
	st := newFakeStore()
	collab := &fakeCollaborators{}
	eng := newTestEngine(st, &fakeExtractor{}, collab)

	seed := seedConversation(t, st, model.StatusConfirming, model.NoStep)
	fillRequiredExcept(seed, "")
	require.NoError(t, st.Save(context.Background(), seed))

	_, err := eng.HandleMessage(context.Background(), inbound("yep thats wrong, change the target"))
	require.NoError(t, err)

	conv := activeConv(t, st)
	assert.Equal(t, model.StatusPendingApproval, conv.Status)
	assert.Len(t, collab.approvals, 1)
}

func TestConfirmEditReplacesAndReRenders(t *testing.T) {
	st := newFakeStore()
	newAudience := "Commercial brokers"
	ex := &fakeExtractor{general: func(message, stepHint string) model.ExtractedFields {
		return model.ExtractedFields{Audience: &newAudience}
	}}
	eng := newTestEngine(st, ex, &fakeCollaborators{})

	seed := seedConversation(t, st, model.StatusConfirming, model.NoStep)
	fillRequiredExcept(seed, "")
	require.NoError(t, st.Save(context.Background(), seed))

	out, err := eng.HandleMessage(context.Background(), inbound("actually the audience is commercial brokers"))
	require.NoError(t, err)

	conv := activeConv(t, st)
	assert.Equal(t, model.StatusConfirming, conv.Status)
	assert.Equal(t, "Commercial brokers", conv.Data.Audience)
	assert.Contains(t, joined(out), "Commercial brokers")
	assert.Contains(t, joined(out), "updated")
}

func TestApprovalFailureShieldsRequester(t *testing.T) {
	st := newFakeStore()
	collab := &fakeCollaborators{approvalErr: errors.New("workflow down")}
	eng := newTestEngine(st, &fakeExtractor{}, collab)

	seed := seedConversation(t, st, model.StatusConfirming, model.NoStep)
	fillRequiredExcept(seed, "")
	require.NoError(t, st.Save(context.Background(), seed))

	out, err := eng.HandleMessage(context.Background(), inbound("yes"))
	require.NoError(t, err)

	assert.Contains(t, joined(out), "submitted for approval", "requester never sees the failure")
	assert.Len(t, collab.alerts, 1, "operators do")

	conv := activeConv(t, st)
	assert.Equal(t, model.StatusPendingApproval, conv.Status)
	assert.Empty(t, conv.WorkItemID, "left empty so a retry can re-create it")
}

func TestCancelFinalizes(t *testing.T) {
	st := newFakeStore()
	collab := &fakeCollaborators{}
	eng := newTestEngine(st, &fakeExtractor{}, collab)

	seed := seedConversation(t, st, model.StatusGathering, model.FieldStep(model.FieldAudience))
	require.NoError(t, st.Save(context.Background(), seed))

	out, err := eng.HandleMessage(context.Background(), inbound("cancel"))
	require.NoError(t, err)
	assert.Contains(t, joined(out), "cancelled")

	stored := st.convs[seed.ID]
	assert.Equal(t, model.StatusCancelled, stored.Status)
	require.Len(t, st.metrics, 1)
	assert.Equal(t, model.StatusCancelled, st.metrics[0].FinalStatus)
	assert.Len(t, collab.completions, 1, "completion event published downstream too")
}

func TestResetPreservesIdentityAndRestarts(t *testing.T) {
	st := newFakeStore()
	eng := newTestEngine(st, &fakeExtractor{}, &fakeCollaborators{})

	seed := seedConversation(t, st, model.StatusConfirming, model.NoStep)
	fillRequiredExcept(seed, "")
	seed.Data.RequesterName = "Jordan Lee"
	seed.Classification = model.ClassificationFull
	require.NoError(t, st.Save(context.Background(), seed))

	out, err := eng.HandleMessage(context.Background(), inbound("start over"))
	require.NoError(t, err)
	assert.Contains(t, joined(out), "starting over")

	conv := activeConv(t, st)
	assert.Equal(t, model.StatusGathering, conv.Status)
	assert.Equal(t, model.ClassificationUndetermined, conv.Classification)
	assert.Equal(t, "Jordan Lee", conv.Data.RequesterName)
	assert.Equal(t, "Marketing", conv.Data.Department, "department survives a reset")
	assert.Empty(t, conv.Data.Audience)
	assert.Equal(t, model.FieldStep(model.FieldAudience), conv.Step, "resumes at the first empty field")
}

func TestDuplicateMessageIDProcessedOnce(t *testing.T) {
	st := newFakeStore()
	eng := newTestEngine(st, &fakeExtractor{}, &fakeCollaborators{})

	in := inbound("hello")
	in.MessageID = "m-1"

	out, err := eng.HandleMessage(context.Background(), in)
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	out, err = eng.HandleMessage(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, out, "redelivery is silently dropped")
	assert.Equal(t, 2, st.claimCount)
}

func TestClaimErrorFailsOpen(t *testing.T) {
	st := newFakeStore()
	st.claimErr = errors.New("claims table locked")
	eng := newTestEngine(st, &fakeExtractor{}, &fakeCollaborators{})

	in := inbound("hello")
	in.MessageID = "m-1"

	out, err := eng.HandleMessage(context.Background(), in)
	require.NoError(t, err)
	assert.NotEmpty(t, out, "processing beats dropping when the claim is unavailable")
}

func TestSaveFailurePropagates(t *testing.T) {
	st := newFakeStore()
	st.saveErr = errors.New("disk full")
	eng := newTestEngine(st, &fakeExtractor{}, &fakeCollaborators{})

	_, err := eng.HandleMessage(context.Background(), inbound("hello"))
	assert.Error(t, err)
}

func TestTurnRefreshesExpiry(t *testing.T) {
	st := newFakeStore()
	eng := newTestEngine(st, &fakeExtractor{}, &fakeCollaborators{})
	now := time.Now()
	eng.now = func() time.Time { return now }

	seed := seedConversation(t, st, model.StatusGathering, model.FieldStep(model.FieldAudience))
	seed.TimeoutNotified = true
	seed.ExpiresAt = now.Add(-time.Hour)
	require.NoError(t, st.Save(context.Background(), seed))

	_, err := eng.HandleMessage(context.Background(), inbound("idk"))
	require.NoError(t, err)

	conv := activeConv(t, st)
	assert.Equal(t, now.Add(testWindow), conv.ExpiresAt)
	assert.False(t, conv.TimeoutNotified, "reminder flag cleared by activity")
}

func TestNudgeRepeatsCurrentQuestion(t *testing.T) {
	st := newFakeStore()
	eng := newTestEngine(st, &fakeExtractor{}, &fakeCollaborators{})

	seed := seedConversation(t, st, model.StatusGathering, model.FieldStep(model.FieldDueDate))
	require.NoError(t, st.Save(context.Background(), seed))

	out, err := eng.HandleMessage(context.Background(), inbound("hello?"))
	require.NoError(t, err)

	assert.Contains(t, joined(out), "Picking back up")
	assert.Contains(t, joined(out), "when do you need this by")
	conv := activeConv(t, st)
	assert.Equal(t, model.FieldStep(model.FieldDueDate), conv.Step, "a nudge never advances")
}

func TestIDKGetsGuidanceAndReasks(t *testing.T) {
	st := newFakeStore()
	ex := &fakeExtractor{guidance: "Think about who will read the finished piece."}
	eng := newTestEngine(st, ex, &fakeCollaborators{})

	seed := seedConversation(t, st, model.StatusGathering, model.FieldStep(model.FieldAudience))
	require.NoError(t, st.Save(context.Background(), seed))

	out, err := eng.HandleMessage(context.Background(), inbound("i don't know"))
	require.NoError(t, err)

	assert.Contains(t, joined(out), "who will read the finished piece")
	assert.Contains(t, joined(out), "target audience")
	conv := activeConv(t, st)
	assert.Equal(t, model.FieldStep(model.FieldAudience), conv.Step)
}

func TestDuplicateConversationCheck(t *testing.T) {
	st := newFakeStore()
	eng := newTestEngine(st, &fakeExtractor{}, &fakeCollaborators{})

	// Existing active conversation in another thread.
	prior := seedConversation(t, st, model.StatusGathering, model.FieldStep(model.FieldAudience))
	prior.ThreadID = "T0"
	prior.CreatedAt = prior.CreatedAt.Add(-time.Hour)
	require.NoError(t, st.Save(context.Background(), prior))

	out, err := eng.HandleMessage(context.Background(), inbound("hey, I need a deck"))
	require.NoError(t, err)
	assert.Contains(t, joined(out), "already have a request in progress")

	// Choosing to start fresh withdraws the prior conversation.
	out, err = eng.HandleMessage(context.Background(), inbound("start fresh"))
	require.NoError(t, err)
	assert.Contains(t, joined(out), "Hi Jordan!")

	stored := st.convs[prior.ID]
	assert.Equal(t, model.StatusWithdrawn, stored.Status)
	conv := activeConv(t, st)
	assert.False(t, conv.DupCheckPending)
}

func TestDuplicateConversationContinueThere(t *testing.T) {
	st := newFakeStore()
	collab := &fakeCollaborators{}
	eng := newTestEngine(st, &fakeExtractor{}, collab)

	prior := seedConversation(t, st, model.StatusGathering, model.FieldStep(model.FieldAudience))
	prior.ThreadID = "T0"
	prior.CreatedAt = prior.CreatedAt.Add(-time.Hour)
	require.NoError(t, st.Save(context.Background(), prior))

	_, err := eng.HandleMessage(context.Background(), inbound("hey, I need a deck"))
	require.NoError(t, err)

	out, err := eng.HandleMessage(context.Background(), inbound("continue there"))
	require.NoError(t, err)
	assert.Contains(t, joined(out), "existing thread")

	// The new thread's conversation is withdrawn; the prior one survives.
	stored := st.convs[prior.ID]
	assert.Equal(t, model.StatusGathering, stored.Status)
	fresh, err := st.ActiveByThread(context.Background(), "slack", "T1")
	require.NoError(t, err)
	assert.Nil(t, fresh)

	// Withdrawing is a terminal transition and records like one.
	require.Len(t, st.metrics, 1)
	assert.Equal(t, model.StatusWithdrawn, st.metrics[0].FinalStatus)
	assert.Len(t, collab.completions, 1)
}

func TestDuplicateCheckCancelStillCancels(t *testing.T) {
	st := newFakeStore()
	collab := &fakeCollaborators{}
	eng := newTestEngine(st, &fakeExtractor{}, collab)

	prior := seedConversation(t, st, model.StatusGathering, model.FieldStep(model.FieldAudience))
	prior.ThreadID = "T0"
	prior.CreatedAt = prior.CreatedAt.Add(-time.Hour)
	require.NoError(t, st.Save(context.Background(), prior))

	_, err := eng.HandleMessage(context.Background(), inbound("hey, I need a deck"))
	require.NoError(t, err)

	out, err := eng.HandleMessage(context.Background(), inbound("cancel"))
	require.NoError(t, err)
	assert.Contains(t, joined(out), "cancelled this request")

	fresh, err := st.ActiveByThread(context.Background(), "slack", "T1")
	require.NoError(t, err)
	assert.Nil(t, fresh, "the new conversation went terminal")

	require.Len(t, st.metrics, 1)
	assert.Equal(t, model.StatusCancelled, st.metrics[0].FinalStatus)
	assert.Len(t, collab.completions, 1)

	stored := st.convs[prior.ID]
	assert.Equal(t, model.StatusGathering, stored.Status, "the prior conversation is untouched")
}

func TestDuplicateCheckStartOverMeansFresh(t *testing.T) {
	st := newFakeStore()
	eng := newTestEngine(st, &fakeExtractor{}, &fakeCollaborators{})

	prior := seedConversation(t, st, model.StatusGathering, model.FieldStep(model.FieldAudience))
	prior.ThreadID = "T0"
	prior.CreatedAt = prior.CreatedAt.Add(-time.Hour)
	require.NoError(t, st.Save(context.Background(), prior))

	_, err := eng.HandleMessage(context.Background(), inbound("hey, I need a deck"))
	require.NoError(t, err)

	out, err := eng.HandleMessage(context.Background(), inbound("start over"))
	require.NoError(t, err)
	assert.Contains(t, joined(out), "Hi Jordan!")
	assert.Contains(t, joined(out), "which department")

	stored := st.convs[prior.ID]
	assert.Equal(t, model.StatusWithdrawn, stored.Status)
	conv := activeConv(t, st)
	assert.False(t, conv.DupCheckPending)
	assert.Equal(t, model.StatusGathering, conv.Status)
}

func TestClassifyDupChoice(t *testing.T) {
	cases := []struct {
		text string
		want dupChoice
	}{
		{"start fresh", dupChoiceFresh},
		{"let's do this one", dupChoiceFresh},
		{"I don't want the other one, start fresh", dupChoiceFresh},
		{"continue there", dupChoiceContinue},
		{"keep the existing one", dupChoiceContinue},
		{"the other thread please", dupChoiceContinue},
		{"what?", dupChoiceNone},
		{"adhere to the plan", dupChoiceNone},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyDupChoice(tc.text))
		})
	}
}

func TestSummaryOrdersExtraDetailsDeterministically(t *testing.T) {
	seed := seedConversation(t, &fakeStore{}, model.StatusConfirming, model.NoStep)
	fillRequiredExcept(seed, "")
	seed.Data.AdditionalDetails = map[string]string{
		"venue_notes":  "hall B",
		"booth_size":   "10x10",
		"print_vendor": "north press",
	}

	summary := renderSummary(seed)
	booth := strings.Index(summary, "Booth size")
	vendor := strings.Index(summary, "Print vendor")
	venue := strings.Index(summary, "Venue notes")
	require.True(t, booth >= 0 && vendor >= 0 && venue >= 0)
	assert.Less(t, booth, vendor)
	assert.Less(t, vendor, venue)
	assert.Equal(t, summary, renderSummary(seed), "rendering is stable across calls")
}

// seedConversation stores an active conversation owned by the standard test
// user in thread T1.
func seedConversation(t *testing.T, st *fakeStore, status model.Status, step model.Step) *model.Conversation {
	t.Helper()
	now := time.Now()
	data := model.NewCollectedData()
	data.RequesterName = "Jordan Lee"
	conv := &model.Conversation{
		ID:             "conv-" + string(status) + "-" + step.String(),
		UserID:         "U1",
		UserName:       "Jordan Lee",
		Channel:        "slack",
		ThreadID:       "T1",
		Status:         status,
		Step:           step,
		Data:           data,
		Classification: model.ClassificationUndetermined,
		ExpiresAt:      now.Add(testWindow),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return conv
}

// fillRequiredExcept fills every required field except the named one.
func fillRequiredExcept(conv *model.Conversation, except string) {
	if except != model.FieldDepartment {
		conv.Data.Department = "Marketing"
	}
	if except != model.FieldAudience {
		conv.Data.Audience = "Real estate agents"
	}
	if except != model.FieldBackground {
		conv.Data.Background = "Spring conference push"
	}
	if except != model.FieldOutcomes {
		conv.Data.Outcomes = "More qualified leads"
	}
	if except != model.FieldDeliverables {
		conv.Data.Deliverables = []string{"one-pager"}
	}
	if except != model.FieldDueDate {
		conv.Data.DueDate = "March 15"
	}
}
