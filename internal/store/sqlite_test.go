package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/intake-engine/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "intake.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testConversation(id, userID, threadID string, now time.Time) *model.Conversation {
	data := model.NewCollectedData()
	data.RequesterName = "Jordan Lee"
	return &model.Conversation{
		ID:             id,
		UserID:         userID,
		UserName:       "Jordan Lee",
		Channel:        "slack",
		ThreadID:       threadID,
		Status:         model.StatusGathering,
		Step:           model.FieldStep(model.FieldDepartment),
		Data:           data,
		Classification: model.ClassificationUndetermined,
		ExpiresAt:      now.Add(48 * time.Hour),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	conv := testConversation("c1", "U1", "T1", now)
	conv.Step = model.FollowUpStep(3)
	conv.Data.Audience = "Real estate agents"
	conv.Data.AdditionalDetails["venue"] = "Austin"
	conv.Data.FollowUps = []model.FollowUpQuestion{
		{ID: "q1", Question: "Where?", FieldKey: "venue"},
	}
	require.NoError(t, s.Save(ctx, conv))

	got, err := s.ByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.FollowUpStep(3), got.Step, "step encoding survives the round trip")
	assert.Equal(t, "Real estate agents", got.Data.Audience)
	assert.Equal(t, "Austin", got.Data.AdditionalDetails["venue"])
	assert.NotNil(t, got.Data.Deliverables, "collections normalized on read")
}

func TestSaveIsIdempotentUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	conv := testConversation("c1", "U1", "T1", now)
	require.NoError(t, s.Save(ctx, conv))
	require.NoError(t, s.Save(ctx, conv))

	conv.Status = model.StatusConfirming
	require.NoError(t, s.Save(ctx, conv))

	got, err := s.ByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirming, got.Status)
}

func TestActiveByThreadExcludesTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	done := testConversation("c1", "U1", "T1", now)
	done.Status = model.StatusCancelled
	require.NoError(t, s.Save(ctx, done))

	got, err := s.ActiveByThread(ctx, "slack", "T1")
	require.NoError(t, err)
	assert.Nil(t, got, "terminal conversations never resume")

	live := testConversation("c2", "U1", "T1", now.Add(time.Minute))
	require.NoError(t, s.Save(ctx, live))

	got, err = s.ActiveByThread(ctx, "slack", "T1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "c2", got.ID)
}

func TestActiveByUserReturnsOldest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Save(ctx, testConversation("older", "U1", "T0", now.Add(-time.Hour))))
	require.NoError(t, s.Save(ctx, testConversation("newer", "U1", "T1", now)))

	got, err := s.ActiveByUser(ctx, "U1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "older", got.ID)
}

func TestByIDNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimMessageOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	claimed, err := s.ClaimMessage(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.ClaimMessage(ctx, "m-1")
	require.NoError(t, err)
	assert.False(t, claimed, "second claim loses")

	claimed, err = s.ClaimMessage(ctx, "m-2")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestNotifyAndReapQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := testConversation("expired", "U1", "T1", now.Add(-72*time.Hour))
	expired.ExpiresAt = now.Add(-time.Hour)
	require.NoError(t, s.Save(ctx, expired))

	reminded := testConversation("reminded", "U2", "T2", now.Add(-96*time.Hour))
	reminded.ExpiresAt = now.Add(-time.Hour)
	reminded.TimeoutNotified = true
	require.NoError(t, s.Save(ctx, reminded))

	fresh := testConversation("fresh", "U3", "T3", now)
	require.NoError(t, s.Save(ctx, fresh))

	notify, err := s.NotifyPending(ctx, now)
	require.NoError(t, err)
	require.Len(t, notify, 1)
	assert.Equal(t, "expired", notify[0].ID)

	reap, err := s.ReapPending(ctx, now)
	require.NoError(t, err)
	require.Len(t, reap, 1)
	assert.Equal(t, "reminded", reap[0].ID)
}

func TestRecordCompletionAndSidelog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.RecordCompletion(ctx, model.CompletionMetric{
		ID:             "m1",
		ConversationID: "c1",
		UserID:         "U1",
		FinalStatus:    model.FinalStatusTimeout,
		Duration:       36 * time.Hour,
		Classification: model.ClassificationFull,
		RecordedAt:     now,
	}))

	require.NoError(t, s.LogUnrecognized(ctx, model.UnrecognizedTurn{
		ConversationID: "c1",
		Step:           "audience",
		Text:           "folks who flip houses",
		Confidence:     0.1,
		RawFallback:    true,
		At:             now,
	}))
}
