// Package store defines the persistence port for the intake engine and its
// SQLite implementation.
//
// Writes are last-writer-wins: there is no version column or compare-and-
// swap. Human-paced chat rarely produces true concurrent replies in one
// thread; the message-claim table and the instance leadership marker are
// the safeguards against at-least-once delivery and overlapping deploys.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/capitalize-ai/intake-engine/internal/model"
)

// ErrNotFound is returned when a conversation id does not exist.
var ErrNotFound = errors.New("conversation not found")

// Store is the persistence port.
type Store interface {
	// ActiveByThread returns the non-terminal conversation in a thread,
	// or (nil, nil) when the thread has none.
	ActiveByThread(ctx context.Context, channel, threadID string) (*model.Conversation, error)

	// ActiveByUser returns the user's oldest non-terminal conversation
	// anywhere, or (nil, nil). Feeds the duplicate-conversation check,
	// which needs the pre-existing conversation, not the one just opened.
	ActiveByUser(ctx context.Context, userID string) (*model.Conversation, error)

	// ByID returns a conversation or ErrNotFound.
	ByID(ctx context.Context, id string) (*model.Conversation, error)

	// Save upserts the conversation row. Writing the same state twice is
	// safe and produces the same stored row.
	Save(ctx context.Context, conv *model.Conversation) error

	// ClaimMessage records a message id with claim-once semantics. It
	// returns true for the first caller and false for every other.
	ClaimMessage(ctx context.Context, messageID string) (bool, error)

	// NotifyPending lists non-terminal conversations whose expiry has
	// passed and that have not yet received a timeout reminder.
	NotifyPending(ctx context.Context, now time.Time) ([]*model.Conversation, error)

	// ReapPending lists non-terminal conversations already reminded whose
	// extended expiry has passed again.
	ReapPending(ctx context.Context, now time.Time) ([]*model.Conversation, error)

	// RecordCompletion durably records a terminal-transition metric.
	RecordCompletion(ctx context.Context, m model.CompletionMetric) error

	// LogUnrecognized records a zero-field turn for offline analysis.
	// Callers treat it as fire-and-forget.
	LogUnrecognized(ctx context.Context, t model.UnrecognizedTurn) error
}
