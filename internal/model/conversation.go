// Package model defines data structures for the intake engine.
package model

import (
	"time"
)

// Status represents the lifecycle phase of an intake conversation.
type Status string

const (
	StatusGathering       Status = "gathering"
	StatusConfirming      Status = "confirming"
	StatusPendingApproval Status = "pending_approval"
	StatusComplete        Status = "complete"
	StatusCancelled       Status = "cancelled"
	StatusWithdrawn       Status = "withdrawn"
)

// Terminal reports whether no further transitions can occur. A new message
// arriving in the same thread after a terminal status starts a fresh
// conversation.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusCancelled, StatusWithdrawn:
		return true
	}
	return false
}

// Classification is the complexity label assigned to a request.
type Classification string

const (
	ClassificationQuick        Classification = "quick"
	ClassificationFull         Classification = "full"
	ClassificationUndetermined Classification = "undetermined"
)

// Conversation is one intake session tied to a single chat thread. It is
// mutated only by the engine and the timeout reaper, and reloaded fresh from
// the store on every turn.
type Conversation struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Channel  string `json:"channel"`
	ThreadID string `json:"thread_id"`

	Status         Status         `json:"status"`
	Step           Step           `json:"current_step"`
	Data           CollectedData  `json:"collected_data"`
	Classification Classification `json:"classification"`

	// WorkItemID is set once the external work item has been created.
	// It gates re-submission: a second confirm never creates a duplicate.
	WorkItemID string `json:"work_item_id,omitempty"`

	// DupCheckPending marks a conversation waiting on the requester's
	// continue-there / start-fresh choice when they already had an active
	// conversation in another thread.
	DupCheckPending bool `json:"dup_check_pending,omitempty"`

	ExpiresAt       time.Time `json:"expires_at"`
	TimeoutNotified bool      `json:"timeout_notified"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch pushes the idle expiry forward by one full window and clears the
// timeout-notified flag. Called on every user turn, which is what pre-empts
// the reaper for conversations that are still moving.
func (c *Conversation) Touch(now time.Time, window time.Duration) {
	c.ExpiresAt = now.Add(window)
	c.TimeoutNotified = false
	c.UpdatedAt = now
}
