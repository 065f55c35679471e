package model

import "time"

// CompletionMetric is emitted once when a conversation reaches a terminal
// status.
type CompletionMetric struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	FinalStatus    Status         `json:"final_status"`
	Duration       time.Duration  `json:"duration"`
	Classification Classification `json:"classification"`
	RecordedAt     time.Time      `json:"recorded_at"`
}

// FinalStatusTimeout is recorded when the reaper auto-cancels an idle
// conversation, distinguishing it from a user-initiated cancel.
const FinalStatusTimeout Status = "timeout"

// UnrecognizedTurn is the side-log record written whenever a turn extracted
// zero fields. Fire-and-forget: recording it must never block or fail the
// turn.
type UnrecognizedTurn struct {
	ConversationID string    `json:"conversation_id"`
	Step           string    `json:"step"`
	Text           string    `json:"text"`
	Confidence     float64   `json:"confidence"`
	RawFallback    bool      `json:"raw_fallback"`
	At             time.Time `json:"at"`
}

// ApprovalRequest is the payload handed to the external approval/workflow
// collaborator when a conversation enters pending_approval.
type ApprovalRequest struct {
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	UserName       string         `json:"user_name"`
	Channel        string         `json:"channel"`
	ThreadID       string         `json:"thread_id"`
	DisplayName    string         `json:"display_name"`
	Classification Classification `json:"classification"`
	Data           CollectedData  `json:"collected_data"`
	RequestedAt    time.Time      `json:"requested_at"`
}
