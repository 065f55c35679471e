package model

import "time"

// InboundMessage is one message delivered by the chat transport.
type InboundMessage struct {
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Channel   string    `json:"channel"`
	ThreadID  string    `json:"thread_id"`
	MessageID string    `json:"message_id"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at,omitempty"`
}

// OutboundMessage is one reply the engine wants delivered.
type OutboundMessage struct {
	Channel  string `json:"channel"`
	ThreadID string `json:"thread_id,omitempty"`
	Text     string `json:"text"`
}

// Reply builds an outbound message threaded on an inbound one.
func Reply(in InboundMessage, text string) OutboundMessage {
	return OutboundMessage{Channel: in.Channel, ThreadID: in.ThreadID, Text: text}
}
