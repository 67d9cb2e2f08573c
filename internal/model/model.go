// Package model defines the domain types used across the application.
package model

import "time"

// ChatEvent is one inbound message delivered by the chat transport.
// EventID is the delivery identifier used for deduplication; delivery is
// at-least-once, so the same EventID may arrive more than once.
type ChatEvent struct {
	EventID   string
	ChatID    string
	MessageID string
	Sender    string
	Text      string
	CreatedAt time.Time // zero when the transport could not resolve it
	Mentions  []string  // display names mentioned in the message
}

// FeedEntry is a single item parsed from a feed.
type FeedEntry struct {
	Title     string
	Link      string
	Summary   string
	Published time.Time
}

// NewEntry is a feed entry that passed its source's watermark, tagged with
// the display name of the feed it came from.
type NewEntry struct {
	Source string
	Entry  FeedEntry
}

// Direction of a chat log record.
type Direction string

// Supported directions.
const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Chat log statuses recorded on outbound entries.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ChatLogEntry is one append-only chat transcript record.
// Status, ErrorCode and ErrorMsg are set on outbound entries only.
type ChatLogEntry struct {
	ID        int64
	Direction Direction
	ChatID    string
	MessageID string
	Timestamp time.Time
	Sender    string
	Text      string
	Status    string
	ErrorCode int
	ErrorMsg  string
}
