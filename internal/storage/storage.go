// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"time"

	"github.com/Hierifer/vanilla/internal/model"
)

// Storage is the interface for subscription and chat log persistence.
type Storage interface {
	// AddSubscription subscribes a destination to feed pushes. It is
	// idempotent and returns false when the destination was already
	// subscribed.
	AddSubscription(ctx context.Context, chatID string) (bool, error)
	ListSubscriptions(ctx context.Context) ([]string, error)

	// AppendChatLog records one transcript entry and populates its ID.
	AppendChatLog(ctx context.Context, e *model.ChatLogEntry) error
	// ChatHistory returns the destination's entries at or after since,
	// oldest first.
	ChatHistory(ctx context.Context, chatID string, since time.Time) ([]model.ChatLogEntry, error)

	Close() error
}
