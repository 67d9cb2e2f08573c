package command

import (
	"context"

	"github.com/Hierifer/vanilla/internal/policy"
)

// Subscriptions is the storage surface the subscribe command needs.
type Subscriptions interface {
	// AddSubscription returns false when the destination was already
	// subscribed.
	AddSubscription(ctx context.Context, chatID string) (bool, error)
}

// Pusher triggers an immediate feed check and push cycle.
type Pusher interface {
	PushNow(ctx context.Context) error
}

// MuteHandler returns the /mute handler.
func MuteHandler(s *policy.Session) HandlerFunc {
	return func(_ context.Context, _, _ string) string {
		s.Mute()
		return "Muted. I will stay quiet except for commands."
	}
}

// UnmuteHandler returns the /unmute handler.
func UnmuteHandler(s *policy.Session) HandlerFunc {
	return func(_ context.Context, _, _ string) string {
		s.Unmute()
		return "Unmuted. Back to normal conversation."
	}
}

// HelpHandler returns the /help handler rendering r's command list.
func HelpHandler(r *Registry) HandlerFunc {
	return func(_ context.Context, _, _ string) string {
		return r.Help()
	}
}

// SubscribeHandler returns the /subscribe handler. Subscribing is
// idempotent: repeating the command reports the existing subscription.
func SubscribeHandler(subs Subscriptions) HandlerFunc {
	return func(ctx context.Context, chatID, _ string) string {
		added, err := subs.AddSubscription(ctx, chatID)
		if err != nil {
			return "Could not update subscriptions, please try again later."
		}
		if !added {
			return "This chat is already subscribed."
		}
		return "Subscribed! New feed entries will be pushed here."
	}
}

// PushNowHandler returns the /push handler, running one poll-and-push
// cycle before replying.
func PushNowHandler(p Pusher) HandlerFunc {
	return func(ctx context.Context, _, _ string) string {
		if err := p.PushNow(ctx); err != nil {
			return "Feed check could not be started, please try again later."
		}
		return "Feed check and push triggered."
	}
}
