// Package transport defines the chat transport interfaces and the Telegram
// implementation. The rest of the application depends only on the
// interfaces, so transports can be substituted in tests.
package transport

import (
	"context"

	"github.com/Hierifer/vanilla/internal/model"
)

// Result is the outcome of one outbound send.
type Result struct {
	OK        bool
	Code      int    // transport error code when not OK
	Message   string // transport error message when not OK
	MessageID string // id of the sent message when OK
}

// Transport sends text messages to destinations. Implementations map their
// platform's send failures into Result rather than returning an error;
// the error return is reserved for caller mistakes such as an unusable
// destination id.
type Transport interface {
	SendText(ctx context.Context, chatID, text string) (Result, error)
}

// EventHandler receives inbound chat events, one call per delivery.
type EventHandler interface {
	OnEvent(ctx context.Context, ev model.ChatEvent)
}
