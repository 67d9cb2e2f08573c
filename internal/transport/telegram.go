package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Hierifer/vanilla/internal/model"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Telegram is a Transport over the Telegram Bot API that also delivers
// inbound messages to an EventHandler via long polling.
type Telegram struct {
	api     telegramAPI
	handler EventHandler
	log     *slog.Logger
}

// NewTelegram creates a Telegram transport with the given bot token.
func NewTelegram(token string, log *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Telegram{api: api, log: log}, nil
}

// SetHandler sets the inbound event handler. Must be called before Run.
func (t *Telegram) SetHandler(h EventHandler) { t.handler = h }

// Run starts the long-polling loop, blocking until ctx is cancelled. Each
// update is translated into a ChatEvent and handed to the event handler.
func (t *Telegram) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := t.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			t.handler.OnEvent(ctx, eventFromUpdate(update))
		}
	}
}

// SendText sends a text message. Telegram API failures are folded into the
// Result; the error return fires only on an unusable chat id.
func (t *Telegram) SendText(_ context.Context, chatID, text string) (Result, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return Result{}, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}

	msg := tgbotapi.NewMessage(id, text)
	msg.DisableWebPagePreview = true

	sent, err := t.api.Send(msg)
	if err != nil {
		res := Result{Message: err.Error()}
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			res.Code = apiErr.Code
			res.Message = apiErr.Message
		}
		return res, nil
	}
	return Result{OK: true, MessageID: strconv.Itoa(sent.MessageID)}, nil
}

func eventFromUpdate(update tgbotapi.Update) model.ChatEvent {
	msg := update.Message

	ev := model.ChatEvent{
		EventID:   strconv.Itoa(update.UpdateID),
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		MessageID: strconv.Itoa(msg.MessageID),
		Text:      msg.Text,
		Mentions:  mentionsFromText(msg.Text),
	}
	if msg.From != nil {
		ev.Sender = msg.From.UserName
		if ev.Sender == "" {
			ev.Sender = msg.From.FirstName
		}
	}
	if msg.Date > 0 {
		ev.CreatedAt = time.Unix(int64(msg.Date), 0)
	}
	return ev
}

// mentionsFromText collects @name tokens from the message text.
func mentionsFromText(text string) []string {
	var mentions []string
	for _, field := range strings.Fields(text) {
		if strings.HasPrefix(field, "@") && len(field) > 1 {
			mentions = append(mentions, strings.TrimPrefix(field, "@"))
		}
	}
	return mentions
}
