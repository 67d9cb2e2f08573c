// Package dispatcher orchestrates the handling of one inbound chat event:
// age filter, deduplication, transcript logging, the reply decision, and
// the outbound send.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Hierifer/vanilla/internal/command"
	"github.com/Hierifer/vanilla/internal/llm"
	"github.com/Hierifer/vanilla/internal/model"
	"github.com/Hierifer/vanilla/internal/policy"
	"github.com/Hierifer/vanilla/internal/recency"
	"github.com/Hierifer/vanilla/internal/storage"
	"github.com/Hierifer/vanilla/internal/transport"
)

// FallbackReply is sent when the generation backend fails.
const FallbackReply = "Sorry, I ran into a problem. Please try again later."

// Deps are the collaborators a Dispatcher works with.
type Deps struct {
	Recency   *recency.Set
	Store     storage.Storage
	Policy    *policy.Engine
	Commands  *command.Registry
	Generator llm.Client
	Transport transport.Transport
	Log       *slog.Logger
}

// Options tune dispatcher behavior.
type Options struct {
	// MaxEventAge drops events older than this. Zero disables the check.
	MaxEventAge time.Duration
	// HistoryWindow bounds how far back chat history is attached to
	// generative replies.
	HistoryWindow time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Dispatcher processes inbound chat events end to end. It implements
// transport.EventHandler and is safe for concurrent event delivery.
type Dispatcher struct {
	deps Deps
	opts Options
}

// New creates a Dispatcher.
func New(deps Deps, opts Options) *Dispatcher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{deps: deps, opts: opts}
}

// OnEvent processes one inbound event. Stale and duplicate events are
// dropped before any side effect; a fresh event is marked seen before
// processing so redelivery during processing is also suppressed.
func (d *Dispatcher) OnEvent(ctx context.Context, ev model.ChatEvent) {
	log := d.deps.Log.With("event_id", ev.EventID, "chat_id", ev.ChatID)

	if d.stale(ev) {
		log.Debug("event too old, skipping")
		return
	}

	if d.deps.Recency.Seen(ev.EventID) {
		log.Debug("duplicate event, skipping")
		return
	}
	d.deps.Recency.MarkSeen(ev.EventID)

	d.logInbound(ctx, ev, log)

	dec := d.deps.Policy.Decide(ev)

	var reply string
	var genErr error
	switch dec.Kind {
	case policy.KindDrop:
		return
	case policy.KindCommand:
		h, ok := d.deps.Commands.Lookup(dec.Command)
		if !ok {
			return
		}
		log.Info("running command", "command", dec.Command)
		reply = h(ctx, ev.ChatID, ev.Text)
	case policy.KindReply:
		reply, genErr = d.generate(ctx, ev, dec.UseHistory, log)
	}
	if reply == "" {
		return
	}

	res, err := d.deps.Transport.SendText(ctx, ev.ChatID, reply)
	if err != nil {
		log.Error("send reply", "error", err)
		return
	}
	if !res.OK {
		log.Error("send reply rejected", "code", res.Code, "message", res.Message)
	}

	d.logOutbound(ctx, ev.ChatID, reply, res, genErr, log)
}

// stale reports whether the event is older than the configured window.
// An unresolvable creation time is treated as not stale.
func (d *Dispatcher) stale(ev model.ChatEvent) bool {
	if d.opts.MaxEventAge == 0 || ev.CreatedAt.IsZero() {
		return false
	}
	return d.opts.Now().Sub(ev.CreatedAt) > d.opts.MaxEventAge
}

// generate builds the conversation turns and calls the generation backend.
// With history enabled, prior transcript entries for the destination are
// prepended as user/assistant turns, except entries whose text matches the
// inbound text, which guards against the event having been logged already.
func (d *Dispatcher) generate(ctx context.Context, ev model.ChatEvent, useHistory bool, log *slog.Logger) (string, error) {
	if d.deps.Generator == nil {
		return FallbackReply, errors.New("generation backend not configured")
	}

	var turns []llm.Message

	if useHistory {
		since := d.opts.Now().Add(-d.opts.HistoryWindow)
		history, err := d.deps.Store.ChatHistory(ctx, ev.ChatID, since)
		if err != nil {
			log.Error("load chat history", "error", err)
		}
		for _, h := range history {
			if h.Text == ev.Text {
				continue
			}
			role := llm.RoleUser
			if h.Direction == model.Outbound {
				role = llm.RoleAssistant
			}
			turns = append(turns, llm.Message{Role: role, Content: h.Text})
		}
		if len(turns) > 0 {
			log.Debug("attached history", "turns", len(turns))
		}
	}
	turns = append(turns, llm.Message{Role: llm.RoleUser, Content: ev.Text})

	reply, err := d.deps.Generator.Chat(ctx, ev.ChatID, turns)
	if err != nil {
		log.Error("generate reply", "error", err)
		return FallbackReply, err
	}
	return reply, nil
}

func (d *Dispatcher) logInbound(ctx context.Context, ev model.ChatEvent, log *slog.Logger) {
	ts := ev.CreatedAt
	if ts.IsZero() {
		ts = d.opts.Now()
	}
	entry := model.ChatLogEntry{
		Direction: model.Inbound,
		ChatID:    ev.ChatID,
		MessageID: ev.MessageID,
		Timestamp: ts,
		Sender:    ev.Sender,
		Text:      ev.Text,
	}
	if err := d.deps.Store.AppendChatLog(ctx, &entry); err != nil {
		log.Error("append inbound log", "error", err)
	}
}

func (d *Dispatcher) logOutbound(ctx context.Context, chatID, text string, res transport.Result, genErr error, log *slog.Logger) {
	entry := model.ChatLogEntry{
		Direction: model.Outbound,
		ChatID:    chatID,
		MessageID: res.MessageID,
		Timestamp: d.opts.Now(),
		Text:      text,
		Status:    model.StatusOK,
	}
	if !res.OK {
		entry.Status = model.StatusError
		entry.ErrorCode = res.Code
		entry.ErrorMsg = res.Message
	}
	if genErr != nil {
		entry.Status = model.StatusError
		entry.ErrorMsg = genErr.Error()
	}
	if err := d.deps.Store.AppendChatLog(ctx, &entry); err != nil {
		log.Error("append outbound log", "error", err)
	}
}
