package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/Hierifer/vanilla/internal/command"
	"github.com/Hierifer/vanilla/internal/llm"
	"github.com/Hierifer/vanilla/internal/model"
	"github.com/Hierifer/vanilla/internal/policy"
	"github.com/Hierifer/vanilla/internal/recency"
	"github.com/Hierifer/vanilla/internal/storage"
	"github.com/Hierifer/vanilla/internal/transport"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type sentMessage struct {
	ChatID string
	Text   string
}

type mockTransport struct {
	mu     sync.Mutex
	sent   []sentMessage
	result transport.Result
	err    error
}

func (m *mockTransport) SendText(_ context.Context, chatID, text string) (transport.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return transport.Result{}, m.err
	}
	m.sent = append(m.sent, sentMessage{ChatID: chatID, Text: text})
	return m.result, nil
}

func (m *mockTransport) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]sentMessage, len(m.sent))
	copy(cp, m.sent)
	return cp
}

type mockGenerator struct {
	mu    sync.Mutex
	reply string
	err   error
	calls [][]llm.Message
}

func (m *mockGenerator) Chat(_ context.Context, _ string, msgs []llm.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, msgs)
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

type fixture struct {
	disp  *Dispatcher
	store *storage.SQLite
	tr    *mockTransport
	gen   *mockGenerator
	sess  *policy.Session
}

func newFixture(t *testing.T, random float64) *fixture {
	t.Helper()

	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := recency.New(afero.NewMemMapFs(), "cache.json", 100, recency.FlushDeferred, log)

	sess := policy.NewSession()
	reg := command.NewRegistry()
	reg.Register("/mute", command.MuteHandler(sess), "pause replies")
	reg.Register("/subscribe", command.SubscribeHandler(store), "subscribe this chat")

	eng := policy.NewEngine(sess, reg, "Neko", 0.2)
	eng.SetRandom(func() float64 { return random })

	tr := &mockTransport{result: transport.Result{OK: true, MessageID: "sent-1"}}
	gen := &mockGenerator{reply: "generated reply"}

	disp := New(Deps{
		Recency:   cache,
		Store:     store,
		Policy:    eng,
		Commands:  reg,
		Generator: gen,
		Transport: tr,
		Log:       log,
	}, Options{
		MaxEventAge:   60 * time.Second,
		HistoryWindow: 24 * time.Hour,
		Now:           func() time.Time { return testNow },
	})

	return &fixture{disp: disp, store: store, tr: tr, gen: gen, sess: sess}
}

func event(id, chatID, text string) model.ChatEvent {
	return model.ChatEvent{
		EventID:   id,
		ChatID:    chatID,
		MessageID: "msg-" + id,
		Sender:    "alice",
		Text:      text,
		CreatedAt: testNow.Add(-time.Second),
	}
}

func (f *fixture) history(t *testing.T, chatID string) []model.ChatLogEntry {
	t.Helper()
	entries, err := f.store.ChatHistory(context.Background(), chatID, testNow.Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return entries
}

func TestDuplicateDeliveryProcessedOnce(t *testing.T) {
	f := newFixture(t, 0.9)
	ctx := context.Background()

	ev := event("e1", "chat-1", "/subscribe")
	f.disp.OnEvent(ctx, ev)
	f.disp.OnEvent(ctx, ev)

	if got := len(f.tr.messages()); got != 1 {
		t.Errorf("sent %d messages, want 1", got)
	}

	subs, err := f.store.ListSubscriptions(ctx)
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if diff := cmp.Diff([]string{"chat-1"}, subs); diff != "" {
		t.Errorf("subscriptions mismatch (-want +got):\n%s", diff)
	}

	var inbound int
	for _, e := range f.history(t, "chat-1") {
		if e.Direction == model.Inbound {
			inbound++
		}
	}
	if inbound != 1 {
		t.Errorf("logged %d inbound entries, want 1", inbound)
	}
}

func TestStaleEventDropped(t *testing.T) {
	f := newFixture(t, 0.0)
	ctx := context.Background()

	ev := event("e1", "chat-1", "hello")
	ev.CreatedAt = testNow.Add(-2 * time.Minute)
	f.disp.OnEvent(ctx, ev)

	if got := len(f.tr.messages()); got != 0 {
		t.Errorf("sent %d messages for stale event, want 0", got)
	}
	if got := len(f.history(t, "chat-1")); got != 0 {
		t.Errorf("logged %d entries for stale event, want 0", got)
	}
}

func TestMissingTimestampNotStale(t *testing.T) {
	f := newFixture(t, 0.0)
	ctx := context.Background()

	ev := event("e1", "chat-1", "hello")
	ev.CreatedAt = time.Time{}
	f.disp.OnEvent(ctx, ev)

	if got := len(f.tr.messages()); got != 1 {
		t.Errorf("sent %d messages, want 1", got)
	}
}

func TestGenerationFailureSendsFallback(t *testing.T) {
	f := newFixture(t, 0.0)
	f.gen.err = errors.New("backend exploded")
	ctx := context.Background()

	f.disp.OnEvent(ctx, event("e1", "chat-1", "hello"))

	msgs := f.tr.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	if diff := cmp.Diff(FallbackReply, msgs[0].Text); diff != "" {
		t.Errorf("fallback text mismatch (-want +got):\n%s", diff)
	}

	var outbound *model.ChatLogEntry
	for _, e := range f.history(t, "chat-1") {
		if e.Direction == model.Outbound {
			e := e
			outbound = &e
		}
	}
	if outbound == nil {
		t.Fatal("expected an outbound log entry")
	}
	if outbound.Status != model.StatusError {
		t.Errorf("outbound status = %q, want %q", outbound.Status, model.StatusError)
	}
	if outbound.ErrorMsg != "backend exploded" {
		t.Errorf("outbound error = %q, want backend failure recorded", outbound.ErrorMsg)
	}
}

func TestMentionReplyWithoutHistory(t *testing.T) {
	f := newFixture(t, 0.9)
	ctx := context.Background()

	// Seed prior history that must NOT be attached.
	prior := model.ChatLogEntry{
		Direction: model.Inbound,
		ChatID:    "chat-1",
		Timestamp: testNow.Add(-time.Hour),
		Text:      "earlier message",
	}
	if err := f.store.AppendChatLog(ctx, &prior); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	ev := event("e1", "chat-1", "hi @Neko")
	ev.Mentions = []string{"Neko"}
	f.disp.OnEvent(ctx, ev)

	if len(f.gen.calls) != 1 {
		t.Fatalf("generator called %d times, want 1", len(f.gen.calls))
	}
	want := []llm.Message{{Role: llm.RoleUser, Content: "hi @Neko"}}
	if diff := cmp.Diff(want, f.gen.calls[0]); diff != "" {
		t.Errorf("turns mismatch (-want +got):\n%s", diff)
	}
}

func TestRandomReplyAttachesHistory(t *testing.T) {
	f := newFixture(t, 0.0)
	ctx := context.Background()

	for _, e := range []model.ChatLogEntry{
		{Direction: model.Inbound, ChatID: "chat-1", Timestamp: testNow.Add(-2 * time.Hour), Text: "how do I fix shader stutter?"},
		{Direction: model.Outbound, ChatID: "chat-1", Timestamp: testNow.Add(-2 * time.Hour), Text: "precompile your pipelines", Status: model.StatusOK},
		// Same text as the inbound event: must be excluded.
		{Direction: model.Inbound, ChatID: "chat-1", Timestamp: testNow.Add(-time.Hour), Text: "thanks!"},
		// Outside the window entirely.
		{Direction: model.Inbound, ChatID: "chat-1", Timestamp: testNow.Add(-48 * time.Hour), Text: "old question"},
	} {
		e := e
		if err := f.store.AppendChatLog(ctx, &e); err != nil {
			t.Fatalf("seed history: %v", err)
		}
	}

	f.disp.OnEvent(ctx, event("e1", "chat-1", "thanks!"))

	if len(f.gen.calls) != 1 {
		t.Fatalf("generator called %d times, want 1", len(f.gen.calls))
	}
	want := []llm.Message{
		{Role: llm.RoleUser, Content: "how do I fix shader stutter?"},
		{Role: llm.RoleAssistant, Content: "precompile your pipelines"},
		{Role: llm.RoleUser, Content: "thanks!"},
	}
	if diff := cmp.Diff(want, f.gen.calls[0]); diff != "" {
		t.Errorf("turns mismatch (-want +got):\n%s", diff)
	}
}

func TestMutedMessageLoggedButNotAnswered(t *testing.T) {
	f := newFixture(t, 0.0)
	f.sess.Mute()
	ctx := context.Background()

	f.disp.OnEvent(ctx, event("e1", "chat-1", "hello"))

	if got := len(f.tr.messages()); got != 0 {
		t.Errorf("sent %d messages while muted, want 0", got)
	}
	if got := len(f.history(t, "chat-1")); got != 1 {
		t.Errorf("logged %d entries, want 1 inbound", got)
	}
}

func TestSendRejectionRecorded(t *testing.T) {
	f := newFixture(t, 0.0)
	f.tr.result = transport.Result{Code: 403, Message: "bot was blocked"}
	ctx := context.Background()

	f.disp.OnEvent(ctx, event("e1", "chat-1", "hello"))

	var outbound *model.ChatLogEntry
	for _, e := range f.history(t, "chat-1") {
		if e.Direction == model.Outbound {
			e := e
			outbound = &e
		}
	}
	if outbound == nil {
		t.Fatal("expected an outbound log entry")
	}
	if outbound.Status != model.StatusError || outbound.ErrorCode != 403 {
		t.Errorf("outbound status/code = %q/%d, want error/403", outbound.Status, outbound.ErrorCode)
	}
}
