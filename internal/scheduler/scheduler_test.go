package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/Hierifer/vanilla/internal/fetcher"
	"github.com/Hierifer/vanilla/internal/poller"
	"github.com/Hierifer/vanilla/internal/recency"
	"github.com/Hierifer/vanilla/internal/storage"
	"github.com/Hierifer/vanilla/internal/transport"
	"github.com/Hierifer/vanilla/internal/watermark"
)

type mockHTTP struct {
	responses map[string]string
}

func (m *mockHTTP) Do(req *http.Request) (*http.Response, error) {
	body, ok := m.responses[req.URL.String()]
	if !ok {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Body:       io.NopCloser(bytes.NewReader(nil)),
		}, nil
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func feedXML(title string, items ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<?xml version="1.0"?><rss version="2.0"><channel><title>%s</title>`, title)
	for _, it := range items {
		b.WriteString(it)
	}
	b.WriteString("</channel></rss>")
	return b.String()
}

func feedItem(guid, title string, epochSec int64) string {
	date := time.Unix(epochSec, 0).UTC().Format(time.RFC1123Z)
	return fmt.Sprintf(
		"<item><guid>%s</guid><title>%s</title><link>https://example.com/%s</link><pubDate>%s</pubDate></item>",
		guid, title, guid, date)
}

type sentPush struct {
	ChatID string
	Text   string
}

type mockTransport struct {
	mu      sync.Mutex
	sent    []sentPush
	failFor map[string]bool
}

func (m *mockTransport) SendText(_ context.Context, chatID, text string) (transport.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[chatID] {
		return transport.Result{Code: 403, Message: "bot was blocked"}, nil
	}
	m.sent = append(m.sent, sentPush{ChatID: chatID, Text: text})
	return transport.Result{OK: true, MessageID: "m1"}, nil
}

func (m *mockTransport) pushes() []sentPush {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]sentPush, len(m.sent))
	copy(cp, m.sent)
	return cp
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(t *testing.T, responses map[string]string, urls []string) (*Scheduler, *storage.SQLite, *mockTransport, *recency.Set, afero.Fs) {
	t.Helper()

	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := discardLogger()
	fs := afero.NewMemMapFs()
	marks := watermarkSeeded(fs, log, urls)
	p := poller.New(fetcher.New(&mockHTTP{responses: responses}), marks, log)
	cache := recency.New(fs, "cache.json", 100, recency.FlushDeferred, log)
	tr := &mockTransport{failFor: make(map[string]bool)}

	s := New(Deps{
		Poller:    p,
		Store:     store,
		Recency:   cache,
		Transport: tr,
		Log:       log,
	}, Options{
		FeedURLs:     urls,
		PollInterval: time.Hour,
		SyncInterval: time.Hour,
		CycleTimeout: 10 * time.Second,
		MaxCycles:    3,
	})
	return s, store, tr, cache, fs
}

// watermarkSeeded pre-positions every source's watermark at epoch second
// 1000 so tests control exactly which items count as new.
func watermarkSeeded(fs afero.Fs, log *slog.Logger, urls []string) *watermark.Store {
	marks := watermark.New(fs, "feed_state.json", log)
	for _, u := range urls {
		marks.Advance(u, 1000)
	}
	return marks
}

func TestPushNowFansOutToAllSubscribers(t *testing.T) {
	url := "https://example.com/feed.xml"
	responses := map[string]string{
		url: feedXML("GameDev Weekly",
			feedItem("old-1", "Old Post", 900),
			feedItem("new-1", "Fresh Post", 2000),
		),
	}
	s, store, tr, _, _ := newTestScheduler(t, responses, []string{url})
	ctx := context.Background()

	for _, chat := range []string{"chat-1", "chat-2"} {
		if _, err := store.AddSubscription(ctx, chat); err != nil {
			t.Fatalf("subscribe %s: %v", chat, err)
		}
	}

	if err := s.PushNow(ctx); err != nil {
		t.Fatalf("PushNow: %v", err)
	}

	got := tr.pushes()
	if len(got) != 2 {
		t.Fatalf("sent %d pushes, want 2", len(got))
	}
	wantText := "[GameDev Weekly]\nFresh Post\nhttps://example.com/new-1"
	for _, p := range got {
		if diff := cmp.Diff(wantText, p.Text); diff != "" {
			t.Errorf("push text mismatch (-want +got):\n%s", diff)
		}
	}
	if got[0].ChatID == got[1].ChatID {
		t.Errorf("both pushes went to %s, want distinct subscribers", got[0].ChatID)
	}
}

func TestPushNowIsolatesDestinationFailures(t *testing.T) {
	url := "https://example.com/feed.xml"
	responses := map[string]string{
		url: feedXML("GameDev Weekly", feedItem("new-1", "Fresh Post", 2000)),
	}
	s, store, tr, _, _ := newTestScheduler(t, responses, []string{url})
	ctx := context.Background()

	for _, chat := range []string{"chat-1", "chat-2", "chat-3"} {
		if _, err := store.AddSubscription(ctx, chat); err != nil {
			t.Fatalf("subscribe %s: %v", chat, err)
		}
	}
	tr.failFor["chat-2"] = true

	if err := s.PushNow(ctx); err != nil {
		t.Fatalf("PushNow: %v", err)
	}

	var chats []string
	for _, p := range tr.pushes() {
		chats = append(chats, p.ChatID)
	}
	if diff := cmp.Diff([]string{"chat-1", "chat-3"}, chats); diff != "" {
		t.Errorf("delivered chats mismatch (-want +got):\n%s", diff)
	}
}

func TestPushNowNoNewEntries(t *testing.T) {
	url := "https://example.com/feed.xml"
	responses := map[string]string{
		url: feedXML("GameDev Weekly", feedItem("old-1", "Old Post", 900)),
	}
	s, store, tr, _, _ := newTestScheduler(t, responses, []string{url})
	ctx := context.Background()

	if _, err := store.AddSubscription(ctx, "chat-1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := s.PushNow(ctx); err != nil {
		t.Fatalf("PushNow: %v", err)
	}
	if got := len(tr.pushes()); got != 0 {
		t.Errorf("sent %d pushes, want 0", got)
	}
}

func TestPushNowNoSubscribers(t *testing.T) {
	url := "https://example.com/feed.xml"
	responses := map[string]string{
		url: feedXML("GameDev Weekly", feedItem("new-1", "Fresh Post", 2000)),
	}
	s, _, tr, _, _ := newTestScheduler(t, responses, []string{url})

	if err := s.PushNow(context.Background()); err != nil {
		t.Fatalf("PushNow: %v", err)
	}
	if got := len(tr.pushes()); got != 0 {
		t.Errorf("sent %d pushes, want 0", got)
	}
}

func TestRunSyncsRecencyCache(t *testing.T) {
	url := "https://example.com/feed.xml"
	responses := map[string]string{url: feedXML("GameDev Weekly")}
	s, _, _, cache, fs := newTestScheduler(t, responses, []string{url})
	s.opts.SyncInterval = 10 * time.Millisecond

	cache.MarkSeen("ev-1")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	data, err := afero.ReadFile(fs, "cache.json")
	if err != nil {
		t.Fatalf("read cache file: %v", err)
	}
	if !strings.Contains(string(data), "ev-1") {
		t.Errorf("cache file %q does not contain synced id", data)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	url := "https://example.com/feed.xml"
	responses := map[string]string{url: feedXML("GameDev Weekly")}
	s, _, _, _, _ := newTestScheduler(t, responses, []string{url})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
