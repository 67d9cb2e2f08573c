// Package scheduler drives the two periodic activities of the bot: feed
// polling with push fan-out, and recency cache persistence. The two
// cadences are independent; a failed or slow poll cycle never blocks the
// cache sync.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Hierifer/vanilla/internal/model"
	"github.com/Hierifer/vanilla/internal/poller"
	"github.com/Hierifer/vanilla/internal/recency"
	"github.com/Hierifer/vanilla/internal/storage"
	"github.com/Hierifer/vanilla/internal/summarizer"
	"github.com/Hierifer/vanilla/internal/transport"
)

// Deps are the collaborators a Scheduler works with.
type Deps struct {
	Poller     *poller.Poller
	Store      storage.Storage
	Recency    *recency.Set
	Summarizer *summarizer.Summarizer
	Transport  transport.Transport
	Log        *slog.Logger
}

// Options tune scheduler cadences and bounds.
type Options struct {
	FeedURLs     []string
	PollInterval time.Duration
	SyncInterval time.Duration
	// CycleTimeout bounds one poll-and-push cycle, so a hung source
	// fetch cannot block the scheduler indefinitely.
	CycleTimeout time.Duration
	// MaxCycles caps how many poll cycles may overlap.
	MaxCycles int64
}

// Scheduler runs the poll and sync cadences.
type Scheduler struct {
	deps   Deps
	opts   Options
	cycles *semaphore.Weighted
}

// New creates a Scheduler.
func New(deps Deps, opts Options) *Scheduler {
	if opts.MaxCycles < 1 {
		opts.MaxCycles = 1
	}
	return &Scheduler{
		deps:   deps,
		opts:   opts,
		cycles: semaphore.NewWeighted(opts.MaxCycles),
	}
}

// Run starts both cadences, blocking until ctx is cancelled. Poll cycles
// run in their own goroutine so a long cycle does not delay the cache
// sync; cycles beyond the overlap cap are skipped, not queued.
func (s *Scheduler) Run(ctx context.Context) {
	pollTicker := time.NewTicker(s.opts.PollInterval)
	defer pollTicker.Stop()
	syncTicker := time.NewTicker(s.opts.SyncInterval)
	defer syncTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			if !s.cycles.TryAcquire(1) {
				s.deps.Log.Warn("poll cycle skipped, too many in flight")
				continue
			}
			go func() {
				defer s.cycles.Release(1)
				s.runCycle(ctx)
			}()
		case <-syncTicker.C:
			if err := s.deps.Recency.Flush(); err != nil {
				s.deps.Log.Error("sync recency cache", "error", err)
			}
		}
	}
}

// PushNow runs one poll-and-push cycle immediately, subject to the same
// overlap cap and timeout as scheduled cycles.
func (s *Scheduler) PushNow(ctx context.Context) error {
	if err := s.cycles.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire poll slot: %w", err)
	}
	defer s.cycles.Release(1)
	s.runCycle(ctx)
	return nil
}

func (s *Scheduler) runCycle(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.CycleTimeout)
	defer cancel()

	s.checkAndPush(ctx)

	if ctx.Err() == context.DeadlineExceeded {
		s.deps.Log.Error("poll cycle timed out", "timeout", s.opts.CycleTimeout)
	}
}

// checkAndPush polls every source and fans each new entry out to all
// subscribers. One destination's send failure is logged and does not stop
// sends to the others.
func (s *Scheduler) checkAndPush(ctx context.Context) {
	s.deps.Log.Debug("checking feeds", "sources", len(s.opts.FeedURLs))

	entries := s.deps.Poller.Poll(ctx, s.opts.FeedURLs)
	if len(entries) == 0 {
		s.deps.Log.Debug("no new entries")
		return
	}

	subs, err := s.deps.Store.ListSubscriptions(ctx)
	if err != nil {
		s.deps.Log.Error("list subscriptions", "error", err)
		return
	}
	if len(subs) == 0 {
		s.deps.Log.Debug("no subscribers")
		return
	}

	sent := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		text := s.formatPush(ctx, entry)
		for _, chatID := range subs {
			res, err := s.deps.Transport.SendText(ctx, chatID, text)
			if err != nil {
				s.deps.Log.Error("push entry", "chat_id", chatID, "error", err)
				continue
			}
			if !res.OK {
				s.deps.Log.Error("push entry rejected", "chat_id", chatID, "code", res.Code, "message", res.Message)
				continue
			}
			sent++
		}
	}
	if sent > 0 {
		s.deps.Log.Info("pushed feed entries", "entries", len(entries), "sent", sent)
	}
}

func (s *Scheduler) formatPush(ctx context.Context, entry model.NewEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]\n%s\n%s", entry.Source, entry.Entry.Title, entry.Entry.Link)
	if s.deps.Summarizer != nil {
		b.WriteString("\n\nSummary:\n")
		b.WriteString(s.deps.Summarizer.Summarize(ctx, entry.Entry.Link))
	}
	return b.String()
}
