package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/afero"

	"github.com/Hierifer/vanilla/internal/command"
	"github.com/Hierifer/vanilla/internal/config"
	"github.com/Hierifer/vanilla/internal/dispatcher"
	"github.com/Hierifer/vanilla/internal/fetcher"
	"github.com/Hierifer/vanilla/internal/llm"
	"github.com/Hierifer/vanilla/internal/policy"
	"github.com/Hierifer/vanilla/internal/poller"
	"github.com/Hierifer/vanilla/internal/recency"
	"github.com/Hierifer/vanilla/internal/scheduler"
	"github.com/Hierifer/vanilla/internal/storage"
	"github.com/Hierifer/vanilla/internal/summarizer"
	"github.com/Hierifer/vanilla/internal/transport"
	"github.com/Hierifer/vanilla/internal/watermark"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	fs := afero.NewOsFs()
	cache := recency.New(fs, cfg.CachePath, cfg.RecencyCapacity, recency.FlushSync, log)
	marks := watermark.New(fs, cfg.StatePath, log)

	var gen llm.Client
	if cfg.LLMAPIKey != "" {
		gen = llm.NewOpenAI(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	} else {
		log.Warn("LLM_API_KEY not set, replies and summaries will use fallbacks")
	}

	tg, err := transport.NewTelegram(cfg.TelegramBotToken, log)
	if err != nil {
		log.Error("create transport", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(scheduler.Deps{
		Poller:     poller.New(fetcher.New(http.DefaultClient), marks, log),
		Store:      store,
		Recency:    cache,
		Summarizer: summarizer.New(http.DefaultClient, gen, log),
		Transport:  tg,
		Log:        log,
	}, scheduler.Options{
		FeedURLs:     cfg.FeedURLs,
		PollInterval: cfg.PollInterval,
		SyncInterval: cfg.SyncInterval,
		CycleTimeout: cfg.CycleTimeout,
		MaxCycles:    cfg.MaxPollCycles,
	})

	session := policy.NewSession()
	registry := command.NewRegistry()
	registry.Register("/mute", command.MuteHandler(session), "pause replies to ordinary messages")
	registry.Register("/unmute", command.UnmuteHandler(session), "resume normal conversation")
	registry.Register("/subscribe", command.SubscribeHandler(store), "receive feed pushes in this chat")
	registry.Register("/push", command.PushNowHandler(sched), "run a feed check and push now")
	registry.Register("/help", command.HelpHandler(registry), "show this command list")

	disp := dispatcher.New(dispatcher.Deps{
		Recency:   cache,
		Store:     store,
		Policy:    policy.NewEngine(session, registry, cfg.BotName, cfg.ReplyProbability),
		Commands:  registry,
		Generator: gen,
		Transport: tg,
		Log:       log,
	}, dispatcher.Options{
		MaxEventAge:   cfg.MaxEventAge,
		HistoryWindow: cfg.HistoryWindow,
	})
	tg.SetHandler(disp)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting bot", "name", cfg.BotName, "feeds", len(cfg.FeedURLs))

	go sched.Run(ctx)

	tg.Run(ctx)

	if err := cache.Flush(); err != nil {
		log.Error("flush recency cache on shutdown", "error", err)
	}

	log.Info("bot stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
