// Package summarizer fetches article pages and produces short generated
// summaries. Every failure maps to a user-facing fallback string; the
// caller never has to handle an error.
package summarizer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Hierifer/vanilla/internal/llm"
)

// User-facing fallback texts.
const (
	FallbackUnreachable  = "The page could not be fetched, so no summary is available."
	FallbackUnconfigured = "Summaries are not configured."
	FallbackGeneration   = "Summary generation failed."
)

// Content beyond this many bytes is dropped before prompting, to keep the
// request inside the model context.
const maxContentLen = 4000

const prompt = `Read the following article text and summarize it in 2-3 sentences.
Focus on the core news, technical highlights, or main argument.

Text:
`

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Summarizer turns an article URL into a short summary.
type Summarizer struct {
	client  HTTPClient
	gen     llm.Client
	timeout time.Duration
	log     *slog.Logger
}

// New creates a Summarizer. gen may be nil when no generation backend is
// configured; Summarize then returns FallbackUnconfigured.
func New(client HTTPClient, gen llm.Client, log *slog.Logger) *Summarizer {
	return &Summarizer{
		client:  client,
		gen:     gen,
		timeout: 10 * time.Second,
		log:     log,
	}
}

// Summarize fetches url, extracts its readable text, and asks the
// generation backend for a 2-3 sentence summary.
func (s *Summarizer) Summarize(ctx context.Context, url string) string {
	content, err := s.fetchText(ctx, url)
	if err != nil {
		s.log.Warn("fetch page for summary", "url", url, "error", err)
		return FallbackUnreachable
	}
	if s.gen == nil {
		return FallbackUnconfigured
	}

	reply, err := s.gen.Chat(ctx, url, []llm.Message{
		{Role: llm.RoleUser, Content: prompt + content},
	})
	if err != nil {
		s.log.Error("generate summary", "url", url, "error", err)
		return FallbackGeneration
	}
	return reply
}

func (s *Summarizer) fetchText(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; VanillaBot/1.0)")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return extractText(io.LimitReader(resp.Body, 5*1024*1024))
}

// extractText strips page chrome and collapses the remaining text into
// non-empty lines, capped at maxContentLen bytes.
func extractText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	doc.Find("script, style, nav, footer, header").Remove()

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	text := strings.Join(lines, "\n")
	if len(text) > maxContentLen {
		text = text[:maxContentLen]
	}
	return text, nil
}
