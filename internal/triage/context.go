package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/triagestack/triage-engine/internal/cache"
	"github.com/triagestack/triage-engine/internal/evidence"
	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/utils"
)

// ThreadSource recovers prior conversation history for a referenced thread.
// Optional: a nil source means triage runs on the trigger text alone.
type ThreadSource interface {
	FetchThread(ctx context.Context, ref models.ThreadRef) ([]models.ThreadMessage, error)
}

// docPathKeywords mark documentation paths for product-query filtering.
var docPathKeywords = []string{
	"docs/", "doc/", "handbook", "guide", "runbook", "spec", "adr", "readme", "wiki",
}

// BuilderOptions tune evidence gathering.
type BuilderOptions struct {
	KeywordLimit   int
	MaxSnippets    int
	SnippetContext int
	IncludeCommits bool
	SearchTTL      time.Duration
	ThreadTTL      time.Duration
}

// ContextBuilder assembles the evidence packet for one job. A failing
// source is omitted and logged; triage proceeds with whatever remains.
type ContextBuilder struct {
	adapter evidence.Adapter
	cache   *cache.ContextCache
	threads ThreadSource
	opts    BuilderOptions
	logger  *slog.Logger
}

// NewContextBuilder wires the builder. threads may be nil.
func NewContextBuilder(adapter evidence.Adapter, contextCache *cache.ContextCache, threads ThreadSource, opts BuilderOptions, logger *slog.Logger) *ContextBuilder {
	if opts.KeywordLimit <= 0 {
		opts.KeywordLimit = 6
	}
	if opts.MaxSnippets <= 0 {
		opts.MaxSnippets = 8
	}
	if opts.SnippetContext <= 0 {
		opts.SnippetContext = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextBuilder{adapter: adapter, cache: contextCache, threads: threads, opts: opts, logger: logger}
}

// Build gathers thread history, keyword-driven code snippets and optional
// commit notes into a transient packet.
func (b *ContextBuilder) Build(ctx context.Context, req models.TriageRequest) models.ContextPacket {
	var packet models.ContextPacket
	packet.ThreadMessages = b.fetchThreads(ctx, req.ThreadRefs)

	keywords := ExtractKeywords(req.CombinedText(packet.ThreadMessages), b.opts.KeywordLimit)
	if len(keywords) == 0 {
		return packet
	}

	for _, repo := range b.adapter.Repos() {
		for _, keyword := range keywords {
			if len(packet.CodeSnippets) >= b.opts.MaxSnippets {
				return packet
			}
			matches, err := b.cachedSearch(ctx, repo, keyword)
			if err != nil {
				b.logger.Warn("evidence search failed, source omitted",
					slog.String("repo", repo), slog.String("keyword", keyword),
					slog.String("op", utils.Op(err)), slog.Any("error", err))
				continue
			}
			for _, match := range matches {
				if len(packet.CodeSnippets) >= b.opts.MaxSnippets {
					break
				}
				packet.CodeSnippets = append(packet.CodeSnippets, b.snippet(ctx, repo, match))
			}
		}
		if b.opts.IncludeCommits {
			if note := b.commitNote(ctx, repo); note != "" {
				packet.RecentCommits = append(packet.RecentCommits, note)
			}
		}
	}
	return packet
}

// ProductSnippets serves the documentation side-channel: searches scoped
// to doc-like paths only, never persisted to incident history.
func (b *ContextBuilder) ProductSnippets(ctx context.Context, query string) []models.CodeSnippet {
	keywords := ExtractKeywords(query, b.opts.KeywordLimit)
	if len(keywords) == 0 {
		return nil
	}

	var snippets []models.CodeSnippet
	for _, repo := range b.adapter.Repos() {
		for _, keyword := range keywords {
			if len(snippets) >= b.opts.MaxSnippets {
				return snippets
			}
			matches, err := b.cachedSearch(ctx, repo, keyword)
			if err != nil {
				continue
			}
			for _, match := range matches {
				if !isDocPath(match.Path) {
					continue
				}
				snippets = append(snippets, b.snippet(ctx, repo, match))
				if len(snippets) >= b.opts.MaxSnippets {
					break
				}
			}
		}
	}
	return snippets
}

func (b *ContextBuilder) fetchThreads(ctx context.Context, refs []models.ThreadRef) []models.ThreadMessage {
	if b.threads == nil {
		return nil
	}
	var out []models.ThreadMessage
	for _, ref := range refs {
		key := cache.ThreadKey(ref.Stream, ref.Topic)
		data, err := b.cache.GetOrFetch(ctx, key, b.opts.ThreadTTL, func(ctx context.Context) ([]byte, error) {
			msgs, err := b.threads.FetchThread(ctx, ref)
			if err != nil {
				return nil, err
			}
			return json.Marshal(msgs)
		})
		if err != nil {
			b.logger.Warn("thread fetch failed, context omitted",
				slog.String("stream", ref.Stream), slog.String("topic", ref.Topic), slog.Any("error", err))
			continue
		}
		var msgs []models.ThreadMessage
		if err := json.Unmarshal(data, &msgs); err != nil {
			continue
		}
		out = append(out, msgs...)
	}
	return out
}

// cachedSearch memoises per-repo per-keyword searches under the search TTL.
func (b *ContextBuilder) cachedSearch(ctx context.Context, repo, keyword string) ([]evidence.SearchMatch, error) {
	key := cache.SearchKey(b.adapter.Name(), repo, keyword)
	data, err := b.cache.GetOrFetch(ctx, key, b.opts.SearchTTL, func(ctx context.Context) ([]byte, error) {
		matches, err := b.adapter.Search(ctx, repo, keyword, 3)
		if err != nil {
			return nil, err
		}
		return json.Marshal(matches)
	})
	if err != nil {
		return nil, err
	}
	var matches []evidence.SearchMatch
	if err := json.Unmarshal(data, &matches); err != nil {
		return nil, err
	}
	return matches, nil
}

// snippet widens a search hit with surrounding lines when the file is
// readable; otherwise the preview line stands alone.
func (b *ContextBuilder) snippet(ctx context.Context, repo string, match evidence.SearchMatch) models.CodeSnippet {
	excerpt := match.Preview
	if content, err := b.adapter.ReadFile(ctx, repo, match.Path, ""); err == nil {
		if window := evidence.Window(content, match.Line, b.opts.SnippetContext); window != "" {
			excerpt = window
		}
	}
	return models.CodeSnippet{
		Repo:    repo,
		Path:    match.Path,
		Line:    match.Line,
		Excerpt: excerpt,
		Source:  b.adapter.Name(),
	}
}

func (b *ContextBuilder) commitNote(ctx context.Context, repo string) string {
	commits, err := b.adapter.RecentCommits(ctx, repo, 1)
	if err != nil || len(commits) == 0 {
		return ""
	}
	last := commits[0]
	return fmt.Sprintf("%s: latest commit %s by %s on %s: %s", repo, last.SHA, last.Author, last.Date, last.Message)
}

func isDocPath(path string) bool {
	lower := strings.ToLower(path)
	for _, kw := range docPathKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
