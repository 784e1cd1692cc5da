package evidence

import (
	"context"
	"log/slog"

	"github.com/triagestack/triage-engine/internal/models"
)

// LayeredAdapter prefers an indexed search backend and falls back to the
// local backend when the index errors or returns nothing. Reads, commits
// and metric queries always go to the local backend, which is the only
// one that serves them.
type LayeredAdapter struct {
	indexed Adapter
	local   Adapter
	logger  *slog.Logger
}

// NewLayeredAdapter composes the two backends. Both must be non-nil.
func NewLayeredAdapter(indexed, local Adapter, logger *slog.Logger) *LayeredAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LayeredAdapter{indexed: indexed, local: local, logger: logger}
}

// Name identifies this backend in snippet provenance.
func (a *LayeredAdapter) Name() string { return a.indexed.Name() }

// Repos lists the local backend's repos, the authoritative checkout set.
func (a *LayeredAdapter) Repos() []string { return a.local.Repos() }

// Search tries the indexed backend first and falls back to the local scan.
func (a *LayeredAdapter) Search(ctx context.Context, repo, query string, limit int) ([]SearchMatch, error) {
	matches, err := a.indexed.Search(ctx, repo, query, limit)
	if err == nil && len(matches) > 0 {
		return matches, nil
	}
	if err != nil {
		a.logger.Debug("indexed search failed, using local scan",
			slog.String("repo", repo), slog.Any("error", err))
	}
	return a.local.Search(ctx, repo, query, limit)
}

// ReadFile delegates to the local backend.
func (a *LayeredAdapter) ReadFile(ctx context.Context, repo, path, ref string) (string, error) {
	return a.local.ReadFile(ctx, repo, path, ref)
}

// RecentCommits delegates to the local backend.
func (a *LayeredAdapter) RecentCommits(ctx context.Context, repo string, limit int) ([]Commit, error) {
	return a.local.RecentCommits(ctx, repo, limit)
}

// QueryMetric delegates to the local backend.
func (a *LayeredAdapter) QueryMetric(ctx context.Context, source string, params map[string]any) (models.MetricSeries, error) {
	return a.local.QueryMetric(ctx, source, params)
}
