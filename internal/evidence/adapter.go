// Package evidence defines the read-only capability set triage jobs use to
// gather supporting material, with interchangeable backends.
package evidence

import (
	"context"
	"errors"

	"github.com/triagestack/triage-engine/internal/models"
)

// ErrNotFound reports a missing file or unknown repo/path.
var ErrNotFound = errors.New("evidence not found")

// ErrUnavailable reports a capability the backend does not provide.
var ErrUnavailable = errors.New("evidence source unavailable")

// SearchMatch is one ranked hit from a repo search.
type SearchMatch struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Preview string `json:"preview"`
}

// Commit summarises one recent commit.
type Commit struct {
	SHA     string `json:"sha"`
	Author  string `json:"author"`
	Date    string `json:"date"`
	Message string `json:"message"`
}

// Adapter is the uniform capability set over an evidence backend. All
// operations are read-only; budget limiting happens in the tool
// dispatcher, not here.
type Adapter interface {
	Name() string
	Repos() []string
	Search(ctx context.Context, repo, query string, limit int) ([]SearchMatch, error)
	ReadFile(ctx context.Context, repo, path, ref string) (string, error)
	RecentCommits(ctx context.Context, repo string, limit int) ([]Commit, error)
	QueryMetric(ctx context.Context, source string, params map[string]any) (models.MetricSeries, error)
}
