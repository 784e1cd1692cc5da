package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/utils"
)

const sourcegraphSearchQuery = `
query Search($query: String!) {
  search(query: $query, version: V3) {
    results {
      results {
        __typename
        ... on FileMatch {
          repository { name }
          file { path }
          lineMatches {
            lineNumber
            line
          }
        }
      }
    }
  }
}
`

// SourcegraphAdapter serves repo search through a Sourcegraph GraphQL
// endpoint. File reads and commit listings stay with the local backend;
// this adapter only replaces the search capability.
type SourcegraphAdapter struct {
	endpoint   string
	token      string
	repos      []string
	httpClient *http.Client
}

// NewSourcegraphAdapter constructs an adapter for the given endpoint. The
// repo list scopes which repositories searches may target.
func NewSourcegraphAdapter(endpoint, token string, repos []string, timeout time.Duration) *SourcegraphAdapter {
	return &SourcegraphAdapter{
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      token,
		repos:      append([]string(nil), repos...),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name identifies this backend in snippet provenance.
func (a *SourcegraphAdapter) Name() string { return "sourcegraph" }

// Repos lists the repositories searches are scoped to.
func (a *SourcegraphAdapter) Repos() []string {
	return append([]string(nil), a.repos...)
}

// Search runs an indexed search scoped to the named repo.
func (a *SourcegraphAdapter) Search(ctx context.Context, repo, query string, limit int) ([]SearchMatch, error) {
	if a.endpoint == "" {
		return nil, ErrUnavailable
	}
	if query == "" || limit <= 0 {
		return nil, nil
	}

	queryString := fmt.Sprintf("repo:^%s$ %q count:%d", repo, query, limit)
	payload := map[string]any{
		"query":     sourcegraphSearchQuery,
		"variables": map[string]string{"query": queryString},
	}

	var response struct {
		Data struct {
			Search struct {
				Results struct {
					Results []struct {
						Typename string `json:"__typename"`
						File     struct {
							Path string `json:"path"`
						} `json:"file"`
						LineMatches []struct {
							LineNumber int    `json:"lineNumber"`
							Line       string `json:"line"`
						} `json:"lineMatches"`
					} `json:"results"`
				} `json:"results"`
			} `json:"search"`
		} `json:"data"`
	}

	if err := a.postGraphQL(ctx, payload, &response); err != nil {
		return nil, utils.NewAppError("evidence.sourcegraph", "search failed", err)
	}

	var matches []SearchMatch
	for _, result := range response.Data.Search.Results.Results {
		if result.Typename != "FileMatch" {
			continue
		}
		for _, lm := range result.LineMatches {
			matches = append(matches, SearchMatch{
				Path: result.File.Path,
				// Sourcegraph line numbers are zero-based.
				Line:    lm.LineNumber + 1,
				Preview: strings.TrimSpace(lm.Line),
			})
			if len(matches) >= limit {
				return matches, nil
			}
		}
	}
	return matches, nil
}

// ReadFile is not served by the indexed backend.
func (a *SourcegraphAdapter) ReadFile(context.Context, string, string, string) (string, error) {
	return "", ErrUnavailable
}

// RecentCommits is not served by the indexed backend.
func (a *SourcegraphAdapter) RecentCommits(context.Context, string, int) ([]Commit, error) {
	return nil, ErrUnavailable
}

// QueryMetric is not served by the indexed backend.
func (a *SourcegraphAdapter) QueryMetric(context.Context, string, map[string]any) (models.MetricSeries, error) {
	return models.MetricSeries{}, ErrUnavailable
}

func (a *SourcegraphAdapter) postGraphQL(ctx context.Context, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/.api/graphql", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "token "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
