package evidence_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triagestack/triage-engine/internal/evidence"
)

func sourcegraphResponse(path string, lines ...int) map[string]any {
	lineMatches := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		lineMatches = append(lineMatches, map[string]any{
			"lineNumber": line,
			"line":       "  some matched line  ",
		})
	}
	return map[string]any{
		"data": map[string]any{
			"search": map[string]any{
				"results": map[string]any{
					"results": []map[string]any{
						{
							"__typename":  "FileMatch",
							"repository":  map[string]any{"name": "shop"},
							"file":        map[string]any{"path": path},
							"lineMatches": lineMatches,
						},
					},
				},
			},
		},
	}
}

func TestSourcegraphSearch(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/.api/graphql", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		var body struct {
			Variables map[string]string `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body.Variables["query"], "repo:^shop$")

		_ = json.NewEncoder(w).Encode(sourcegraphResponse("src/checkout.ts", 41, 77))
	}))
	defer server.Close()

	adapter := evidence.NewSourcegraphAdapter(server.URL, "secret-token", []string{"shop"}, 5*time.Second)

	matches, err := adapter.Search(context.Background(), "shop", "checkout", 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "src/checkout.ts", matches[0].Path)
	assert.Equal(t, 42, matches[0].Line, "zero-based line numbers must be converted")
	assert.Equal(t, "some matched line", matches[0].Preview)
	assert.Equal(t, "token secret-token", gotAuth)
}

func TestSourcegraphSearchLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(sourcegraphResponse("src/a.go", 1, 2, 3, 4))
	}))
	defer server.Close()

	adapter := evidence.NewSourcegraphAdapter(server.URL, "", []string{"shop"}, 5*time.Second)

	matches, err := adapter.Search(context.Background(), "shop", "checkout", 2)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestSourcegraphSearchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	adapter := evidence.NewSourcegraphAdapter(server.URL, "", []string{"shop"}, 5*time.Second)

	_, err := adapter.Search(context.Background(), "shop", "checkout", 3)
	assert.Error(t, err)
}

func TestLayeredFallsBackToLocal(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "index down", http.StatusBadGateway)
	}))
	defer broken.Close()

	indexed := evidence.NewSourcegraphAdapter(broken.URL, "", []string{"shop"}, 5*time.Second)
	local := newTestAdapter(t)
	layered := evidence.NewLayeredAdapter(indexed, local, nil)

	matches, err := layered.Search(context.Background(), "shop", "checkout", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, matches, "local scan must serve results when the index is down")

	content, err := layered.ReadFile(context.Background(), "shop", "docs/runbook.md", "")
	require.NoError(t, err)
	assert.Contains(t, content, "runbook")
}
