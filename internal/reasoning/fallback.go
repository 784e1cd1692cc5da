package reasoning

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/triagestack/triage-engine/internal/models"
)

// fallbackStopWords are filler tokens that carry no signal for ranking.
var fallbackStopWords = map[string]struct{}{
	"the": {}, "this": {}, "that": {}, "have": {}, "error": {},
	"issue": {}, "with": {}, "when": {}, "from": {}, "user": {},
	"users": {}, "request": {}, "requests": {}, "failed": {},
	"failing": {}, "frontend": {}, "backend": {}, "prod": {},
	"production": {},
}

var fallbackTokenRe = regexp.MustCompile(`[a-zA-Z]{4,}`)

// Fallback ranks already-gathered evidence by keyword overlap with the
// incident text. It never calls out anywhere, so it always produces a
// result, always at low confidence.
type Fallback struct {
	maxEvidence int
	logger      *slog.Logger
}

// NewFallback builds the analyzer; maxEvidence caps cited snippets.
func NewFallback(maxEvidence int, logger *slog.Logger) *Fallback {
	if maxEvidence <= 0 {
		maxEvidence = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{maxEvidence: maxEvidence, logger: logger}
}

type rankedSnippet struct {
	snippet models.CodeSnippet
	score   int
	index   int
}

// Analyze produces a deterministic low-confidence result from the packet.
func (f *Fallback) Analyze(req models.TriageRequest, packet models.ContextPacket) models.RCAResult {
	keywords := fallbackKeywords(req.CombinedText(packet.ThreadMessages))

	ranked := make([]rankedSnippet, 0, len(packet.CodeSnippets))
	for i, snippet := range packet.CodeSnippets {
		haystack := strings.ToLower(snippet.Path + " " + snippet.Excerpt)
		score := 0
		for _, kw := range keywords {
			if strings.Contains(haystack, kw) {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, rankedSnippet{snippet: snippet, score: score, index: i})
		}
	}
	// Stable ordering: higher score first, original order breaks ties.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].index < ranked[j].index
	})
	if len(ranked) > f.maxEvidence {
		ranked = ranked[:f.maxEvidence]
	}

	result := models.RCAResult{
		ID:          uuid.NewString(),
		IncidentKey: req.IncidentKey,
		Confidence:  models.ConfidenceLow,
		NextSteps:   []string{"manual review required"},
		ProducedBy:  models.ProducedByFallback,
		ProducedAt:  time.Now().UTC(),
	}

	if len(ranked) == 0 {
		result.Finding = "no matching evidence found"
		if len(keywords) > 0 {
			result.Finding = fmt.Sprintf("no matching evidence found for keywords: %s", strings.Join(keywords, ", "))
		}
		return result
	}

	refs := make([]string, 0, len(ranked))
	for _, r := range ranked {
		refs = append(refs, r.snippet.Ref())
	}
	result.Finding = fmt.Sprintf("possible match: %s (%s)", refs[0], firstLine(ranked[0].snippet.Excerpt))
	result.EvidenceRefs = refs
	return result
}

func fallbackKeywords(text string) []string {
	tokens := fallbackTokenRe.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]struct{}, len(tokens))
	var keywords []string
	for _, token := range tokens {
		if _, stop := fallbackStopWords[token]; stop {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		keywords = append(keywords, token)
	}
	return keywords
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
