// Package triage runs incident jobs: gather evidence, produce a finding
// through the reasoning step or the fallback, persist it and reply.
package triage

import (
	"regexp"
	"sort"
	"strings"
)

// keywordStopWords are conversational filler excluded from extraction.
var keywordStopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "this": {},
	"that": {}, "with": {}, "have": {}, "has": {}, "triage": {},
	"issue": {}, "issues": {}, "please": {}, "thanks": {}, "thank": {},
	"hello": {}, "hey": {}, "team": {}, "update": {}, "updated": {},
	"can": {}, "you": {}, "our": {}, "not": {},
}

var keywordTokenRe = regexp.MustCompile(`[a-z0-9_-]{2,}`)

var digitsRe = regexp.MustCompile(`^[0-9]+$`)

// ExtractKeywords pulls the most frequent meaningful tokens out of the
// incident text. Deterministic: frequency ranks, first occurrence breaks ties.
func ExtractKeywords(text string, limit int) []string {
	if limit <= 0 {
		limit = 6
	}
	tokens := keywordTokenRe.FindAllString(strings.ToLower(text), -1)

	counts := make(map[string]int)
	order := make(map[string]int)
	for i, token := range tokens {
		if _, stop := keywordStopWords[token]; stop {
			continue
		}
		if digitsRe.MatchString(token) {
			continue
		}
		if _, seen := counts[token]; !seen {
			order[token] = i
		}
		counts[token]++
	}

	keywords := make([]string, 0, len(counts))
	for token := range counts {
		keywords = append(keywords, token)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return order[keywords[i]] < order[keywords[j]]
	})
	if len(keywords) > limit {
		keywords = keywords[:limit]
	}
	return keywords
}
