package triage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/triagestack/triage-engine/internal/triage"
)

func TestExtractKeywordsRanksByFrequency(t *testing.T) {
	text := "checkout checkout checkout payment payment gateway"

	keywords := triage.ExtractKeywords(text, 6)
	assert.Equal(t, []string{"checkout", "payment", "gateway"}, keywords)
}

func TestExtractKeywordsSkipsStopWordsAndDigits(t *testing.T) {
	text := "please triage this issue: the checkout 500 errors started at 1400"

	keywords := triage.ExtractKeywords(text, 6)
	assert.NotContains(t, keywords, "please")
	assert.NotContains(t, keywords, "triage")
	assert.NotContains(t, keywords, "issue")
	assert.NotContains(t, keywords, "500")
	assert.Contains(t, keywords, "checkout")
	assert.Contains(t, keywords, "errors")
}

func TestExtractKeywordsLimit(t *testing.T) {
	text := "alpha bravo charlie delta echo foxtrot golf hotel"

	keywords := triage.ExtractKeywords(text, 3)
	assert.Len(t, keywords, 3)
	assert.Equal(t, "alpha", keywords[0], "ties break on first occurrence")
}

func TestExtractKeywordsKeepsIdentifiers(t *testing.T) {
	keywords := triage.ExtractKeywords("pod-adjust failed in svc_checkout v2", 6)
	assert.Contains(t, keywords, "pod-adjust")
	assert.Contains(t, keywords, "svc_checkout")
	assert.Contains(t, keywords, "v2")
}

func TestExtractKeywordsEmptyText(t *testing.T) {
	assert.Empty(t, triage.ExtractKeywords("", 6))
	assert.Empty(t, triage.ExtractKeywords("a b c", 6), "single-letter tokens carry no signal")
}
