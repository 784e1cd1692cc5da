package models

import (
	"fmt"
	"time"
)

// IncidentKey composes the stable identity under which triage state is
// tracked. Direct messages fall under the "dm" stream.
func IncidentKey(stream, topic string) string {
	if stream == "" {
		stream = "dm"
	}
	if topic == "" {
		topic = "general"
	}
	return fmt.Sprintf("%s::%s", stream, topic)
}

// ThreadRef points at a prior conversation thread referenced by a trigger message.
type ThreadRef struct {
	Stream string
	Topic  string
}

// ThreadMessage is a single message recovered from thread history.
type ThreadMessage struct {
	Author string
	Text   string
}

// TriageRequest is the immutable value created per inbound trigger.
type TriageRequest struct {
	IncidentKey string
	Sender      string
	RawText     string
	ThreadRefs  []ThreadRef
	RequestedAt time.Time
}

// CombinedText joins the incident text with any supplied thread context so
// keyword extraction and prompting see the whole conversation.
func (r TriageRequest) CombinedText(thread []ThreadMessage) string {
	out := r.RawText
	for _, msg := range thread {
		out += "\n" + msg.Author + ": " + msg.Text
	}
	return out
}

// CodeSnippet is a search hit enriched with surrounding file content.
type CodeSnippet struct {
	Repo    string
	Path    string
	Line    int
	Excerpt string
	Source  string
}

// Ref renders the canonical repo:path:line citation for a snippet.
func (s CodeSnippet) Ref() string {
	return fmt.Sprintf("%s:%s:%d", s.Repo, s.Path, s.Line)
}

// MetricPoint is one sample of a queried metric series.
type MetricPoint struct {
	Timestamp time.Time
	Value     float64
}

// MetricSeries is the result of a metric query, typically absent or stubbed.
type MetricSeries struct {
	Source string
	Points []MetricPoint
}

// ContextPacket bundles the evidence assembled before reasoning. It is
// transient: built per job, discarded when the job completes.
type ContextPacket struct {
	ThreadMessages []ThreadMessage
	CodeSnippets   []CodeSnippet
	MetricSeries   []MetricSeries
	RecentCommits  []string
}

// Confidence is the categorical certainty attached to a finding.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ParseConfidence normalises free-form confidence markers into the closed scale.
func ParseConfidence(s string) Confidence {
	switch Confidence(s) {
	case ConfidenceMedium, ConfidenceHigh:
		return Confidence(s)
	default:
		return ConfidenceLow
	}
}

// Producer identifies which analysis path emitted a result.
type Producer string

const (
	ProducedByReasoning Producer = "reasoning"
	ProducedByFallback  Producer = "fallback"
)

// RCAResult is the structured output of one triage job. Immutable once
// created; a rerun appends a new result, it never mutates a prior one.
type RCAResult struct {
	ID           string
	IncidentKey  string
	Finding      string
	Confidence   Confidence
	EvidenceRefs []string
	NextSteps    []string
	ProducedBy   Producer
	ProducedAt   time.Time
}

// Command enumerates the user-facing operations recorded on a record.
type Command string

const (
	CommandTriage  Command = "triage"
	CommandStatus  Command = "status"
	CommandRerun   Command = "rerun"
	CommandProduct Command = "product"
)

// IncidentRecord is the long-lived aggregate tracked per incident key.
type IncidentRecord struct {
	Key           string
	LatestRequest TriageRequest
	LatestResult  *RCAResult
	History       []RCAResult
	LastCommand   Command
}
