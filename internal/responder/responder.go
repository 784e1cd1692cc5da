// Package responder shapes triage outcomes into chat payloads and hands
// them to a delivery collaborator. Delivery guarantees past the handoff
// are the collaborator's problem.
package responder

import (
	"context"
	"fmt"
	"strings"

	"github.com/triagestack/triage-engine/internal/models"
)

// Kind labels the payload class so transports can style replies.
type Kind string

const (
	KindResult  Kind = "result"
	KindStatus  Kind = "status"
	KindProduct Kind = "product"
	KindFailure Kind = "failure"
	KindNotice  Kind = "notice"
)

// Reply is one outbound payload addressed by incident key.
type Reply struct {
	IncidentKey string `json:"incident_key"`
	Kind        Kind   `json:"kind"`
	Text        string `json:"text"`
}

// Responder delivers replies to the chat surface.
type Responder interface {
	Send(ctx context.Context, reply Reply) error
}

// FormatResult renders an RCAResult as the standard reply body.
func FormatResult(result models.RCAResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Finding** (%s confidence)\n%s\n", result.Confidence, result.Finding)

	if len(result.EvidenceRefs) > 0 {
		b.WriteString("\n**Evidence**\n")
		for _, ref := range result.EvidenceRefs {
			fmt.Fprintf(&b, "- `%s`\n", ref)
		}
	}
	if len(result.NextSteps) > 0 {
		b.WriteString("\n**Next steps**\n")
		for _, step := range result.NextSteps {
			fmt.Fprintf(&b, "- %s\n", step)
		}
	}
	if result.ProducedBy == models.ProducedByFallback {
		b.WriteString("\n_automated keyword triage; reply with `rerun` to try again_\n")
	}
	return b.String()
}

// FormatStatus renders the latest known state for a status request.
func FormatStatus(record models.IncidentRecord) string {
	if record.LatestResult == nil {
		return "No prior triage summary found for this thread."
	}
	return "Latest triage summary:\n\n" + FormatResult(*record.LatestResult)
}

// StatusUnknown is the status reply when no incident exists for the key.
func StatusUnknown() string {
	return "No prior triage summary found for this thread."
}

// FormatFailure renders the notice sent when a job produced no result.
func FormatFailure(key string) string {
	return fmt.Sprintf("Triage for `%s` failed; analysis did not complete, see service logs.", key)
}

// FormatProductAnswer renders a documentation lookup answer.
func FormatProductAnswer(query string, snippets []models.CodeSnippet) string {
	if len(snippets) == 0 {
		return fmt.Sprintf("I couldn't find any product docs mentioning %q. Try rephrasing or adding more context.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Product doc matches for %q:\n", query)
	for _, s := range snippets {
		fmt.Fprintf(&b, "- `%s`\n", s.Ref())
		if line := strings.TrimSpace(firstLine(s.Excerpt)); line != "" {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}
	b.WriteString("\nNeed deeper details? Follow up with `/product <more context>`.")
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
