package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/tools"
)

var (
	// ErrUnavailable marks transport or provider failures and budget
	// exhaustion without a final answer. The caller falls back.
	ErrUnavailable = errors.New("reasoning unavailable")
	// ErrMalformed marks a final payload that did not parse.
	ErrMalformed = errors.New("reasoning payload malformed")
)

// Agent produces a finding for one triage job. An error means no finding
// was produced and the caller should use the fallback path. Agent errors
// are never retried.
type Agent interface {
	ProduceFinding(ctx context.Context, req models.TriageRequest, packet models.ContextPacket, session *tools.Session) (models.RCAResult, error)
}

const systemPrompt = `You are an incident triage assistant for an engineering team.
You receive an incident report with gathered evidence and may call tools to
inspect the configured repositories. Cite evidence as repo:path:line.
When you are done, reply with ONLY a JSON object:
{"finding": "...", "confidence": "low|medium|high", "evidence_refs": ["repo:path:line"], "next_steps": ["..."]}`

// ChatAgent drives a tool-calling conversation against a chat-completions
// provider. One conversation per job; a job failure surfaces as an error
// and the job's result comes from the fallback instead.
type ChatAgent struct {
	client       *ChatClient
	model        string
	maxToolCalls int
	logger       *slog.Logger
}

// NewChatAgent builds an agent for the given model.
func NewChatAgent(client *ChatClient, model string, maxToolCalls int, logger *slog.Logger) *ChatAgent {
	if maxToolCalls <= 0 {
		maxToolCalls = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatAgent{client: client, model: model, maxToolCalls: maxToolCalls, logger: logger}
}

type finalPayload struct {
	Finding      string   `json:"finding"`
	Confidence   string   `json:"confidence"`
	EvidenceRefs []string `json:"evidence_refs"`
	NextSteps    []string `json:"next_steps"`
}

// ProduceFinding runs the bounded tool loop and parses the final answer.
func (a *ChatAgent) ProduceFinding(ctx context.Context, req models.TriageRequest, packet models.ContextPacket, session *tools.Session) (models.RCAResult, error) {
	messages := []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildUserPrompt(req, packet)},
	}
	toolDefs := chatTools()

	for round := 0; round <= a.maxToolCalls; round++ {
		resp, err := a.client.CreateChatCompletion(ctx, &ChatCompletionRequest{
			Model:    a.model,
			Messages: messages,
			Tools:    toolDefs,
		})
		if err != nil {
			return models.RCAResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
			return models.RCAResult{}, fmt.Errorf("%w: empty completion", ErrUnavailable)
		}
		msg := resp.Choices[0].Message

		if len(msg.ToolCalls) == 0 {
			return a.finalize(req, msg.Content)
		}

		messages = append(messages, *msg)
		for _, tc := range msg.ToolCalls {
			result := session.Invoke(ctx, models.ToolCall{
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
			messages = append(messages, ChatMessage{
				Role:       "tool",
				ToolCallID: tc.ID,
				Content:    renderToolResult(result),
			})
		}
		if session.Exhausted() {
			// One more round with no tools so the model must finalize.
			toolDefs = nil
		}
	}

	return models.RCAResult{}, fmt.Errorf("%w: tool budget exhausted without a final answer", ErrUnavailable)
}

func (a *ChatAgent) finalize(req models.TriageRequest, content string) (models.RCAResult, error) {
	var payload finalPayload
	if err := json.Unmarshal([]byte(stripFences(content)), &payload); err != nil {
		return models.RCAResult{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(payload.Finding) == "" {
		return models.RCAResult{}, fmt.Errorf("%w: empty finding", ErrMalformed)
	}
	return models.RCAResult{
		ID:           uuid.NewString(),
		IncidentKey:  req.IncidentKey,
		Finding:      payload.Finding,
		Confidence:   models.ParseConfidence(payload.Confidence),
		EvidenceRefs: payload.EvidenceRefs,
		NextSteps:    payload.NextSteps,
		ProducedBy:   models.ProducedByReasoning,
		ProducedAt:   time.Now().UTC(),
	}, nil
}

func chatTools() []Tool {
	schemas := tools.Schemas()
	defs := make([]Tool, 0, len(schemas))
	for _, s := range schemas {
		defs = append(defs, Tool{
			Type: "function",
			Function: ToolFunction{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		})
	}
	return defs
}

func buildUserPrompt(req models.TriageRequest, packet models.ContextPacket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Incident %s reported by %s:\n%s\n", req.IncidentKey, req.Sender, req.RawText)

	if len(packet.ThreadMessages) > 0 {
		b.WriteString("\nThread context:\n")
		for _, msg := range packet.ThreadMessages {
			fmt.Fprintf(&b, "%s: %s\n", msg.Author, msg.Text)
		}
	}
	if len(packet.CodeSnippets) > 0 {
		b.WriteString("\nGathered code evidence:\n")
		for _, snippet := range packet.CodeSnippets {
			fmt.Fprintf(&b, "%s\n%s\n", snippet.Ref(), snippet.Excerpt)
		}
	}
	if len(packet.MetricSeries) > 0 {
		b.WriteString("\nMetric series:\n")
		for _, series := range packet.MetricSeries {
			fmt.Fprintf(&b, "%s: %d points\n", series.Source, len(series.Points))
		}
	}
	return b.String()
}

func renderToolResult(result models.ToolResult) string {
	if result.OK {
		return string(result.Payload)
	}
	return fmt.Sprintf(`{"error":%q}`, result.ErrorKind)
}

// stripFences removes a surrounding markdown code fence, which some
// providers wrap JSON answers in despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
