// Package router classifies inbound chat messages into triage actions.
// Routing is a pure function of the message text and addressing context.
package router

import (
	"regexp"
	"strings"

	"github.com/triagestack/triage-engine/internal/models"
)

// ActionKind enumerates what an inbound message asks the engine to do.
type ActionKind string

const (
	ActionStartTriage  ActionKind = "start_triage"
	ActionStatus       ActionKind = "status"
	ActionRerun        ActionKind = "rerun"
	ActionProductQuery ActionKind = "product_query"
	ActionPing         ActionKind = "ping"
	ActionIgnore       ActionKind = "ignore"
)

// InboundMessage is the tuple delivered by the transport collaborator.
type InboundMessage struct {
	Stream     string
	Topic      string
	Sender     string
	Text       string
	Direct     bool
	Mentioned  bool
	ThreadRefs []models.ThreadRef
}

// Action is the routing decision. Remainder carries command arguments,
// such as the product query text or a rerun's replacement incident text.
type Action struct {
	Kind      ActionKind
	Remainder string
}

var statusAliases = []string{"status", "triage status", "status?", "show status"}

var rerunAliases = []string{"rerun", "rerun analysis", "rerun triage", "next steps", "next-steps"}

var productRe = regexp.MustCompile(`(^|\s)/product\b`)

// Bare "product <q>" is an accepted spelling of "/product <q>".
var productAliases = []string{"product"}

// Router resolves addressing against a bot handle plus extra aliases.
type Router struct {
	aliases []string
}

// New builds a router. The handle is the bot's own account name; extra
// aliases extend the mention vocabulary.
func New(handle string, extraAliases ...string) *Router {
	aliases := handleAliases(handle)
	for _, alias := range extraAliases {
		alias = strings.ToLower(strings.TrimSpace(alias))
		if alias != "" {
			aliases = append(aliases, alias)
		}
	}
	aliases = append(aliases, "triage")
	return &Router{aliases: dedupe(aliases)}
}

// Route classifies one message. Precedence: product query beats status,
// status beats rerun, explicit commands beat triage, and unaddressed
// stream chatter is ignored.
func (r *Router) Route(msg InboundMessage) Action {
	text := strings.TrimSpace(msg.Text)
	lowered := strings.ToLower(text)

	if !r.addressed(msg, lowered) {
		return Action{Kind: ActionIgnore}
	}

	if loc := productRe.FindStringIndex(lowered); loc != nil {
		idx := strings.Index(lowered[loc[0]:], "/product") + loc[0]
		remainder := strings.TrimSpace(text[idx+len("/product"):])
		return Action{Kind: ActionProductQuery, Remainder: remainder}
	}

	stripped := r.stripMentions(lowered)
	if remainder, ok := matchAliasRemainder(stripped, productAliases); ok {
		return Action{Kind: ActionProductQuery, Remainder: remainder}
	}
	if stripped == "ping" {
		return Action{Kind: ActionPing}
	}
	if matchAlias(stripped, statusAliases) {
		return Action{Kind: ActionStatus}
	}
	if remainder, ok := matchAliasRemainder(stripped, rerunAliases); ok {
		return Action{Kind: ActionRerun, Remainder: remainder}
	}
	if stripped == "" {
		return Action{Kind: ActionIgnore}
	}
	return Action{Kind: ActionStartTriage}
}

// addressed reports whether the bot should react at all. Direct messages
// always qualify; stream messages need a mention flag or an alias token.
func (r *Router) addressed(msg InboundMessage, lowered string) bool {
	if msg.Direct || msg.Mentioned {
		return true
	}
	for _, alias := range r.aliases {
		for _, token := range []string{alias, "@" + alias, "@**" + alias + "**", "@_" + alias} {
			if strings.Contains(lowered, token) {
				return true
			}
		}
	}
	return false
}

// stripMentions removes leading mention markers so "@bot status" still
// matches the bare status alias.
func (r *Router) stripMentions(lowered string) string {
	out := lowered
	for _, alias := range r.aliases {
		for _, token := range []string{"@**" + alias + "**", "@_" + alias, "@" + alias, alias + ":", alias} {
			out = strings.ReplaceAll(out, token, " ")
		}
	}
	return strings.TrimSpace(strings.Join(strings.Fields(out), " "))
}

func matchAlias(text string, aliases []string) bool {
	for _, alias := range aliases {
		if text == alias {
			return true
		}
	}
	return false
}

func matchAliasRemainder(text string, aliases []string) (string, bool) {
	for _, alias := range aliases {
		if text == alias {
			return "", true
		}
		if strings.HasPrefix(text, alias+" ") {
			return strings.TrimSpace(text[len(alias):]), true
		}
	}
	return "", false
}

func handleAliases(handle string) []string {
	handle = strings.ToLower(strings.TrimSpace(handle))
	if at := strings.IndexByte(handle, '@'); at >= 0 {
		handle = handle[:at]
	}
	if plus := strings.IndexByte(handle, '+'); plus >= 0 {
		handle = handle[:plus]
	}
	if handle == "" {
		return nil
	}
	aliases := []string{handle}
	for _, sep := range []string{"-", "_", "."} {
		if strings.Contains(handle, sep) {
			aliases = append(aliases, strings.SplitN(handle, sep, 2)[0])
		}
	}
	return aliases
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
