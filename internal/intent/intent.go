// Package intent assigns semantic labels to recorded transitions. Labels
// are advisory: every caller must tolerate an empty label, and the Gemini
// labeler degrades to heuristics when the API is unavailable.
package intent

import (
	"context"
	"strings"

	"sitegraph/internal/action"
	"sitegraph/internal/store"
)

// Request describes one transition to label.
type Request struct {
	Action    action.Action
	FromURL   string
	FromTitle string
	ToURL     string
	ToTitle   string
	DepthDiff store.DepthDiff
}

// Label is a semantic tag plus the labeler's confidence in [0,1].
// A zero Label means no intent could be determined.
type Label struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// Labeler guesses the user intent behind a transition.
type Labeler interface {
	GuessIntent(ctx context.Context, req Request) Label
}

// Heuristic labels transitions from the action descriptor alone. It is the
// fallback behind the Gemini labeler and the default when no API key is
// configured.
type Heuristic struct{}

var keywordIntents = []struct {
	keywords []string
	intent   string
}{
	{[]string{"log in", "login", "sign in", "signin"}, "authenticate"},
	{[]string{"log out", "logout", "sign out"}, "end_session"},
	{[]string{"sign up", "register", "create account"}, "register"},
	{[]string{"search"}, "search"},
	{[]string{"add to cart", "buy", "checkout", "purchase"}, "purchase"},
	{[]string{"save", "submit", "confirm", "apply"}, "submit_form"},
	{[]string{"delete", "remove"}, "delete_item"},
	{[]string{"edit", "update", "rename"}, "edit_item"},
	{[]string{"next", "previous", "page"}, "paginate"},
	{[]string{"settings", "preferences", "profile", "account"}, "configure"},
	{[]string{"help", "docs", "support"}, "seek_help"},
	{[]string{"close", "cancel", "dismiss"}, "dismiss"},
}

func (Heuristic) GuessIntent(ctx context.Context, req Request) Label {
	name := strings.ToLower(req.Action.Name)

	for _, ki := range keywordIntents {
		for _, kw := range ki.keywords {
			if strings.Contains(name, kw) {
				return Label{Intent: ki.intent, Confidence: 0.6}
			}
		}
	}

	switch {
	case req.Action.Type == action.TypeFill:
		return Label{Intent: "provide_input", Confidence: 0.5}
	case req.Action.Type == action.TypeHover:
		return Label{Intent: "explore_menu", Confidence: 0.4}
	case req.DepthDiff == store.DiffModalOverlay:
		return Label{Intent: "open_dialog", Confidence: 0.5}
	case req.DepthDiff == store.DiffDrawer:
		return Label{Intent: "open_panel", Confidence: 0.5}
	case req.DepthDiff == store.DiffNewPage && req.Action.Role == "link":
		return Label{Intent: "navigate", Confidence: 0.5}
	}
	return Label{}
}

// ValueSuggester proposes values for input-requiring actions so deferred
// actions can be replayed.
type ValueSuggester interface {
	SuggestValue(ctx context.Context, act action.Action) string
}

// StaticSuggester picks plausible values from the input type and accessible
// name. It never produces credentials.
type StaticSuggester struct{}

func (StaticSuggester) SuggestValue(ctx context.Context, act action.Action) string {
	// Only the accessible name is a field description. The serialized target
	// is a locator and would false-match on its own syntax.
	name := strings.ToLower(act.Name)
	switch {
	case strings.Contains(name, "email"):
		return "test@example.com"
	case strings.Contains(name, "phone") || strings.Contains(name, "tel"):
		return "555-0100"
	case strings.Contains(name, "search") || strings.Contains(name, "query"):
		return "test"
	case strings.Contains(name, "url") || strings.Contains(name, "website"):
		return "https://example.com"
	case strings.Contains(name, "date"):
		return "2026-01-15"
	case strings.Contains(name, "zip") || strings.Contains(name, "postal"):
		return "94105"
	case strings.Contains(name, "number") || strings.Contains(name, "amount") ||
		strings.Contains(name, "quantity"):
		return "1"
	case strings.Contains(name, "name"):
		return "Test User"
	}
	if act.Role == "checkbox" || act.Role == "radio" || act.Role == "switch" {
		return "checked"
	}
	return "test input"
}
