// Package action enumerates candidate interactions on a captured page state
// and partitions them into immediately-executable actions and actions that
// need externally supplied input. Extraction is pure over the captured
// element list so it can run without a live browser.
package action

import (
	"fmt"
	"sort"
	"strings"
)

// Type is the kind of interaction an action performs.
type Type string

const (
	TypeClick    Type = "click"
	TypeFill     Type = "fill"
	TypeHover    Type = "hover"
	TypeNavigate Type = "navigate"
	TypeScroll   Type = "scroll"
	TypePress    Type = "press"
	TypeWait     Type = "wait"
)

// Element is one interactive or labeled element observed on a page.
type Element struct {
	Role        string // resolved ARIA role (may be inferred from tag)
	Label       string // aria-label
	Name        string // accessible name (label, placeholder, or text)
	Tag         string // lowercase tag name
	Type        string // input type attribute
	Aria        string // summarized ARIA state, e.g. "expanded,haspopup"
	Selector    string // CSS selector fallback
	Href        string // anchor href, if any
	Placeholder string
	Visible     bool
	InNav       bool // element lives inside a nav landmark
}

// Action is a structured descriptor of one candidate interaction. Target
// prefers role+accessible-name over raw selectors so descriptors stay stable
// across cosmetic DOM changes.
type Action struct {
	Type     Type   `json:"type"`
	Target   string `json:"target"`
	Value    string `json:"value,omitempty"`
	Role     string `json:"role,omitempty"`
	Name     string `json:"name,omitempty"`
	Selector string `json:"selector,omitempty"`
	Tag      string `json:"tag,omitempty"`
	Href     string `json:"href,omitempty"`
}

// Key identifies an action for dedup purposes.
func (a Action) Key() string {
	return fmt.Sprintf("%s|%s|%s", a.Type, a.Target, a.Value)
}

// Target builds the canonical action target for an element: role+name when
// both are known, the selector otherwise.
func Target(role, name, selector string) string {
	role = strings.TrimSpace(role)
	name = strings.TrimSpace(name)
	if role != "" || name != "" {
		return strings.TrimSpace(fmt.Sprintf("role=%s name=%s", role, name))
	}
	return selector
}

// ParseTarget splits a canonical role+name target back into its parts.
// Returns ok=false for selector-style targets.
func ParseTarget(target string) (role, name string, ok bool) {
	if !strings.HasPrefix(target, "role=") {
		return "", "", false
	}
	rest := strings.TrimPrefix(target, "role=")
	idx := strings.Index(rest, " name=")
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+len(" name="):], true
}

// fillTypes are input type attributes whose elements take typed text.
var fillTypes = map[string]bool{
	"": true, "text": true, "email": true, "password": true, "search": true,
	"tel": true, "url": true, "number": true,
}

// Extract enumerates candidate actions from the captured element list.
// Invisible elements are skipped; duplicates (same type, target, value)
// collapse to one action. The emitted order carries no semantic meaning,
// but is made deterministic for reproducibility.
func Extract(elements []Element) []Action {
	var actions []Action

	for _, el := range elements {
		if !el.Visible {
			continue
		}
		switch {
		case isClickable(el):
			actions = append(actions, makeAction(TypeClick, el, ""))
		case isFillable(el):
			actions = append(actions, makeAction(TypeFill, el, ""))
		}
		if isHoverTrigger(el) {
			actions = append(actions, makeAction(TypeHover, el, ""))
		}
	}

	deduped := make(map[string]Action, len(actions))
	for _, a := range actions {
		deduped[a.Key()] = a
	}
	out := make([]Action, 0, len(deduped))
	for _, a := range deduped {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func isClickable(el Element) bool {
	switch el.Tag {
	case "button":
		return true
	case "a":
		return true
	case "input":
		return el.Type == "button" || el.Type == "submit"
	}
	return el.Role == "button" || el.Role == "link"
}

func isFillable(el Element) bool {
	switch el.Tag {
	case "textarea":
		return true
	case "input":
		return fillTypes[el.Type]
	}
	return false
}

func isHoverTrigger(el Element) bool {
	if strings.Contains(el.Aria, "haspopup") {
		return true
	}
	return el.InNav && (el.Tag == "a" || el.Tag == "button")
}

func makeAction(t Type, el Element, value string) Action {
	role := el.Role
	if role == "" {
		role = inferRole(el)
	}
	name := el.Label
	if name == "" {
		name = el.Name
	}
	if name == "" {
		name = el.Placeholder
	}
	return Action{
		Type:     t,
		Target:   Target(role, name, el.Selector),
		Value:    value,
		Role:     role,
		Name:     name,
		Selector: el.Selector,
		Tag:      el.Tag,
		Href:     el.Href,
	}
}

// inferRole maps tags to implicit ARIA roles the way browsers do.
func inferRole(el Element) string {
	switch el.Tag {
	case "a":
		return "link"
	case "button":
		return "button"
	case "select":
		return "combobox"
	case "textarea":
		return "textbox"
	case "input":
		if el.Type == "submit" || el.Type == "button" {
			return "button"
		}
		if el.Type == "checkbox" {
			return "checkbox"
		}
		if el.Type == "radio" {
			return "radio"
		}
		return "textbox"
	}
	return ""
}

// inputRoles mark actions that cannot run without caller-supplied values.
var inputRoles = map[string]bool{
	"textbox": true, "combobox": true, "listbox": true, "switch": true,
	"checkbox": true, "radio": true, "spinbutton": true, "slider": true,
}

var inputTags = map[string]bool{"input": true, "textarea": true, "select": true}

// InputRequired reports whether an action needs externally supplied input
// before it can be performed.
func InputRequired(a Action) bool {
	if a.Type == TypeFill {
		return true
	}
	if inputRoles[strings.ToLower(a.Role)] {
		return true
	}
	if inputTags[strings.ToLower(a.Tag)] {
		return true
	}
	sel := strings.ToLower(a.Selector)
	return strings.HasPrefix(sel, "input") ||
		strings.HasPrefix(sel, "textarea") ||
		strings.HasPrefix(sel, "select")
}

// Partition splits actions into immediately-executable and input-dependent
// lists. Input-dependent actions become pending rows instead of being
// executed blindly.
func Partition(actions []Action) (executable, inputRequired []Action) {
	for _, a := range actions {
		if InputRequired(a) {
			inputRequired = append(inputRequired, a)
		} else {
			executable = append(executable, a)
		}
	}
	return executable, inputRequired
}
