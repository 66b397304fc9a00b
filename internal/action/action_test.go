package action

import (
	"testing"
)

func TestExtractClickables(t *testing.T) {
	elements := []Element{
		{Tag: "button", Name: "Save", Visible: true, Selector: "#save"},
		{Tag: "a", Name: "Docs", Href: "/docs", Visible: true, Selector: "nav a"},
		{Tag: "input", Type: "submit", Name: "Search", Visible: true, Selector: "#q-submit"},
		{Tag: "div", Role: "button", Name: "Custom", Visible: true, Selector: ".custom"},
		{Tag: "button", Name: "Hidden", Visible: false, Selector: "#hidden"},
	}

	actions := Extract(elements)
	if len(actions) != 4 {
		t.Fatalf("expected 4 actions, got %d: %+v", len(actions), actions)
	}
	for _, a := range actions {
		if a.Type != TypeClick {
			t.Errorf("expected click, got %s for %s", a.Type, a.Target)
		}
		if a.Name == "Hidden" {
			t.Errorf("invisible element must not produce an action")
		}
	}
}

func TestExtractFillAndHover(t *testing.T) {
	elements := []Element{
		{Tag: "input", Type: "email", Placeholder: "Email", Visible: true, Selector: "#email"},
		{Tag: "textarea", Name: "Bio", Visible: true, Selector: "#bio"},
		{Tag: "button", Name: "Account", Aria: "haspopup", Visible: true, Selector: "#account"},
		{Tag: "a", Name: "Products", InNav: true, Visible: true, Selector: "nav .products"},
	}

	actions := Extract(elements)

	var fills, hovers, clicks int
	for _, a := range actions {
		switch a.Type {
		case TypeFill:
			fills++
		case TypeHover:
			hovers++
		case TypeClick:
			clicks++
		}
	}
	if fills != 2 {
		t.Errorf("expected 2 fill actions, got %d", fills)
	}
	// The menu button and the nav link both trigger hover in addition to click.
	if hovers != 2 {
		t.Errorf("expected 2 hover actions, got %d", hovers)
	}
	if clicks != 2 {
		t.Errorf("expected 2 click actions, got %d", clicks)
	}
}

func TestExtractDedupsIdenticalDescriptors(t *testing.T) {
	el := Element{Tag: "button", Name: "Next", Visible: true, Selector: ".pager button"}
	actions := Extract([]Element{el, el, el})
	if len(actions) != 1 {
		t.Errorf("identical elements should collapse to one action, got %d", len(actions))
	}
}

func TestExtractDeterministicOrder(t *testing.T) {
	elements := []Element{
		{Tag: "button", Name: "Zeta", Visible: true, Selector: "#z"},
		{Tag: "button", Name: "Alpha", Visible: true, Selector: "#a"},
		{Tag: "a", Name: "Mid", Visible: true, Selector: "#m"},
	}
	first := Extract(elements)
	second := Extract(elements)
	if len(first) != len(second) {
		t.Fatalf("length mismatch: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("order not deterministic at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestTargetPrefersRoleAndName(t *testing.T) {
	if got := Target("button", "Save", "#save"); got != "role=button name=Save" {
		t.Errorf("unexpected target %q", got)
	}
	if got := Target("", "", "#save"); got != "#save" {
		t.Errorf("selector fallback broken: %q", got)
	}

	role, name, ok := ParseTarget("role=button name=Save draft")
	if !ok || role != "button" || name != "Save draft" {
		t.Errorf("ParseTarget failed: %q %q %v", role, name, ok)
	}
	if _, _, ok := ParseTarget("#save"); ok {
		t.Errorf("selector target should not parse as role target")
	}
}

func TestInputRequired(t *testing.T) {
	cases := []struct {
		name string
		a    Action
		want bool
	}{
		{"fill is always deferred", Action{Type: TypeFill, Role: "textbox"}, true},
		{"checkbox click deferred", Action{Type: TypeClick, Role: "checkbox"}, true},
		{"combobox deferred", Action{Type: TypeClick, Role: "combobox"}, true},
		{"select tag deferred", Action{Type: TypeClick, Tag: "select"}, true},
		{"selector prefix deferred", Action{Type: TypeClick, Selector: "input[type=radio]"}, true},
		{"plain button executes", Action{Type: TypeClick, Role: "button", Tag: "button"}, false},
		{"link executes", Action{Type: TypeClick, Role: "link", Tag: "a"}, false},
		{"hover executes", Action{Type: TypeHover, Role: "button", Tag: "button"}, false},
	}
	for _, tc := range cases {
		if got := InputRequired(tc.a); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestPartition(t *testing.T) {
	actions := []Action{
		{Type: TypeClick, Role: "button", Tag: "button", Target: "role=button name=Go"},
		{Type: TypeFill, Role: "textbox", Tag: "input", Target: "role=textbox name=Email"},
		{Type: TypeClick, Role: "link", Tag: "a", Target: "role=link name=Home"},
		{Type: TypeClick, Role: "switch", Target: "role=switch name=Dark mode"},
	}
	exec, deferred := Partition(actions)
	if len(exec) != 2 {
		t.Errorf("expected 2 executable actions, got %d", len(exec))
	}
	if len(deferred) != 2 {
		t.Errorf("expected 2 deferred actions, got %d", len(deferred))
	}
}
