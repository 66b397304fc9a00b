package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"sitegraph/internal/action"
	"sitegraph/internal/logging"
	"sitegraph/internal/store"
)

// Execute performs one action against the live page and classifies the
// outcome. Timeouts map to OutcomeTimeout, missing or disabled elements to
// OutcomeBlocked, anything else that errors to OutcomeFail.
func (s *browserSession) Execute(ctx context.Context, act action.Action) Result {
	start := time.Now()
	err := s.perform(ctx, act)
	latency := time.Since(start)

	if err != nil {
		logging.Get(logging.CategoryAction).Warn("run %s: %s %s failed after %v: %v",
			s.runID, act.Type, act.Target, latency, err)
		return Result{Outcome: outcomeFor(err), Error: err.Error(), Latency: latency}
	}
	time.Sleep(s.cfg.SettleDelay())
	logging.Get(logging.CategoryAction).Debug("run %s: %s %s ok in %v",
		s.runID, act.Type, act.Target, latency)
	return Result{Outcome: store.OutcomeSuccess, Latency: latency}
}

func (s *browserSession) perform(ctx context.Context, act action.Action) error {
	page := s.page.Context(ctx).Timeout(s.cfg.ActionTimeout())

	switch act.Type {
	case action.TypeNavigate:
		target := act.Value
		if target == "" {
			target = act.Href
		}
		return s.Navigate(ctx, target)
	case action.TypeScroll:
		return page.Mouse.Scroll(0, 600, 3)
	case action.TypeWait:
		time.Sleep(s.cfg.SettleDelay())
		return nil
	case action.TypePress:
		key := act.Value
		if key == "" {
			key = "Enter"
		}
		return pressKey(page, key)
	}

	el, err := s.locate(page, act)
	if err != nil {
		return err
	}
	if disabled, _ := el.Attribute("disabled"); disabled != nil {
		return errBlocked
	}

	switch act.Type {
	case action.TypeClick:
		if err := el.ScrollIntoView(); err != nil {
			return fmt.Errorf("scroll into view: %w", err)
		}
		return el.Click(proto.InputMouseButtonLeft, 1)
	case action.TypeHover:
		return el.Hover()
	case action.TypeFill:
		if err := el.SelectAllText(); err == nil {
			_ = el.Input("")
		}
		return el.Input(act.Value)
	default:
		return fmt.Errorf("unsupported action type %q", act.Type)
	}
}

// locate resolves the action target to a live element, preferring the
// role+name descriptor and falling back to the recorded selector.
func (s *browserSession) locate(page *rod.Page, act action.Action) (*rod.Element, error) {
	if role, name, ok := action.ParseTarget(act.Target); ok {
		if el, err := findByRoleName(page, role, name); err == nil {
			return el, nil
		}
	}
	if act.Selector != "" {
		el, err := page.Element(act.Selector)
		if err == nil {
			return el, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", errNotFound, act.Target)
}

// findByRoleName matches by explicit role attribute or implicit tag role,
// then by accessible name.
func findByRoleName(page *rod.Page, role, name string) (*rod.Element, error) {
	res, err := page.Evaluate(&rod.EvalOptions{
		JS: `
		(role, name) => {
			const implicit = { a: 'link', button: 'button', select: 'combobox', textarea: 'textbox' };
			const candidates = document.querySelectorAll(
				'[role="' + role + '"], button, a, input, textarea, select');
			for (const el of candidates) {
				let elRole = el.getAttribute('role') || implicit[el.tagName.toLowerCase()] || '';
				if (el.tagName.toLowerCase() === 'input') {
					const t = (el.getAttribute('type') || '').toLowerCase();
					elRole = el.getAttribute('role') ||
						(t === 'submit' || t === 'button' ? 'button' :
						 t === 'checkbox' ? 'checkbox' : t === 'radio' ? 'radio' : 'textbox');
				}
				if (elRole !== role) continue;
				const elName = el.getAttribute('aria-label') || (el.innerText || '').trim() ||
					el.getAttribute('placeholder') || el.getAttribute('name') || '';
				if (elName.startsWith(name) || name.startsWith(elName) && elName !== '') {
					el.setAttribute('data-sg-match', '1');
					return true;
				}
			}
			return false;
		}
		`,
		ByValue:      true,
		AwaitPromise: true,
		JSArgs:       []interface{}{role, name},
	})
	if err != nil {
		return nil, err
	}
	if res == nil || !res.Value.Bool() {
		return nil, errNotFound
	}
	el, err := page.Element(`[data-sg-match="1"]`)
	if err != nil {
		return nil, err
	}
	_, _ = el.Eval(`() => this.removeAttribute('data-sg-match')`)
	return el, nil
}

func pressKey(page *rod.Page, key string) error {
	switch key {
	case "Enter":
		return page.Keyboard.Press(input.Enter)
	case "Escape":
		return page.Keyboard.Press(input.Escape)
	case "Tab":
		return page.Keyboard.Press(input.Tab)
	}
	return fmt.Errorf("unsupported key %q", key)
}

var (
	errNotFound = errors.New("element not found")
	errBlocked  = errors.New("element disabled")
)

func outcomeFor(err error) store.Outcome {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return store.OutcomeTimeout
	case errors.Is(err, errBlocked):
		return store.OutcomeBlocked
	case errors.Is(err, errNotFound):
		return store.OutcomeBlocked
	case strings.Contains(err.Error(), "timeout"):
		return store.OutcomeTimeout
	default:
		return store.OutcomeFail
	}
}
