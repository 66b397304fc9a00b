package crawl

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"

	"sitegraph/internal/action"
	"sitegraph/internal/logging"
)

// captureScript gathers everything a snapshot needs in one round trip:
// interactive elements, class-keyed content samples, storage, current input
// values, and overlay flags. Selector limits keep the payload bounded on
// pathological pages.
const captureScript = `
() => {
	const out = {
		url: location.href,
		title: document.title || '',
		elements: [],
		content_samples: {},
		local_storage: {},
		session_storage: {},
		input_values: {},
		has_modal: false,
		has_drawer: false,
	};

	const isVisible = (el) => {
		const style = window.getComputedStyle(el);
		if (style.display === 'none' || style.visibility === 'hidden' || style.opacity === '0') return false;
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	};

	const cssPath = (el) => {
		const parts = [];
		let cur = el;
		while (cur && cur.nodeType === Node.ELEMENT_NODE && parts.length < 6) {
			let part = cur.tagName.toLowerCase();
			if (cur.id) {
				parts.unshift(part + '#' + cur.id);
				break;
			}
			const parent = cur.parentElement;
			if (parent) {
				const siblings = Array.from(parent.children).filter(c => c.tagName === cur.tagName);
				if (siblings.length > 1) {
					part += ':nth-of-type(' + (siblings.indexOf(cur) + 1) + ')';
				}
			}
			parts.unshift(part);
			cur = cur.parentElement;
		}
		return parts.join(' > ');
	};

	const ariaSummary = (el) => {
		const bits = [];
		if (el.getAttribute('aria-haspopup')) bits.push('haspopup');
		if (el.getAttribute('aria-expanded') === 'true') bits.push('expanded');
		if (el.getAttribute('aria-modal') === 'true') bits.push('modal');
		if (el.getAttribute('aria-disabled') === 'true') bits.push('disabled');
		return bits.join(',');
	};

	const interactive = document.querySelectorAll(
		'button, a, input, textarea, select, [role], [aria-haspopup]');
	const seen = new Set();
	for (const el of Array.from(interactive).slice(0, 500)) {
		if (seen.has(el)) continue;
		seen.add(el);
		const tag = el.tagName.toLowerCase();
		const label = el.getAttribute('aria-label') || '';
		let name = label || (el.innerText || '').trim();
		if (!name && (tag === 'input' || tag === 'textarea')) {
			name = el.getAttribute('placeholder') || el.getAttribute('name') || '';
		}
		out.elements.push({
			role: el.getAttribute('role') || '',
			label: label,
			name: name.slice(0, 120),
			tag: tag,
			type: (el.getAttribute('type') || '').toLowerCase(),
			aria: ariaSummary(el),
			selector: cssPath(el),
			href: el.getAttribute('href') || '',
			placeholder: el.getAttribute('placeholder') || '',
			visible: isVisible(el),
			in_nav: !!el.closest('nav, [role="navigation"]'),
		});
	}

	for (const el of Array.from(document.querySelectorAll('h1, h2, h3, p, li, td')).slice(0, 400)) {
		if (!isVisible(el)) continue;
		const text = (el.innerText || '').trim();
		if (!text) continue;
		const cls = (el.className && typeof el.className === 'string' && el.className.split(' ')[0]) ||
			el.tagName.toLowerCase();
		if (!out.content_samples[cls]) out.content_samples[cls] = [];
		out.content_samples[cls].push(text.slice(0, 200));
	}

	try {
		for (const key of Object.keys(localStorage)) {
			out.local_storage[key] = localStorage.getItem(key) || '';
		}
	} catch (e) {}
	try {
		for (const key of Object.keys(sessionStorage)) {
			out.session_storage[key] = sessionStorage.getItem(key) || '';
		}
	} catch (e) {}

	for (const el of document.querySelectorAll('input, textarea, select')) {
		if (el.type === 'password') continue;
		const id = el.id || el.name || cssPath(el);
		if (el.type === 'checkbox' || el.type === 'radio') {
			out.input_values[id] = el.checked ? 'checked' : '';
		} else {
			out.input_values[id] = el.value || '';
		}
	}

	out.has_modal = !!document.querySelector('[role="dialog"], [aria-modal="true"]');
	out.has_drawer = !!document.querySelector('[data-drawer], [data-sidebar], [aria-expanded="true"]');

	return out;
}
`

type capturePayload struct {
	URL            string              `json:"url"`
	Title          string              `json:"title"`
	Elements       []captureElement    `json:"elements"`
	ContentSamples map[string][]string `json:"content_samples"`
	LocalStorage   map[string]string   `json:"local_storage"`
	SessionStorage map[string]string   `json:"session_storage"`
	InputValues    map[string]string   `json:"input_values"`
	HasModal       bool                `json:"has_modal"`
	HasDrawer      bool                `json:"has_drawer"`
}

type captureElement struct {
	Role        string `json:"role"`
	Label       string `json:"label"`
	Name        string `json:"name"`
	Tag         string `json:"tag"`
	Type        string `json:"type"`
	Aria        string `json:"aria"`
	Selector    string `json:"selector"`
	Href        string `json:"href"`
	Placeholder string `json:"placeholder"`
	Visible     bool   `json:"visible"`
	InNav       bool   `json:"in_nav"`
}

// Capture snapshots the current page state.
func (s *browserSession) Capture(ctx context.Context) (*Snapshot, error) {
	timer := logging.StartTimer(logging.CategoryCrawl, "capture")
	defer timer.Stop()

	page := s.page.Context(ctx).Timeout(s.cfg.ActionTimeout())

	res, err := page.Evaluate(&rod.EvalOptions{
		JS:           captureScript,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil {
		return nil, fmt.Errorf("capture page state: %w", err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal capture payload: %w", err)
	}
	var payload capturePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode capture payload: %w", err)
	}

	snap := &Snapshot{
		URL:            payload.URL,
		Title:          payload.Title,
		ContentSamples: payload.ContentSamples,
		LocalStorage:   payload.LocalStorage,
		SessionStorage: payload.SessionStorage,
		InputValues:    payload.InputValues,
		HasModal:       payload.HasModal,
		HasDrawer:      payload.HasDrawer,
	}
	snap.Elements = make([]action.Element, 0, len(payload.Elements))
	for _, el := range payload.Elements {
		snap.Elements = append(snap.Elements, action.Element{
			Role:        el.Role,
			Label:       el.Label,
			Name:        el.Name,
			Tag:         el.Tag,
			Type:        el.Type,
			Aria:        el.Aria,
			Selector:    el.Selector,
			Href:        el.Href,
			Placeholder: el.Placeholder,
			Visible:     el.Visible,
			InNav:       el.InNav,
		})
	}

	if html, err := page.HTML(); err == nil {
		snap.DOM = []byte(html)
	} else {
		logging.CrawlDebug("DOM capture failed for run %s: %v", s.runID, err)
	}
	if s.cfg.CaptureScreenshots {
		if img, err := page.Screenshot(false, nil); err == nil {
			snap.Screenshot = img
		} else {
			logging.CrawlDebug("screenshot failed for run %s: %v", s.runID, err)
		}
	}
	if s.cfg.CaptureCSS {
		snap.CSS = s.captureCSS(page)
	}
	return snap, nil
}

// captureCSS inlines same-origin stylesheet rules. Cross-origin sheets throw
// on cssRules access and are skipped.
func (s *browserSession) captureCSS(page *rod.Page) []byte {
	res, err := page.Evaluate(&rod.EvalOptions{
		JS: `
		() => {
			const chunks = [];
			for (const sheet of Array.from(document.styleSheets)) {
				try {
					for (const rule of Array.from(sheet.cssRules).slice(0, 2000)) {
						chunks.push(rule.cssText);
					}
				} catch (e) {}
			}
			return chunks.join('\n');
		}
		`,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil || res.Value.Nil() {
		return nil
	}
	return []byte(res.Value.Str())
}
