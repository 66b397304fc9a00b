// Package fingerprint derives stable, privacy-safe identity hashes from a
// captured page state. Every hash in this package is a pure function of its
// input: inputs are normalized and sorted before digesting, so two captures
// of the same logical state hash identically regardless of traversal order.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

const (
	// maxNameLen bounds the element name carried into the accessibility hash.
	maxNameLen = 50
	// maxContentItems bounds the number of content samples hashed per element class.
	maxContentItems = 10
	// maxContentLen bounds each content sample's payload.
	maxContentLen = 100
)

// Element is the normalized summary of one interactive or labeled element.
type Element struct {
	Role  string `json:"role"`
	Label string `json:"label"`
	Name  string `json:"name"`
	Tag   string `json:"tag"`
	Type  string `json:"type"`
	Aria  string `json:"aria"` // summarized ARIA state, e.g. "expanded,haspopup"
}

// AuthState summarizes the inferred authentication context of a capture.
// Values are heuristic; the hash only needs them to be stable.
type AuthState struct {
	IsLoggedIn bool   `json:"is_logged_in"`
	HasToken   bool   `json:"has_token"`
	UserRole   string `json:"user_role"`
	Plan       string `json:"plan"`
	Tenant     string `json:"tenant"`
}

// StorageFingerprint captures which storage keys exist and a hash of each
// value. Raw values are never retained, so secrets cannot leak into the store.
type StorageFingerprint struct {
	LocalKeys    []string          `json:"local_keys"`
	SessionKeys  []string          `json:"session_keys"`
	HashedValues map[string]string `json:"hashed_values"`
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// NormalizeURL canonicalizes a URL for node identity: query parameters are
// sorted, the fragment is dropped (SPA route fragments are observed through
// the accessibility hash instead), and an empty path becomes "/".
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		vals := q[k]
		sort.Strings(vals)
		for _, v := range vals {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(url.QueryEscape(k))
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(v))
		}
	}
	u.RawQuery = sb.String()
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	u.Host = strings.ToLower(u.Host)
	u.Scheme = strings.ToLower(u.Scheme)
	return u.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}

// AccessibilityHash hashes the normalized element summaries. The element
// tuples are sorted lexicographically before joining, which is the central
// correctness property: identical logical state yields an identical hash
// independent of DOM traversal order.
func AccessibilityHash(elements []Element) string {
	items := make([]string, 0, len(elements))
	for _, e := range elements {
		item := fmt.Sprintf("%s|%s|%s|%s|%s|%s",
			e.Role, e.Label, truncate(e.Name, maxNameLen), e.Tag, e.Type, e.Aria)
		if item == "|||||" {
			continue // nothing observable about this element
		}
		items = append(items, item)
	}
	sort.Strings(items)
	return digest(strings.Join(items, "\n"))
}

// ContentHash hashes a bounded sample of textual content, grouped per element
// class (heading, paragraph, container). Returns ok=false when there is no
// content to hash; callers store NULL in that case.
func ContentHash(itemsByClass map[string][]string) (string, bool) {
	var samples []string
	classes := make([]string, 0, len(itemsByClass))
	for c := range itemsByClass {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	for _, class := range classes {
		items := itemsByClass[class]
		if len(items) > maxContentItems {
			items = items[:maxContentItems]
		}
		for _, it := range items {
			it = truncate(it, maxContentLen)
			if it == "" {
				continue
			}
			samples = append(samples, class+":"+it)
		}
	}
	if len(samples) == 0 {
		return "", false
	}
	sort.Strings(samples)
	return digest(strings.Join(samples, "\n")), true
}

// StorageFingerprintOf builds a fingerprint from localStorage and
// sessionStorage contents. Only sorted key lists and per-value hashes are
// retained.
func StorageFingerprintOf(local, session map[string]string) StorageFingerprint {
	fp := StorageFingerprint{
		LocalKeys:    sortedKeys(local),
		SessionKeys:  sortedKeys(session),
		HashedValues: make(map[string]string, len(local)+len(session)),
	}
	for k, v := range local {
		fp.HashedValues["local_"+k] = digest(v)
	}
	for k, v := range session {
		fp.HashedValues["session_"+k] = digest(v)
	}
	return fp
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StateHash combines the auth summary and storage fingerprint into a single
// hash. Both structures are serialized with deterministically ordered keys
// (encoding/json sorts map keys; struct fields have a fixed order).
func StateHash(auth AuthState, storage StorageFingerprint) string {
	if storage.LocalKeys == nil {
		storage.LocalKeys = []string{}
	}
	if storage.SessionKeys == nil {
		storage.SessionKeys = []string{}
	}
	if storage.HashedValues == nil {
		storage.HashedValues = map[string]string{}
	}
	authJSON, _ := json.Marshal(auth)
	storageJSON, _ := json.Marshal(storage)
	return digest(string(authJSON) + "|" + string(storageJSON))
}

// InputStateHash hashes which form inputs currently hold values. Keys are
// action targets; values are hashed so typed text (passwords included) never
// reaches the store. Empty values are skipped so a pristine form and a
// cleared form hash identically.
func InputStateHash(values map[string]string) string {
	pairs := make([]string, 0, len(values))
	for k, v := range values {
		if v == "" {
			continue
		}
		pairs = append(pairs, k+"="+digest(v))
	}
	sort.Strings(pairs)
	return digest(strings.Join(pairs, "\n"))
}
