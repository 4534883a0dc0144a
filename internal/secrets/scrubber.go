package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DefaultRedaction replaces every detected secret.
const DefaultRedaction = "[REDACTED]"

// minKnownLen keeps short configured values from redacting common words.
const minKnownLen = 8

// Rule is a named secret pattern.
type Rule struct {
	ID      string
	Pattern string
}

// DefaultRules covers the credentials vidqa handles plus common generic
// shapes.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "anthropic-api-key", Pattern: `sk-ant-[A-Za-z0-9_\-]{20,}`},
		{ID: "openai-api-key", Pattern: `sk-(?:proj-)?[A-Za-z0-9_\-]{20,}`},
		{ID: "google-api-key", Pattern: `AIza[0-9A-Za-z_\-]{35}`},
		{ID: "huggingface-token", Pattern: `hf_[A-Za-z0-9]{30,}`},
		{ID: "bearer-token", Pattern: `(?i)bearer\s+[A-Za-z0-9._~+/\-]{16,}=*`},
		{ID: "generic-api-key", Pattern: `(?i)(?:api[_-]?key|token|secret)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,64}['"]?`},
		{ID: "private-key", Pattern: `-----BEGIN (?:RSA |EC |OPENSSH )?PRIVATE KEY-----`},
	}
}

type compiledRule struct {
	id      string
	pattern *regexp.Regexp
}

// Scrubber replaces secrets in text.
type Scrubber struct {
	rules     []compiledRule
	known     []string
	redaction string
}

// Option configures a Scrubber.
type Option func(*Scrubber)

// WithKnown redacts the given literal values wherever they appear. Values
// shorter than eight characters are ignored.
func WithKnown(values ...string) Option {
	return func(s *Scrubber) {
		for _, v := range values {
			if len(v) >= minKnownLen {
				s.known = append(s.known, v)
			}
		}
	}
}

// WithRedaction overrides DefaultRedaction.
func WithRedaction(r string) Option {
	return func(s *Scrubber) { s.redaction = r }
}

// New compiles rules into a Scrubber. Nil rules means DefaultRules.
func New(rules []Rule, opts ...Option) (*Scrubber, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	s := &Scrubber{redaction: DefaultRedaction}
	for i, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: ID is required", i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", r.ID, err)
		}
		s.rules = append(s.rules, compiledRule{id: r.ID, pattern: re})
	}
	for _, opt := range opts {
		opt(s)
	}
	// Longest first so a value never survives partially redacted.
	sort.Slice(s.known, func(i, j int) bool { return len(s.known[i]) > len(s.known[j]) })
	return s, nil
}

// MustNew is New for static rule sets.
func MustNew(rules []Rule, opts ...Option) *Scrubber {
	s, err := New(rules, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

type span struct{ start, end int }

// Scrub returns text with secrets replaced and the IDs of the rules that
// matched. Known values report the ID "known".
func (s *Scrubber) Scrub(text string) (string, []string) {
	if s == nil || text == "" {
		return text, nil
	}

	var (
		spans []span
		hits  []string
	)
	for _, v := range s.known {
		for from := 0; ; {
			i := strings.Index(text[from:], v)
			if i < 0 {
				break
			}
			spans = append(spans, span{from + i, from + i + len(v)})
			from += i + len(v)
		}
	}
	if len(spans) > 0 {
		hits = append(hits, "known")
	}
	for _, r := range s.rules {
		matches := r.pattern.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		hits = append(hits, r.id)
		for _, m := range matches {
			spans = append(spans, span{m[0], m[1]})
		}
	}
	if len(spans) == 0 {
		return text, nil
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := spans[:1]
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}

	var b strings.Builder
	prev := 0
	for _, sp := range merged {
		b.WriteString(text[prev:sp.start])
		b.WriteString(s.redaction)
		prev = sp.end
	}
	b.WriteString(text[prev:])
	return b.String(), hits
}

// String is Scrub without the rule IDs.
func (s *Scrubber) String(text string) string {
	out, _ := s.Scrub(text)
	return out
}
