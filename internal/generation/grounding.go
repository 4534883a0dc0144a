package generation

import (
	"strings"
	"unicode"
)

// stopwords are ignored when comparing an answer with its context.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {},
	"all": {}, "any": {}, "can": {}, "had": {}, "her": {}, "was": {}, "one": {},
	"our": {}, "out": {}, "has": {}, "his": {}, "how": {}, "its": {}, "may": {},
	"who": {}, "did": {}, "this": {}, "that": {}, "with": {}, "have": {}, "from": {},
	"they": {}, "will": {}, "would": {}, "there": {}, "their": {}, "what": {},
	"about": {}, "which": {}, "when": {}, "were": {}, "been": {}, "than": {},
	"then": {}, "them": {}, "these": {}, "some": {}, "into": {}, "also": {},
	"only": {}, "very": {}, "just": {}, "does": {}, "your": {}, "video": {},
}

// contentWords returns the lowercased words of text that are at least
// three characters long and not stopwords.
func contentWords(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len([]rune(w)) < 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

// grounded reports whether answer shares at least one content word with
// any of the contexts. Answers without content words are considered
// grounded.
func grounded(answer string, contexts ...string) bool {
	words := contentWords(answer)
	if len(words) == 0 {
		return true
	}
	for _, c := range contexts {
		for w := range contentWords(c) {
			if _, ok := words[w]; ok {
				return true
			}
		}
	}
	return false
}
